package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"filippo.io/csrf"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/ding/internal/eventsink"
	"github.com/wolfeidau/ding/internal/hub"
	"github.com/wolfeidau/ding/internal/lifecycle"
	"github.com/wolfeidau/ding/internal/logger"
	"github.com/wolfeidau/ding/internal/models"
	"github.com/wolfeidau/ding/internal/notify"
	"github.com/wolfeidau/ding/internal/notify/channels"
	"github.com/wolfeidau/ding/internal/qrcode"
	"github.com/wolfeidau/ding/internal/server"
	memorystore "github.com/wolfeidau/ding/internal/store/memory"
	"github.com/wolfeidau/ding/internal/telemetry"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"DING_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"DING_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"DING_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests and websocket upgrades" default:"https://localhost" env:"DING_CORS_ORIGINS"`

	// QR codes
	BaseURL string `help:"base URL encoded into scan QR codes" default:"https://ding.app/scan" env:"DING_BASE_URL"`
	QRSize  int    `help:"QR image size in pixels" default:"256" env:"DING_QR_SIZE"`

	// Session lifecycle
	EstimatedResponseSeconds int           `help:"estimated owner response time in seconds" default:"30" env:"DING_ESTIMATED_RESPONSE_SECONDS"`
	ExpiryMultiplier         float64       `help:"deadline is notified time plus estimated response time times this" default:"2.0" env:"DING_EXPIRY_MULTIPLIER"`
	SweepSchedule            string        `help:"cron schedule for the expiry sweep" default:"@every 1s" env:"DING_SWEEP_SCHEDULE"`
	HeartbeatInterval        time.Duration `help:"websocket heartbeat interval" default:"30s" env:"DING_HEARTBEAT_INTERVAL"`

	// Telemetry
	Tracing     bool    `help:"enable OTLP tracing" default:"false" env:"DING_TRACING"`
	Metrics     bool    `help:"enable OTLP metrics" default:"false" env:"DING_METRICS"`
	SampleRatio float64 `help:"trace sample ratio" default:"1.0" env:"DING_TRACE_SAMPLE_RATIO"`

	Timeouts TimeoutFlags `embed:"" prefix:"timeout-"`
	SMS      SMSFlags     `embed:"" prefix:"sms-"`
	Webhook  WebhookFlags `embed:"" prefix:"webhook-"`
	Kafka    KafkaFlags   `embed:"" prefix:"kafka-"`
}

// TimeoutFlags bound each channel send.
type TimeoutFlags struct {
	SMS     time.Duration `help:"SMS send timeout" default:"10s" env:"DING_TIMEOUT_SMS"`
	Webhook time.Duration `help:"webhook send timeout" default:"5s" env:"DING_TIMEOUT_WEBHOOK"`
	Live    time.Duration `help:"live socket send timeout" default:"1s" env:"DING_TIMEOUT_LIVE"`
}

func (t *TimeoutFlags) Validate() error {
	if t.SMS <= 0 || t.Webhook <= 0 || t.Live <= 0 {
		return errors.New("channel timeouts must be positive (--timeout-sms, --timeout-webhook, --timeout-live)")
	}
	return nil
}

func (t *TimeoutFlags) byChannel() map[models.ChannelName]time.Duration {
	return map[models.ChannelName]time.Duration{
		models.ChannelSMS:        t.SMS,
		models.ChannelWebhook:    t.Webhook,
		models.ChannelLiveSocket: t.Live,
	}
}

// SMSFlags configures the Twilio compatible SMS gateway.
type SMSFlags struct {
	Enabled    bool     `help:"enable the SMS channel" default:"false" env:"DING_SMS_ENABLED"`
	AccountSID string   `name:"account-sid" help:"SMS gateway account SID" env:"DING_SMS_ACCOUNT_SID"`
	AuthToken  string   `help:"SMS gateway auth token" env:"DING_SMS_AUTH_TOKEN"`
	From       string   `help:"sender phone number" env:"DING_SMS_FROM"`
	Recipients []string `help:"recipients used when a code has none" env:"DING_SMS_RECIPIENTS"`
	APIBaseURL string   `name:"api-base-url" help:"SMS gateway API base URL" default:"https://api.twilio.com" env:"DING_SMS_API_BASE_URL"`
}

func (s *SMSFlags) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.AccountSID == "" {
		return errors.New("SMS account SID is required (--sms-account-sid or DING_SMS_ACCOUNT_SID)")
	}
	if s.AuthToken == "" {
		return errors.New("SMS auth token is required (--sms-auth-token or DING_SMS_AUTH_TOKEN)")
	}
	if s.From == "" {
		return errors.New("SMS from number is required (--sms-from or DING_SMS_FROM)")
	}
	return nil
}

// WebhookFlags configures the outbound webhook channel.
type WebhookFlags struct {
	Enabled    bool   `help:"enable the webhook channel" default:"false" env:"DING_WEBHOOK_ENABLED"`
	DefaultURL string `name:"default-url" help:"webhook URL used when a code has none" env:"DING_WEBHOOK_DEFAULT_URL"`
}

// KafkaFlags configures the lifecycle event sink. No brokers disables it.
type KafkaFlags struct {
	Brokers []string `help:"Kafka bootstrap brokers for lifecycle events" env:"DING_KAFKA_BROKERS"`
	Topic   string   `help:"Kafka topic for lifecycle events" default:"ding.session-events" env:"DING_KAFKA_TOPIC"`
}

func (k *KafkaFlags) Validate() error {
	if len(k.Brokers) > 0 && k.Topic == "" {
		return errors.New("Kafka topic is required when brokers are set (--kafka-topic or DING_KAFKA_TOPIC)")
	}
	return nil
}

// Validate is called by kong after flags are resolved.
func (c *ServeCmd) Validate() error {
	if c.EstimatedResponseSeconds <= 0 {
		return errors.New("estimated response seconds must be positive")
	}
	if c.ExpiryMultiplier <= 0 {
		return errors.New("expiry multiplier must be positive")
	}
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS needs both --cert and --key")
	}
	return errors.Join(c.Timeouts.Validate(), c.SMS.Validate(), c.Kafka.Validate())
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	// Setup telemetry if enabled
	if c.Tracing || c.Metrics {
		log.Info().Bool("tracing", c.Tracing).Bool("metrics", c.Metrics).Msg("Telemetry is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Options{
			ServiceName: "ding-server",
			Version:     globals.Version,
			Traces:      c.Tracing,
			Metrics:     c.Metrics,
			SampleRatio: c.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	identities := memorystore.NewIdentityStore()
	sessions := memorystore.NewSessionStore()
	connections := hub.New(log)

	chans, err := c.buildChannels(connections, log)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(log, chans, c.Timeouts.byChannel())

	sink, err := c.buildEventSink(log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event sink")
		}
	}()

	controller := lifecycle.New(lifecycle.Config{
		EstimatedResponseSeconds: c.EstimatedResponseSeconds,
		ExpiryMultiplier:         c.ExpiryMultiplier,
	}, identities, sessions, dispatcher, connections, log, lifecycle.WithEventSink(sink))

	sweeper, err := lifecycle.NewSweeper(controller, c.SweepSchedule, log)
	if err != nil {
		return err
	}
	sweeper.Start()

	renderer, err := qrcode.NewRenderer(c.BaseURL, c.QRSize)
	if err != nil {
		return fmt.Errorf("failed to create QR renderer: %w", err)
	}

	srv := server.New(server.Config{
		Version:           globals.Version,
		HeartbeatInterval: c.HeartbeatInterval,
		AllowedOrigins:    c.CORSOrigins,
	}, controller, identities, connections, renderer, log)

	handler, err := c.edge(srv.Handler())
	if err != nil {
		return err
	}

	httpServer := configureHTTPServer(c.Listen, handler)
	httpServer.BaseContext = func(_ net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Msg("Starting HTTP server")
		if c.Cert != "" {
			errCh <- httpServer.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop sweeper")
	}
	controller.Wait()

	return nil
}

// buildChannels returns the live channel plus whichever gateways are enabled. A channel left
// out here is recorded as FAILED for codes that enable it.
func (c *ServeCmd) buildChannels(connections *hub.Hub, log zerolog.Logger) ([]notify.Channel, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	chans := []notify.Channel{channels.NewLive(connections)}

	if c.SMS.Enabled {
		sms, err := channels.NewSMS(channels.SMSConfig{
			AccountSID:        c.SMS.AccountSID,
			AuthToken:         c.SMS.AuthToken,
			From:              c.SMS.From,
			DefaultRecipients: c.SMS.Recipients,
			BaseURL:           c.SMS.APIBaseURL,
		}, httpClient, log)
		if err != nil {
			return nil, fmt.Errorf("failed to configure SMS channel: %w", err)
		}
		chans = append(chans, sms)
		log.Info().Msg("SMS channel enabled")
	}

	if c.Webhook.Enabled {
		chans = append(chans, channels.NewWebhook(channels.WebhookConfig{DefaultURL: c.Webhook.DefaultURL}, httpClient, log))
		log.Info().Msg("Webhook channel enabled")
	}

	return chans, nil
}

func (c *ServeCmd) buildEventSink(log zerolog.Logger) (eventsink.Sink, error) {
	if len(c.Kafka.Brokers) == 0 {
		return eventsink.Nop{}, nil
	}

	sink, err := eventsink.NewKafka(c.Kafka.Brokers, c.Kafka.Topic, log)
	if err != nil {
		return nil, fmt.Errorf("failed to configure Kafka sink: %w", err)
	}
	log.Info().Strs("brokers", c.Kafka.Brokers).Str("topic", c.Kafka.Topic).Msg("Kafka event sink enabled")
	return sink, nil
}

// edge wraps the API with CORS for browsers on other origins and cross-origin request
// protection for state changing requests.
func (c *ServeCmd) edge(h http.Handler) (http.Handler, error) {
	protection := csrf.New()
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			continue
		}
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("invalid CORS origin %q: %w", origin, err)
		}
	}

	return withCORS(c.CORSOrigins, protection.Handler(h)), nil
}

// withCORS adds CORS support to the JSON API.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	})
	if slices.Contains(allowedOrigins, "*") {
		middleware = cors.AllowAll()
	}
	return middleware.Handler(h)
}
