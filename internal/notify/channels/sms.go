package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/ding/internal/models"
	"github.com/wolfeidau/ding/internal/notify"
)

const defaultSMSBaseURL = "https://api.twilio.com"

var (
	ErrSMSNotConfigured = errors.New("sms: account sid, auth token and from number are required")
	ErrNoRecipients     = errors.New("sms: no recipients")
)

// SMSConfig holds the gateway credentials. The gateway speaks the Twilio Messages API.
type SMSConfig struct {
	AccountSID        string
	AuthToken         string
	From              string
	DefaultRecipients []string
	BaseURL           string
}

// SMS sends one message per recipient through the gateway.
type SMS struct {
	cfg        SMSConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ notify.Channel = (*SMS)(nil)

// NewSMS validates the credentials and returns the channel.
func NewSMS(cfg SMSConfig, httpClient *http.Client, logger zerolog.Logger) (*SMS, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, ErrSMSNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSMSBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &SMS{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With().Str("channel", string(models.ChannelSMS)).Logger(),
	}, nil
}

func (c *SMS) Name() models.ChannelName { return models.ChannelSMS }

// Send delivers to the identity's recipients, or the configured defaults when it has none.
// It succeeds if at least one recipient accepted the message.
func (c *SMS) Send(ctx context.Context, msg notify.Message) error {
	recipients := msg.Identity.Preferences.SMSRecipients
	if len(recipients) == 0 {
		recipients = c.cfg.DefaultRecipients
	}
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	body := smsBody(msg)

	var errs []error
	for _, to := range recipients {
		if err := c.post(ctx, to, body); err != nil {
			c.logger.Warn().Err(err).Str("session_id", msg.Session.SessionID).Msg("sms recipient failed")
			errs = append(errs, err)
			continue
		}
		c.logger.Info().Str("session_id", msg.Session.SessionID).Msg("sms queued")
	}

	if len(errs) == len(recipients) {
		return errors.Join(errs...)
	}
	return nil
}

func (c *SMS) post(ctx context.Context, to, body string) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.AccountSID))

	form := url.Values{}
	form.Set("From", c.cfg.From)
	form.Set("To", to)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
