package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/minio/crc64nvme"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/ding/internal/models"
	"github.com/wolfeidau/ding/internal/notify"
)

const (
	HeaderSession  = "X-Ding-Session"
	HeaderChecksum = "X-Ding-Checksum" // CRC64-NVME of the body, hex encoded
)

var ErrNoWebhookURL = errors.New("webhook: no url configured")

// WebhookConfig holds the fallback target used when an identity has no webhook URL.
type WebhookConfig struct {
	DefaultURL string
}

// Webhook posts a chat-style JSON message (`{"text": ...}`) to the owner's endpoint.
type Webhook struct {
	cfg        WebhookConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ notify.Channel = (*Webhook)(nil)

func NewWebhook(cfg WebhookConfig, httpClient *http.Client, logger zerolog.Logger) *Webhook {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Webhook{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With().Str("channel", string(models.ChannelWebhook)).Logger(),
	}
}

func (w *Webhook) Name() models.ChannelName { return models.ChannelWebhook }

func (w *Webhook) Send(ctx context.Context, msg notify.Message) error {
	target := msg.Identity.Preferences.WebhookURL
	if target == "" {
		target = w.cfg.DefaultURL
	}
	if target == "" {
		return ErrNoWebhookURL
	}

	payload, err := json.Marshal(map[string]string{"text": webhookText(msg)})
	if err != nil {
		return fmt.Errorf("webhook: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSession, msg.Session.SessionID)
	req.Header.Set(HeaderChecksum, Checksum(payload))

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: request failed status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	w.logger.Info().Str("session_id", msg.Session.SessionID).Msg("webhook delivered")

	return nil
}

// Checksum returns the hex encoded CRC64-NVME of body, letting receivers detect truncated
// or altered payloads.
func Checksum(body []byte) string {
	h := crc64nvme.New()
	h.Write(body)
	return strconv.FormatUint(h.Sum64(), 16)
}
