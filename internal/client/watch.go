package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/wolfeidau/ding/internal/models"
)

// EventHandler receives each event pushed to a watched owner. Returning an error stops the
// watch and the error is returned from Watch.
type EventHandler func(models.Event) error

// WatchOptions tune reconnect behaviour.
type WatchOptions struct {
	// MaxElapsedTime bounds how long Watch keeps reconnecting. Zero retries until the
	// context is cancelled.
	MaxElapsedTime time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Watch streams an owner's live events, reconnecting with exponential backoff when the
// connection drops. It returns when ctx is cancelled or the handler fails.
func (c *Client) Watch(ctx context.Context, ownerID string, opts WatchOptions, handle EventHandler) error {
	log := zerolog.Ctx(ctx)

	wsConfig, err := c.websocketConfig(ownerID)
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	if opts.InitialBackoff > 0 {
		b.InitialInterval = opts.InitialBackoff
	}
	if opts.MaxBackoff > 0 {
		b.MaxInterval = opts.MaxBackoff
	}

	operation := func() (struct{}, error) {
		err := c.stream(ctx, wsConfig, b, handle)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		var herr *handlerError
		if errors.As(err, &herr) {
			return struct{}{}, backoff.Permanent(herr.err)
		}
		return struct{}{}, err
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(opts.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("watch connection lost")
		}),
	)
	return err
}

type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }

// stream holds one websocket connection until it fails. The backoff is reset once the
// server confirms the connection.
func (c *Client) stream(ctx context.Context, cfg *websocket.Config, b backoff.BackOff, handle EventHandler) error {
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var ev models.Event
		if err := websocket.JSON.Receive(conn, &ev); err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		if ev.Type == models.EventConnected {
			b.Reset()
		}

		if err := handle(ev); err != nil {
			return &handlerError{err: err}
		}
	}
}

func (c *Client) websocketConfig(ownerID string) (*websocket.Config, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/ws/notifications/" + ownerID

	cfg, err := websocket.NewConfig(u.String(), c.baseURL.String())
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	return cfg, nil
}
