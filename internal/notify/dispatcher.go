package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfeidau/ding/internal/models"
	"github.com/wolfeidau/ding/internal/telemetry"
)

// Status summarizes a whole dispatch.
type Status string

const (
	StatusDelivered Status = "delivered" // at least one channel delivered
	StatusDegraded  Status = "degraded"  // nothing delivered
)

// DefaultTimeouts are the per-channel send timeouts used when none is configured.
var DefaultTimeouts = map[models.ChannelName]time.Duration{
	models.ChannelSMS:        10 * time.Second,
	models.ChannelWebhook:    5 * time.Second,
	models.ChannelLiveSocket: 1 * time.Second,
}

const fallbackTimeout = 5 * time.Second

// Summary is the aggregate result of one dispatch.
type Summary struct {
	Outcomes  map[models.ChannelName]models.Outcome
	Delivered int
	Failed    int
	Status    Status
}

// Dispatcher invokes each enabled channel concurrently and records every outcome.
// It never retries and never returns channel errors to the caller.
type Dispatcher struct {
	channels map[models.ChannelName]Channel
	timeouts map[models.ChannelName]time.Duration

	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewDispatcher builds a dispatcher over the configured channels. Timeouts override
// DefaultTimeouts per channel name.
func NewDispatcher(logger zerolog.Logger, channels []Channel, timeouts map[models.ChannelName]time.Duration) *Dispatcher {
	d := &Dispatcher{
		channels: make(map[models.ChannelName]Channel, len(channels)),
		timeouts: make(map[models.ChannelName]time.Duration, len(DefaultTimeouts)),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		metrics:  telemetry.GetMetrics(),
	}

	for name, timeout := range DefaultTimeouts {
		d.timeouts[name] = timeout
	}
	for name, timeout := range timeouts {
		if timeout > 0 {
			d.timeouts[name] = timeout
		}
	}
	for _, ch := range channels {
		d.channels[ch.Name()] = ch
	}

	return d
}

// Configured reports whether a channel implementation is registered under name.
func (d *Dispatcher) Configured(name models.ChannelName) bool {
	_, ok := d.channels[name]
	return ok
}

// Notify sends msg on every channel enabled in the identity's preferences and waits for
// all of them, bounded by the largest per-channel timeout.
func (d *Dispatcher) Notify(ctx context.Context, msg Message, record OutcomeRecorder) Summary {
	enabled := msg.Identity.Preferences.Channels

	ctx, span := telemetry.Tracer().Start(ctx, "notify.dispatch",
		trace.WithAttributes(
			attribute.String("session_id", msg.Session.SessionID),
			attribute.Int("channels", len(enabled)),
		),
	)
	defer span.End()

	started := time.Now()

	summary := Summary{Outcomes: make(map[models.ChannelName]models.Outcome, len(enabled))}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, name := range enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()

			outcome, detail := models.OutcomeDelivered, ""
			if err := d.deliver(ctx, name, msg); err != nil {
				outcome, detail = models.OutcomeFailed, err.Error()
				d.logger.Warn().Err(err).
					Str("session_id", msg.Session.SessionID).
					Str("channel", string(name)).
					Msg("notification failed")
			} else {
				d.logger.Debug().
					Str("session_id", msg.Session.SessionID).
					Str("channel", string(name)).
					Msg("notification delivered")
			}

			record(name, outcome, detail)

			d.metrics.ChannelOutcomeTotal.Add(ctx, 1, metric.WithAttributes(
				telemetry.AttrChannel.String(string(name)),
				telemetry.AttrOutcome.String(string(outcome)),
			))

			mu.Lock()
			summary.Outcomes[name] = outcome
			if outcome == models.OutcomeDelivered {
				summary.Delivered++
			} else {
				summary.Failed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	summary.Status = StatusDegraded
	if summary.Delivered > 0 {
		summary.Status = StatusDelivered
	}

	span.SetAttributes(telemetry.AttrStatus.String(string(summary.Status)))
	d.metrics.DispatchDuration.Record(ctx, float64(time.Since(started).Milliseconds()),
		metric.WithAttributes(telemetry.AttrStatus.String(string(summary.Status))))

	return summary
}

// deliver runs one send under its timeout. The send itself runs on its own goroutine so a
// channel that ignores ctx cannot hold the dispatch open past the timeout.
func (d *Dispatcher) deliver(ctx context.Context, name models.ChannelName, msg Message) (err error) {
	ch, ok := d.channels[name]
	if !ok {
		return ErrChannelNotConfigured
	}

	timeout := d.timeout(name)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := telemetry.Tracer().Start(ctx, "notify.send",
		trace.WithAttributes(telemetry.AttrChannel.String(string(name))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	started := time.Now()
	defer func() {
		d.metrics.ChannelSendDuration.Record(ctx, float64(time.Since(started).Milliseconds()),
			metric.WithAttributes(telemetry.AttrChannel.String(string(name))))
	}()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("%w: %v", ErrChannelPanic, r)
			}
		}()
		result <- ch.Send(ctx, msg)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrChannelTimeout, timeout)
		}
		return ctx.Err()
	}
}

func (d *Dispatcher) timeout(name models.ChannelName) time.Duration {
	if timeout, ok := d.timeouts[name]; ok {
		return timeout
	}
	return fallbackTimeout
}
