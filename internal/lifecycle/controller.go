// Package lifecycle owns the scan session state machine: it creates sessions from scans,
// drives notification dispatch, applies owner responses and expires sessions nobody
// answered.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/ding/internal/eventsink"
	"github.com/wolfeidau/ding/internal/idgen"
	"github.com/wolfeidau/ding/internal/models"
	"github.com/wolfeidau/ding/internal/notify"
	"github.com/wolfeidau/ding/internal/store"
	"github.com/wolfeidau/ding/internal/telemetry"
)

const (
	DefaultEstimatedResponseSeconds = 30
	DefaultExpiryMultiplier         = 2.0
)

// Notifier fans a message out across channels. Implemented by notify.Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message, record notify.OutcomeRecorder) notify.Summary
}

// Publisher pushes events to an owner's live connections. Implemented by hub.Hub.
type Publisher interface {
	Publish(ctx context.Context, ownerID string, ev models.Event) int
}

// Config holds the timing knobs for new sessions.
type Config struct {
	EstimatedResponseSeconds int
	ExpiryMultiplier         float64
}

func (c Config) withDefaults() Config {
	if c.EstimatedResponseSeconds <= 0 {
		c.EstimatedResponseSeconds = DefaultEstimatedResponseSeconds
	}
	if c.ExpiryMultiplier <= 0 {
		c.ExpiryMultiplier = DefaultExpiryMultiplier
	}
	return c
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithEventSink forwards every lifecycle event to sink as well as the hub.
func WithEventSink(sink eventsink.Sink) Option {
	return func(c *Controller) { c.sink = sink }
}

// Controller is the only writer of session state.
type Controller struct {
	cfg        Config
	identities store.IdentityStore
	sessions   store.SessionStore
	notifier   Notifier
	hub        Publisher
	sink       eventsink.Sink

	now     func() time.Time
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	transitions *transitionLocks
	dispatches  sync.WaitGroup
}

// New wires a controller over the given stores and fan-out components.
func New(cfg Config, identities store.IdentityStore, sessions store.SessionStore, notifier Notifier, hub Publisher, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		cfg:        cfg.withDefaults(),
		identities: identities,
		sessions:   sessions,
		notifier:   notifier,
		hub:        hub,
		sink:       eventsink.Nop{},
		now:        time.Now,
		logger:     logger.With().Str("component", "lifecycle").Logger(),
		metrics:    telemetry.GetMetrics(),

		transitions: newTransitionLocks(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession records a scan of codeID as a new CREATED session and schedules dispatch.
// Nothing is stored when the code is unknown.
func (c *Controller) CreateSession(ctx context.Context, codeID string, visitor models.Visitor) (*models.Session, error) {
	identity, err := c.identities.Resolve(ctx, codeID)
	if err != nil {
		if errors.Is(err, store.ErrCodeNotFound) {
			c.metrics.UnknownCodeScansTotal.Add(ctx, 1)
			return nil, fmt.Errorf("%w: %s", ErrUnknownCode, codeID)
		}
		return nil, fmt.Errorf("failed to resolve code: %w", err)
	}

	session := &models.Session{
		SessionID:                idgen.Session(),
		CodeID:                   identity.CodeID,
		OwnerID:                  identity.OwnerID,
		State:                    models.SessionStateCreated,
		Visitor:                  visitor,
		CreatedAt:                c.now().UTC(),
		EstimatedResponseSeconds: c.cfg.EstimatedResponseSeconds,
		Outcomes:                 map[models.ChannelName]models.ChannelOutcome{},
	}

	if err := c.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	c.metrics.SessionsCreatedTotal.Add(ctx, 1)
	c.logger.Info().
		Str("session_id", session.SessionID).
		Str("code_id", session.CodeID).
		Str("owner_id", session.OwnerID).
		Msg("session created")

	c.announce(ctx, session)

	// dispatch outlives the scan request
	c.dispatches.Add(1)
	go c.dispatch(context.WithoutCancel(ctx), session.SessionID, identity)

	return session, nil
}

// ApplyResponse stores the owner's answer and moves a NOTIFIED session to RESPONDED.
func (c *Controller) ApplyResponse(ctx context.Context, sessionID string, resp models.Response) (*models.Session, error) {
	if !resp.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown response type %q", ErrInvalidResponse, resp.Type)
	}

	now := c.now().UTC()

	unlock := c.transitions.lock(sessionID)
	defer unlock()

	session, err := c.sessions.Update(ctx, sessionID, func(s *models.Session) error {
		if s.State != models.SessionStateNotified {
			return transitionError(s)
		}

		applied := resp
		applied.VideoSessionID = ""
		if applied.Type == models.ResponseAccept {
			applied.VideoSessionID = "video_" + s.SessionID
		}

		s.State = models.SessionStateResponded
		s.RespondedAt = &now
		s.Response = &applied
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("session_id", session.SessionID).
		Str("owner_id", session.OwnerID).
		Str("response_type", string(resp.Type)).
		Msg("session responded")

	c.announce(ctx, session)

	return session, nil
}

// ExpireStaleSessions moves every NOTIFIED session whose deadline is at or before now to
// EXPIRED and returns how many it moved. Running it twice for the same instant is a no-op.
func (c *Controller) ExpireStaleSessions(ctx context.Context, now time.Time) (int, error) {
	candidates, err := c.sessions.ListByState(ctx, models.SessionStateNotified)
	if err != nil {
		return 0, fmt.Errorf("failed to list notified sessions: %w", err)
	}

	expiredAt := now.UTC()
	expired := 0

	var errs []error
	for _, candidate := range candidates {
		if !candidate.DeadlinePassed(now) {
			continue
		}

		if c.expire(ctx, candidate.SessionID, now, expiredAt, &errs) {
			expired++
		}
	}

	if expired > 0 {
		c.metrics.SessionsExpiredTotal.Add(ctx, int64(expired))
	}

	return expired, errors.Join(errs...)
}

// expire moves one session to EXPIRED and announces it, reporting whether it moved.
func (c *Controller) expire(ctx context.Context, sessionID string, now, expiredAt time.Time, errs *[]error) bool {
	unlock := c.transitions.lock(sessionID)
	defer unlock()

	// the state may have moved on since the listing, so check again under the lock
	session, err := c.sessions.Update(ctx, sessionID, func(s *models.Session) error {
		if !s.DeadlinePassed(now) {
			return errNotExpirable
		}
		s.State = models.SessionStateExpired
		s.ExpiredAt = &expiredAt
		return nil
	})
	switch {
	case errors.Is(err, errNotExpirable), errors.Is(err, store.ErrSessionNotFound):
		return false
	case err != nil:
		*errs = append(*errs, err)
		return false
	}

	c.logger.Info().
		Str("session_id", session.SessionID).
		Str("owner_id", session.OwnerID).
		Msg("session expired")

	c.announce(ctx, session)
	return true
}

// GetSession returns a snapshot of the session, or false when there is none.
func (c *Controller) GetSession(ctx context.Context, sessionID string) (*models.Session, bool) {
	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, false
	}
	return session, true
}

// ListSessions returns an owner's sessions, newest first.
func (c *Controller) ListSessions(ctx context.Context, ownerID string) ([]*models.Session, error) {
	return c.sessions.ListByOwner(ctx, ownerID)
}

// Wait blocks until every scheduled dispatch has finished.
func (c *Controller) Wait() {
	c.dispatches.Wait()
}

var (
	errNotExpirable    = errors.New("session not expirable")
	errOutcomeRecorded = errors.New("outcome already recorded")
)

func (c *Controller) dispatch(ctx context.Context, sessionID string, identity models.Identity) {
	defer c.dispatches.Done()

	logger := c.logger.With().Str("session_id", sessionID).Logger()

	notifiedAt := c.now().UTC()
	window := time.Duration(float64(c.cfg.EstimatedResponseSeconds) * c.cfg.ExpiryMultiplier * float64(time.Second))
	deadline := notifiedAt.Add(window)

	session, err := c.markNotified(ctx, sessionID, identity, notifiedAt, deadline)
	if err != nil {
		logger.Error().Err(err).Msg("failed to mark session notified")
		return
	}

	summary := c.notifier.Notify(ctx, notify.Message{Session: session, Identity: identity}, c.recorder(ctx, sessionID))

	logger.Info().
		Str("status", string(summary.Status)).
		Int("delivered", summary.Delivered).
		Int("failed", summary.Failed).
		Msg("dispatch finished")
}

// markNotified moves a CREATED session to NOTIFIED, seeds a PENDING outcome per enabled
// channel and announces the change before any response can be applied.
func (c *Controller) markNotified(ctx context.Context, sessionID string, identity models.Identity, notifiedAt, deadline time.Time) (*models.Session, error) {
	unlock := c.transitions.lock(sessionID)
	defer unlock()

	session, err := c.sessions.Update(ctx, sessionID, func(s *models.Session) error {
		if s.State != models.SessionStateCreated {
			return transitionError(s)
		}

		s.State = models.SessionStateNotified
		s.NotifiedAt = &notifiedAt
		s.Deadline = &deadline
		s.Outcomes = make(map[models.ChannelName]models.ChannelOutcome, len(identity.Preferences.Channels))
		for _, name := range identity.Preferences.Channels {
			s.Outcomes[name] = models.ChannelOutcome{Outcome: models.OutcomePending, UpdatedAt: notifiedAt}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.announce(ctx, session)
	return session, nil
}

// recorder writes a channel outcome once. A second write for the same channel is ignored.
func (c *Controller) recorder(ctx context.Context, sessionID string) notify.OutcomeRecorder {
	return func(channel models.ChannelName, outcome models.Outcome, detail string) {
		updatedAt := c.now().UTC()

		_, err := c.sessions.Update(ctx, sessionID, func(s *models.Session) error {
			current, ok := s.Outcomes[channel]
			if !ok || current.Outcome != models.OutcomePending {
				return errOutcomeRecorded
			}
			s.Outcomes[channel] = models.ChannelOutcome{Outcome: outcome, Error: detail, UpdatedAt: updatedAt}
			return nil
		})
		if err != nil {
			c.logger.Warn().Err(err).
				Str("session_id", sessionID).
				Str("channel", string(channel)).
				Msg("outcome not recorded")
		}
	}
}

// announce pushes the session's current state to the owner's live connections and the sink.
func (c *Controller) announce(ctx context.Context, session *models.Session) {
	ev := models.TransitionEvent(session, c.now().UTC())

	c.metrics.SessionTransitionsTotal.Add(ctx, 1,
		metric.WithAttributes(telemetry.AttrState.String(string(session.State))))

	c.hub.Publish(ctx, session.OwnerID, ev)

	if err := c.sink.Emit(ctx, ev); err != nil {
		c.metrics.EventSinkErrorsTotal.Add(ctx, 1)
		c.logger.Warn().Err(err).
			Str("session_id", session.SessionID).
			Str("event", string(ev.Type)).
			Msg("failed to emit lifecycle event")
	}
}
