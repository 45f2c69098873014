// Package hub tracks the live connections held open by door owners and pushes
// session events to them.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/ding/internal/models"
	"github.com/wolfeidau/ding/internal/telemetry"
)

// DefaultPushTimeout bounds a single Push when the publish context carries no earlier deadline.
const DefaultPushTimeout = 5 * time.Second

// Conn is one live owner connection. Implementations serialize their own writes and
// should return from Push promptly, buffering for slow peers rather than blocking.
type Conn interface {
	Push(ctx context.Context, ev models.Event) error

	// Done is closed once the connection can no longer accept events.
	Done() <-chan struct{}
}

// Hub maps owner IDs to their set of live connections. A connection registered twice
// for the same owner is still only delivered to once per publish.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[Conn]struct{} // owner_id -> connection set

	pushTimeout time.Duration
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
}

// Option configures a Hub.
type Option func(*Hub)

// WithPushTimeout overrides DefaultPushTimeout.
func WithPushTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pushTimeout = d
		}
	}
}

// New creates an empty hub.
func New(logger zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		conns:       make(map[string]map[Conn]struct{}),
		pushTimeout: DefaultPushTimeout,
		logger:      logger.With().Str("component", "hub").Logger(),
		metrics:     telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds conn to the owner's set and returns a func that removes it again.
func (h *Hub) Register(ownerID string, conn Conn) (unregister func()) {
	h.mu.Lock()
	set, ok := h.conns[ownerID]
	if !ok {
		set = make(map[Conn]struct{})
		h.conns[ownerID] = set
	}
	_, dup := set[conn]
	set[conn] = struct{}{}
	total := len(set)
	h.mu.Unlock()

	if !dup {
		h.metrics.LiveConnections.Add(context.Background(), 1)
	}

	h.logger.Debug().Str("owner_id", ownerID).Int("connections", total).Msg("connection registered")

	return func() { h.Unregister(ownerID, conn) }
}

// Unregister removes conn from the owner's set. Removing an unknown connection is a no-op.
func (h *Hub) Unregister(ownerID string, conn Conn) {
	if h.remove(ownerID, conn) {
		h.logger.Debug().Str("owner_id", ownerID).Msg("connection unregistered")
	}
}

// Publish pushes ev to every live connection for the owner and returns how many accepted
// it. Each connection is pushed to on its own goroutine under its own timeout, so a stalled
// connection never shortens the time another one gets. Connections that are closed or fail
// the push are dropped from the hub.
func (h *Hub) Publish(ctx context.Context, ownerID string, ev models.Event) int {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns[ownerID]))
	for conn := range h.conns[ownerID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, conn := range targets {
		select {
		case <-conn.Done():
			h.remove(ownerID, conn)
			continue
		default:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if !h.push(ctx, ownerID, conn, ev) {
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if delivered > 0 {
		h.metrics.HubPublishedTotal.Add(ctx, int64(delivered))
	}

	return delivered
}

func (h *Hub) push(ctx context.Context, ownerID string, conn Conn, ev models.Event) bool {
	ctx, cancel := context.WithTimeout(ctx, h.pushTimeout)
	defer cancel()

	if err := conn.Push(ctx, ev); err != nil {
		h.logger.Warn().Err(err).
			Str("owner_id", ownerID).
			Str("event", string(ev.Type)).
			Msg("push failed, dropping connection")
		h.remove(ownerID, conn)
		return false
	}
	return true
}

// Connections returns the number of registered connections for the owner.
func (h *Hub) Connections(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[ownerID])
}

func (h *Hub) remove(ownerID string, conn Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[ownerID]
	if !ok {
		return false
	}
	if _, ok := set[conn]; !ok {
		return false
	}

	delete(set, conn)
	if len(set) == 0 {
		delete(h.conns, ownerID)
	}

	h.metrics.LiveConnections.Add(context.Background(), -1)

	return true
}
