// Package eventsink forwards session lifecycle events to an external stream so other
// systems can follow dings without holding a live connection.
package eventsink

import (
	"context"
	"sync"

	"github.com/wolfeidau/ding/internal/models"
)

// Sink receives every lifecycle event. Emit is best effort: callers log failures and move on.
type Sink interface {
	Emit(ctx context.Context, ev models.Event) error
	Close() error
}

// Nop discards events. It is used when no broker is configured.
type Nop struct{}

func (Nop) Emit(context.Context, models.Event) error { return nil }
func (Nop) Close() error                             { return nil }

// Memory keeps emitted events in order.
type Memory struct {
	mu     sync.Mutex
	events []models.Event
}

func (m *Memory) Emit(_ context.Context, ev models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of everything emitted so far.
func (m *Memory) Events() []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Event(nil), m.events...)
}
