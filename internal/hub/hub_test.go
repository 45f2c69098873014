package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/ding/internal/models"
)

type fakeConn struct {
	mu     sync.Mutex
	events []models.Event
	err    error
	done   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (f *fakeConn) Push(ctx context.Context, ev models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeConn) Done() <-chan struct{} { return f.done }

func (f *fakeConn) received() []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Event(nil), f.events...)
}

// stalledConn never accepts an event; Push blocks until its context ends.
type stalledConn struct {
	done chan struct{}
}

func (s *stalledConn) Push(ctx context.Context, _ models.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stalledConn) Done() <-chan struct{} { return s.done }

func testEvent() models.Event {
	return models.Event{Type: models.EventDingRequest, SessionID: "session_1", OwnerID: "O1", Timestamp: time.Now()}
}

func TestHubPublish(t *testing.T) {
	ctx := context.Background()

	t.Run("no connections", func(t *testing.T) {
		h := New(zerolog.Nop())
		require.Equal(t, 0, h.Publish(ctx, "O1", testEvent()))
	})

	t.Run("delivers to every connection of the owner only", func(t *testing.T) {
		h := New(zerolog.Nop())
		a, b, other := newFakeConn(), newFakeConn(), newFakeConn()
		h.Register("O1", a)
		h.Register("O1", b)
		h.Register("O2", other)

		require.Equal(t, 2, h.Publish(ctx, "O1", testEvent()))
		require.Len(t, a.received(), 1)
		require.Len(t, b.received(), 1)
		require.Empty(t, other.received())
	})

	t.Run("double registration delivers once", func(t *testing.T) {
		h := New(zerolog.Nop())
		a := newFakeConn()
		h.Register("O1", a)
		h.Register("O1", a)

		require.Equal(t, 1, h.Connections("O1"))
		require.Equal(t, 1, h.Publish(ctx, "O1", testEvent()))
		require.Len(t, a.received(), 1)
	})

	t.Run("failed push drops only that connection", func(t *testing.T) {
		h := New(zerolog.Nop())
		good, bad := newFakeConn(), newFakeConn()
		bad.err = errors.New("broken pipe")
		h.Register("O1", good)
		h.Register("O1", bad)

		require.Equal(t, 1, h.Publish(ctx, "O1", testEvent()))
		require.Equal(t, 1, h.Connections("O1"))
		require.Len(t, good.received(), 1)
	})

	t.Run("closed connection is removed without a push", func(t *testing.T) {
		h := New(zerolog.Nop())
		dead := newFakeConn()
		close(dead.done)
		h.Register("O1", dead)

		require.Equal(t, 0, h.Publish(ctx, "O1", testEvent()))
		require.Equal(t, 0, h.Connections("O1"))
		require.Empty(t, dead.received())
	})
}

func TestHubPublishWithStalledConnection(t *testing.T) {
	t.Run("stalled connection does not cost a healthy one its push", func(t *testing.T) {
		h := New(zerolog.Nop())
		healthy := newFakeConn()
		stalled := &stalledConn{done: make(chan struct{})}
		h.Register("O1", stalled)
		h.Register("O1", healthy)

		for attempt := range 10 {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			delivered := h.Publish(ctx, "O1", testEvent())
			cancel()

			require.Equal(t, 1, delivered, "attempt %d", attempt)
			require.Equal(t, 1, h.Connections("O1"), "attempt %d", attempt)
			require.Len(t, healthy.received(), attempt+1)

			h.Register("O1", stalled)
		}
	})

	t.Run("push timeout bounds a publish without a deadline", func(t *testing.T) {
		h := New(zerolog.Nop(), WithPushTimeout(50*time.Millisecond))
		healthy := newFakeConn()
		h.Register("O1", &stalledConn{done: make(chan struct{})})
		h.Register("O1", healthy)

		start := time.Now()
		require.Equal(t, 1, h.Publish(context.Background(), "O1", testEvent()))
		require.Less(t, time.Since(start), time.Second)
		require.Equal(t, 1, h.Connections("O1"))
		require.Len(t, healthy.received(), 1)
	})
}

func TestHubUnregister(t *testing.T) {
	h := New(zerolog.Nop())
	a := newFakeConn()

	unregister := h.Register("O1", a)
	require.Equal(t, 1, h.Connections("O1"))

	unregister()
	require.Equal(t, 0, h.Connections("O1"))

	// second removal is a no-op
	unregister()
	h.Unregister("O1", a)
	h.Unregister("nobody", a)
	require.Equal(t, 0, h.Publish(context.Background(), "O1", testEvent()))
}

func TestHubConcurrentRegisterPublish(t *testing.T) {
	h := New(zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			conn := newFakeConn()
			unregister := h.Register("O1", conn)
			h.Publish(ctx, "O1", testEvent())
			unregister()
		}()
		go func() {
			defer wg.Done()
			h.Publish(ctx, "O1", testEvent())
		}()
	}
	wg.Wait()

	require.Equal(t, 0, h.Connections("O1"))
}
