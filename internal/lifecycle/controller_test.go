package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/ding/internal/eventsink"
	"github.com/wolfeidau/ding/internal/hub"
	"github.com/wolfeidau/ding/internal/models"
	"github.com/wolfeidau/ding/internal/notify"
	"github.com/wolfeidau/ding/internal/notify/channels"
	"github.com/wolfeidau/ding/internal/store"
	"github.com/wolfeidau/ding/internal/store/memory"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingConn struct {
	mu     sync.Mutex
	events []models.Event
	done   chan struct{}
}

func newRecordingConn() *recordingConn {
	return &recordingConn{done: make(chan struct{})}
}

func (r *recordingConn) Push(_ context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingConn) Done() <-chan struct{} { return r.done }

func (r *recordingConn) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	ctx        context.Context
	clock      *testClock
	identities *memory.IdentityStore
	sessions   *memory.SessionStore
	hub        *hub.Hub
	sink       *eventsink.Memory
	controller *Controller
}

func newFixture(t *testing.T, extra ...notify.Channel) *fixture {
	t.Helper()

	f := &fixture{
		ctx:        context.Background(),
		clock:      &testClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
		identities: memory.NewIdentityStore(),
		sessions:   memory.NewSessionStore(),
		hub:        hub.New(zerolog.Nop()),
		sink:       &eventsink.Memory{},
	}

	chans := append([]notify.Channel{channels.NewLive(f.hub)}, extra...)
	dispatcher := notify.NewDispatcher(zerolog.Nop(), chans, map[models.ChannelName]time.Duration{
		models.ChannelSMS:     100 * time.Millisecond,
		models.ChannelWebhook: 100 * time.Millisecond,
	})

	f.controller = New(Config{EstimatedResponseSeconds: 30, ExpiryMultiplier: 2},
		f.identities, f.sessions, dispatcher, f.hub, zerolog.Nop(),
		WithClock(f.clock.Now), WithEventSink(f.sink))

	return f
}

func (f *fixture) register(t *testing.T, ownerID string, chans ...models.ChannelName) models.Identity {
	t.Helper()
	identity, err := f.identities.Register(f.ctx, ownerID, "front door", models.Preferences{Channels: chans})
	require.NoError(t, err)
	return identity
}

func (f *fixture) notifiedSession(t *testing.T, identity models.Identity) *models.Session {
	t.Helper()
	session, err := f.controller.CreateSession(f.ctx, identity.CodeID, models.Visitor{DeviceID: "phone-1"})
	require.NoError(t, err)
	f.controller.Wait()

	got, ok := f.controller.GetSession(f.ctx, session.SessionID)
	require.True(t, ok)
	require.Equal(t, models.SessionStateNotified, got.State)
	return got
}

type stubChannel struct {
	name models.ChannelName
	send func(ctx context.Context, msg notify.Message) error
}

func (s stubChannel) Name() models.ChannelName { return s.name }

func (s stubChannel) Send(ctx context.Context, msg notify.Message) error { return s.send(ctx, msg) }

func TestCreateSessionUnknownCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.CreateSession(f.ctx, "qr_missing", models.Visitor{})
	require.ErrorIs(t, err, ErrUnknownCode)

	f.controller.Wait()
	for _, state := range []models.SessionState{
		models.SessionStateCreated, models.SessionStateNotified,
		models.SessionStateResponded, models.SessionStateExpired,
	} {
		sessions, err := f.sessions.ListByState(f.ctx, state)
		require.NoError(t, err)
		require.Empty(t, sessions)
	}
	require.Empty(t, f.sink.Events())
}

func TestCreateSessionFields(t *testing.T) {
	f := newFixture(t)
	identity := f.register(t, "O1")

	session, err := f.controller.CreateSession(f.ctx, identity.CodeID, models.Visitor{DeviceID: "phone-1", Location: "lobby"})
	require.NoError(t, err)
	require.Equal(t, models.SessionStateCreated, session.State)
	require.Equal(t, "O1", session.OwnerID)
	require.Equal(t, identity.CodeID, session.CodeID)
	require.Equal(t, 30, session.EstimatedResponseSeconds)
	require.Equal(t, f.clock.Now(), session.CreatedAt)
	require.Equal(t, "lobby", session.Visitor.Location)

	f.controller.Wait()

	got, ok := f.controller.GetSession(f.ctx, session.SessionID)
	require.True(t, ok)
	require.Equal(t, models.SessionStateNotified, got.State)
	require.NotNil(t, got.Deadline)
	require.Equal(t, got.NotifiedAt.Add(60*time.Second), *got.Deadline)
	require.Empty(t, got.Outcomes, "no channels enabled")

	_, ok = f.controller.GetSession(f.ctx, "session_missing")
	require.False(t, ok)
}

func TestSessionLifecycleOverLiveConnection(t *testing.T) {
	f := newFixture(t)
	identity := f.register(t, "O2", models.ChannelLiveSocket)

	conn := newRecordingConn()
	f.hub.Register("O2", conn)

	session := f.notifiedSession(t, identity)
	require.Equal(t, models.OutcomeDelivered, session.Outcomes[models.ChannelLiveSocket].Outcome)

	responded, err := f.controller.ApplyResponse(f.ctx, session.SessionID, models.Response{Type: models.ResponseAccept})
	require.NoError(t, err)
	require.Equal(t, models.SessionStateResponded, responded.State)
	require.Equal(t, "video_"+session.SessionID, responded.Response.VideoSessionID)
	require.NotNil(t, responded.RespondedAt)

	require.Equal(t, []models.EventType{
		models.EventSessionCreated,
		models.EventSessionNotified,
		models.EventDingRequest,
		models.EventSessionResponded,
	}, conn.types())

	var sinkTypes []models.EventType
	for _, ev := range f.sink.Events() {
		sinkTypes = append(sinkTypes, ev.Type)
	}
	require.Equal(t, []models.EventType{
		models.EventSessionCreated,
		models.EventSessionNotified,
		models.EventSessionResponded,
	}, sinkTypes)
}

func TestLiveChannelWithoutConnection(t *testing.T) {
	f := newFixture(t)
	identity := f.register(t, "O1", models.ChannelLiveSocket)

	session := f.notifiedSession(t, identity)

	require.Len(t, session.Outcomes, 1)
	require.Equal(t, models.OutcomeFailed, session.Outcomes[models.ChannelLiveSocket].Outcome)
	require.Equal(t, channels.ErrNoLiveConnection.Error(), session.Outcomes[models.ChannelLiveSocket].Error)
	require.Equal(t, models.SessionStateNotified, session.State)
}

func TestApplyResponse(t *testing.T) {
	f := newFixture(t)
	identity := f.register(t, "O1")

	t.Run("second response is refused", func(t *testing.T) {
		session := f.notifiedSession(t, identity)

		_, err := f.controller.ApplyResponse(f.ctx, session.SessionID, models.Response{Type: models.ResponseBusy})
		require.NoError(t, err)

		_, err = f.controller.ApplyResponse(f.ctx, session.SessionID, models.Response{Type: models.ResponseAccept})
		require.ErrorIs(t, err, ErrInvalidTransition)

		var terr *TransitionError
		require.True(t, errors.As(err, &terr))
		require.Equal(t, ReasonAlreadyResponded, terr.Reason)
		require.Equal(t, models.SessionStateResponded, terr.State)

		got, _ := f.controller.GetSession(f.ctx, session.SessionID)
		require.Equal(t, models.ResponseBusy, got.Response.Type)
		require.Empty(t, got.Response.VideoSessionID)
	})

	t.Run("custom message is kept", func(t *testing.T) {
		session := f.notifiedSession(t, identity)

		got, err := f.controller.ApplyResponse(f.ctx, session.SessionID, models.Response{
			Type:           models.ResponseCustom,
			Message:        "leave it at the door",
			VideoSessionID: "ignored",
		})
		require.NoError(t, err)
		require.Equal(t, "leave it at the door", got.Response.Message)
		require.Empty(t, got.Response.VideoSessionID)
	})

	t.Run("not ready", func(t *testing.T) {
		require.NoError(t, f.sessions.Create(f.ctx, &models.Session{
			SessionID: "session_created",
			OwnerID:   "O1",
			State:     models.SessionStateCreated,
			Outcomes:  map[models.ChannelName]models.ChannelOutcome{},
		}))

		_, err := f.controller.ApplyResponse(f.ctx, "session_created", models.Response{Type: models.ResponseAccept})
		var terr *TransitionError
		require.ErrorAs(t, err, &terr)
		require.Equal(t, ReasonNotReady, terr.Reason)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := f.controller.ApplyResponse(f.ctx, "session_missing", models.Response{Type: models.ResponseAccept})
		require.ErrorIs(t, err, store.ErrSessionNotFound)
	})

	t.Run("invalid response type", func(t *testing.T) {
		session := f.notifiedSession(t, identity)

		_, err := f.controller.ApplyResponse(f.ctx, session.SessionID, models.Response{Type: "maybe"})
		require.ErrorIs(t, err, ErrInvalidResponse)

		got, _ := f.controller.GetSession(f.ctx, session.SessionID)
		require.Equal(t, models.SessionStateNotified, got.State)
	})
}

func TestExpireStaleSessions(t *testing.T) {
	f := newFixture(t)
	identity := f.register(t, "O1")

	first := f.notifiedSession(t, identity)
	f.clock.Advance(10 * time.Second)
	second := f.notifiedSession(t, identity)

	deadline := *first.Deadline

	expired, err := f.controller.ExpireStaleSessions(f.ctx, deadline.Add(-time.Nanosecond))
	require.NoError(t, err)
	require.Equal(t, 0, expired)

	expired, err = f.controller.ExpireStaleSessions(f.ctx, deadline)
	require.NoError(t, err)
	require.Equal(t, 1, expired, "deadline equal to now counts as passed")

	expired, err = f.controller.ExpireStaleSessions(f.ctx, deadline)
	require.NoError(t, err)
	require.Equal(t, 0, expired, "second sweep is a no-op")

	got, _ := f.controller.GetSession(f.ctx, first.SessionID)
	require.Equal(t, models.SessionStateExpired, got.State)
	require.Equal(t, deadline, *got.ExpiredAt)

	other, _ := f.controller.GetSession(f.ctx, second.SessionID)
	require.Equal(t, models.SessionStateNotified, other.State)

	t.Run("late response", func(t *testing.T) {
		_, err := f.controller.ApplyResponse(f.ctx, first.SessionID, models.Response{Type: models.ResponseAccept})
		var terr *TransitionError
		require.ErrorAs(t, err, &terr)
		require.Equal(t, ReasonExpired, terr.Reason)
	})

	t.Run("responded sessions are never expired", func(t *testing.T) {
		_, err := f.controller.ApplyResponse(f.ctx, second.SessionID, models.Response{Type: models.ResponseReject})
		require.NoError(t, err)

		expired, err := f.controller.ExpireStaleSessions(f.ctx, second.Deadline.Add(time.Hour))
		require.NoError(t, err)
		require.Equal(t, 0, expired)

		got, _ := f.controller.GetSession(f.ctx, second.SessionID)
		require.Equal(t, models.SessionStateResponded, got.State)
	})
}

func TestDispatchRecordsEveryChannel(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	stuck := stubChannel{name: models.ChannelSMS, send: func(context.Context, notify.Message) error {
		<-block
		return nil
	}}
	failing := stubChannel{name: models.ChannelWebhook, send: func(context.Context, notify.Message) error {
		return errors.New("status 502")
	}}

	f := newFixture(t, stuck, failing)
	identity := f.register(t, "O1", models.ChannelSMS, models.ChannelWebhook, models.ChannelLiveSocket)
	f.hub.Register("O1", newRecordingConn())

	started := time.Now()
	session := f.notifiedSession(t, identity)
	require.Less(t, time.Since(started), 2*time.Second)

	require.Len(t, session.Outcomes, 3)
	for name, outcome := range session.Outcomes {
		require.NotEqual(t, models.OutcomePending, outcome.Outcome, "channel %s still pending", name)
	}
	require.Equal(t, models.OutcomeFailed, session.Outcomes[models.ChannelSMS].Outcome)
	require.Equal(t, models.OutcomeFailed, session.Outcomes[models.ChannelWebhook].Outcome)
	require.Equal(t, models.OutcomeDelivered, session.Outcomes[models.ChannelLiveSocket].Outcome)
}

func TestResponseAndSweepRace(t *testing.T) {
	f := newFixture(t)
	identity := f.register(t, "O1")

	const n = 40
	ids := make([]string, 0, n)
	for range n {
		ids = append(ids, f.notifiedSession(t, identity).SessionID)
	}

	sweepAt := f.clock.Now().Add(time.Hour)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  = map[string]bool{}
		sweptHits int
	)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.controller.ApplyResponse(f.ctx, id, models.Response{Type: models.ResponseAccept}); err == nil {
				mu.Lock()
				accepted[id] = true
				mu.Unlock()
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
			}
		}()
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			expired, err := f.controller.ExpireStaleSessions(f.ctx, sweepAt)
			require.NoError(t, err)
			mu.Lock()
			sweptHits += expired
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, n, len(accepted)+sweptHits)
	for _, id := range ids {
		got, _ := f.controller.GetSession(f.ctx, id)
		if accepted[id] {
			require.Equal(t, models.SessionStateResponded, got.State)
		} else {
			require.Equal(t, models.SessionStateExpired, got.State)
		}
	}
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	identity := f.register(t, "O1")

	first := f.notifiedSession(t, identity)
	f.clock.Advance(time.Second)
	second := f.notifiedSession(t, identity)

	sessions, err := f.controller.ListSessions(f.ctx, "O1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, second.SessionID, sessions[0].SessionID)
	require.Equal(t, first.SessionID, sessions[1].SessionID)
}

func TestOutcomeRecordedOnce(t *testing.T) {
	f := newFixture(t)
	identity := f.register(t, "O1", models.ChannelLiveSocket)
	session := f.notifiedSession(t, identity)
	require.Equal(t, models.OutcomeFailed, session.Outcomes[models.ChannelLiveSocket].Outcome)

	record := f.controller.recorder(f.ctx, session.SessionID)
	record(models.ChannelLiveSocket, models.OutcomeDelivered, "")
	record(models.ChannelSMS, models.OutcomeDelivered, "")

	got, ok := f.controller.GetSession(f.ctx, session.SessionID)
	require.True(t, ok)
	require.Len(t, got.Outcomes, 1)
	require.Equal(t, models.OutcomeFailed, got.Outcomes[models.ChannelLiveSocket].Outcome)
}

// gatedPublisher records event order and holds the session.notified publish until released.
type gatedPublisher struct {
	mu      sync.Mutex
	types   []models.EventType
	entered chan struct{}
	release chan struct{}
}

func (g *gatedPublisher) Publish(_ context.Context, _ string, ev models.Event) int {
	if ev.Type == models.EventSessionNotified {
		close(g.entered)
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.types = append(g.types, ev.Type)
	return 1
}

func (g *gatedPublisher) recorded() []models.EventType {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.EventType(nil), g.types...)
}

func TestTransitionsAnnouncedInOrder(t *testing.T) {
	ctx := context.Background()
	identities := memory.NewIdentityStore()
	sessions := memory.NewSessionStore()
	pub := &gatedPublisher{entered: make(chan struct{}), release: make(chan struct{})}

	controller := New(Config{}, identities, sessions, notify.NewDispatcher(zerolog.Nop(), nil, nil), pub, zerolog.Nop())

	identity, err := identities.Register(ctx, "O1", "front door", models.Preferences{})
	require.NoError(t, err)

	session, err := controller.CreateSession(ctx, identity.CodeID, models.Visitor{})
	require.NoError(t, err)

	// the session is NOTIFIED in the store but its announcement is held
	<-pub.entered

	responded := make(chan error, 1)
	go func() {
		_, err := controller.ApplyResponse(ctx, session.SessionID, models.Response{Type: models.ResponseAccept})
		responded <- err
	}()

	select {
	case err := <-responded:
		t.Fatalf("response applied before the notified announcement finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(pub.release)
	require.NoError(t, <-responded)
	controller.Wait()

	require.Equal(t, []models.EventType{
		models.EventSessionCreated,
		models.EventSessionNotified,
		models.EventSessionResponded,
	}, pub.recorded())
	require.Zero(t, controller.transitions.len())
}
