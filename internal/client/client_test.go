package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfeidau/ding/internal/api"
	"github.com/wolfeidau/ding/internal/hub"
	"github.com/wolfeidau/ding/internal/lifecycle"
	"github.com/wolfeidau/ding/internal/models"
	"github.com/wolfeidau/ding/internal/notify"
	"github.com/wolfeidau/ding/internal/notify/channels"
	"github.com/wolfeidau/ding/internal/qrcode"
	"github.com/wolfeidau/ding/internal/server"
	"github.com/wolfeidau/ding/internal/store/memory"
)

type countingHandler struct {
	next   http.Handler
	images atomic.Int32
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, ".png") {
		h.images.Add(1)
	}
	h.next.ServeHTTP(w, r)
}

func newTestServer(t *testing.T) (*httptest.Server, *countingHandler) {
	t.Helper()
	return newTestServerWithConfig(t, server.Config{Version: "test", HeartbeatInterval: time.Hour})
}

func newTestServerWithConfig(t *testing.T, cfg server.Config) (*httptest.Server, *countingHandler) {
	t.Helper()

	identities := memory.NewIdentityStore()
	h := hub.New(zerolog.Nop())
	dispatcher := notify.NewDispatcher(zerolog.Nop(), []notify.Channel{channels.NewLive(h)}, nil)
	controller := lifecycle.New(lifecycle.Config{}, identities, memory.NewSessionStore(), dispatcher, h, zerolog.Nop())

	renderer, err := qrcode.NewRenderer("https://ding.app/scan", 128)
	require.NoError(t, err)

	srv := server.New(cfg, controller, identities, h, renderer, zerolog.Nop())
	counting := &countingHandler{next: srv.Handler()}

	ts := httptest.NewServer(counting)
	t.Cleanup(func() {
		ts.Close()
		controller.Wait()
	})
	return ts, counting
}

func newClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := New(Config{ServerURL: serverURL, Timeout: 5 * time.Second, CacheDir: t.TempDir()})
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{ServerURL: "ftp://example.com"})
	require.Error(t, err)
}

func TestClientRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	c := newClient(t, ts.URL)
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "healthy", health.Status)

	reg, err := c.Register(ctx, api.RegisterRequest{OwnerID: "O1", Channels: []models.ChannelName{models.ChannelLiveSocket}})
	require.NoError(t, err)

	scan, err := c.Scan(ctx, api.ScanRequest{CodeID: reg.CodeID, ScannerDeviceID: "phone"})
	require.NoError(t, err)
	require.Equal(t, models.SessionStateCreated, scan.State)

	require.Eventually(t, func() bool {
		session, err := c.GetSession(ctx, scan.SessionID)
		return err == nil && session.State == models.SessionStateNotified
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := c.Respond(ctx, api.RespondRequest{SessionID: scan.SessionID, ResponseType: models.ResponseBusy})
	require.NoError(t, err)
	require.Equal(t, models.SessionStateResponded, resp.Session.State)
	require.Equal(t, "Door owner is busy, please try later", resp.Message)

	sessions, err := c.ListSessions(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	_, err = c.Respond(ctx, api.RespondRequest{SessionID: scan.SessionID, ResponseType: models.ResponseAccept})
	require.True(t, IsCode(err, api.CodeInvalidTransition))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "already_responded", apiErr.Body.Detail)
}

func TestClientErrors(t *testing.T) {
	ts, _ := newTestServer(t)
	c := newClient(t, ts.URL)
	ctx := context.Background()

	_, err := c.Scan(ctx, api.ScanRequest{CodeID: "qr_missing"})
	require.True(t, IsCode(err, api.CodeUnknownCode))

	_, err = c.GetSession(ctx, "session_missing")
	require.True(t, IsCode(err, api.CodeSessionNotFound))

	_, err = c.QRImage(ctx, "qr_missing")
	require.True(t, IsCode(err, api.CodeUnknownCode))
}

func TestQRImageIsCached(t *testing.T) {
	ts, counting := newTestServer(t)
	c := newClient(t, ts.URL)
	ctx := context.Background()

	reg, err := c.Register(ctx, api.RegisterRequest{OwnerID: "O1"})
	require.NoError(t, err)

	first, err := c.QRImage(ctx, reg.CodeID)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := c.QRImage(ctx, reg.CodeID)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), counting.images.Load())
}

func TestWatchDeliversEvents(t *testing.T) {
	ts, _ := newTestServer(t)
	c := newClient(t, ts.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reg, err := c.Register(ctx, api.RegisterRequest{OwnerID: "O2", Channels: []models.ChannelName{models.ChannelLiveSocket}})
	require.NoError(t, err)

	errDone := errors.New("done")
	events := make(chan models.EventType, 16)

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- c.Watch(ctx, "O2", WatchOptions{}, func(ev models.Event) error {
			events <- ev.Type
			if ev.Type == models.EventDingRequest {
				return errDone
			}
			return nil
		})
	}()

	require.Equal(t, models.EventConnected, <-events)

	_, err = c.Scan(ctx, api.ScanRequest{CodeID: reg.CodeID})
	require.NoError(t, err)

	require.Equal(t, models.EventSessionCreated, <-events)
	require.Equal(t, models.EventSessionNotified, <-events)
	require.Equal(t, models.EventDingRequest, <-events)
	require.ErrorIs(t, <-watchErr, errDone)
}

func TestWatchWithServeDefaultOrigins(t *testing.T) {
	// same origin list the serve command starts with
	ts, _ := newTestServerWithConfig(t, server.Config{
		Version:           "test",
		HeartbeatInterval: time.Hour,
		AllowedOrigins:    []string{"https://localhost"},
	})
	c := newClient(t, ts.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errDone := errors.New("done")
	var first models.EventType

	err := c.Watch(ctx, "O2", WatchOptions{MaxElapsedTime: 2 * time.Second}, func(ev models.Event) error {
		first = ev.Type
		return errDone
	})
	require.ErrorIs(t, err, errDone)
	require.Equal(t, models.EventConnected, first)
}

func TestWatchReconnects(t *testing.T) {
	var conns atomic.Int32

	ts := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		n := conns.Add(1)
		_ = websocket.JSON.Send(conn, models.Event{Type: models.EventConnected})
		if n == 1 {
			// drop the first connection straight away
			return
		}
		_ = websocket.JSON.Send(conn, models.Event{Type: models.EventHeartbeat})
		var discard map[string]any
		_ = websocket.JSON.Receive(conn, &discard)
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errDone := errors.New("done")
	err := c.Watch(ctx, "O1", WatchOptions{InitialBackoff: 10 * time.Millisecond}, func(ev models.Event) error {
		if ev.Type == models.EventHeartbeat {
			return errDone
		}
		return nil
	})
	require.ErrorIs(t, err, errDone)
	require.Equal(t, int32(2), conns.Load())
}

func TestWatchStopsOnCancel(t *testing.T) {
	ts, _ := newTestServer(t)
	c := newClient(t, ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	connected := make(chan struct{})

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- c.Watch(ctx, "O3", WatchOptions{}, func(ev models.Event) error {
			if ev.Type == models.EventConnected {
				close(connected)
			}
			return nil
		})
	}()

	<-connected
	cancel()

	select {
	case err := <-watchErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
