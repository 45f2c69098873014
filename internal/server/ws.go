package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/wolfeidau/ding/internal/hub"
	"github.com/wolfeidau/ding/internal/models"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsQueueSize    = 32
)

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("connection send queue full")
)

// wsConn adapts a websocket to hub.Conn. Push only enqueues; a single writer goroutine
// owns the socket so one slow peer never holds up the publisher or other connections.
type wsConn struct {
	conn         *websocket.Conn
	out          chan models.Event
	writeTimeout time.Duration
	done         chan struct{}
	closed       sync.Once
}

var _ hub.Conn = (*wsConn)(nil)

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn:         conn,
		out:          make(chan models.Event, wsQueueSize),
		writeTimeout: wsWriteTimeout,
		done:         make(chan struct{}),
	}
}

// Push queues ev for the writer. A full queue means the peer stopped reading, so the
// connection is closed instead of blocking.
func (c *wsConn) Push(_ context.Context, ev models.Event) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.out <- ev:
		return nil
	default:
		c.close()
		return errSlowConsumer
	}
}

func (c *wsConn) Done() <-chan struct{} { return c.done }

// writeLoop drains the queue until the connection closes. Each frame gets its own write
// deadline.
func (c *wsConn) writeLoop(log zerolog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := websocket.JSON.Send(c.conn, ev); err != nil {
				log.Debug().Err(err).Str("event", string(ev.Type)).Msg("websocket send failed")
				c.close()
				return
			}
		}
	}
}

func (c *wsConn) close() {
	c.closed.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.PathValue("owner_id"))
	if ownerID == "" {
		writeError(w, r, fmt.Errorf("%w: owner_id is required", errBadRequest))
		return
	}

	ws := websocket.Server{
		Handshake: s.checkOrigin,
		Handler: func(conn *websocket.Conn) {
			s.serveOwner(r.Context(), ownerID, conn)
		},
	}
	ws.ServeHTTP(w, r)
}

// checkOrigin accepts same-origin upgrades, where the Origin host is the host the request
// was sent to, and otherwise requires the origin to be allowed.
func (s *Server) checkOrigin(cfg *websocket.Config, r *http.Request) error {
	if len(s.cfg.AllowedOrigins) == 0 || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return nil
	}
	if cfg.Origin == nil {
		return errors.New("missing origin")
	}
	if r != nil && strings.EqualFold(cfg.Origin.Host, r.Host) {
		return nil
	}
	origin := cfg.Origin.Scheme + "://" + cfg.Origin.Host
	if !slices.Contains(s.cfg.AllowedOrigins, origin) {
		return fmt.Errorf("origin %q not allowed", origin)
	}
	return nil
}

// serveOwner queues the welcome frame, registers the connection with the hub, sends
// heartbeats and drains client frames until the peer goes away.
func (s *Server) serveOwner(ctx context.Context, ownerID string, conn *websocket.Conn) {
	log := zerolog.Ctx(ctx).With().Str("owner_id", ownerID).Logger()

	peer := newWSConn(conn)
	defer peer.close()

	// server shutdown closes live connections
	stop := context.AfterFunc(ctx, peer.close)
	defer stop()

	// queued ahead of registration so it is always the first frame
	if err := peer.Push(ctx, models.Event{
		Type:      models.EventConnected,
		OwnerID:   ownerID,
		Message:   "Connected to ding notifications",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Msg("failed to queue welcome frame")
		return
	}

	go peer.writeLoop(log)

	unregister := s.hub.Register(ownerID, peer)
	defer unregister()

	log.Info().Msg("live connection established")

	go s.heartbeat(ctx, peer, log)

	// clear the read deadline inherited from the http.Server ReadTimeout
	_ = conn.SetReadDeadline(time.Time{})

	// inbound frames are ignored; reading detects the close
	for {
		var frame map[string]any
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			log.Info().Err(err).Msg("live connection closed")
			return
		}
	}
}

func (s *Server) heartbeat(ctx context.Context, peer *wsConn, log zerolog.Logger) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-peer.Done():
			return
		case <-ticker.C:
			err := peer.Push(ctx, models.Event{Type: models.EventHeartbeat, Timestamp: time.Now().UTC()})
			if err != nil {
				log.Debug().Err(err).Msg("heartbeat failed")
				return
			}
		}
	}
}
