package server

import (
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/ding/internal/hub"
	dinghttp "github.com/wolfeidau/ding/internal/http"
	"github.com/wolfeidau/ding/internal/lifecycle"
	"github.com/wolfeidau/ding/internal/logger"
	"github.com/wolfeidau/ding/internal/qrcode"
	"github.com/wolfeidau/ding/internal/store"
)

const DefaultHeartbeatInterval = 30 * time.Second

// Config holds the HTTP surface settings.
type Config struct {
	Version           string
	HeartbeatInterval time.Duration
	// AllowedOrigins restricts cross-origin websocket upgrades by Origin header. Same-origin
	// upgrades are always accepted. Empty or "*" allows any.
	AllowedOrigins []string
}

// Server exposes the lifecycle controller over JSON HTTP and owner websockets.
type Server struct {
	cfg        Config
	controller *lifecycle.Controller
	identities store.IdentityStore
	hub        *hub.Hub
	qr         *qrcode.Renderer

	started time.Time
	logger  zerolog.Logger
}

// New creates a new server over the given components.
func New(cfg Config, controller *lifecycle.Controller, identities store.IdentityStore, h *hub.Hub, qr *qrcode.Renderer, logger zerolog.Logger) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Server{
		cfg:        cfg,
		controller: controller,
		identities: identities,
		hub:        h,
		qr:         qr,
		started:    time.Now(),
		logger:     logger,
	}
}

// Handler returns the HTTP handler for the server. JSON routes are gzip compressed; the
// websocket route is not, since it hijacks the connection.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("GET /health", s.handleHealth)
	api.HandleFunc("POST /qr-codes", s.handleRegister)
	api.HandleFunc("GET /qr-codes/{file}", s.handleQRImage)
	api.HandleFunc("POST /scan", s.handleScan)
	api.HandleFunc("POST /respond", s.handleRespond)
	api.HandleFunc("GET /sessions", s.handleListSessions)
	api.HandleFunc("GET /sessions/{session_id}", s.handleGetSession)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/notifications/{owner_id}", s.handleNotifications)
	mux.Handle("/", gzhttp.GzipHandler(api))

	return dinghttp.Chain(mux,
		logger.HTTPRequests(s.logger),
		dinghttp.ClientIPMiddleware(),
	)
}
