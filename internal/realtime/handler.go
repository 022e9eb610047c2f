package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/fitcoach/coachchat/internal/auth"
	"github.com/fitcoach/coachchat/store/message"
)

// FrameRouter processes one inbound frame from an authenticated sender.
type FrameRouter interface {
	HandleFrame(ctx context.Context, sender auth.Identity, raw []byte) (*message.Message, error)
}

// HandlerConfig configures the websocket endpoint.
type HandlerConfig struct {
	Conn ConnOptions
	// AllowedOrigins lists accepted Origin hosts. Empty accepts any origin.
	AllowedOrigins []string
}

// Handler upgrades authenticated requests to live connections.
type Handler struct {
	authn    *auth.Authenticator
	registry *Registry
	router   FrameRouter
	upgrader websocket.Upgrader
	conn     ConnOptions
	log      *slog.Logger
}

func NewHandler(authn *auth.Authenticator, registry *Registry, router FrameRouter, cfg HandlerConfig, log *slog.Logger) *Handler {
	return &Handler{
		authn:    authn,
		registry: registry,
		router:   router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		conn: cfg.Conn,
		log:  log,
	}
}

// ServeHTTP authenticates before upgrading, so no frame is ever read from an
// unauthenticated socket.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := h.authn.AuthenticateRequest(r)
	if err != nil {
		h.log.Info("Rejected websocket connection",
			"remote_addr", r.RemoteAddr,
			"error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "user_id", session.UserID, "error", err)
		return
	}

	conn := NewConnection(session, ws, h.conn)
	h.registry.Register(conn)
	conn.Start()

	// Sends keep running to completion if the socket drops mid-way.
	ctx := context.WithoutCancel(r.Context())
	err = conn.ReadLoop(func(raw []byte) {
		if _, err := h.router.HandleFrame(ctx, conn.Identity(), raw); err != nil {
			h.logDropped(conn, err)
		}
	})

	h.registry.Unregister(conn)
	conn.Close(websocket.CloseNormalClosure, "")
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, CloseCredentialExpired) {
		h.log.Info("Connection ended unexpectedly",
			"user_id", conn.UserID(),
			"connection_id", conn.ID(),
			"error", err)
	}
}

// logDropped records frames that produced no delivery. The router already
// reports mismatches and persistence failures at a higher level.
func (h *Handler) logDropped(conn *Connection, err error) {
	h.log.Debug("Dropped inbound frame",
		"user_id", conn.UserID(),
		"connection_id", conn.ID(),
		"error", err)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	hosts := lo.Map(allowed, func(o string, _ int) string {
		return strings.ToLower(strings.TrimSpace(o))
	})
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return lo.Contains(hosts, strings.ToLower(u.Host)) || lo.Contains(hosts, strings.ToLower(origin))
	}
}
