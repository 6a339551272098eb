package ws

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/akinalp/hearth/pkg"
	"github.com/akinalp/hearth/pkg/ratelimit"
)

// IdentityVerifier resolves a bearer credential to an identity id. Rejections
// wrap pkg.ErrUnauthorized.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// RoomResolver lists the rooms a new connection joins without asking.
type RoomResolver interface {
	DefaultRooms(ctx context.Context, userID string) ([]string, error)
}

// Handler authenticates and upgrades WebSocket connections.
//
// The credential comes from the "token" query parameter, which browsers can
// set on a WebSocket URL, or from an Authorization: Bearer header. Nothing is
// upgraded until the credential is verified.
type Handler struct {
	hub      *Hub
	verifier IdentityVerifier
	rooms    RoomResolver
	limiter  *ratelimit.HandshakeLimiter
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the upgrade handler. An empty origins list accepts every
// origin; limiter may be nil.
func NewHandler(hub *Hub, verifier IdentityVerifier, rooms RoomResolver, limiter *ratelimit.HandshakeLimiter, origins []string, logger *slog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		rooms:    rooms,
		limiter:  limiter,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(origins),
		},
	}
}

func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ExtractIP(r)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		wait := h.limiter.RetryAfter(ip)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		pkg.Error(w, &pkg.RateLimitError{Op: "handshake", ResetAt: time.Now().Add(wait)})
		return
	}

	token := credential(r)
	if token == "" {
		pkg.Error(w, fmt.Errorf("%w: missing token", pkg.ErrUnauthorized))
		return
	}

	userID, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	rooms, err := h.rooms.DefaultRooms(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to resolve default rooms", "user_id", userID, "error", err)
		pkg.Error(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "user_id", userID, "ip", ip, "error", err)
		return
	}

	client := newClient(context.WithoutCancel(r.Context()), h.hub, conn, NewSession(uuid.NewString(), userID))
	if err := h.hub.attach(r.Context(), client, rooms); err != nil {
		h.logger.Error("failed to attach client", "user_id", userID, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "try again later"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go client.writePump()
	client.readPump() // blocks until the connection closes
}

func credential(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func checkOrigin(origins []string) func(*http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}
