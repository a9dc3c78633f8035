// Package ws carries the websocket transport: the authenticated handshake
// and the per-connection read/write pumps in front of the gateway.
package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/darkcord/server/internal/auth"
	"github.com/darkcord/server/internal/gateway"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Validate origin in production
		return true
	},
}

// Handler upgrades authenticated requests into gateway sessions.
type Handler struct {
	gw   *gateway.Gateway
	auth *auth.Service
	log  *slog.Logger
}

func NewHandler(gw *gateway.Gateway, auth *auth.Service, log *slog.Logger) *Handler {
	return &Handler{gw: gw, auth: auth, log: log}
}

// ServeWS runs the connection handshake: a valid credential token must be
// presented before the upgrade, and a failure terminates the request with
// an authentication error before any session state exists.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr

	token := auth.ExtractTokenFromRequest(r)
	if token == "" {
		h.log.Warn("[WS] No token provided", "from", remoteAddr)
		http.Error(w, "Unauthorized: token required", http.StatusUnauthorized)
		return
	}

	userID, err := h.auth.VerifyToken(token)
	if err != nil {
		h.log.Warn("[WS] Token validation failed", "from", remoteAddr, "error", err)
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("[WS] Failed to upgrade connection", "user", userID, "error", err)
		return
	}

	client := &Client{
		gw:     h.gw,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		log:    h.log,
	}

	// The request context dies with this handler; the session outlives it.
	session, err := h.gw.Connect(context.Background(), userID, client)
	if err != nil {
		h.log.Error("[WS] Failed to register session", "user", userID, "error", err)
		conn.Close()
		return
	}
	client.session = session

	h.log.Info("[WS] Connection established", "user", userID, "session", session, "from", remoteAddr)

	go client.WritePump()
	go client.ReadPump()
}
