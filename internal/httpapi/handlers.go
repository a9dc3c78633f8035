// Package httpapi serves the request/response surface next to the
// websocket gateway: account registration and login, server and channel
// listings, and message history pages.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/darkcord/server/internal/auth"
	"github.com/darkcord/server/internal/models"
	"github.com/darkcord/server/internal/store"
)

type Handler struct {
	store *store.Store
	auth  *auth.Service
	log   *slog.Logger
}

func NewHandler(st *store.Store, auth *auth.Service, log *slog.Logger) *Handler {
	return &Handler{store: st, auth: auth, log: log}
}

// Register mounts all REST routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("GET /api/auth/me", h.requireAuth(h.handleMe))
	mux.HandleFunc("GET /api/servers", h.requireAuth(h.handleListServers))
	mux.HandleFunc("POST /api/servers", h.requireAuth(h.handleCreateServer))
	mux.HandleFunc("GET /api/channels/{channelId}/messages", h.requireAuth(h.handleMessages))
	mux.HandleFunc("GET /api/servers/{serverId}/members", h.requireAuth(h.handleMembers))
	mux.HandleFunc("POST /api/messages/{messageId}/reactions", h.requireAuth(h.handleToggleReaction))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (h *Handler) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractTokenFromRequest(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "token required")
			return
		}
		userID, err := h.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, userID)
	}
}

type registerRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.DisplayName == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "all fields are required")
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.serverError(w, "hash password", err)
		return
	}

	profile, err := h.store.CreateUser(r.Context(), req.Username, req.DisplayName, req.Email, hash)
	if errors.Is(err, models.ErrDuplicate) {
		writeError(w, http.StatusConflict, "username or email already registered")
		return
	}
	if err != nil {
		h.serverError(w, "create user", err)
		return
	}

	// New accounts join the first server so they land somewhere.
	if serverID, err := h.store.FirstServerID(r.Context()); err == nil {
		if err := h.store.AddServerMember(r.Context(), serverID, profile.ID, "member"); err != nil {
			h.log.Warn("[API] Failed to auto-join server", "user", profile.ID, "error", err)
		}
	}

	token, err := h.auth.GenerateToken(profile.ID)
	if err != nil {
		h.serverError(w, "generate token", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"token": token,
		"user":  profile,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	userID, hash, err := h.store.UserCredentials(r.Context(), req.Email)
	if errors.Is(err, models.ErrNotFound) || (err == nil && !auth.ComparePassword(req.Password, hash)) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		h.serverError(w, "load credentials", err)
		return
	}

	if err := h.store.SetUserStatus(r.Context(), userID, "online"); err != nil {
		h.log.Warn("[API] Failed to set status", "user", userID, "error", err)
	}

	profile, err := h.store.Profile(r.Context(), userID)
	if err != nil {
		h.serverError(w, "load profile", err)
		return
	}
	token, err := h.auth.GenerateToken(userID)
	if err != nil {
		h.serverError(w, "generate token", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  profile,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request, userID string) {
	profile, err := h.store.Profile(r.Context(), userID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.serverError(w, "load profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleListServers(w http.ResponseWriter, r *http.Request, userID string) {
	servers, err := h.store.Servers(r.Context(), userID)
	if err != nil {
		h.serverError(w, "list servers", err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

type createServerRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (h *Handler) handleCreateServer(w http.ResponseWriter, r *http.Request, userID string) {
	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "server name is required")
		return
	}

	srv, err := h.store.CreateServer(r.Context(), req.Name, req.Color, userID)
	if err != nil {
		h.serverError(w, "create server", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":    srv.ID,
		"name":  srv.Name,
		"color": srv.Color,
	})
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request, userID string) {
	channelID := r.PathValue("channelId")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	before := r.URL.Query().Get("before")

	page, err := h.store.Messages(r.Context(), channelID, userID, limit, before)
	if err != nil {
		h.serverError(w, "load messages", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleMembers(w http.ResponseWriter, r *http.Request, userID string) {
	members, err := h.store.ServerMembers(r.Context(), r.PathValue("serverId"))
	if err != nil {
		h.serverError(w, "list members", err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

type toggleReactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *Handler) handleToggleReaction(w http.ResponseWriter, r *http.Request, userID string) {
	var req toggleReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji is required")
		return
	}

	messageID := r.PathValue("messageId")
	summary, err := h.store.ReactionSummary(r.Context(), messageID, userID)
	if err != nil {
		h.serverError(w, "load reactions", err)
		return
	}
	action := "added"
	for _, rc := range summary {
		if rc.Emoji == req.Emoji && rc.Reacted {
			action = "removed"
			break
		}
	}

	if err := h.store.ToggleReaction(r.Context(), messageID, userID, req.Emoji); err != nil {
		h.serverError(w, "toggle reaction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"action": action})
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.log.Error("[API] "+op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
