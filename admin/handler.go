// Package admin is the HTTP surface used by operators: login, room and
// message management, the activity log and the live status.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nicebartender/keepalive-server/activity"
	"github.com/nicebartender/keepalive-server/db"
)

// Kicker disconnects the agents of a room that is going away.
type Kicker interface {
	KickRoom(roomID string) int
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db     *db.DB
	feed   *activity.Feed
	kicker Kicker
	tokens *Tokens
	logger *slog.Logger
}

func NewHandler(database *db.DB, feed *activity.Feed, kicker Kicker, tokens *Tokens, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		db:     database,
		feed:   feed,
		kicker: kicker,
		tokens: tokens,
		logger: logger.With("component", "admin"),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	token, err := h.tokens.Login(req.User, req.Pass)
	if err != nil {
		h.logger.Warn("admin login failed", "user", req.User)
		h.Error(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.feed.Recent(r.Context(), activity.MaxEntries)
	if err != nil {
		h.logger.Error("list activity failed", "err", err)
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.JSON(w, http.StatusOK, entries)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.feed.Status(r.Context()).Data)
}
