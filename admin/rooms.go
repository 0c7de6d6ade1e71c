package admin

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nicebartender/keepalive-server/activity"
	"github.com/nicebartender/keepalive-server/db"
)

type createRoomRequest struct {
	Name        string `json:"name"`
	Password    string `json:"password"`
	MinInterval *int   `json:"minInterval"`
	MaxInterval *int   `json:"maxInterval"`
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.db.ListRooms(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, rooms)
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !h.decode(w, r, &req) {
		return
	}
	minInterval, maxInterval := db.DefaultMinInterval, db.DefaultMaxInterval
	if req.MinInterval != nil {
		minInterval = *req.MinInterval
	}
	if req.MaxInterval != nil {
		maxInterval = *req.MaxInterval
	}

	room, err := h.db.CreateRoom(r.Context(), req.Name, req.Password, minInterval, maxInterval)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.logger.Info("room created", "room", room.ID, "by", Subject(r.Context()))
	h.feed.RecordNamed(room.ID, room.Name, activity.KindRoomCreated, fmt.Sprintf("Room %q created", room.Name))
	h.feed.PublishStatus()
	h.JSON(w, http.StatusCreated, room)
}

func (h *Handler) UpdateRoom(w http.ResponseWriter, r *http.Request) {
	var patch db.RoomPatch
	if !h.decode(w, r, &patch) {
		return
	}
	room, err := h.db.UpdateRoom(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.feed.PublishStatus()
	h.JSON(w, http.StatusOK, room)
}

func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	room, err := h.db.GetRoom(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if err := h.db.DeleteRoom(r.Context(), id); err != nil {
		h.storeError(w, err)
		return
	}

	kicked := 0
	if h.kicker != nil {
		kicked = h.kicker.KickRoom(id)
	}
	h.logger.Info("room deleted", "room", id, "disconnected", kicked, "by", Subject(r.Context()))
	h.feed.RecordNamed(id, room.Name, activity.KindRoomDeleted,
		fmt.Sprintf("Room %q deleted, %d agents disconnected", room.Name, kicked))
	h.feed.PublishStatus()
	h.JSON(w, http.StatusOK, map[string]any{"deleted": id, "disconnected": kicked})
}

// storeError maps store errors onto HTTP statuses.
func (h *Handler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, db.ErrNameRequired), errors.Is(err, db.ErrInvalidInterval), errors.Is(err, db.ErrEmptyText):
		h.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("store error", "err", err)
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}
