package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type messageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.db.ListMessages(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, msgs)
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	msg, err := h.db.CreateMessage(r.Context(), req.Text)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

func (h *Handler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	msg, err := h.db.UpdateMessage(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.db.DeleteMessage(r.Context(), id); err != nil {
		h.storeError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"deleted": id})
}
