package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/fjod/go_cart/shop-service/internal/notify"
	"github.com/go-chi/chi/v5"
)

// Notifications is the operator-facing side of the order reconciler.
type Notifications interface {
	State() notify.State
	Dismiss(orderID string) bool
	DismissMany(orderIDs []string) int
	DismissAll() int
	Snooze() bool
	PollNow(ctx context.Context) bool
}

type NotificationsHandler struct {
	n Notifications
}

func NewNotificationsHandler(n Notifications) *NotificationsHandler {
	return &NotificationsHandler{n: n}
}

type AckRequestDTO struct {
	OrderIDs []string `json:"order_ids"`
}

type AckResponseDTO struct {
	Acknowledged int          `json:"acknowledged"`
	State        notify.State `json:"state"`
}

// GET /api/v1/notifications
func (h *NotificationsHandler) GetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.n.State())
}

// POST /api/v1/notifications/{id}/ack
func (h *NotificationsHandler) Ack(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if !h.n.Dismiss(orderID) {
		respondError(w, http.StatusNotFound, "not_found", "order is not unread")
		return
	}
	respondJSON(w, http.StatusOK, AckResponseDTO{Acknowledged: 1, State: h.n.State()})
}

// POST /api/v1/notifications/ack
//
// With order_ids in the body only those are acknowledged; an empty body
// acknowledges everything.
func (h *NotificationsHandler) AckMany(w http.ResponseWriter, r *http.Request) {
	var req AckRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var n int
	if len(req.OrderIDs) > 0 {
		n = h.n.DismissMany(req.OrderIDs)
	} else {
		n = h.n.DismissAll()
	}
	respondJSON(w, http.StatusOK, AckResponseDTO{Acknowledged: n, State: h.n.State()})
}

// POST /api/v1/notifications/snooze
func (h *NotificationsHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	if !h.n.Snooze() {
		respondError(w, http.StatusConflict, "nothing_unread", "there is nothing to snooze")
		return
	}
	respondJSON(w, http.StatusOK, h.n.State())
}

// POST /api/v1/notifications/poll
func (h *NotificationsHandler) Poll(w http.ResponseWriter, r *http.Request) {
	if !h.n.PollNow(r.Context()) {
		respondError(w, http.StatusConflict, "poll_in_progress", "a poll is already running")
		return
	}
	respondJSON(w, http.StatusOK, h.n.State())
}
