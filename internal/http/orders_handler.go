package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/service"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
	"github.com/go-chi/chi/v5"
)

const defaultListLimit = 50

type OrderManager interface {
	GetOrder(ctx context.Context, ref string) (*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, patch domain.StatusPatch) (*service.StatusUpdate, error)
}

// RouteObserver is told which admin page was opened.
type RouteObserver interface {
	ObserveRoute(route string) bool
}

type OrdersHandler struct {
	orders   OrderManager
	observer RouteObserver
	timeout  time.Duration
	log      logger.Logger
}

// NewOrdersHandler builds the admin orders API. observer may be nil when
// notifications are disabled.
func NewOrdersHandler(orders OrderManager, observer RouteObserver, timeout time.Duration, log logger.Logger) *OrdersHandler {
	return &OrdersHandler{
		orders:   orders,
		observer: observer,
		timeout:  timeout,
		log:      log,
	}
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	orders, err := h.orders.ListOrders(ctx, limit)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	// opening the list counts as having seen the new orders
	if h.observer != nil {
		h.observer.ObserveRoute(r.URL.Path)
	}

	if orders == nil {
		orders = []*domain.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{ref}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ref := chi.URLParam(r, "ref")
	if ref == "" {
		respondError(w, http.StatusBadRequest, "missing_order_ref", "order number or id is required")
		return
	}

	order, err := h.orders.GetOrder(ctx, ref)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// PATCH /api/v1/orders/{id}/status
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order id is required")
		return
	}

	var patch domain.StatusPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	update, err := h.orders.UpdateStatus(ctx, orderID, patch)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, update)
}
