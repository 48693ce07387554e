package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/cart"
	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/service"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
)

// OrderCreator places an order from a live cart.
type OrderCreator interface {
	CreateOrderFromCart(ctx context.Context, info service.CustomerInfo, c *cart.Store) (*domain.Order, error)
}

type CheckoutHandler struct {
	orders   OrderCreator
	sessions *cart.Sessions
	timeout  time.Duration
	log      logger.Logger
}

func NewCheckoutHandler(orders OrderCreator, sessions *cart.Sessions, timeout time.Duration, log logger.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		orders:   orders,
		sessions: sessions,
		timeout:  timeout,
		log:      log,
	}
}

type CheckoutRequestDTO struct {
	Name           string               `json:"name"`
	Phone          string               `json:"phone"`
	Email          string               `json:"email"`
	Address        string               `json:"address"`
	HasWhatsApp    bool                 `json:"has_whatsapp"`
	PaymentMethod  domain.PaymentMethod `json:"payment_method"`
	Notes          string               `json:"notes,omitempty"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
}

type CheckoutResponseDTO struct {
	OrderID     string        `json:"order_id"`
	OrderNumber string        `json:"order_number"`
	Order       *domain.Order `json:"order"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = req.IdempotencyKey
	}

	store, ok := sessionCart(w, r, h.sessions)
	if !ok {
		return
	}
	order, err := h.orders.CreateOrderFromCart(ctx, service.CustomerInfo{
		Customer: domain.Customer{
			Name:                req.Name,
			Phone:               req.Phone,
			Email:               req.Email,
			Address:             req.Address,
			HasAlternateContact: req.HasWhatsApp,
		},
		PaymentMethod:  req.PaymentMethod,
		Notes:          req.Notes,
		IdempotencyKey: idempotencyKey,
	}, store)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusCreated, CheckoutResponseDTO{
		OrderID:     order.ID,
		OrderNumber: order.DisplayNumber(),
		Order:       order,
	})
}
