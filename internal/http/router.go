package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_cart/shop-service/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handlers struct {
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
	// Notifications is nil when order notifications are disabled.
	Notifications *NotificationsHandler
}

type RouterConfig struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	// Health reports whether the service can take traffic. Nil means always.
	Health func(r *http.Request) error
}

func NewRouter(h Handlers, cfg RouterConfig, log logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if cfg.MaxBodyBytes > 0 {
		r.Use(middleware.RequestSize(cfg.MaxBodyBytes))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware)
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.Cart.GetCart)
				r.Delete("/", h.Cart.ClearCart)
				r.Post("/items", h.Cart.AddItem)
				r.Put("/items/{product_id}", h.Cart.UpdateQuantity)
				r.Delete("/items/{product_id}", h.Cart.RemoveItem)
			})
			r.Post("/checkout", h.Checkout.Checkout)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.Orders.ListOrders)
			r.Get("/{ref}", h.Orders.GetOrder)
			r.Patch("/{id}/status", h.Orders.UpdateStatus)
		})

		if h.Notifications != nil {
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.Notifications.GetState)
				r.Post("/ack", h.Notifications.AckMany)
				r.Post("/{id}/ack", h.Notifications.Ack)
				r.Post("/snooze", h.Notifications.Snooze)
				r.Post("/poll", h.Notifications.Poll)
			})
		}
	})

	return r
}
