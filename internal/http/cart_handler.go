package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fjod/go_cart/shop-service/internal/cart"
	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxQuantity = 99

type CartHandler struct {
	sessions *cart.Sessions
}

func NewCartHandler(sessions *cart.Sessions) *CartHandler {
	return &CartHandler{sessions: sessions}
}

type AddItemRequestDTO struct {
	ProductID     string           `json:"product_id"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	ImageURL      string           `json:"image_url,omitempty"`
	Quantity      int              `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartResponseDTO struct {
	SessionID   string            `json:"session_id"`
	Items       []domain.CartItem `json:"items"`
	ItemCount   int               `json:"item_count"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
}

func cartResponse(s *cart.Store) CartResponseDTO {
	items := s.Items()
	if items == nil {
		items = []domain.CartItem{}
	}
	return CartResponseDTO{
		SessionID:   s.SessionID(),
		Items:       items,
		ItemCount:   s.ItemCount(),
		TotalAmount: s.Total(),
	}
}

// sessionCart resolves the request's cart, answering 503 when the stored
// cart cannot be read.
func sessionCart(w http.ResponseWriter, r *http.Request, sessions *cart.Sessions) (*cart.Store, bool) {
	ctx := r.Context()
	if isTransientSession(ctx) {
		return sessions.Transient(getSessionID(ctx)), true
	}
	store, err := sessions.Get(ctx, getSessionID(ctx))
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "cart is temporarily unavailable")
		return nil, false
	}
	return store, true
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	store, ok := sessionCart(w, r, h.sessions)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(store))
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.ProductID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Price.IsNegative() {
		respondError(w, http.StatusBadRequest, "invalid_price", "price must not be negative")
		return
	}
	if req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	store, ok := sessionCart(w, r, h.sessions)
	if !ok {
		return
	}
	store.Add(domain.Product{
		ID:            req.ProductID,
		Name:          req.Name,
		Price:         req.Price,
		OriginalPrice: req.OriginalPrice,
		ImageURL:      req.ImageURL,
	}, req.Quantity)

	respondJSON(w, http.StatusCreated, cartResponse(store))
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	store, ok := sessionCart(w, r, h.sessions)
	if !ok {
		return
	}
	if !store.Contains(productID) {
		respondError(w, http.StatusNotFound, "not_found", "product is not in the cart")
		return
	}
	store.SetQuantity(productID, req.Quantity)

	respondJSON(w, http.StatusOK, cartResponse(store))
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	store, ok := sessionCart(w, r, h.sessions)
	if !ok {
		return
	}
	store.Remove(productID)

	respondJSON(w, http.StatusOK, cartResponse(store))
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	store, ok := sessionCart(w, r, h.sessions)
	if !ok {
		return
	}
	store.Clear()

	respondJSON(w, http.StatusOK, cartResponse(store))
}
