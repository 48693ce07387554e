package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/cart"
	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/messaging"
	"github.com/fjod/go_cart/shop-service/internal/repository"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
	"github.com/google/uuid"
)

// CustomerInfo is the checkout form: who the order is for and how it is paid.
type CustomerInfo struct {
	domain.Customer
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	Notes         string               `json:"notes,omitempty"`

	// IdempotencyKey makes repeated submissions of one checkout return the
	// same order.
	IdempotencyKey string `json:"-"`
}

// StatusUpdate is the result of UpdateStatus. Message is set when the
// change should be announced to the customer; sending it is up to the
// caller.
type StatusUpdate struct {
	Order   *domain.Order      `json:"order"`
	Message *messaging.Message `json:"message,omitempty"`
}

type OrderService struct {
	store    repository.OrderStore
	composer *messaging.Composer
	log      logger.Logger
	now      func() time.Time
	strict   bool
}

type Option func(*OrderService)

// WithStrictTransitions rejects status changes that skip steps of the
// fulfillment flow or leave a terminal state.
func WithStrictTransitions() Option {
	return func(s *OrderService) { s.strict = true }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

func NewOrderService(store repository.OrderStore, composer *messaging.Composer, log logger.Logger, opts ...Option) *OrderService {
	s := &OrderService{
		store:    store,
		composer: composer,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder freezes snapshot into a new pending order and persists it.
// The total is computed from the snapshot items and never re-priced.
func (s *OrderService) CreateOrder(ctx context.Context, info CustomerInfo, snapshot domain.CartSnapshot) (*domain.Order, error) {
	if snapshot.IsEmpty() {
		return nil, &ValidationError{Fields: map[string]string{"cart": ErrEmptyCart.Error()}, err: ErrEmptyCart}
	}
	if verr := validateCustomer(info); verr != nil {
		return nil, verr
	}

	frozen := domain.NewCartSnapshot(snapshot.Items, snapshot.CapturedAt)
	order := &domain.Order{
		ID:                uuid.NewString(),
		Items:             frozen.Items,
		TotalAmount:       frozen.TotalAmount,
		PaymentMethod:     info.PaymentMethod,
		PaymentStatus:     domain.PaymentStatusPending,
		FulfillmentStatus: domain.FulfillmentPending,
		Customer:          normalizeCustomer(info.Customer),
		Notes:             strings.TrimSpace(info.Notes),
		IdempotencyKey:    info.IdempotencyKey,
		CreatedAt:         s.now(),
	}
	order.UpdatedAt = order.CreatedAt

	ref, err := s.store.CreateOrder(ctx, order)
	if errors.Is(err, repository.ErrDuplicateOrder) {
		existing, getErr := s.store.GetOrderByIdempotencyKey(ctx, info.IdempotencyKey)
		if getErr != nil {
			return nil, &PersistenceError{Op: "load existing order", Err: getErr}
		}
		s.log.Info("checkout replayed, returning existing order",
			logger.String("order_id", existing.ID),
			logger.Int64("order_number", existing.OrderNumber))
		return existing, nil
	}
	if err != nil {
		s.log.Error("failed to create order", logger.Error(err))
		return nil, &PersistenceError{Op: "create order", Err: err}
	}

	order.ID = ref.ID
	order.OrderNumber = ref.OrderNumber
	if !ref.CreatedAt.IsZero() {
		order.CreatedAt = ref.CreatedAt
		order.UpdatedAt = ref.CreatedAt
	}

	s.log.Info("order created",
		logger.String("order_id", order.ID),
		logger.Int64("order_number", order.OrderNumber),
		logger.String("total", order.TotalAmount.String()),
		logger.Int("items", len(order.Items)))
	return order, nil
}

// CreateOrderFromCart checks out the session cart. Only the ordered lines
// are taken out of the cart, and only after the order was stored; on any
// error the cart is left as it was.
func (s *OrderService) CreateOrderFromCart(ctx context.Context, info CustomerInfo, c *cart.Store) (*domain.Order, error) {
	snap := c.Snapshot()
	order, err := s.CreateOrder(ctx, info, snap)
	if err != nil {
		return nil, err
	}
	c.RemoveCheckedOut(snap)
	return order, nil
}

// UpdateStatus applies a partial status change. Transitions outside the
// usual flow are logged, and rejected only in strict mode.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, patch domain.StatusPatch) (*StatusUpdate, error) {
	if verr := validatePatch(patch); verr != nil {
		return nil, verr
	}

	current, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, &PersistenceError{Op: "load order", Err: err}
	}

	if err := s.checkTransitions(current, patch); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateOrderStatus(ctx, orderID, patch)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, &PersistenceError{Op: "update order status", Err: err}
	}

	s.log.Info("order status updated",
		logger.String("order_id", updated.ID),
		logger.String("fulfillment_status", updated.FulfillmentStatus.String()),
		logger.String("payment_status", updated.PaymentStatus.String()))

	return &StatusUpdate{Order: updated, Message: s.customerMessage(current, updated, patch)}, nil
}

func (s *OrderService) checkTransitions(current *domain.Order, patch domain.StatusPatch) error {
	var illegal []string
	if f := patch.Fulfillment; f != nil && !current.FulfillmentStatus.CanTransitionTo(*f) {
		illegal = append(illegal, fmt.Sprintf("fulfillment %s -> %s", current.FulfillmentStatus, *f))
	}
	if p := patch.Payment; p != nil && !current.PaymentStatus.CanTransitionTo(*p) {
		illegal = append(illegal, fmt.Sprintf("payment %s -> %s", current.PaymentStatus, *p))
	}
	if len(illegal) == 0 {
		return nil
	}

	if s.strict {
		return fmt.Errorf("%w: %s", ErrIllegalTransition, strings.Join(illegal, ", "))
	}
	s.log.Warn("order status transition outside the usual flow",
		logger.String("order_id", current.ID),
		logger.String("transitions", strings.Join(illegal, ", ")))
	return nil
}

// customerMessage composes the announcement for transitions the customer
// cares about, if the customer can be reached on WhatsApp.
func (s *OrderService) customerMessage(before, after *domain.Order, patch domain.StatusPatch) *messaging.Message {
	if s.composer == nil || !after.Customer.HasAlternateContact {
		return nil
	}

	var fulfillment *domain.FulfillmentStatus
	if patch.Fulfillment != nil && *patch.Fulfillment != before.FulfillmentStatus {
		fulfillment = patch.Fulfillment
	}
	var payment *domain.PaymentStatus
	if patch.Payment != nil && *patch.Payment != before.PaymentStatus {
		payment = patch.Payment
	}

	kind, ok := messaging.KindForTransition(fulfillment, payment)
	if !ok {
		return nil
	}
	msg, err := s.composer.Message(*after, kind)
	if err != nil {
		s.log.Warn("failed to compose customer message",
			logger.String("order_id", after.ID),
			logger.String("kind", string(kind)),
			logger.Error(err))
		return nil
	}
	return &msg
}

// GetOrder looks the order up by its number first, then by id.
func (s *OrderService) GetOrder(ctx context.Context, ref string) (*domain.Order, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if number, err := strconv.ParseInt(ref, 10, 64); err == nil && number > 0 {
		order, err := s.store.GetOrderByNumber(ctx, number)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repository.ErrOrderNotFound) {
			return nil, &PersistenceError{Op: "get order by number", Err: err}
		}
	}

	order, err := s.store.GetOrderByID(ctx, ref)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get order", Err: err}
	}
	return order, nil
}

// ListOrders returns the newest orders first.
func (s *OrderService) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	orders, err := s.store.ListOrders(ctx, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list orders", Err: err}
	}
	return orders, nil
}

func normalizeCustomer(c domain.Customer) domain.Customer {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)
	c.Address = strings.TrimSpace(c.Address)
	return c
}
