package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/pkg/circuitbreaker"
)

// BreakerStore guards an OrderStore with a circuit breaker. Lookups that
// miss, duplicates and empty patches are answers, not outages, and do not
// count as failures.
type BreakerStore struct {
	next OrderStore
	cb   *circuitbreaker.Breaker
}

func NewBreakerStore(next OrderStore, cb *circuitbreaker.Breaker) *BreakerStore {
	return &BreakerStore{next: next, cb: cb}
}

// IsStoreAnswer reports errors that mean the store is healthy.
func IsStoreAnswer(err error) bool {
	return err == nil ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrDuplicateOrder) ||
		errors.Is(err, ErrEmptyPatch) ||
		errors.Is(err, context.Canceled)
}

func (s *BreakerStore) CreateOrder(ctx context.Context, order *domain.Order) (OrderRef, error) {
	return circuitbreaker.Execute(s.cb, func() (OrderRef, error) {
		return s.next.CreateOrder(ctx, order)
	})
}

func (s *BreakerStore) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	return circuitbreaker.Execute(s.cb, func() (*domain.Order, error) {
		return s.next.GetOrderByID(ctx, id)
	})
}

func (s *BreakerStore) GetOrderByNumber(ctx context.Context, number int64) (*domain.Order, error) {
	return circuitbreaker.Execute(s.cb, func() (*domain.Order, error) {
		return s.next.GetOrderByNumber(ctx, number)
	})
}

func (s *BreakerStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return circuitbreaker.Execute(s.cb, func() (*domain.Order, error) {
		return s.next.GetOrderByIdempotencyKey(ctx, key)
	})
}

func (s *BreakerStore) GetOrdersByIDs(ctx context.Context, ids []string) ([]*domain.Order, error) {
	return circuitbreaker.Execute(s.cb, func() ([]*domain.Order, error) {
		return s.next.GetOrdersByIDs(ctx, ids)
	})
}

func (s *BreakerStore) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	return circuitbreaker.Execute(s.cb, func() ([]*domain.Order, error) {
		return s.next.ListOrders(ctx, limit)
	})
}

func (s *BreakerStore) ListOrdersCreatedAfter(ctx context.Context, after time.Time) ([]*domain.Order, error) {
	return circuitbreaker.Execute(s.cb, func() ([]*domain.Order, error) {
		return s.next.ListOrdersCreatedAfter(ctx, after)
	})
}

func (s *BreakerStore) UpdateOrderStatus(ctx context.Context, id string, patch domain.StatusPatch) (*domain.Order, error) {
	return circuitbreaker.Execute(s.cb, func() (*domain.Order, error) {
		return s.next.UpdateOrderStatus(ctx, id, patch)
	})
}

// Now reads the wrapped store's clock, or the local one if it has none.
func (s *BreakerStore) Now(ctx context.Context) (time.Time, error) {
	clock, ok := s.next.(Clock)
	if !ok {
		return time.Now(), nil
	}
	return circuitbreaker.Execute(s.cb, func() (time.Time, error) {
		return clock.Now(ctx)
	})
}
