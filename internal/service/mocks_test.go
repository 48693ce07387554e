package service

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/repository"
)

// MockRepository implements repository.OrderStore for testing. It keeps
// orders in memory; CreateErrs are returned by successive CreateOrder calls
// before any order is stored.
type MockRepository struct {
	mu          sync.Mutex
	Orders      []*domain.Order
	CreateErrs  []error
	CreateCalls int
	GetErr      error
	UpdateErr   error
	ListErr     error
	Patches     []domain.StatusPatch

	// OnCreate runs at the start of CreateOrder, before the order is stored.
	OnCreate func()
}

func (m *MockRepository) CreateOrder(_ context.Context, order *domain.Order) (repository.OrderRef, error) {
	if m.OnCreate != nil {
		m.OnCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if len(m.CreateErrs) > 0 {
		err := m.CreateErrs[0]
		m.CreateErrs = m.CreateErrs[1:]
		return repository.OrderRef{}, err
	}
	if order.IdempotencyKey != "" {
		for _, o := range m.Orders {
			if o.IdempotencyKey == order.IdempotencyKey {
				return repository.OrderRef{}, repository.ErrDuplicateOrder
			}
		}
	}
	stored := *order
	stored.OrderNumber = int64(len(m.Orders) + 1)
	stored.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.Orders = append(m.Orders, &stored)
	return repository.OrderRef{ID: stored.ID, OrderNumber: stored.OrderNumber, CreatedAt: stored.CreatedAt}, nil
}

func (m *MockRepository) find(match func(*domain.Order) bool) (*domain.Order, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for _, o := range m.Orders {
		if match(o) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *MockRepository) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(o *domain.Order) bool { return o.ID == id })
}

func (m *MockRepository) GetOrderByNumber(_ context.Context, number int64) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(o *domain.Order) bool { return o.OrderNumber == number })
}

func (m *MockRepository) GetOrderByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(o *domain.Order) bool { return o.IdempotencyKey == key })
}

func (m *MockRepository) GetOrdersByIDs(_ context.Context, ids []string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, id := range ids {
		if o, err := m.find(func(o *domain.Order) bool { return o.ID == id }); err == nil {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MockRepository) ListOrders(_ context.Context, _ int) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]*domain.Order, 0, len(m.Orders))
	for i := len(m.Orders) - 1; i >= 0; i-- {
		out = append(out, m.Orders[i])
	}
	return out, nil
}

func (m *MockRepository) ListOrdersCreatedAfter(_ context.Context, after time.Time) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.Orders {
		if o.CreatedAt.After(after) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MockRepository) UpdateOrderStatus(_ context.Context, id string, patch domain.StatusPatch) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	m.Patches = append(m.Patches, patch)
	for _, o := range m.Orders {
		if o.ID != id {
			continue
		}
		if patch.Fulfillment != nil {
			o.FulfillmentStatus = *patch.Fulfillment
		}
		if patch.Payment != nil {
			o.PaymentStatus = *patch.Payment
		}
		cp := *o
		return &cp, nil
	}
	return nil, repository.ErrOrderNotFound
}
