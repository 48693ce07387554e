package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order with this idempotency key already exists")
	ErrEmptyPatch     = errors.New("status patch is empty")
)

const EventOrderCreated = "order.created"

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	// MigrationsDirPath overrides the embedded migrations when set.
	MigrationsDirPath string

	// Pool sizes; zero keeps 100 open and 10 idle.
	MaxOpenConns int
	MaxIdleConns int
}

// OrderRef is what the store assigns on insert.
type OrderRef struct {
	ID          string
	OrderNumber int64
	CreatedAt   time.Time
}

type OutboxEvent struct {
	ID          int64
	AggregateId string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order *domain.Order) (OrderRef, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, number int64) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	GetOrdersByIDs(ctx context.Context, ids []string) ([]*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]*domain.Order, error)
	ListOrdersCreatedAfter(ctx context.Context, after time.Time) ([]*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, patch domain.StatusPatch) (*domain.Order, error)
}

// Clock reports the store's own time, the one created_at is assigned from.
type Clock interface {
	Now(ctx context.Context) (time.Time, error)
}

type OutboxStore interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}
