package cart

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/shop-service/internal/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// Persister is the durable backing for a session cart.
type Persister interface {
	Load(ctx context.Context, sessionID string) ([]domain.CartItem, error)
	Save(ctx context.Context, sessionID string, items []domain.CartItem) error
	Delete(ctx context.Context, sessionID string) error
}
