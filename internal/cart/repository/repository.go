package repository

import (
	"context"
	"errors"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// CartRepository defines the cart persistence operations.
// Consumers define this interface, not the MongoDB implementation
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// IncrementItem adds delta units of a product, creating the cart or the
	// line when missing. The resulting quantity never exceeds limit.
	IncrementItem(ctx context.Context, userID, productID string, delta, limit int) error
	SetItemQuantity(ctx context.Context, userID, productID string, quantity int) error
	RemoveItems(ctx context.Context, userID string, productIDs ...string) error
	ClearCart(ctx context.Context, userID string) error
}
