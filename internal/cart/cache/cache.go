package cache

import (
	"context"
	"errors"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
)

// CartCache is a read-through cache in front of the cart repository. Readers
// take a Generation before loading from the repository and store the result
// with SetIfUnchanged, which refuses the write once a Delete has happened in
// between.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Generation(ctx context.Context, userID string) (int64, error)
	SetIfUnchanged(ctx context.Context, userID string, cart *domain.Cart, generation int64) (bool, error)
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")
