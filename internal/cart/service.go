package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/cart/cache"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/cart/repository"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/logger"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type OwnershipChecker interface {
	Exists(ctx context.Context, userID, productID string) (bool, error)
}

type Service struct {
	repo     repository.CartRepository
	cache    cache.CartCache
	products ProductReader
	owned    OwnershipChecker
	policy   domain.QuantityPolicy
	metrics  *metrics.Metrics
	sfg      singleflight.Group // Prevents cache stampede
}

// NewService wires the cart aggregate. owned may be nil, in which case
// already purchased products are not rejected.
func NewService(
	repo repository.CartRepository,
	cache cache.CartCache,
	products ProductReader,
	owned OwnershipChecker,
	policy domain.QuantityPolicy,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		products: products,
		owned:    owned,
		policy:   policy,
		metrics:  m,
	}
}

// GetCart returns an empty cart for a user who never stored one. Cache
// failures are logged and fall through to the repository.
func (s *Service) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		log := logger.FromContext(ctx)

		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			s.metrics.CartCache("hit")
			return cart, nil
		}
		if errors.Is(err, cache.ErrCacheMiss) {
			s.metrics.CartCache("miss")
		} else {
			s.metrics.CartCache("error")
			log.Warn().Err(err).Str("user_id", userID).Msg("cart cache get failed")
		}

		// Taken before the repository read so a concurrent mutation's
		// invalidation makes the write below a no-op.
		gen, genErr := s.cache.Generation(ctx, userID)
		if genErr != nil {
			log.Warn().Err(genErr).Str("user_id", userID).Msg("cart cache generation failed")
		}

		cart, err = s.repo.GetCart(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return domain.EmptyCart(userID), nil
		}
		if err != nil {
			return nil, err
		}
		if genErr != nil {
			return cart, nil
		}

		setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		stored, err := s.cache.SetIfUnchanged(setCtx, userID, cart, gen)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("cart cache set failed")
		} else if !stored {
			log.Debug().Str("user_id", userID).Msg("cart changed during read, not cached")
		}

		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// AddItem adds quantity units of a product to the cart, on top of what is
// already there.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) error {
	product, err := s.validate(ctx, userID, productID, quantity)
	if err != nil {
		return err
	}

	if err := s.repo.IncrementItem(ctx, userID, productID, quantity, s.policy.Max(product)); err != nil {
		return fmt.Errorf("add %s to cart: %w", productID, err)
	}

	s.invalidateCache(ctx, userID)
	return nil
}

// SetQuantity replaces the quantity of a product already in the cart.
func (s *Service) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	product, err := s.validate(ctx, userID, productID, quantity)
	if err != nil {
		return err
	}
	if quantity > s.policy.Max(product) {
		return domain.ErrQuantityLimit
	}

	if err := s.repo.SetItemQuantity(ctx, userID, productID, quantity); err != nil {
		return fmt.Errorf("set quantity of %s: %w", productID, err)
	}

	s.invalidateCache(ctx, userID)
	return nil
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID string) error {
	return s.RemoveItems(ctx, userID, productID)
}

func (s *Service) RemoveItems(ctx context.Context, userID string, productIDs ...string) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}

	if err := s.repo.RemoveItems(ctx, userID, productIDs...); err != nil {
		return fmt.Errorf("remove cart items: %w", err)
	}

	s.invalidateCache(ctx, userID)
	return nil
}

func (s *Service) ClearCart(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}

	if err := s.repo.ClearCart(ctx, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	s.invalidateCache(ctx, userID)
	return nil
}

func (s *Service) validate(ctx context.Context, userID, productID string, quantity int) (*domain.Product, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	if s.owned != nil {
		owned, err := s.owned.Exists(ctx, userID, productID)
		if err != nil {
			return nil, fmt.Errorf("check ownership of %s: %w", productID, err)
		}
		if owned {
			return nil, domain.ErrAlreadyOwned
		}
	}

	return product, nil
}

func (s *Service) invalidateCache(ctx context.Context, userID string) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(delCtx, userID); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("user_id", userID).Msg("cart cache invalidate failed")
	}
}
