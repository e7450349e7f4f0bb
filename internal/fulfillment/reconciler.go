package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/logger"
)

// CartStore is the part of the cart aggregate the free flow touches.
type CartStore interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	RemoveItems(ctx context.Context, userID string, productIDs ...string) error
}

type Result struct {
	SessionID string       `json:"session_id"`
	Items     []ItemResult `json:"items"`
}

// Reconciler grants ownership on the user's behalf, either after returning
// from a paid checkout or for zero price products.
type Reconciler struct {
	sessions SessionRetriever
	products ProductReader
	carts    CartStore
	granter  *Granter
}

func NewReconciler(sessions SessionRetriever, products ProductReader, carts CartStore, granter *Granter) *Reconciler {
	return &Reconciler{
		sessions: sessions,
		products: products,
		carts:    carts,
		granter:  granter,
	}
}

// ReconcilePaid grants the items of a completed session owned by userID.
// Item level failures are reported in the result, not as an error.
func (r *Reconciler) ReconcilePaid(ctx context.Context, userID, sessionID string) (*Result, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if sessionID == "" || sessionID == domain.FreeSessionID {
		return nil, fmt.Errorf("%w: %q", domain.ErrSessionNotFound, sessionID)
	}

	session, err := r.sessions.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsPaid() {
		return nil, fmt.Errorf("%w: status=%s payment_status=%s",
			domain.ErrSessionIncomplete, session.Status, session.PaymentStatus)
	}
	if session.UserID != userID {
		logger.FromContext(ctx).Warn().
			Str("user_id", userID).
			Str("session_id", sessionID).
			Msg("reconcile attempted for a session of another user")
		return nil, domain.ErrSessionMismatch
	}

	items, err := r.granter.Grant(ctx, userID, session.ID, domain.SourceReconcile, session.Items)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("session_id", sessionID).Msg("reconcile grants partially failed")
	}
	return &Result{SessionID: session.ID, Items: items}, nil
}

// ClaimFree grants zero price products. With explicit productIDs every one
// must be free or nothing is written; with none the free items in the cart
// are claimed. Claimed items leave the cart only when every grant succeeded.
func (r *Reconciler) ClaimFree(ctx context.Context, userID string, productIDs []string) (*Result, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	var (
		ids []string
		err error
	)
	if len(productIDs) > 0 {
		ids, err = r.explicitFreeItems(ctx, productIDs)
	} else {
		ids, err = r.freeItemsInCart(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	paid := make([]domain.PaidItem, 0, len(ids))
	for _, id := range ids {
		paid = append(paid, domain.PaidItem{ProductID: id, Quantity: 1, UnitAmount: 0})
	}

	items, err := r.granter.Grant(ctx, userID, domain.FreeSessionID, domain.SourceFree, paid)
	res := &Result{SessionID: domain.FreeSessionID, Items: items}
	if err != nil {
		return res, err
	}

	if err := r.carts.RemoveItems(ctx, userID, ids...); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("user_id", userID).Msg("remove claimed items from cart failed")
	}
	return res, nil
}

func (r *Reconciler) explicitFreeItems(ctx context.Context, productIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(productIDs))
	ids := make([]string, 0, len(productIDs))

	for _, id := range productIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		product, err := r.products.GetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		if !product.IsFree() {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFree, id)
		}
		ids = append(ids, product.ID)
	}
	return ids, nil
}

func (r *Reconciler) freeItemsInCart(ctx context.Context, userID string) ([]string, error) {
	cart, err := r.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}

	var ids []string
	for _, item := range cart.Items {
		product, err := r.products.GetProduct(ctx, item.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) || errors.Is(err, domain.ErrInvalidProduct) {
			logger.FromContext(ctx).Warn().Err(err).Str("product_id", item.ProductID).Msg("skipping unreadable cart item")
			continue
		}
		if err != nil {
			return nil, err
		}
		if product.IsFree() {
			ids = append(ids, product.ID)
		}
	}

	if len(ids) == 0 {
		return nil, domain.ErrNoFreeItems
	}
	return ids, nil
}
