package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/logger"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/metrics"
)

type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

// PurchaseWriter is the part of the ledger the granter needs.
type PurchaseWriter interface {
	Exists(ctx context.Context, userID, productID string) (bool, error)
	InsertIfAbsent(ctx context.Context, p *domain.Purchase) (bool, error)
}

type ItemStatus string

const (
	StatusGranted      ItemStatus = "granted"
	StatusAlreadyOwned ItemStatus = "already_owned"
	StatusFailed       ItemStatus = "failed"
)

type ItemResult struct {
	ProductID string     `json:"product_id"`
	Status    ItemStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
}

// Granter is the single place a Purchase is created. Its only gate is the
// ledger's insert-if-absent on (user, product).
type Granter struct {
	products  ProductReader
	purchases PurchaseWriter
	metrics   *metrics.Metrics
}

func NewGranter(products ProductReader, purchases PurchaseWriter, m *metrics.Metrics) *Granter {
	return &Granter{
		products:  products,
		purchases: purchases,
		metrics:   m,
	}
}

// Grant processes every item independently. The returned error joins the
// per-item failures and is nil when every item ended up owned.
func (g *Granter) Grant(
	ctx context.Context,
	userID, sessionID string,
	source domain.PurchaseSource,
	items []domain.PaidItem,
) ([]ItemResult, error) {
	log := logger.FromContext(ctx).With().
		Str("user_id", userID).
		Str("session_id", sessionID).
		Str("source", string(source)).
		Logger()

	results := make([]ItemResult, 0, len(items))
	var errs []error

	for _, item := range items {
		status, err := g.grantOne(ctx, userID, sessionID, source, item)
		res := ItemResult{ProductID: item.ProductID, Status: status}
		if err != nil {
			res.Error = err.Error()
			errs = append(errs, err)
			log.Error().Err(err).Str("product_id", item.ProductID).Msg("grant failed")
		} else {
			log.Info().Str("product_id", item.ProductID).Str("status", string(status)).Msg("grant processed")
		}
		g.metrics.Purchase(string(source), string(status))
		results = append(results, res)
	}

	return results, errors.Join(errs...)
}

func (g *Granter) grantOne(
	ctx context.Context,
	userID, sessionID string,
	source domain.PurchaseSource,
	item domain.PaidItem,
) (ItemStatus, error) {
	if item.Err != nil {
		return StatusFailed, item.Err
	}

	product, err := g.products.GetProduct(ctx, item.ProductID)
	if err != nil {
		return StatusFailed, fmt.Errorf("product %s: %w", item.ProductID, err)
	}

	owned, err := g.purchases.Exists(ctx, userID, product.ID)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("product_id", product.ID).Msg("ownership pre-check failed")
	} else if owned {
		return StatusAlreadyOwned, nil
	}

	inserted, err := g.purchases.InsertIfAbsent(ctx, domain.NewPurchase(userID, sessionID, source, product, item))
	if err != nil {
		return StatusFailed, fmt.Errorf("record purchase of %s: %w", product.ID, err)
	}
	if !inserted {
		return StatusAlreadyOwned, nil
	}
	return StatusGranted, nil
}
