package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/logger"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/metrics"
)

type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type SessionCreator interface {
	CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.CheckoutSession, error)
}

type Config struct {
	Currency          string
	Timeout           time.Duration
	DefaultSuccessURL string
	DefaultCancelURL  string
	// AllowedRedirectHosts restricts caller supplied redirect URLs. Empty
	// allows any absolute http(s) URL.
	AllowedRedirectHosts []string
	// Policy caps the units of one product per session, as in the cart.
	Policy domain.QuantityPolicy
}

type Request struct {
	UserID          string
	Items           []domain.CheckoutItem
	DiscountPercent int
	SuccessURL      string
	CancelURL       string
}

type Result struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// Initiator turns a list of requested products into a gateway checkout
// session priced from the catalog. It never writes purchases.
type Initiator struct {
	products ProductReader
	gateway  SessionCreator
	cfg      Config
	metrics  *metrics.Metrics
}

func NewInitiator(products ProductReader, gateway SessionCreator, cfg Config, m *metrics.Metrics) *Initiator {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Policy.PaidMax == 0 {
		cfg.Policy = domain.DefaultQuantityPolicy()
	}
	return &Initiator{
		products: products,
		gateway:  gateway,
		cfg:      cfg,
		metrics:  m,
	}
}

func (i *Initiator) Initiate(ctx context.Context, req Request) (*Result, error) {
	res, err := i.initiate(ctx, req)
	switch {
	case err == nil:
		i.metrics.Checkout("created")
	case domain.IsClientError(err):
		i.metrics.Checkout("rejected")
	default:
		i.metrics.Checkout("failed")
	}
	return res, err
}

func (i *Initiator) initiate(ctx context.Context, req Request) (*Result, error) {
	if len(req.Items) == 0 {
		return nil, domain.ErrNoItems
	}
	if req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidDiscount, req.DiscountPercent)
	}

	successURL, err := i.redirectURL(req.SuccessURL, i.cfg.DefaultSuccessURL)
	if err != nil {
		return nil, err
	}
	cancelURL, err := i.redirectURL(req.CancelURL, i.cfg.DefaultCancelURL)
	if err != nil {
		return nil, err
	}

	lines, err := i.priceLines(ctx, req.Items, req.DiscountPercent)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, domain.ErrNoValidItems
	}

	ctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	session, err := i.gateway.CreateSession(ctx, domain.SessionRequest{
		UserID:     req.UserID,
		LineItems:  lines,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Currency:   i.cfg.Currency,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrUpstream) {
			err = fmt.Errorf("%w: %v", domain.ErrUpstream, err)
		}
		logger.FromContext(ctx).Error().Err(err).Str("user_id", req.UserID).Msg("checkout session creation failed")
		return nil, err
	}

	return &Result{SessionID: session.ID, URL: session.URL}, nil
}

// priceLines looks up every requested product. Quantities below one are
// dropped, zero price products are left to the free flow, and a repeated
// product is merged into a single line whose quantity must stay within the
// quantity policy.
func (i *Initiator) priceLines(ctx context.Context, items []domain.CheckoutItem, pct int) ([]domain.LineItem, error) {
	var lines []domain.LineItem
	index := make(map[string]int)

	for _, it := range items {
		if it.Quantity < 1 {
			continue
		}

		product, err := i.products.GetProduct(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		if product.IsFree() {
			continue
		}

		idx, ok := index[product.ID]
		if ok {
			lines[idx].Quantity += it.Quantity
		} else {
			unit, err := domain.ApplyDiscount(product.Price, pct)
			if err != nil {
				return nil, err
			}
			idx = len(lines)
			index[product.ID] = idx
			lines = append(lines, domain.LineItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				UnitAmount:  unit,
				Quantity:    it.Quantity,
			})
		}

		if limit := i.cfg.Policy.Max(product); lines[idx].Quantity > limit {
			return nil, fmt.Errorf("%w: %s allows at most %d", domain.ErrQuantityLimit, product.ID, limit)
		}
	}
	return lines, nil
}

func (i *Initiator) redirectURL(raw, fallback string) (string, error) {
	if raw == "" {
		raw = fallback
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidRedirect, raw)
	}
	if len(i.cfg.AllowedRedirectHosts) > 0 && !slices.Contains(i.cfg.AllowedRedirectHosts, u.Hostname()) {
		return "", fmt.Errorf("%w: host %q not allowed", domain.ErrInvalidRedirect, u.Hostname())
	}
	return raw, nil
}
