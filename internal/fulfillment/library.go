package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
)

type PurchaseLister interface {
	ListByUser(ctx context.Context, userID string) ([]*domain.Purchase, error)
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Purchase, error)
}

// Library is the read side of the ledger.
type Library struct {
	purchases PurchaseLister
	products  ProductReader
}

func NewLibrary(purchases PurchaseLister, products ProductReader) *Library {
	return &Library{
		purchases: purchases,
		products:  products,
	}
}

// ListOwned returns the user's purchases, newest first.
func (l *Library) ListOwned(ctx context.Context, userID string) ([]*domain.Purchase, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	out, err := l.purchases.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*domain.Purchase{}
	}
	return out, nil
}

// ListSession returns the caller's purchases recorded for one checkout
// session. It stays empty until the webhook or a reconcile has granted them.
func (l *Library) ListSession(ctx context.Context, userID, sessionID string) ([]*domain.Purchase, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", domain.ErrSessionNotFound)
	}

	all, err := l.purchases.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Purchase, 0, len(all))
	for _, p := range all {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

// Download locates the file of an owned product.
type Download struct {
	ProductID string
	URL       string
	Filename  string
}

// Download resolves the file link for a product the user owns. The link
// captured with the purchase wins over the catalog's current one.
func (l *Library) Download(ctx context.Context, userID, productID string) (*Download, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	owned, err := l.purchases.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var purchase *domain.Purchase
	for _, p := range owned {
		if p.ProductID == productID {
			purchase = p
			break
		}
	}
	if purchase == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotOwned, productID)
	}

	link := purchase.Product.DownloadURL
	if link == "" {
		product, err := l.products.GetProduct(ctx, productID)
		switch {
		case err == nil:
			link = product.DownloadURL
		case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrInvalidProduct):
		default:
			return nil, err
		}
	}
	if link == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoDownload, productID)
	}

	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: download link of %s is not an http(s) url", domain.ErrDataIntegrity, productID)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = "download"
	}
	return &Download{ProductID: productID, URL: link, Filename: name}, nil
}
