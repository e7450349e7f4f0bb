package domain

import "fmt"

// Product is a catalog entry. Price is in minor currency units (cents).
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Description string `json:"description"`
	ImageRef    string `json:"image_ref"`
	Author      string `json:"author"`
	DownloadURL string `json:"download_url,omitempty"`
	Game        string `json:"game,omitempty"`
}

func (p *Product) IsFree() bool {
	return p.Price == 0
}

// Validate rejects records that cannot be priced or displayed.
func (p *Product) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: product %q has no name", ErrInvalidProduct, p.ID)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: product %q has negative price %d", ErrInvalidProduct, p.ID, p.Price)
	}
	return nil
}

// Snapshot captures the product fields stored alongside a purchase.
func (p *Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		Name:        p.Name,
		Description: p.Description,
		ImageRef:    p.ImageRef,
		Author:      p.Author,
		DownloadURL: p.DownloadURL,
		Game:        p.Game,
	}
}

// QuantityPolicy caps how many units of one product a cart may hold.
type QuantityPolicy struct {
	PaidMax int
}

func DefaultQuantityPolicy() QuantityPolicy {
	return QuantityPolicy{PaidMax: 2}
}

func (q QuantityPolicy) Max(p *Product) int {
	if p.IsFree() {
		return 1
	}
	if q.PaidMax < 1 {
		return 1
	}
	return q.PaidMax
}
