package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type DiscountCode struct {
	Code       string `bson:"code" json:"code"`
	Percentage int    `bson:"percentage" json:"percentage"`
	Active     bool   `bson:"active" json:"active"`
}

func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}

// Validate checks a stored record; a zero or out of range percentage means the
// record is corrupt, not that the discount is off.
func (d *DiscountCode) Validate() error {
	if d.Percentage <= 0 || d.Percentage > 100 {
		return fmt.Errorf("%w: discount code %q has percentage %d", ErrDataIntegrity, d.Code, d.Percentage)
	}
	return nil
}

// ApplyDiscount returns price * (100 - pct) / 100 rounded half up to a whole
// minor unit. pct must be within [0, 100].
func ApplyDiscount(price int64, pct int) (int64, error) {
	if pct < 0 || pct > 100 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDiscount, pct)
	}
	if pct == 0 {
		return price, nil
	}
	amount := decimal.NewFromInt(price).
		Mul(decimal.NewFromInt(int64(100 - pct))).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return amount.IntPart(), nil
}
