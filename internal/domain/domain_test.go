package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDiscount(t *testing.T) {
	tests := []struct {
		name  string
		price int64
		pct   int
		want  int64
	}{
		{"no discount", 1999, 0, 1999},
		{"half off even", 1000, 50, 500},
		{"half off rounds half up", 999, 50, 500},
		{"fifteen percent rounds down", 1999, 15, 1699},
		{"fifteen percent rounds up", 1001, 15, 851},
		{"full discount", 1999, 100, 0},
		{"one cent half off", 1, 50, 1},
		{"free product", 0, 30, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyDiscount(tt.price, tt.pct)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyDiscount_Bounds(t *testing.T) {
	for pct := 0; pct <= 100; pct++ {
		got, err := ApplyDiscount(2500, pct)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, int64(0))
		assert.LessOrEqual(t, got, int64(2500))
	}

	_, err := ApplyDiscount(100, -1)
	assert.ErrorIs(t, err, ErrInvalidDiscount)
	_, err = ApplyDiscount(100, 101)
	assert.ErrorIs(t, err, ErrInvalidDiscount)
}

func TestDiscountCode_Validate(t *testing.T) {
	assert.NoError(t, (&DiscountCode{Code: "HALF", Percentage: 50}).Validate())
	assert.NoError(t, (&DiscountCode{Code: "ALL", Percentage: 100}).Validate())
	assert.ErrorIs(t, (&DiscountCode{Code: "ZERO", Percentage: 0}).Validate(), ErrDataIntegrity)
	assert.ErrorIs(t, (&DiscountCode{Code: "BIG", Percentage: 150}).Validate(), ErrDataIntegrity)
}

func TestQuantityPolicy_Max(t *testing.T) {
	policy := DefaultQuantityPolicy()
	assert.Equal(t, 1, policy.Max(&Product{ID: "free", Price: 0}))
	assert.Equal(t, 2, policy.Max(&Product{ID: "paid", Price: 500}))
	assert.Equal(t, 1, QuantityPolicy{}.Max(&Product{ID: "paid", Price: 500}))
}

func TestProduct_Validate(t *testing.T) {
	assert.NoError(t, (&Product{ID: "p1", Name: "Map Pack", Price: 0}).Validate())
	assert.ErrorIs(t, (&Product{ID: "p1", Price: 100}).Validate(), ErrInvalidProduct)
	assert.ErrorIs(t, (&Product{ID: "p1", Name: "x", Price: -1}).Validate(), ErrInvalidProduct)
}

func TestCheckoutSession_IsPaid(t *testing.T) {
	assert.True(t, (&CheckoutSession{Status: SessionStatusComplete, PaymentStatus: PaymentStatusPaid}).IsPaid())
	assert.True(t, (&CheckoutSession{Status: SessionStatusComplete, PaymentStatus: PaymentStatusNoPaymentRequired}).IsPaid())
	assert.False(t, (&CheckoutSession{Status: SessionStatusComplete, PaymentStatus: PaymentStatusUnpaid}).IsPaid())
	assert.False(t, (&CheckoutSession{Status: SessionStatusOpen, PaymentStatus: PaymentStatusPaid}).IsPaid())
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(fmt.Errorf("lookup: %w", ErrProductNotFound)))
	assert.False(t, IsClientError(fmt.Errorf("%w: timeout", ErrUpstream)))
	assert.False(t, IsClientError(errors.New("boom")))
}
