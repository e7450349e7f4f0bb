package domain

import "errors"

// Client input
var (
	ErrNoItems           = errors.New("no items requested")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrQuantityLimit     = errors.New("quantity limit exceeded")
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidProduct    = errors.New("invalid product record")
	ErrNoValidItems      = errors.New("no purchasable items")
	ErrInvalidRedirect   = errors.New("invalid redirect url")
	ErrInvalidDiscount   = errors.New("discount percentage out of range")
	ErrItemNotFound      = errors.New("item not found in cart")
	ErrAlreadyOwned      = errors.New("product already owned")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrSessionNotFound   = errors.New("checkout session not found")
	ErrSessionIncomplete = errors.New("checkout session not paid")
	ErrSessionMismatch   = errors.New("checkout session belongs to another user")
	ErrNotFree           = errors.New("product is not free")
	ErrNoFreeItems       = errors.New("no free items to claim")
	ErrDuplicatePurchase = errors.New("purchase already exists")
	ErrNotOwned          = errors.New("product not owned")
	ErrNoDownload        = errors.New("no download available")
)

// Infrastructure
var (
	// ErrUpstream wraps failures of the gateway or a store; callers may retry.
	ErrUpstream = errors.New("upstream unavailable")

	// ErrDataIntegrity marks a stored record that violates its own invariants.
	ErrDataIntegrity = errors.New("data integrity violation")
)

// IsClientError reports whether err was caused by the caller's input rather
// than by an upstream failure.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrNoItems, ErrInvalidQuantity, ErrQuantityLimit, ErrProductNotFound,
		ErrInvalidProduct, ErrNoValidItems, ErrInvalidRedirect, ErrInvalidDiscount,
		ErrItemNotFound, ErrAlreadyOwned, ErrUnauthenticated, ErrInvalidSignature,
		ErrSessionNotFound, ErrSessionIncomplete, ErrSessionMismatch, ErrNotFree,
		ErrNoFreeItems, ErrNotOwned, ErrNoDownload,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
