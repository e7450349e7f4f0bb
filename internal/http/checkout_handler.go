package http

import (
	"context"
	"net/http"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/auth"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/checkout"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/go-chi/chi/v5"
)

type CheckoutInitiator interface {
	Initiate(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type DiscountResolver interface {
	Resolve(ctx context.Context, code string) (int, error)
}

type CheckoutHandler struct {
	initiator CheckoutInitiator
	discounts DiscountResolver
}

func NewCheckoutHandler(initiator CheckoutInitiator, discounts DiscountResolver) *CheckoutHandler {
	return &CheckoutHandler{
		initiator: initiator,
		discounts: discounts,
	}
}

// CreateSessionRequestDTO never carries prices or a percentage; the discount
// is resolved from its code on the server.
type CreateSessionRequestDTO struct {
	Items        []domain.CheckoutItem `json:"items"`
	DiscountCode string                `json:"discount_code,omitempty"`
	SuccessURL   string                `json:"success_url,omitempty"`
	CancelURL    string                `json:"cancel_url,omitempty"`
}

type DiscountResponseDTO struct {
	Code       string `json:"code"`
	Percentage int    `json:"percentage"`
	Valid      bool   `json:"valid"`
}

func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	pct, err := h.discounts.Resolve(r.Context(), req.DiscountCode)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	res, err := h.initiator.Initiate(r.Context(), checkout.Request{
		UserID:          auth.UserID(r.Context()),
		Items:           req.Items,
		DiscountPercent: pct,
		SuccessURL:      req.SuccessURL,
		CancelURL:       req.CancelURL,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, res)
}

func (h *CheckoutHandler) PreviewDiscount(w http.ResponseWriter, r *http.Request) {
	code := domain.NormalizeCode(chi.URLParam(r, "code"))

	pct, err := h.discounts.Resolve(r.Context(), code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, DiscountResponseDTO{
		Code:       code,
		Percentage: pct,
		Valid:      pct > 0,
	})
}
