package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/auth"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/fulfillment"
)

const signatureHeader = "Stripe-Signature"

type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signatureHeader string) (*fulfillment.WebhookResult, error)
}

type OwnershipReconciler interface {
	ReconcilePaid(ctx context.Context, userID, sessionID string) (*fulfillment.Result, error)
	ClaimFree(ctx context.Context, userID string, productIDs []string) (*fulfillment.Result, error)
}

type PurchaseHandler struct {
	webhooks   WebhookProcessor
	reconciler OwnershipReconciler
	maxPayload int64
}

func NewPurchaseHandler(webhooks WebhookProcessor, reconciler OwnershipReconciler, maxPayload int64) *PurchaseHandler {
	return &PurchaseHandler{
		webhooks:   webhooks,
		reconciler: reconciler,
		maxPayload: maxPayload,
	}
}

type ReconcileRequestDTO struct {
	SessionID string `json:"session_id"`
}

// ClaimRequestDTO claims the listed products, or the free items in the cart
// when the list is empty.
type ClaimRequestDTO struct {
	ProductIDs []string `json:"product_ids,omitempty"`
}

// Webhook must see the exact bytes the gateway signed, so the body is read
// raw rather than decoded.
func (h *PurchaseHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxPayload))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return
		}
		respondError(w, r, http.StatusBadRequest, "invalid_request", "unreadable body")
		return
	}

	res, err := h.webhooks.Handle(r.Context(), payload, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			respondError(w, r, http.StatusBadRequest, "invalid_signature", "invalid signature")
			return
		}
		// Anything else was not processed; a non 2xx makes the gateway redeliver.
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, res)
}

func (h *PurchaseHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.reconciler.ReconcilePaid(r.Context(), auth.UserID(r.Context()), req.SessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, res)
}

func (h *PurchaseHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequestDTO
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.reconciler.ClaimFree(r.Context(), auth.UserID(r.Context()), req.ProductIDs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, res)
}
