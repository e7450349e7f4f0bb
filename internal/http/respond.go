package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/logger"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondJSON(w, r, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Checked in order; the first match wins.
var errorMappings = []errorMapping{
	{domain.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{domain.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{domain.ErrNoItems, http.StatusBadRequest, "no_items"},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{domain.ErrNoValidItems, http.StatusBadRequest, "no_valid_items"},
	{domain.ErrInvalidRedirect, http.StatusBadRequest, "invalid_redirect"},
	{domain.ErrInvalidDiscount, http.StatusBadRequest, "invalid_discount"},
	{domain.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{domain.ErrItemNotFound, http.StatusNotFound, "item_not_found"},
	{domain.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{domain.ErrQuantityLimit, http.StatusConflict, "quantity_limit_exceeded"},
	{domain.ErrAlreadyOwned, http.StatusConflict, "already_owned"},
	{domain.ErrSessionIncomplete, http.StatusConflict, "session_incomplete"},
	{domain.ErrSessionMismatch, http.StatusForbidden, "session_mismatch"},
	{domain.ErrNotOwned, http.StatusForbidden, "not_owned"},
	{domain.ErrNoDownload, http.StatusNotFound, "download_unavailable"},
	{domain.ErrInvalidProduct, http.StatusUnprocessableEntity, "invalid_product"},
	{domain.ErrNotFree, http.StatusUnprocessableEntity, "not_free"},
	{domain.ErrNoFreeItems, http.StatusUnprocessableEntity, "no_free_items"},
	{domain.ErrUpstream, http.StatusServiceUnavailable, "service_unavailable"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	{domain.ErrDataIntegrity, http.StatusInternalServerError, "data_integrity"},
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				logger.FromContext(r.Context()).Error().Err(err).Str("code", m.code).Msg("request failed")
				respondError(w, r, m.status, m.code, http.StatusText(m.status))
				return
			}
			respondError(w, r, m.status, m.code, err.Error())
			return
		}
	}

	logger.FromContext(r.Context()).Error().Err(err).Msg("unhandled error")
	respondError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}
