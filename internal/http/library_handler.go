package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/auth"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/fulfillment"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/logger"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type LibraryReader interface {
	ListOwned(ctx context.Context, userID string) ([]*domain.Purchase, error)
	ListSession(ctx context.Context, userID, sessionID string) ([]*domain.Purchase, error)
	Download(ctx context.Context, userID, productID string) (*fulfillment.Download, error)
}

type LibraryHandler struct {
	library LibraryReader
	files   *http.Client
}

// NewLibraryHandler serves the owned-products views. files fetches download
// links; nil gets a traced client bounded by downloadTimeout.
func NewLibraryHandler(library LibraryReader, files *http.Client, downloadTimeout time.Duration) *LibraryHandler {
	if files == nil {
		files = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   downloadTimeout,
		}
	}
	return &LibraryHandler{
		library: library,
		files:   files,
	}
}

type LibraryResponseDTO struct {
	Purchases []*domain.Purchase `json:"purchases"`
}

func (h *LibraryHandler) ListOwned(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.library.ListOwned(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, LibraryResponseDTO{Purchases: purchases})
}

// ListSession backs the order confirmation page: GET /purchases?session_id=.
func (h *LibraryHandler) ListSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	purchases, err := h.library.ListSession(r.Context(), auth.UserID(r.Context()), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, LibraryResponseDTO{Purchases: purchases})
}

// Download streams the file of an owned product as an attachment.
func (h *LibraryHandler) Download(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	dl, err := h.library.Download(r.Context(), auth.UserID(r.Context()), productID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	log := logger.FromContext(r.Context()).With().Str("product_id", productID).Logger()

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, dl.URL, nil)
	if err != nil {
		handleServiceError(w, r, fmt.Errorf("%w: %v", domain.ErrDataIntegrity, err))
		return
	}
	resp, err := h.files.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("fetch download failed")
		respondError(w, r, http.StatusBadGateway, "download_failed", "failed to fetch the requested file")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().Int("upstream_status", resp.StatusCode).Msg("download source rejected request")
		respondError(w, r, http.StatusBadGateway, "download_failed", "failed to fetch the requested file")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Filename))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	if resp.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Warn().Err(err).Msg("download interrupted")
	}
}
