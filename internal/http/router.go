package http

import (
	"net/http"
	"time"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/auth"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/logger"
	"github.com/KimDog-Studios/kimdog-modding-main/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	ServiceName    string
	Verifier       *auth.Verifier
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

type Handlers struct {
	Products  *ProductHandler
	Cart      *CartHandler
	Checkout  *CheckoutHandler
	Purchases *PurchaseHandler
	Library   *LibraryHandler
}

func NewRouter(cfg RouterConfig, h Handlers) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20 // 1MB
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(cfg.MaxBodyBytes))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))

			// Authenticated by its signature header, not a bearer token.
			r.Post("/webhooks/payment", h.Purchases.Webhook)
			r.Get("/products", h.Products.ListProducts)
		})

		r.Group(func(r chi.Router) {
			r.Use(cfg.Verifier.Middleware(true, handleServiceError))

			// Streams files; bounded by the download client instead.
			r.Get("/library/{product_id}/download", h.Library.Download)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(cfg.RequestTimeout))

				r.Route("/cart", func(r chi.Router) {
					r.Get("/", h.Cart.GetCart)
					r.Delete("/", h.Cart.ClearCart)
					r.Post("/items", h.Cart.AddItem)
					r.Put("/items/{product_id}", h.Cart.UpdateQuantity)
					r.Delete("/items/{product_id}", h.Cart.RemoveItem)
				})

				r.Get("/discounts/{code}", h.Checkout.PreviewDiscount)
				r.Post("/checkout/sessions", h.Checkout.CreateSession)

				r.Get("/purchases", h.Library.ListSession)
				r.Post("/purchases/reconcile", h.Purchases.Reconcile)
				r.Post("/purchases/claim", h.Purchases.Claim)
				r.Get("/library", h.Library.ListOwned)
			})
		})
	})

	return otelhttp.NewHandler(r, cfg.ServiceName)
}

// RequestLogger logs one line per request through the context logger, so the
// request id is attached.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ev := logger.FromContext(r.Context()).Info()
		if status >= http.StatusInternalServerError {
			ev = logger.FromContext(r.Context()).Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
