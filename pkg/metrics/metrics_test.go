package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Purchase("webhook", "granted")
		m.WebhookEvent("checkout.session.completed", "processed")
		m.Checkout("created")
		m.OutboxPublish("ok")
		m.CartCache("hit")
	})
}

func TestCounters(t *testing.T) {
	m := New("test")

	m.Purchase("webhook", "granted")
	m.Purchase("webhook", "granted")
	m.Purchase("reconcile", "already_owned")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.purchases.WithLabelValues("webhook", "granted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.purchases.WithLabelValues("reconcile", "already_owned")))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New("test")
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/items/{id}", "418")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), `test_http_requests_total{method="GET",route="/items/{id}",status="418"} 2`))
}
