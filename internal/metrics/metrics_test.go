package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()

	m.WebhookEvent("checkout.session.completed", "fulfilled")
	m.WebhookEvent("checkout.session.completed", "fulfilled")
	m.WebhookEvent("checkout.session.completed", "duplicate")
	m.LicenseIssued()
	m.LicensesExpired(3)
	m.LicensesExpired(0)
	m.Email("license", "sent")
	m.CheckoutSession("created")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("checkout.session.completed", "fulfilled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("checkout.session.completed", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.licensesIssued))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.licensesExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emails.WithLabelValues("license", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkoutSessions.WithLabelValues("created")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.WebhookEvent("x", "y")
		m.CheckoutSession("created")
		m.LicenseIssued()
		m.LicensesExpired(1)
		m.Email("license", "sent")
		m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveHTTP("GET", "/api/v1/products", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `marketplace_http_requests_total{method="GET",route="/api/v1/products",status="200"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
