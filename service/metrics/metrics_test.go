package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAPICall("tzkt", "accounts", "success", 0.1)
		m.RecordRefresh("useCache", nil, 0.1)
		m.RecordPendingAdded("single", true, 1)
		m.RecordPendingReconciled("confirmed")
		m.SetPendingAddresses(3)
		m.RecordCacheWrite("balance-service-", true)
		m.RecordNATSPublish("pending", errors.New("x"))
		m.RecordSSEConnectionChange(1)
	})
}

func TestRecordRefreshAndPending(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRefresh("refreshEverything", nil, 1.5)
	m.RecordRefresh("refreshEverything", errors.New("boom"), 0.5)
	m.RecordPendingReconciled("failed")
	m.RecordPendingReconciled("failed")
	m.SetPendingAddresses(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues("refreshEverything", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues("refreshEverything", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pendingReconciled.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pendingAddresses))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := HTTPMetricsMiddleware(m, "/api/v1/pending")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pending", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/pending", "GET", "4xx")))
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(204))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(42))
}
