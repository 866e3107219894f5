package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics; a nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Upstream API Metrics (TzKT, CoinGecko, DEX data, explore)
	apiCallsTotal    *prometheus.CounterVec
	apiCallDuration  *prometheus.HistogramVec
	apiRateLimitWait *prometheus.HistogramVec

	// Refresh Metrics
	refreshDuration       *prometheus.HistogramVec
	refreshTotal          *prometheus.CounterVec
	subFetchFailures      *prometheus.CounterVec
	feedSkips             *prometheus.CounterVec
	refreshesDeduplicated prometheus.Counter

	// Pending Operation Metrics
	pendingAdded      *prometheus.CounterVec
	pendingReconciled *prometheus.CounterVec
	pendingAddresses  prometheus.Gauge

	// Cache Metrics
	cacheWritesTotal *prometheus.CounterVec

	// Workflow Metrics
	workflowDuration *prometheus.HistogramVec
	activityDuration *prometheus.HistogramVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		apiCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_api_calls_total",
				Help: "Total number of upstream API calls by service, method and status",
			},
			[]string{"service", "method", "status"},
		),
		apiCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_api_call_duration_seconds",
				Help:    "Duration of upstream API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"service", "method"},
		),
		apiRateLimitWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the client-side rate limiter",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"service"},
		),

		refreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "account_refresh_duration_seconds",
				Help:    "Duration of account refreshes in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"refresh_type", "status"},
		),
		refreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_refresh_total",
				Help: "Total number of account refreshes",
			},
			[]string{"refresh_type", "status"},
		),
		subFetchFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_refresh_subfetch_failures_total",
				Help: "Total number of failed refresh sub-fetches",
			},
			[]string{"fetch"},
		),
		feedSkips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_refresh_feed_skips_total",
				Help: "Total number of shared feed fetches skipped because the feed was fresh",
			},
			[]string{"feed"},
		),
		refreshesDeduplicated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "account_refresh_deduplicated_total",
				Help: "Total number of refresh calls that joined an in-flight refresh",
			},
		),

		pendingAdded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pending_operations_added_total",
				Help: "Total number of pending operations recorded",
			},
			[]string{"kind", "persisted"},
		),
		pendingReconciled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pending_operations_reconciled_total",
				Help: "Total number of pending operations retired by outcome",
			},
			[]string{"outcome"},
		),
		pendingAddresses: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pending_operation_addresses",
				Help: "Number of addresses with at least one pending operation",
			},
		),

		cacheWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_writes_total",
				Help: "Total number of cache writes",
			},
			[]string{"file", "status"},
		),

		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refresh_workflow_duration_seconds",
				Help:    "Duration of refresh workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refresh_activity_duration_seconds",
				Help:    "Duration of refresh workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"kind", "status"},
		),
	}
}

// RecordAPICall records an upstream API call with duration.
func (m *Metrics) RecordAPICall(service, method, status string, duration float64) {
	if m == nil {
		return
	}
	m.apiCallsTotal.WithLabelValues(service, method, status).Inc()
	m.apiCallDuration.WithLabelValues(service, method).Observe(duration)
}

// RecordRateLimitWait records time spent blocked on a rate limiter.
func (m *Metrics) RecordRateLimitWait(service string, duration float64) {
	if m == nil {
		return
	}
	m.apiRateLimitWait.WithLabelValues(service).Observe(duration)
}

// RecordRefresh records a completed account refresh.
func (m *Metrics) RecordRefresh(refreshType string, err error, duration float64) {
	if m == nil {
		return
	}
	status := statusFromErr(err)
	m.refreshDuration.WithLabelValues(refreshType, status).Observe(duration)
	m.refreshTotal.WithLabelValues(refreshType, status).Inc()
}

// RecordSubFetchFailure records a failed refresh sub-fetch.
func (m *Metrics) RecordSubFetchFailure(fetch string) {
	if m == nil {
		return
	}
	m.subFetchFailures.WithLabelValues(fetch).Inc()
}

// RecordFeedSkip records a shared feed fetch skipped by its staleness gate.
func (m *Metrics) RecordFeedSkip(feed string) {
	if m == nil {
		return
	}
	m.feedSkips.WithLabelValues(feed).Inc()
}

// RecordRefreshDeduplicated records a refresh that joined an in-flight one.
func (m *Metrics) RecordRefreshDeduplicated() {
	if m == nil {
		return
	}
	m.refreshesDeduplicated.Inc()
}

// RecordPendingAdded records pending operations recorded in one call.
func (m *Metrics) RecordPendingAdded(kind string, persisted bool, count int) {
	if m == nil {
		return
	}
	p := "true"
	if !persisted {
		p = "false"
	}
	m.pendingAdded.WithLabelValues(kind, p).Add(float64(count))
}

// RecordPendingReconciled records a retired pending operation.
// Outcome is one of confirmed, failed or expired.
func (m *Metrics) RecordPendingReconciled(outcome string) {
	if m == nil {
		return
	}
	m.pendingReconciled.WithLabelValues(outcome).Inc()
}

// SetPendingAddresses sets the number of addresses with pending operations.
func (m *Metrics) SetPendingAddresses(n int) {
	if m == nil {
		return
	}
	m.pendingAddresses.Set(float64(n))
}

// RecordCacheWrite records a cache write. File is the prefix or global name,
// never a per-address name.
func (m *Metrics) RecordCacheWrite(file string, ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.cacheWritesTotal.WithLabelValues(file, status).Inc()
}

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	if m == nil {
		return
	}
	m.workflowDuration.WithLabelValues(status).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, err error, duration float64) {
	if m == nil {
		return
	}
	m.activityDuration.WithLabelValues(activity, statusFromErr(err)).Observe(duration)
}

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(kind string, err error) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(kind, statusFromErr(err)).Inc()
}

func statusFromErr(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
