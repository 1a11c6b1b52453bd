// Package metrics exposes Prometheus collectors for the profile extractor.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal          *prometheus.CounterVec
	attemptsTotal          *prometheus.CounterVec
	attemptDurationSeconds *prometheus.HistogramVec
	sessionsTotal          *prometheus.CounterVec
	poolDegraded           prometheus.Gauge
	stabilizeWarningsTotal *prometheus.CounterVec
	fieldMatchesTotal      *prometheus.CounterVec
	activeRequests         prometheus.Gauge
	httpRequestsTotal      *prometheus.CounterVec
	httpDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profile_requests_total",
				Help: "Total number of profile requests finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		attemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profile_attempts_total",
				Help: "Total number of extraction attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		attemptDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "profile_attempt_duration_seconds",
				Help:    "Histogram of attempt latencies, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"outcome"},
		)

		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profile_sessions_total",
				Help: "Session lifecycle events, labeled by event and proxy tier.",
			},
			[]string{"event", "tier"},
		)

		poolDegraded = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "profile_session_pool_degraded",
				Help: "1 when the session pool last provisioned from a fallback tier.",
			},
		)

		stabilizeWarningsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profile_stabilize_warnings_total",
				Help: "Non-fatal stabilization timeouts, labeled by stage.",
			},
			[]string{"stage"},
		)

		fieldMatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profile_field_matches_total",
				Help: "Selector candidates that produced a field value, labeled by field and selector.",
			},
			[]string{"field", "selector"},
		)

		activeRequests = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "profile_active_requests",
				Help: "Number of requests currently being processed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profile_ops_http_requests_total",
				Help: "Requests served by the ops HTTP server.",
			},
			[]string{"method", "route", "status"},
		)

		httpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "profile_ops_http_request_duration_seconds",
				Help:    "Latency of ops HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest increments the request counter for the given terminal status.
func ObserveRequest(status string) {
	Init()
	requestsTotal.WithLabelValues(status).Inc()
}

// ObserveAttempt records one attempt outcome and its latency.
func ObserveAttempt(outcome string, duration time.Duration) {
	Init()
	attemptsTotal.WithLabelValues(outcome).Inc()
	attemptDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveSession records a session lifecycle event.
func ObserveSession(event, tier string) {
	Init()
	sessionsTotal.WithLabelValues(event, tier).Inc()
}

// SetPoolDegraded toggles the degraded-pool gauge.
func SetPoolDegraded(degraded bool) {
	Init()
	if degraded {
		poolDegraded.Set(1)
		return
	}
	poolDegraded.Set(0)
}

// ObserveStabilizeWarning counts a non-fatal stabilization timeout.
func ObserveStabilizeWarning(stage string) {
	Init()
	stabilizeWarningsTotal.WithLabelValues(stage).Inc()
}

// ObserveFieldMatch counts which selector candidate won for a field.
func ObserveFieldMatch(field, selector string) {
	Init()
	fieldMatchesTotal.WithLabelValues(field, selector).Inc()
}

// ObserveHTTPRequest records one ops HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveRequests increments the active requests gauge.
func IncActiveRequests() {
	Init()
	activeRequests.Inc()
}

// DecActiveRequests decrements the active requests gauge.
func DecActiveRequests() {
	Init()
	activeRequests.Dec()
}
