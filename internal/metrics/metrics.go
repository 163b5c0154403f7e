// Package metrics defines the Prometheus metrics exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request lifecycle metrics
	RequestsTotal          *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec

	// Rate limiter metrics
	RateLimiterDropped      *prometheus.CounterVec
	RateLimiterUsers        *prometheus.GaugeVec
	RateLimiterWaitDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge

	// Fetch pipeline metrics
	FetchTotal           *prometheus.CounterVec
	FetchDurationSeconds *prometheus.HistogramVec
	DeliveryTotal        *prometheus.CounterVec
	CleanupFailuresTotal *prometheus.CounterVec

	// Singleflight metrics
	SingleflightDedupTotal *prometheus.CounterVec

	// Transport metrics
	TransportErrorsTotal *prometheus.CounterVec
	HTTPErrorsTotal      *prometheus.CounterVec

	// Background job metrics
	JobRunsTotal       *prometheus.CounterVec
	JobDurationSeconds *prometheus.HistogramVec
}

// New creates a new Metrics instance with all metrics registered
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igrelay_requests_total",
				Help: "Total inbound events by transport, event type and outcome",
			},
			[]string{"transport", "event", "outcome"}, // event: message, callback, command; outcome: errors.Code
		),

		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "igrelay_request_duration_seconds",
				Help:    "Inbound event handling duration in seconds by event type",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300}, // Up to the event timeout
			},
			[]string{"event"},
		),

		RateLimiterDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igrelay_rate_limiter_dropped_total",
				Help: "Total number of requests dropped by rate limiter",
			},
			[]string{"limiter"}, // limiter: user
		),

		RateLimiterUsers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "igrelay_rate_limiter_users",
				Help: "Number of users currently tracked by a rate limiter",
			},
			[]string{"limiter"},
		),

		RateLimiterWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "igrelay_rate_limiter_wait_duration_seconds",
				Help:    "Time spent waiting for an outbound send token",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5}, // 1ms to 5s
			},
			[]string{"limiter"}, // limiter: telegram, line
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "igrelay_sessions_active",
				Help: "Number of pending Video/Audio choices held in memory",
			},
		),

		FetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igrelay_fetch_total",
				Help: "Total content fetches by variant and result",
			},
			[]string{"variant", "result"}, // result: success, private, not_found, network, unknown
		),

		FetchDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "igrelay_fetch_duration_seconds",
				Help:    "Content fetch duration in seconds by variant",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 180}, // Matches the 3m fetch timeout
			},
			[]string{"variant"},
		),

		DeliveryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igrelay_delivery_total",
				Help: "Total media deliveries by transport, variant and result",
			},
			[]string{"transport", "variant", "result"}, // result: success, error
		),

		CleanupFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igrelay_cleanup_failures_total",
				Help: "Temporary artifacts that could not be removed",
			},
			[]string{"artifact"}, // artifact: file, object
		),

		SingleflightDedupTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igrelay_singleflight_dedup_total",
				Help: "Total number of deduplicated lookups (callers that waited instead of executing)",
			},
			[]string{"module"},
		),

		TransportErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igrelay_transport_errors_total",
				Help: "Failed chat platform API calls by transport and operation",
			},
			[]string{"transport", "op"},
		),

		HTTPErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igrelay_http_errors_total",
				Help: "Total HTTP errors by type and module",
			},
			[]string{"error_type", "module"}, // error_type: invalid_signature, parse_error, panic
		),

		JobRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igrelay_job_runs_total",
				Help: "Scheduled job runs by job and status",
			},
			[]string{"job", "status"}, // status: success, error
		),

		JobDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "igrelay_job_duration_seconds",
				Help:    "Scheduled job duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 30, 120},
			},
			[]string{"job"},
		),
	}
}

// RecordRequest records one handled inbound event.
func (m *Metrics) RecordRequest(transport, event, outcome string, duration float64) {
	m.RequestsTotal.WithLabelValues(transport, event, outcome).Inc()
	m.RequestDurationSeconds.WithLabelValues(event).Observe(duration)
}

// RecordRateLimiterDrop records a request rejected by a limiter.
func (m *Metrics) RecordRateLimiterDrop(limiter string) {
	m.RateLimiterDropped.WithLabelValues(limiter).Inc()
}

// SetRateLimiterUsers sets the number of users tracked by a limiter.
func (m *Metrics) SetRateLimiterUsers(limiter string, count int) {
	m.RateLimiterUsers.WithLabelValues(limiter).Set(float64(count))
}

// RecordRateLimiterWait records time spent waiting for an outbound token.
func (m *Metrics) RecordRateLimiterWait(limiter string, duration float64) {
	m.RateLimiterWaitDuration.WithLabelValues(limiter).Observe(duration)
}

// SetSessionsActive sets the number of live sessions.
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
}

// RecordFetch records one fetcher call.
func (m *Metrics) RecordFetch(variant, result string, duration float64) {
	m.FetchTotal.WithLabelValues(variant, result).Inc()
	m.FetchDurationSeconds.WithLabelValues(variant).Observe(duration)
}

// RecordDelivery records one media upload attempt.
func (m *Metrics) RecordDelivery(transport, variant, result string) {
	m.DeliveryTotal.WithLabelValues(transport, variant, result).Inc()
}

// RecordCleanupFailure records an artifact that could not be removed.
func (m *Metrics) RecordCleanupFailure(artifact string) {
	m.CleanupFailuresTotal.WithLabelValues(artifact).Inc()
}

// RecordSingleflightDedup records a deduplicated lookup.
func (m *Metrics) RecordSingleflightDedup(module string) {
	m.SingleflightDedupTotal.WithLabelValues(module).Inc()
}

// RecordTransportError records a failed platform API call.
func (m *Metrics) RecordTransportError(transport, op string) {
	m.TransportErrorsTotal.WithLabelValues(transport, op).Inc()
}

// RecordHTTPError records an HTTP-level error.
func (m *Metrics) RecordHTTPError(errorType, module string) {
	m.HTTPErrorsTotal.WithLabelValues(errorType, module).Inc()
}

// RecordJob records one scheduled job run.
func (m *Metrics) RecordJob(job, status string, duration float64) {
	m.JobRunsTotal.WithLabelValues(job, status).Inc()
	m.JobDurationSeconds.WithLabelValues(job).Observe(duration)
}
