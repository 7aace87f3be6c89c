package metrics

import "github.com/prometheus/client_golang/prometheus"

// RetryMetrics records per-operation retry outcomes for internal/core/resilience.
// It is a narrow, purpose-built collector rather than a field on Registry,
// one small metrics struct per concern.
type RetryMetrics struct {
	attempts         *prometheus.CounterVec
	attemptDurations *prometheus.HistogramVec
	finalAttempts    *prometheus.CounterVec
	backoffSecs      *prometheus.HistogramVec
}

// NewRetryMetrics registers a RetryMetrics against reg.
func NewRetryMetrics(reg *prometheus.Registry) *RetryMetrics {
	m := &RetryMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Retry attempts by operation, result, and error type.",
		}, []string{"operation", "result", "error_type"}),
		attemptDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trustcore",
			Subsystem: "retry",
			Name:      "attempt_duration_seconds",
			Help:      "Wall-clock duration of each retry attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		finalAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Subsystem: "retry",
			Name:      "final_attempts_total",
			Help:      "Final retry-loop outcome by operation and result.",
		}, []string{"operation", "result"}),
		backoffSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trustcore",
			Subsystem: "retry",
			Name:      "backoff_seconds",
			Help:      "Backoff delay waited before each retry attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.attempts, m.attemptDurations, m.finalAttempts, m.backoffSecs)
	return m
}

// RecordAttempt records one retry attempt's outcome and latency.
func (m *RetryMetrics) RecordAttempt(operation, result, errorType string, seconds float64) {
	m.attempts.WithLabelValues(operation, result, errorType).Inc()
	m.attemptDurations.WithLabelValues(operation, result).Observe(seconds)
}

// RecordFinalAttempt records the retry loop's terminal outcome.
func (m *RetryMetrics) RecordFinalAttempt(operation, result string, attempts int) {
	m.finalAttempts.WithLabelValues(operation, result).Add(float64(attempts))
}

// RecordBackoff records the delay waited before a retry.
func (m *RetryMetrics) RecordBackoff(operation string, seconds float64) {
	m.backoffSecs.WithLabelValues(operation).Observe(seconds)
}
