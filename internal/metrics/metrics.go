// Package metrics wires Prometheus collectors for every subsystem: one
// non-global registry with a bundle of counters and histograms per concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles one *prometheus.Registry plus the collectors every
// component records into. Constructed once at startup and threaded through
// component constructors — never a package-level global.
type Registry struct {
	reg *prometheus.Registry

	KVOps           *prometheus.CounterVec
	KVOpDuration    *prometheus.HistogramVec
	SSRFDecisions   *prometheus.CounterVec
	TransportBytes  *prometheus.HistogramVec
	Verifications   *prometheus.CounterVec
	Deliveries      *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec
	Admissions      *prometheus.CounterVec
	Reminders       *prometheus.CounterVec
}

// New creates a fresh Registry, registering every collector against its own
// *prometheus.Registry so tests never collide with prometheus.DefaultRegisterer.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		KVOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Subsystem: "kv",
			Name:      "ops_total",
			Help:      "KV store operations by op and outcome.",
		}, []string{"op", "outcome"}),
		KVOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trustcore",
			Subsystem: "kv",
			Name:      "op_duration_seconds",
			Help:      "KV store operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		SSRFDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Subsystem: "ssrf",
			Name:      "decisions_total",
			Help:      "SSRF guard decisions by outcome and deny reason.",
		}, []string{"allowed", "deny_reason"}),
		TransportBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trustcore",
			Subsystem: "transport",
			Name:      "response_bytes",
			Help:      "Bytes read per fetch, bounded by maxResponseBytes.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}, []string{"outcome"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Subsystem: "verification",
			Name:      "requests_total",
			Help:      "Claim verification calls by cache outcome and status.",
		}, []string{"cache", "status"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by terminal status and attempt.",
		}, []string{"status", "attempt"}),
		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trustcore",
			Subsystem: "webhook",
			Name:      "delivery_duration_seconds",
			Help:      "Time from scheduledAt to completedAt per delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Subsystem: "truststore",
			Name:      "admission_decisions_total",
			Help:      "Admission gate decisions by outcome.",
		}, []string{"decision"}),
		Reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Subsystem: "reminder",
			Name:      "sends_total",
			Help:      "Reminder send attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
	}

	reg.MustRegister(
		m.KVOps, m.KVOpDuration, m.SSRFDecisions, m.TransportBytes,
		m.Verifications, m.Deliveries, m.DeliveryLatency, m.Admissions, m.Reminders,
	)
	return m
}

// Gatherer exposes the underlying registry for the /metrics HTTP handler.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}
