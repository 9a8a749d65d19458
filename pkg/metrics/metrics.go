// Package metrics backs C14, the Prometheus registry behind the
// GET /v1/admin/metrics surface named-but-unimplemented in spec.md §4.3/§7.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meetingsvc",
		Subsystem: "worker",
		Name:      "handler_duration_seconds",
		Help:      "Pipeline stage handler execution duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"queue"})

	workerResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetingsvc",
		Subsystem: "worker",
		Name:      "results_total",
		Help:      "Worker handler outcomes by queue and result.",
	}, []string{"queue", "result"})

	dlqDepth = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetingsvc",
		Subsystem: "queue",
		Name:      "dlq_entries_total",
		Help:      "Jobs routed to a queue's DLQ.",
	}, []string{"queue"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "meetingsvc",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open) per provider.",
	}, []string{"source"})

	livePullOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetingsvc",
		Subsystem: "connector",
		Name:      "live_pull_outcomes_total",
		Help:      "Connector live-pull outcomes by connector kind and result.",
	}, []string{"connector_kind", "result"})

	outboundCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meetingsvc",
		Subsystem: "connector",
		Name:      "outbound_call_duration_seconds",
		Help:      "Connector provider HTTP call duration, one observation per attempt (C15).",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "outcome"})

	outboundInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "meetingsvc",
		Subsystem: "connector",
		Name:      "outbound_calls_in_flight",
		Help:      "Connector provider HTTP calls currently in flight (C15).",
	}, []string{"method"})
)

func ObserveWorkerLatency(queue string, d time.Duration) {
	workerLatency.WithLabelValues(queue).Observe(d.Seconds())
}

func IncWorkerResult(queue, result string) {
	workerResults.WithLabelValues(queue, result).Inc()
}

func IncDLQ(queue string) {
	dlqDepth.WithLabelValues(queue).Inc()
}

// SetBreakerState records 0/1/2 for closed/half_open/open.
func SetBreakerState(source string, state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	breakerState.WithLabelValues(source).Set(v)
}

func IncLivePullOutcome(connectorKind, result string) {
	livePullOutcomes.WithLabelValues(connectorKind, result).Inc()
}

// ObserveOutboundCall records one connector provider HTTP attempt (C15).
func ObserveOutboundCall(method, outcome string, d time.Duration) {
	outboundCallDuration.WithLabelValues(method, outcome).Observe(d.Seconds())
}

// TrackOutboundInFlight increments the in-flight gauge for method and
// returns a func to decrement it; call as `defer TrackOutboundInFlight(method)()`.
func TrackOutboundInFlight(method string) func() {
	g := outboundInFlight.WithLabelValues(method)
	g.Inc()
	return g.Dec
}
