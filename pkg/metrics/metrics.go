// Package metrics exposes prometheus instrumentation for the bridge.
// Collectors register on the default registry; serve them with
// promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter label values.
const (
	AdapterSync  = "sync"  // async app invoked through the sync contract
	AdapterAsync = "async" // sync app invoked through the async contract
)

// Outcome label values.
const (
	OutcomeOK        = "ok"
	OutcomeFault     = "fault"
	OutcomeViolation = "violation"
)

var (
	Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appbridge_requests_total",
		Help: "Requests bridged, by adapter and outcome.",
	}, []string{"adapter", "outcome"})

	Faults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appbridge_faults_total",
		Help: "Application faults captured crossing the boundary.",
	}, []string{"adapter", "kind"})

	BodyBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appbridge_body_bytes_total",
		Help: "Body bytes moved across the boundary, by direction.",
	}, []string{"adapter", "direction"})

	Inflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "appbridge_inflight_requests",
		Help: "Requests currently inside an adapter.",
	}, []string{"adapter"})

	QueueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "appbridge_sender_queue_wait_seconds",
		Help:    "Time response messages spent blocked on the outbound queue.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)

func init() {
	prometheus.MustRegister(Requests, Faults, BodyBytes, Inflight, QueueWait)
}

// ObserveOutcome records one finished bridge invocation.
func ObserveOutcome(adapter string, err error, isViolation bool) {
	switch {
	case err == nil:
		Requests.WithLabelValues(adapter, OutcomeOK).Inc()
	case isViolation:
		Requests.WithLabelValues(adapter, OutcomeViolation).Inc()
	default:
		Requests.WithLabelValues(adapter, OutcomeFault).Inc()
	}
}
