// Package metrics defines the Prometheus metrics exported by rfidgate.
//
// Metrics are registered with the default registry on package init and served
// by the API's /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rfidgate"

// ── Reader metrics ────────────────────────────────────────────────────────────

// SessionsActive tracks connected reader sessions.
var SessionsActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reader_sessions_active",
		Help:      "Number of reader connections currently being served.",
	},
)

// ConnectionsTotal counts accepted reader connections.
// Label:
//   - result: "served" or "rejected" (over the connection cap)
var ConnectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reader_connections_total",
		Help:      "Total number of reader connections accepted, by result.",
	},
	[]string{"result"},
)

// AcceptErrorsTotal counts transient accept failures on the reader listener.
var AcceptErrorsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reader_accept_errors_total",
		Help:      "Total number of failed accepts on the reader listener.",
	},
)

// ScansTotal counts completed RFID commands.
// Label:
//   - result: "granted", "not_found", "verification_failed" or "error"
var ScansTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "Total number of RFID commands handled, by result.",
	},
	[]string{"result"},
)

// ── Verifier metrics ──────────────────────────────────────────────────────────

// VerificationDuration measures how long the external verifier ran.
// Label:
//   - outcome: "verified", "rejected", "timed_out" or "error"
var VerificationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "verification_duration_seconds",
		Help:      "Duration of external verifier invocations.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
	},
	[]string{"outcome"},
)

// ObserveVerification records one verifier run.
func ObserveVerification(outcome string, d time.Duration) {
	VerificationDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveScan records one completed RFID command.
func ObserveScan(result string) {
	ScansTotal.WithLabelValues(result).Inc()
}
