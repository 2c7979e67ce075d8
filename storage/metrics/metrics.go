// Package metrics exposes prometheus counters/gauges for Bucket Engine
// operations, registered at init via prometheus.MustRegister.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// OperationsTotal counts Bucket Engine operations by name and outcome.
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depot",
		Subsystem: "bucket",
		Name:      "operations_total",
		Help:      "Total number of Bucket Engine operations, by op and outcome.",
	}, []string{"op", "outcome"})

	// QuotaUsageBytes reports the last-known usage_space for a bucket.
	QuotaUsageBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "depot",
		Subsystem: "bucket",
		Name:      "quota_usage_bytes",
		Help:      "Current usage_space for a bucket, in bytes.",
	}, []string{"bucket_uuid"})

	// QuotaAvailableBytes reports the configured available_space for a bucket.
	QuotaAvailableBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "depot",
		Subsystem: "bucket",
		Name:      "quota_available_bytes",
		Help:      "Configured available_space for a bucket, in bytes.",
	}, []string{"bucket_uuid"})

	// TrashSweepTotal counts entries purged by sweep_expired/clear_trash.
	TrashSweepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depot",
		Subsystem: "bucket",
		Name:      "trash_sweep_total",
		Help:      "Total number of entries purged from trash, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(OperationsTotal, QuotaUsageBytes, QuotaAvailableBytes, TrashSweepTotal)
}

// Outcome labels for OperationsTotal.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Observe records op's outcome, deriving "ok"/"error" from err.
func Observe(op string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	OperationsTotal.WithLabelValues(op, outcome).Inc()
}
