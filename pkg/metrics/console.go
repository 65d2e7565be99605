package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConsoleMetrics instruments OSC traffic and scene transfers.
type ConsoleMetrics struct {
	requestsTotal    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	missingTotal     prometheus.Counter
}

// NewConsoleMetrics creates a Prometheus-backed ConsoleMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called); all
// record methods are safe on a nil receiver.
func NewConsoleMetrics() *ConsoleMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &ConsoleMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "x32mgr_osc_requests_total",
				Help: "Correlated OSC requests by outcome",
			},
			[]string{"result"}, // "ok", "timeout", "error"
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x32mgr_transfer_duration_seconds",
				Help:    "Duration of scene exports and imports",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"op"}, // "export_scene", "export_backup", "import"
		),
		missingTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "x32mgr_export_missing_parameters_total",
				Help: "Parameters that stayed unanswered after all retries",
			},
		),
	}
}

// RecordRequest counts one correlated request by outcome.
func (m *ConsoleMetrics) RecordRequest(result string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(result).Inc()
}

// ObserveTransfer records the duration of an export or import.
func (m *ConsoleMetrics) ObserveTransfer(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.transferDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordMissing counts parameters lost to retries during an export.
func (m *ConsoleMetrics) RecordMissing(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.missingTotal.Add(float64(n))
}
