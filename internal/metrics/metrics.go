// Package metrics exposes Prometheus instrumentation for scans.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesScannedTotal *prometheus.CounterVec
	findingsTotal        *prometheus.CounterVec
	fixesTotal           *prometheus.CounterVec
	scrubBatchesTotal    *prometheus.CounterVec
	scrubBatchDuration   prometheus.Histogram

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// InitMetrics registers all collectors with the default registry.
// It is safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		messagesScannedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretsweep_messages_scanned_total",
				Help: "Messages with content that were checked for secrets",
			},
			[]string{"mode"},
		)

		findingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretsweep_findings_total",
				Help: "Messages found to contain at least one secret",
			},
			[]string{"mode"},
		)

		fixesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretsweep_fixes_total",
				Help: "Messages whose redacted content was committed to the store",
			},
			[]string{"mode"},
		)

		scrubBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretsweep_scrub_batches_total",
				Help: "Batch scrub calls by outcome",
			},
			[]string{"status"},
		)

		scrubBatchDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "secretsweep_scrub_batch_duration_seconds",
				Help:    "Latency of batch scrub calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		)

		metricsRegistered.Store(true)
	})
}

// IsMetricsRegistered returns true once InitMetrics has run.
func IsMetricsRegistered() bool {
	return metricsRegistered.Load()
}

// ScanMetrics records scan progress. A nil *ScanMetrics is a no-op, as is
// one created before InitMetrics.
type ScanMetrics struct {
	mode string
}

// NewScanMetrics returns a recorder labelled with the detection mode.
func NewScanMetrics(mode string) *ScanMetrics {
	return &ScanMetrics{mode: mode}
}

// Scanned counts n messages checked.
func (m *ScanMetrics) Scanned(n int) {
	if m == nil || !metricsRegistered.Load() || n <= 0 {
		return
	}
	messagesScannedTotal.WithLabelValues(m.mode).Add(float64(n))
}

// Found counts n findings.
func (m *ScanMetrics) Found(n int) {
	if m == nil || !metricsRegistered.Load() || n <= 0 {
		return
	}
	findingsTotal.WithLabelValues(m.mode).Add(float64(n))
}

// Fixed counts n committed redactions.
func (m *ScanMetrics) Fixed(n int) {
	if m == nil || !metricsRegistered.Load() || n <= 0 {
		return
	}
	fixesTotal.WithLabelValues(m.mode).Add(float64(n))
}

// ScrubBatch records one batch call and its latency.
func (m *ScanMetrics) ScrubBatch(d time.Duration, err error) {
	if m == nil || !metricsRegistered.Load() {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	scrubBatchesTotal.WithLabelValues(status).Inc()
	scrubBatchDuration.Observe(d.Seconds())
}

// GetMessagesScannedTotal returns the scanned counter for testing.
func GetMessagesScannedTotal() *prometheus.CounterVec { return messagesScannedTotal }

// GetFindingsTotal returns the findings counter for testing.
func GetFindingsTotal() *prometheus.CounterVec { return findingsTotal }

// GetFixesTotal returns the fixes counter for testing.
func GetFixesTotal() *prometheus.CounterVec { return fixesTotal }

// GetScrubBatchesTotal returns the batch counter for testing.
func GetScrubBatchesTotal() *prometheus.CounterVec { return scrubBatchesTotal }
