package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	claimdMetricsOnce sync.Once
	claimdRegistry    *ClaimdMetrics
)

// ClaimdMetrics wraps collectors tracking the automated claim service.
type ClaimdMetrics struct {
	settleLatency *prometheus.HistogramVec
	settled       prometheus.Counter
	errors        *prometheus.CounterVec
	retries       prometheus.Counter
	queueDepth    prometheus.Gauge
	inFlight      prometheus.Gauge
	pauseEngaged  prometheus.Gauge
}

// Claimd exposes the lazily-initialised metrics registry for claimd.
func Claimd() *ClaimdMetrics {
	claimdMetricsOnce.Do(func() {
		claimdRegistry = &ClaimdMetrics{
			settleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "feevault",
				Subsystem: "claimd",
				Name:      "settle_latency_seconds",
				Help:      "Latency distribution for settlement attempts.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"outcome"}),
			settled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "feevault",
				Subsystem: "claimd",
				Name:      "settled_total",
				Help:      "Count of escrows settled successfully.",
			}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "feevault",
				Subsystem: "claimd",
				Name:      "errors_total",
				Help:      "Count of settlement failures segmented by reason.",
			}, []string{"reason"}),
			retries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "feevault",
				Subsystem: "claimd",
				Name:      "retries_total",
				Help:      "Count of settlement attempts that were retried.",
			}),
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "feevault",
				Subsystem: "claimd",
				Name:      "queue_depth",
				Help:      "Escrows discovered and waiting for a settlement worker.",
			}),
			inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "feevault",
				Subsystem: "claimd",
				Name:      "in_flight",
				Help:      "Settlement attempts currently executing.",
			}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "feevault",
				Subsystem: "claimd",
				Name:      "pause_engaged",
				Help:      "Set to 1 while the service is paused.",
			}),
		}
		prometheus.MustRegister(
			claimdRegistry.settleLatency,
			claimdRegistry.settled,
			claimdRegistry.errors,
			claimdRegistry.retries,
			claimdRegistry.queueDepth,
			claimdRegistry.inFlight,
			claimdRegistry.pauseEngaged,
		)
	})
	return claimdRegistry
}

// ObserveSettle records the latency of one settlement attempt.
func (m *ClaimdMetrics) ObserveSettle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "unknown"
	}
	m.settleLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordSettled increments the success counter.
func (m *ClaimdMetrics) RecordSettled() {
	if m == nil {
		return
	}
	m.settled.Inc()
}

// RecordError increments the error counter for the supplied reason.
func (m *ClaimdMetrics) RecordError(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.errors.WithLabelValues(reason).Inc()
}

// RecordRetry increments the retry counter.
func (m *ClaimdMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// SetQueueDepth updates the discovery queue gauge.
func (m *ClaimdMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetInFlight updates the in-flight gauge.
func (m *ClaimdMetrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

// SetPause toggles the pause_engaged gauge.
func (m *ClaimdMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}
