// Package observability hosts the prometheus collectors shared by the
// oracle daemon.
package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OracleMetrics captures update activity and the emergency-stop state.
type OracleMetrics struct {
	updates       *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	emergencyStop prometheus.Gauge
	feedAge       *prometheus.GaugeVec
}

var (
	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Oracle returns the lazily-initialised oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeoracle",
				Subsystem: "updates",
				Name:      "total",
				Help:      "Oracle update attempts segmented by asset, operation, and outcome.",
			}, []string{"asset", "op", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeoracle",
				Subsystem: "updates",
				Name:      "rejections_total",
				Help:      "Rejected oracle updates segmented by asset and reason.",
			}, []string{"asset", "reason"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakeoracle",
				Subsystem: "updates",
				Name:      "duration_seconds",
				Help:      "Latency distribution for oracle update operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			emergencyStop: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakeoracle",
				Subsystem: "control",
				Name:      "emergency_stop",
				Help:      "Whether the emergency stop is engaged (1) or clear (0).",
			}),
			feedAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "stakeoracle",
				Subsystem: "feeds",
				Name:      "snapshot_age_seconds",
				Help:      "Age of the most recently observed feed snapshot per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			oracleRegistry.updates,
			oracleRegistry.rejections,
			oracleRegistry.duration,
			oracleRegistry.emergencyStop,
			oracleRegistry.feedAge,
		)
	})
	return oracleRegistry
}

// ObserveUpdate records one update attempt and its latency.
func (m *OracleMetrics) ObserveUpdate(asset, op string, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.updates.WithLabelValues(normaliseLabel(asset), normaliseLabel(op), outcome).Inc()
	m.duration.WithLabelValues(normaliseLabel(op)).Observe(took.Seconds())
}

// ObserveRejection counts a rejected update with its reason label.
func (m *OracleMetrics) ObserveRejection(asset, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(normaliseLabel(asset), normaliseLabel(reason)).Inc()
}

// SetEmergencyStop mirrors the halt flag into the gauge.
func (m *OracleMetrics) SetEmergencyStop(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.emergencyStop.Set(1)
		return
	}
	m.emergencyStop.Set(0)
}

// ObserveFeedAge records how stale the latest snapshot for an asset was.
func (m *OracleMetrics) ObserveFeedAge(asset string, ageSeconds float64) {
	if m == nil {
		return
	}
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	m.feedAge.WithLabelValues(normaliseLabel(asset)).Set(ageSeconds)
}

func normaliseLabel(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
