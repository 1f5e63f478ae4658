// Package prometheus implements metrics.ReconcilerMetrics with client_golang.
package prometheus

import (
	"time"

	"github.com/marmos91/exportd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type reconcilerMetrics struct {
	passesTotal     *prometheus.CounterVec
	passDuration    *prometheus.HistogramVec
	triggersTotal   *prometheus.CounterVec
	commandFailures *prometheus.CounterVec
	active          prometheus.Gauge
	exports         prometheus.Gauge
	resyncPending   prometheus.Gauge
}

// NewReconcilerMetrics creates a ReconcilerMetrics on the global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewReconcilerMetrics() metrics.ReconcilerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopReconcilerMetrics()
	}
	return NewReconcilerMetricsWith(metrics.GetRegistry())
}

// NewReconcilerMetricsWith registers the reconciler metrics on reg.
func NewReconcilerMetricsWith(reg prometheus.Registerer) metrics.ReconcilerMetrics {
	return &reconcilerMetrics{
		passesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "exportd_passes_total",
				Help: "Total number of reconciliation passes by outcome",
			},
			[]string{"outcome"},
		),
		passDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "exportd_pass_duration_milliseconds",
				Help: "Duration of reconciliation passes in milliseconds",
				Buckets: []float64{
					10,     // 10ms
					100,    // 100ms
					1000,   // 1s
					10000,  // 10s
					100000, // 100s, package installs
				},
			},
			[]string{"outcome"},
		),
		triggersTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "exportd_triggers_total",
				Help: "Total number of triggers consumed by passes",
			},
			[]string{"trigger"},
		),
		commandFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "exportd_command_failures_total",
				Help: "Total number of failed external commands by operation",
			},
			[]string{"operation"},
		),
		active: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "exportd_active",
			Help: "1 when this unit serves the exports, 0 otherwise",
		}),
		exports: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "exportd_exports",
			Help: "Number of paths in the export table",
		}),
		resyncPending: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "exportd_resync_pending",
			Help: "1 while exports must be recomputed",
		}),
	}
}

func (m *reconcilerMetrics) RecordPass(outcome string, duration time.Duration) {
	m.passesTotal.WithLabelValues(outcome).Inc()
	m.passDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func (m *reconcilerMetrics) RecordTriggers(triggers []string) {
	for _, t := range triggers {
		m.triggersTotal.WithLabelValues(t).Inc()
	}
}

func (m *reconcilerMetrics) RecordCommandFailure(operation string) {
	m.commandFailures.WithLabelValues(operation).Inc()
}

func (m *reconcilerMetrics) SetActive(active bool) {
	m.active.Set(boolToFloat(active))
}

func (m *reconcilerMetrics) SetExports(count int) {
	m.exports.Set(float64(count))
}

func (m *reconcilerMetrics) SetResyncPending(pending bool) {
	m.resyncPending.Set(boolToFloat(pending))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
