package config

import (
	"github.com/marmos91/exportd/pkg/metrics"
	promMetrics "github.com/marmos91/exportd/pkg/metrics/prometheus"
)

// InitializeMetrics returns the reconciler metrics collector described by
// the configuration.
//
// When metrics are enabled the global Prometheus registry is initialized, so
// the API server picks up /metrics. Otherwise a no-op collector is returned.
func InitializeMetrics(cfg *Config) metrics.ReconcilerMetrics {
	if !cfg.Server.Metrics.Enabled {
		return metrics.NewNoopReconcilerMetrics()
	}

	metrics.InitRegistry()
	return promMetrics.NewReconcilerMetrics()
}
