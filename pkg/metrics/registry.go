// Package metrics defines the reconciler's observability hooks.
//
// Metrics are optional: until InitRegistry is called every constructor hands
// out a no-op implementation, so the engine records unconditionally.
//
// Usage:
//
//	metrics.InitRegistry()
//	m := prometheus.NewReconcilerMetrics()
//	r := engine.New(engine.Deps{Metrics: m, ...})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// Call it before creating any metrics instances. Subsequent calls are ignored.
// Go runtime and process collectors are registered alongside.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil if InitRegistry() has not been called.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
