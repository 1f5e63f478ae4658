package prometheus

import (
	"testing"
	"time"

	"github.com/marmos91/exportd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the value of the named metric whose labels include want.
func gathered(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}

	t.Fatalf("metric %s%v not found", name, want)
	return 0
}

func TestReconcilerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReconcilerMetricsWith(reg)

	m.RecordPass(metrics.OutcomeIdle, 20*time.Millisecond)
	m.RecordPass(metrics.OutcomeIdle, 30*time.Millisecond)
	m.RecordPass(metrics.OutcomeBlocked, time.Second)
	m.RecordTriggers([]string{"requests-changed", "timer"})
	m.RecordCommandFailure("reload")
	m.SetActive(true)
	m.SetExports(3)
	m.SetResyncPending(false)

	assert.Equal(t, 2.0, gathered(t, reg, "exportd_passes_total", map[string]string{"outcome": metrics.OutcomeIdle}))
	assert.Equal(t, 1.0, gathered(t, reg, "exportd_passes_total", map[string]string{"outcome": metrics.OutcomeBlocked}))
	assert.Equal(t, 2.0, gathered(t, reg, "exportd_pass_duration_milliseconds", map[string]string{"outcome": metrics.OutcomeIdle}))
	assert.Equal(t, 1.0, gathered(t, reg, "exportd_triggers_total", map[string]string{"trigger": "timer"}))
	assert.Equal(t, 1.0, gathered(t, reg, "exportd_command_failures_total", map[string]string{"operation": "reload"}))
	assert.Equal(t, 1.0, gathered(t, reg, "exportd_active", nil))
	assert.Equal(t, 3.0, gathered(t, reg, "exportd_exports", nil))
	assert.Equal(t, 0.0, gathered(t, reg, "exportd_resync_pending", nil))
}

func TestNewReconcilerMetrics_DisabledIsNoop(t *testing.T) {
	if metrics.IsEnabled() {
		t.Skip("global registry already initialized")
	}

	m := NewReconcilerMetrics()
	assert.Equal(t, metrics.NewNoopReconcilerMetrics(), m)
	m.RecordPass(metrics.OutcomeIdle, time.Millisecond)
}
