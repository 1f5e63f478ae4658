package metrics

import "time"

// Pass outcomes.
const (
	OutcomeIdle    = "idle"
	OutcomeBlocked = "blocked"
	OutcomeWaiting = "waiting"
	OutcomeError   = "error"
)

// ReconcilerMetrics observes reconciliation passes.
type ReconcilerMetrics interface {
	// RecordPass records a finished pass, its outcome and its duration.
	RecordPass(outcome string, duration time.Duration)

	// RecordTriggers counts the triggers a pass consumed.
	RecordTriggers(triggers []string)

	// RecordCommandFailure counts a failed external command by operation
	// ("install", "start", "stop", "restart", "reload", "patch-config").
	RecordCommandFailure(operation string)

	// SetActive reports whether the local unit currently serves exports.
	SetActive(active bool)

	// SetExports reports the number of exported paths.
	SetExports(count int)

	// SetResyncPending mirrors the persisted re-sync flag.
	SetResyncPending(pending bool)
}

type noopReconcilerMetrics struct{}

// NewNoopReconcilerMetrics returns a ReconcilerMetrics that records nothing.
func NewNoopReconcilerMetrics() ReconcilerMetrics {
	return noopReconcilerMetrics{}
}

func (noopReconcilerMetrics) RecordPass(string, time.Duration) {}
func (noopReconcilerMetrics) RecordTriggers([]string)          {}
func (noopReconcilerMetrics) RecordCommandFailure(string)      {}
func (noopReconcilerMetrics) SetActive(bool)                   {}
func (noopReconcilerMetrics) SetExports(int)                   {}
func (noopReconcilerMetrics) SetResyncPending(bool)            {}
