// Package state persists the reconciler's flags between passes and restarts.
//
// The reconciler is driven by triggers, but what it must still do is recorded
// here: a trigger that arrives while a pass is failing is not lost, because
// the flag it set survives until a pass completes.
package state

import (
	"context"
	"slices"
	"time"
)

// StatusLevel is the severity of the unit's reported status.
type StatusLevel string

const (
	StatusActive      StatusLevel = "active"
	StatusMaintenance StatusLevel = "maintenance"
	StatusBlocked     StatusLevel = "blocked"
	StatusWaiting     StatusLevel = "waiting"
)

// Status is the human-readable condition of the unit.
type Status struct {
	Level   StatusLevel `json:"level"`
	Message string      `json:"message"`
}

func (s Status) String() string {
	if s.Level == "" {
		return "unknown"
	}
	return string(s.Level) + ": " + s.Message
}

// Options is the snapshot of operator options a pass applied.
type Options struct {
	StorageRoot   string   `json:"storage_root"`
	ExportOptions string   `json:"export_options"`
	MountOptions  string   `json:"mount_options"`
	ActiveUnits   []string `json:"active_units"`
	DaemonCount   int      `json:"daemon_count"`
}

// Equal reports whether two snapshots are identical, order of ActiveUnits
// included.
func (o Options) Equal(other Options) bool {
	return o.StorageRoot == other.StorageRoot &&
		o.ExportOptions == other.ExportOptions &&
		o.MountOptions == other.MountOptions &&
		o.DaemonCount == other.DaemonCount &&
		slices.Equal(o.ActiveUnits, other.ActiveUnits)
}

// State is everything the reconciler remembers.
type State struct {
	// Installed is set once the server package and exports directory exist.
	Installed bool `json:"installed"`

	// ResyncPending is set when exports must be recomputed and cleared only
	// after a pass completed without failure.
	ResyncPending bool `json:"resync_pending"`

	// ConfigPending is set when the daemon defaults file must be rewritten.
	ConfigPending bool `json:"config_pending"`

	// Applied is the last options snapshot seen, nil before the first pass.
	Applied *Options `json:"applied,omitempty"`

	// RequestsDigest and PeersDigest fingerprint the last seen snapshots so a
	// polling pass can detect changes no trigger reported.
	RequestsDigest string `json:"requests_digest,omitempty"`
	PeersDigest    string `json:"peers_digest,omitempty"`

	// Active is the election winner of the last completed mounts phase.
	Active string `json:"active,omitempty"`

	LastPassID string    `json:"last_pass_id,omitempty"`
	LastPassAt time.Time `json:"last_pass_at,omitempty"`
	Status     Status    `json:"status"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	if s.Applied != nil {
		applied := *s.Applied
		applied.ActiveUnits = slices.Clone(applied.ActiveUnits)
		s.Applied = &applied
	}
	return s
}

// Store loads and saves State.
type Store interface {
	// Load returns the persisted state, or the zero State if nothing was saved.
	Load(ctx context.Context) (State, error)

	// Save replaces the persisted state.
	Save(ctx context.Context, st State) error

	Close() error
}
