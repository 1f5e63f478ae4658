package engine

import (
	"slices"

	"github.com/marmos91/exportd/pkg/state"
)

// Options is the operator-tunable snapshot a pass runs with.
type Options struct {
	// StorageRoot is the parent directory of every export.
	StorageRoot string

	// ExportOptions is the server-side option string for every export line.
	ExportOptions string

	// MountOptions is advertised to requesters as client mount options.
	MountOptions string

	// ActiveUnits is the ordered failover preference. Empty means the local
	// unit is always active.
	ActiveUnits []string

	// DaemonCount is the nfsd thread count written to the defaults file.
	DaemonCount int
}

func (o Options) snapshot() state.Options {
	return state.Options{
		StorageRoot:   o.StorageRoot,
		ExportOptions: o.ExportOptions,
		MountOptions:  o.MountOptions,
		ActiveUnits:   slices.Clone(o.ActiveUnits),
		DaemonCount:   o.DaemonCount,
	}
}

// exportsChanged reports whether a change between applied and next requires
// recomputing exports and responses.
func exportsChanged(applied, next state.Options) bool {
	return applied.StorageRoot != next.StorageRoot ||
		applied.ExportOptions != next.ExportOptions ||
		applied.MountOptions != next.MountOptions ||
		!slices.Equal(applied.ActiveUnits, next.ActiveUnits)
}
