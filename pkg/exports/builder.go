// Package exports derives the export table from mount requests and renders it
// to the file the kernel NFS server reads.
package exports

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/marmos91/exportd/internal/logger"
	"github.com/marmos91/exportd/pkg/transport"
	"github.com/spf13/afero"
)

// ExportDirMode is applied to every newly created export directory.
//
// Without a shared identity source (LDAP or similar) the exporting unit cannot
// know which remote uid will write to the directory, so the directory is left
// open and access is restricted by the per-export client address list.
const ExportDirMode os.FileMode = 0o777

// Entry is one line of the export table.
type Entry struct {
	// Path is storage_root/<application_name>.
	Path string `json:"path"`

	// Addresses are the clients permitted to mount Path, sorted and unique.
	Addresses []string `json:"addresses"`

	// Options is the export option string applied to every address.
	Options string `json:"options"`
}

// Table is the full set of entries for one pass, sorted by Path.
type Table struct {
	Entries []Entry `json:"entries"`
}

// Empty reports whether the table has no entries.
func (t Table) Empty() bool {
	return len(t.Entries) == 0
}

// Exported returns the entries that grant at least one client address. Only
// these are written to the table file.
func (t Table) Exported() Table {
	out := Table{Entries: make([]Entry, 0, len(t.Entries))}
	for _, e := range t.Entries {
		if len(e.Addresses) > 0 {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}

// Paths returns the exported paths in table order.
func (t Table) Paths() []string {
	paths := make([]string, 0, len(t.Entries))
	for _, e := range t.Entries {
		paths = append(paths, e.Path)
	}
	return paths
}

// Builder computes export tables and makes sure their directories exist.
type Builder struct {
	fs afero.Fs
}

// NewBuilder creates a Builder over the given filesystem. A nil fs uses the
// operating system filesystem.
func NewBuilder(fs afero.Fs) *Builder {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Builder{fs: fs}
}

// ExportPath returns the directory exported for a requester.
func ExportPath(storageRoot, applicationName string) string {
	return filepath.Join(storageRoot, applicationName)
}

// Build derives the export table for the given request snapshot.
//
// Requests without an application name are skipped. Requests for the same
// application share one entry whose address set is the union of theirs. The
// table is rebuilt from scratch on every call, so a requester that went away
// leaves no entry behind. Build never deletes anything: removing a stale table
// file is the caller's job.
//
// Returns an error only when a missing export directory cannot be created.
func (b *Builder) Build(requests []transport.MountRequest, storageRoot, exportOptions string) (Table, error) {
	addresses := make(map[string]map[string]struct{})

	for _, req := range requests {
		if req.ApplicationName == "" {
			logger.Debug("Skipping mount request %q without application name", req.Identifier)
			continue
		}

		path := ExportPath(storageRoot, req.ApplicationName)
		if _, seen := addresses[path]; !seen {
			if err := b.ensureDir(path); err != nil {
				return Table{}, err
			}
			addresses[path] = make(map[string]struct{})
		}

		for _, addr := range req.Addresses {
			if addr == "" {
				continue
			}
			addresses[path][addr] = struct{}{}
		}
	}

	paths := make([]string, 0, len(addresses))
	for path := range addresses {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	table := Table{Entries: make([]Entry, 0, len(paths))}
	for _, path := range paths {
		addrs := make([]string, 0, len(addresses[path]))
		for addr := range addresses[path] {
			addrs = append(addrs, addr)
		}
		sort.Strings(addrs)

		table.Entries = append(table.Entries, Entry{
			Path:      path,
			Addresses: addrs,
			Options:   exportOptions,
		})
	}

	return table, nil
}

// ensureDir creates path with ExportDirMode if it does not exist yet.
// Existing directories are left exactly as they are.
func (b *Builder) ensureDir(path string) error {
	_, err := b.fs.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat export path %s: %w", path, err)
	}

	logger.Info("Creating export data path %s", path)

	if err := b.fs.MkdirAll(path, ExportDirMode); err != nil {
		return fmt.Errorf("failed to create export path %s: %w", path, err)
	}

	// MkdirAll is subject to the umask.
	if err := b.fs.Chmod(path, ExportDirMode); err != nil {
		_ = b.fs.Remove(path)
		return fmt.Errorf("failed to set permissions on export path %s: %w", path, err)
	}

	return nil
}
