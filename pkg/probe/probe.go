// Package probe asks the local NFS server which directories it advertises and
// compares them with the export table that was just rendered.
package probe

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/marmos91/exportd/internal/logger"
	"github.com/marmos91/exportd/internal/protocol/mount"
	"github.com/marmos91/exportd/internal/protocol/rpc"
	"github.com/marmos91/exportd/pkg/exports"
)

// DefaultAddress is mountd's conventional TCP endpoint on the local host.
const DefaultAddress = "127.0.0.1:20048"

// Verifier checks that the server advertises a table.
type Verifier interface {
	Verify(ctx context.Context, table exports.Table) error
}

// MismatchError reports a disagreement between the table and the server.
type MismatchError struct {
	// Missing are table paths the server does not advertise.
	Missing []string

	// Unexpected are advertised paths under the storage root that the
	// table does not contain.
	Unexpected []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("advertised exports differ from table: missing=%v unexpected=%v", e.Missing, e.Unexpected)
}

// MountProbe calls MOUNT EXPORT over TCP.
type MountProbe struct {
	address     string
	timeout     time.Duration
	storageRoot string
}

// Config configures a MountProbe.
type Config struct {
	// Address is mountd's host:port. Defaults to DefaultAddress.
	Address string

	// Timeout bounds one probe. Defaults to 5s.
	Timeout time.Duration

	// StorageRoot scopes the "unexpected" check to paths this process manages.
	StorageRoot string
}

// New creates a MountProbe.
func New(cfg Config) *MountProbe {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MountProbe{address: cfg.Address, timeout: cfg.Timeout, storageRoot: cfg.StorageRoot}
}

// Exports returns the server's export list.
func (p *MountProbe) Exports(ctx context.Context) (*mount.ExportResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := rpc.Dial(ctx, p.address)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	results, err := client.Call(ctx, rpc.ProgramMount, mount.MountVersion3, mount.MountProcExport, nil)
	if err != nil {
		return nil, fmt.Errorf("mount export call: %w", err)
	}

	return mount.DecodeExportResponse(results)
}

// Verify implements Verifier. Only entries with at least one permitted
// address are expected, since those are the only ones rendered.
func (p *MountProbe) Verify(ctx context.Context, table exports.Table) error {
	resp, err := p.Exports(ctx)
	if err != nil {
		return err
	}

	advertised := resp.Directories()
	logger.Debug("Server advertises %d exports: %v", len(advertised), advertised)

	expected := make([]string, 0, len(table.Entries))
	for _, e := range table.Entries {
		if len(e.Addresses) > 0 {
			expected = append(expected, e.Path)
		}
	}

	mismatch := &MismatchError{}
	for _, path := range expected {
		if !slices.Contains(advertised, path) {
			mismatch.Missing = append(mismatch.Missing, path)
		}
	}
	for _, path := range advertised {
		if p.storageRoot != "" && !underRoot(path, p.storageRoot) {
			continue
		}
		if !slices.Contains(expected, path) {
			mismatch.Unexpected = append(mismatch.Unexpected, path)
		}
	}

	if len(mismatch.Missing) > 0 || len(mismatch.Unexpected) > 0 {
		return mismatch
	}
	return nil
}

func underRoot(path, root string) bool {
	if len(path) <= len(root) || path[:len(root)] != root {
		return false
	}
	return root[len(root)-1] == '/' || path[len(root)] == '/'
}
