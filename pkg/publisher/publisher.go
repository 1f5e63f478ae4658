// Package publisher turns a pass's outcome into the responses each requester
// reads back over the transport.
package publisher

import (
	"context"
	"fmt"

	"github.com/marmos91/exportd/internal/logger"
	"github.com/marmos91/exportd/pkg/exports"
	"github.com/marmos91/exportd/pkg/transport"
)

// DefaultFstype is advertised to requesters of a live export.
const DefaultFstype = "nfs"

// Options carries the advertised connection parameters.
type Options struct {
	// Hostname is the address clients mount from: the active unit's address.
	Hostname string

	// StorageRoot is the parent of every export path.
	StorageRoot string

	// MountOptions is the client-side mount option string.
	MountOptions string

	// Fstype defaults to DefaultFstype.
	Fstype string
}

// Publisher writes mount responses to a transport.
type Publisher struct {
	transport transport.Transport
}

// New creates a Publisher.
func New(t transport.Transport) *Publisher {
	return &Publisher{transport: t}
}

// Responses returns the live response for every well-formed request.
// Requests without an application name are skipped, matching the export
// table, so no requester is told to mount a path that is not exported.
func Responses(requests []transport.MountRequest, opts Options) []transport.MountResponse {
	fstype := opts.Fstype
	if fstype == "" {
		fstype = DefaultFstype
	}

	out := make([]transport.MountResponse, 0, len(requests))
	for _, req := range requests {
		if req.ApplicationName == "" {
			continue
		}

		mountpoint := exports.ExportPath(opts.StorageRoot, req.ApplicationName)
		out = append(out, transport.MountResponse{
			Identifier: req.Identifier,
			ExportName: req.ApplicationName,
			Mountpoint: stringPtr(mountpoint),
			Hostname:   stringPtr(opts.Hostname),
			Fstype:     stringPtr(fstype),
			Options:    stringPtr(opts.MountOptions),
		})
	}
	return out
}

// Withdrawals returns an all-null response for every request, well-formed or
// not, telling each requester to unmount.
func Withdrawals(requests []transport.MountRequest) []transport.MountResponse {
	out := make([]transport.MountResponse, 0, len(requests))
	for _, req := range requests {
		out = append(out, transport.MountResponse{
			Identifier: req.Identifier,
			ExportName: req.ApplicationName,
		})
	}
	return out
}

// Publish advertises live responses for requests.
func (p *Publisher) Publish(ctx context.Context, requests []transport.MountRequest, opts Options) error {
	responses := Responses(requests, opts)
	if err := p.transport.Publish(ctx, responses); err != nil {
		return fmt.Errorf("failed to publish %d mount responses: %w", len(responses), err)
	}
	logger.Debug("Published %d mount responses", len(responses))
	return nil
}

// Withdraw tells every requester to unmount. When the transport also carries
// relation-level connection attributes, those are cleared too.
func (p *Publisher) Withdraw(ctx context.Context, requests []transport.MountRequest) error {
	responses := Withdrawals(requests)
	if err := p.transport.Publish(ctx, responses); err != nil {
		return fmt.Errorf("failed to publish %d withdrawals: %w", len(responses), err)
	}

	if clearer, ok := p.transport.(transport.RawClearer); ok {
		if err := clearer.ClearRaw(ctx); err != nil {
			return fmt.Errorf("failed to clear relation attributes: %w", err)
		}
	}

	logger.Debug("Withdrew %d mount responses", len(responses))
	return nil
}

func stringPtr(s string) *string {
	return &s
}
