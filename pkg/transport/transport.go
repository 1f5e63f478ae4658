// Package transport defines the boundary between the reconciler and whatever
// carries peer announcements and mount requests (an in-process fake, a shared
// YAML document, an S3 bucket).
//
// The reconciler never creates or deletes mount requests: it reads the current
// snapshot on every pass and publishes one MountResponse per request back.
package transport

import (
	"context"
	"errors"
)

// DefaultAddressKey is the peer attribute holding a unit's advertised address.
const DefaultAddressKey = "private-address"

// ErrNotJoined reports that the collaborator on the other side of the
// transport has not joined yet. It is not a failure: callers treat it as
// "nothing to do yet".
var ErrNotJoined = errors.New("transport: relation not joined")

// PeerUnit is a remote replica as seen through the transport.
//
// Attributes is the raw key/value data the peer published; the advertised
// address lives under a configurable key (DefaultAddressKey by default).
type PeerUnit struct {
	Name       string            `json:"name" yaml:"name"`
	Attributes map[string]string `json:"attributes" yaml:"attributes"`
}

// MountRequest is a client application's request for an export.
type MountRequest struct {
	// ApplicationName identifies the requester; an empty name marks a malformed request.
	ApplicationName string `json:"application_name" yaml:"application_name"`

	// Identifier is stable across passes and keys the published response.
	Identifier string `json:"identifier" yaml:"identifier"`

	// Addresses are the client addresses permitted to mount.
	Addresses []string `json:"addresses" yaml:"addresses"`
}

// MountResponse carries connection details back to a requester.
//
// Nil pointers serialize as null. A response whose Mountpoint, Hostname,
// Fstype and Options are all nil tells the requester to unmount.
type MountResponse struct {
	Identifier string  `json:"identifier" yaml:"identifier"`
	ExportName string  `json:"export_name" yaml:"export_name"`
	Mountpoint *string `json:"mountpoint" yaml:"mountpoint"`
	Hostname   *string `json:"hostname" yaml:"hostname"`
	Fstype     *string `json:"fstype" yaml:"fstype"`
	Options    *string `json:"options" yaml:"options"`
}

// IsWithdrawal reports whether the response tells the requester to unmount.
func (r MountResponse) IsWithdrawal() bool {
	return r.Mountpoint == nil && r.Hostname == nil && r.Fstype == nil && r.Options == nil
}

// PeerSource lists the remote replicas that have joined the peer relation.
//
// Implementations return ErrNotJoined when the peer relation does not exist yet.
type PeerSource interface {
	ListPeers(ctx context.Context) ([]PeerUnit, error)
}

// Transport is everything the reconciler needs from the outside world.
type Transport interface {
	PeerSource

	// ListMountRequests returns the current snapshot of mount requests, or
	// ErrNotJoined when no requester relation exists.
	ListMountRequests(ctx context.Context) ([]MountRequest, error)

	// Publish replaces the responses this unit advertises.
	Publish(ctx context.Context, responses []MountResponse) error

	// Close releases any resources held by the transport.
	Close() error
}

// RawClearer is implemented by transports that can null out the
// relation-level connection attributes directly, for requesters that do not
// read structured responses.
type RawClearer interface {
	ClearRaw(ctx context.Context) error
}

// Announcer is implemented by transports where the local unit must publish
// its own address for peers to discover it.
type Announcer interface {
	Announce(ctx context.Context, unit PeerUnit) error
}

// ChangeKind classifies a change notification.
type ChangeKind int

const (
	PeersChanged ChangeKind = iota
	RequestsChanged
)

func (k ChangeKind) String() string {
	switch k {
	case PeersChanged:
		return "peers"
	case RequestsChanged:
		return "requests"
	default:
		return "unknown"
	}
}

// Watcher is implemented by transports that can push change notifications.
// Transports without it are polled by the reconciler's periodic re-check.
//
// The returned channel is closed when ctx is cancelled.
type Watcher interface {
	Watch(ctx context.Context) (<-chan ChangeKind, error)
}
