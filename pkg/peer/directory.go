// Package peer resolves the replica set a unit belongs to.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/marmos91/exportd/internal/logger"
	"github.com/marmos91/exportd/pkg/transport"
)

// Node is a replica: a unique unit name and its advertised network address.
type Node struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Directory resolves the current replica set.
//
// The local node is always part of the result with its own configured address,
// even before any remote peer has joined, so a single-unit deployment elects
// itself.
type Directory struct {
	local      Node
	source     transport.PeerSource
	addressKey string
}

// New creates a Directory for the given local node.
//
// addressKey selects the peer attribute carrying the remote address; an empty
// key falls back to transport.DefaultAddressKey. source may be nil, in which
// case only the local node is ever resolved.
func New(local Node, source transport.PeerSource, addressKey string) *Directory {
	if addressKey == "" {
		addressKey = transport.DefaultAddressKey
	}
	return &Directory{
		local:      local,
		source:     source,
		addressKey: addressKey,
	}
}

// Local returns the local node.
func (d *Directory) Local() Node {
	return d.local
}

// Resolve returns every known node keyed by name.
//
// A peer relation that has not joined yet is a valid state and yields only the
// local node. Errors are returned only for transport failures, so that a
// transient outage is retried instead of being mistaken for an empty replica
// set (which could elect a lower-priority node while the real winner is still
// serving).
//
// A remote peer claiming the local unit's name never replaces the local entry.
func (d *Directory) Resolve(ctx context.Context) (map[string]Node, error) {
	nodes := map[string]Node{
		d.local.Name: d.local,
	}

	if d.source == nil {
		return nodes, nil
	}

	units, err := d.source.ListPeers(ctx)
	if errors.Is(err, transport.ErrNotJoined) {
		logger.Debug("Peer relation not joined, resolving local unit %s only", d.local.Name)
		return nodes, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}

	for _, unit := range units {
		if unit.Name == "" || unit.Name == d.local.Name {
			continue
		}
		nodes[unit.Name] = Node{
			Name:    unit.Name,
			Address: unit.Attributes[d.addressKey],
		}
	}

	return nodes, nil
}

// Digest returns a stable textual fingerprint of a node set, used to detect
// membership and address changes between passes.
func Digest(nodes map[string]Node) string {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(nodes[name].Address)
		b.WriteByte(';')
	}
	return b.String()
}
