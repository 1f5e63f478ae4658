// Package election picks the single active unit of a replica set.
//
// Selection is a pure function of the operator's preference list and the
// currently known peers: it holds no state and is recomputed on every
// reconciliation pass.
package election

import (
	"strings"

	"github.com/marmos91/exportd/pkg/peer"
)

// Selection is the outcome of an election: either a chosen node, or none.
type Selection struct {
	// Node is the winner. Zero when None is true.
	Node peer.Node

	// None reports that no eligible node is known; the service must be
	// stopped everywhere.
	None bool
}

// NoSelection is the "no eligible node" outcome.
var NoSelection = Selection{None: true}

// String renders the selection for logs and status.
func (s Selection) String() string {
	if s.None {
		return "none"
	}
	return s.Node.Name + "@" + s.Node.Address
}

// IsLocal reports whether the local unit, identified by its own address, is
// the active node.
//
// Addresses are compared rather than names so that a peer whose recorded name
// differs from its own view of itself is still recognised. Two units
// advertising the same address are indistinguishable here.
func (s Selection) IsLocal(localAddress string) bool {
	if s.None || localAddress == "" {
		return false
	}
	return s.Node.Address == localAddress
}

// Select returns the active node.
//
// An empty preference list means no failover: the local unit is always
// active. Otherwise the first listed name present in peers wins, so operators
// control failover priority by list position alone. If no listed name is
// known, the result is NoSelection.
func Select(preference []string, peers map[string]peer.Node, local string) Selection {
	if len(preference) == 0 {
		if node, ok := peers[local]; ok {
			return Selection{Node: node}
		}
		return Selection{Node: peer.Node{Name: local}}
	}

	for _, name := range preference {
		if node, ok := peers[name]; ok {
			return Selection{Node: node}
		}
	}

	return NoSelection
}

// ParsePreference splits a comma separated active-units option into an
// ordered list, dropping blanks.
func ParsePreference(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// NormalizePreference trims entries and drops blanks from an already split list.
func NormalizePreference(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, ParsePreference(v)...)
	}
	return out
}
