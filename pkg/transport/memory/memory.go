// Package memory provides an in-process Transport.
//
// It is used by tests and by single-node deployments where mount requests are
// supplied through the API rather than a relation.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/marmos91/exportd/pkg/transport"
)

// Transport is a thread-safe in-memory transport.Transport.
//
// Peer and mount-request relations start out not joined; SetPeers and
// SetRequests join them.
type Transport struct {
	mu sync.RWMutex

	peersJoined    bool
	peers          map[string]transport.PeerUnit
	requestsJoined bool
	requests       []transport.MountRequest

	published  []transport.MountResponse
	publishes  int
	rawCleared int

	publishErr error

	watchers []chan transport.ChangeKind
}

// New creates an empty transport with both relations not joined.
func New() *Transport {
	return &Transport{
		peers: make(map[string]transport.PeerUnit),
	}
}

// SetPeers joins the peer relation and replaces the remote peer set.
func (t *Transport) SetPeers(peers ...transport.PeerUnit) {
	t.mu.Lock()
	t.peersJoined = true
	t.peers = make(map[string]transport.PeerUnit, len(peers))
	for _, p := range peers {
		t.peers[p.Name] = copyUnit(p)
	}
	t.mu.Unlock()

	t.notify(transport.PeersChanged)
}

// SetRequests joins the requester relation and replaces the request snapshot.
func (t *Transport) SetRequests(requests ...transport.MountRequest) {
	t.mu.Lock()
	t.requestsJoined = true
	t.requests = make([]transport.MountRequest, 0, len(requests))
	for _, r := range requests {
		r.Addresses = slices.Clone(r.Addresses)
		t.requests = append(t.requests, r)
	}
	t.mu.Unlock()

	t.notify(transport.RequestsChanged)
}

// DepartRequests marks the requester relation as departed.
func (t *Transport) DepartRequests() {
	t.mu.Lock()
	t.requestsJoined = false
	t.requests = nil
	t.mu.Unlock()

	t.notify(transport.RequestsChanged)
}

// FailPublish makes subsequent Publish calls return err (nil restores success).
func (t *Transport) FailPublish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishErr = err
}

// ListPeers implements transport.PeerSource.
func (t *Transport) ListPeers(ctx context.Context) ([]transport.PeerUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.peersJoined {
		return nil, transport.ErrNotJoined
	}

	units := make([]transport.PeerUnit, 0, len(t.peers))
	for _, p := range t.peers {
		units = append(units, copyUnit(p))
	}
	slices.SortFunc(units, func(a, b transport.PeerUnit) int {
		return strings.Compare(a.Name, b.Name)
	})
	return units, nil
}

// ListMountRequests implements transport.Transport.
func (t *Transport) ListMountRequests(ctx context.Context) ([]transport.MountRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.requestsJoined {
		return nil, transport.ErrNotJoined
	}

	out := make([]transport.MountRequest, 0, len(t.requests))
	for _, r := range t.requests {
		r.Addresses = slices.Clone(r.Addresses)
		out = append(out, r)
	}
	return out, nil
}

// Publish implements transport.Transport.
func (t *Transport) Publish(ctx context.Context, responses []transport.MountResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.publishErr != nil {
		return t.publishErr
	}

	t.published = slices.Clone(responses)
	t.publishes++
	return nil
}

// ClearRaw implements transport.RawClearer.
func (t *Transport) ClearRaw(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rawCleared++
	return nil
}

// Announce implements transport.Announcer. The local unit is not a remote
// peer of itself, so the announcement is accepted and not listed.
func (t *Transport) Announce(ctx context.Context, unit transport.PeerUnit) error {
	return ctx.Err()
}

// Published returns the last published responses.
func (t *Transport) Published() []transport.MountResponse {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.published)
}

// PublishCount returns how many times Publish succeeded.
func (t *Transport) PublishCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.publishes
}

// RawClearCount returns how many times ClearRaw was called.
func (t *Transport) RawClearCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rawCleared
}

// Watch implements transport.Watcher.
func (t *Transport) Watch(ctx context.Context) (<-chan transport.ChangeKind, error) {
	ch := make(chan transport.ChangeKind, 16)

	t.mu.Lock()
	t.watchers = append(t.watchers, ch)
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, w := range t.watchers {
			if w == ch {
				t.watchers = append(t.watchers[:i], t.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	return nil
}

func (t *Transport) notify(kind transport.ChangeKind) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, w := range t.watchers {
		select {
		case w <- kind:
		default:
		}
	}
}

func copyUnit(p transport.PeerUnit) transport.PeerUnit {
	attrs := make(map[string]string, len(p.Attributes))
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	return transport.PeerUnit{Name: p.Name, Attributes: attrs}
}
