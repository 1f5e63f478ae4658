package engine

import (
	"strings"
	"sync"
)

// Trigger is a reason to run a pass. Triggers are bit flags so that pending
// ones coalesce.
type Trigger uint

const (
	TriggerInstall Trigger = 1 << iota
	TriggerConfigChanged
	TriggerPeersChanged
	TriggerRequestsChanged
	TriggerResync
	TriggerTimer
	TriggerRetry
)

var triggerNames = []struct {
	t    Trigger
	name string
}{
	{TriggerInstall, "install"},
	{TriggerConfigChanged, "config-changed"},
	{TriggerPeersChanged, "peers-changed"},
	{TriggerRequestsChanged, "requests-changed"},
	{TriggerResync, "resync"},
	{TriggerTimer, "timer"},
	{TriggerRetry, "retry"},
}

// Has reports whether all of want are set.
func (t Trigger) Has(want Trigger) bool {
	return t&want == want
}

// Names lists the set triggers in declaration order.
func (t Trigger) Names() []string {
	var names []string
	for _, tn := range triggerNames {
		if t.Has(tn.t) {
			names = append(names, tn.name)
		}
	}
	return names
}

func (t Trigger) String() string {
	if t == 0 {
		return "none"
	}
	return strings.Join(t.Names(), ",")
}

// queue is a coalescing single-consumer trigger queue. Pushing never blocks;
// triggers pushed while a pass runs are merged and delivered to the next one.
type queue struct {
	mu      sync.Mutex
	pending Trigger
	wake    chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

func (q *queue) push(t Trigger) {
	q.mu.Lock()
	q.pending |= t
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// take returns and clears every pending trigger.
func (q *queue) take() Trigger {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.pending
	q.pending = 0
	return t
}
