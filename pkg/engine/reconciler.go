// Package engine runs the reconciliation loop that keeps the local NFS server,
// its export table and the published mount responses in line with the
// current peers, mount requests and operator options.
//
// Passes are serialized. Triggers that arrive while a pass runs are coalesced
// into the next one, and every pass reads a fresh snapshot of the world, so
// the latest state always wins.
package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/exportd/internal/logger"
	"github.com/marmos91/exportd/internal/ratelimiter"
	"github.com/marmos91/exportd/pkg/exports"
	"github.com/marmos91/exportd/pkg/metrics"
	"github.com/marmos91/exportd/pkg/peer"
	"github.com/marmos91/exportd/pkg/probe"
	"github.com/marmos91/exportd/pkg/publisher"
	"github.com/marmos91/exportd/pkg/service"
	"github.com/marmos91/exportd/pkg/state"
	"github.com/marmos91/exportd/pkg/transport"
	"github.com/spf13/afero"
)

// Phase is the step a pass is in, reported through Status.
type Phase string

const (
	PhaseInstalling       Phase = "installing"
	PhaseUpdatingConfig   Phase = "updating-config"
	PhaseUpdatingMounts   Phase = "updating-mounts"
	PhaseRenderingExports Phase = "rendering-exports"
	PhaseIdle             Phase = "idle"
)

// Status messages.
const (
	msgInstalling   = "Installing NFS"
	msgConfig       = "Updating config"
	msgConfigFailed = "Unable to update config file!"
	msgMounts       = "Updating NFS mounts"
	msgRendering    = "Rendering nfs config"
	msgReady        = "NFS ready"
	msgWaiting      = "Waiting for mount requests"
)

// Config holds the settings that do not change while the process runs.
type Config struct {
	// Local is this unit.
	Local peer.Node

	// AddressKey is the peer attribute holding addresses.
	AddressKey string

	// ExportsFile is the rendered export table.
	ExportsFile string

	// ServiceName is used in status messages.
	ServiceName string

	// Fstype is advertised to requesters.
	Fstype string

	// ResyncInterval is the periodic re-check interval. Zero disables it.
	ResyncInterval time.Duration

	// RetryInterval is the delay before retrying a failed pass.
	RetryInterval time.Duration

	// RetryBurst is how many retries may run back to back before the
	// token bucket paces them at RetryInterval.
	RetryBurst uint
}

// Deps are the collaborators a Reconciler drives.
type Deps struct {
	Transport    transport.Transport
	Store        state.Store
	Manager      service.Manager
	Exporter     service.Exporter
	DaemonConfig *service.DaemonConfig

	// Fs is used for the exports directory. Defaults to the OS filesystem.
	Fs afero.Fs

	// Builder and Renderer default to instances over Fs.
	Builder  *exports.Builder
	Renderer *exports.Renderer

	// Verifier is optional. When set, advertised exports are checked after
	// every reload.
	Verifier probe.Verifier

	// Metrics defaults to a no-op implementation.
	Metrics metrics.ReconcilerMetrics
}

// Report describes the last (or current) pass.
type Report struct {
	PassID        string        `json:"pass_id"`
	Triggers      []string      `json:"triggers"`
	Phase         Phase         `json:"phase"`
	Status        state.Status  `json:"status"`
	Error         string        `json:"error,omitempty"`
	Selection     string        `json:"selection,omitempty"`
	Active        bool          `json:"active"`
	Exports       []string      `json:"exports"`
	ResyncPending bool          `json:"resync_pending"`
	ConfigPending bool          `json:"config_pending"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
}

func (r Report) clone() Report {
	r.Triggers = slices.Clone(r.Triggers)
	r.Exports = slices.Clone(r.Exports)
	return r
}

// Reconciler is the control loop.
type Reconciler struct {
	cfg Config

	transport transport.Transport
	store     state.Store
	manager   service.Manager
	exporter  service.Exporter
	daemon    *service.DaemonConfig
	fs        afero.Fs
	builder   *exports.Builder
	renderer  *exports.Renderer
	verifier  probe.Verifier
	metrics   metrics.ReconcilerMetrics
	directory *peer.Directory
	publisher *publisher.Publisher

	queue          *queue
	retry          *ratelimiter.RateLimiter
	retryScheduled atomic.Bool

	// passMu serializes passes.
	passMu sync.Mutex

	mu     sync.RWMutex
	opts   Options
	report Report
}

// New creates a Reconciler running with the initial options opts.
func New(cfg Config, opts Options, deps Deps) (*Reconciler, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("service manager is required")
	}
	if deps.Exporter == nil {
		return nil, fmt.Errorf("exporter is required")
	}
	if cfg.Local.Name == "" {
		return nil, fmt.Errorf("local unit name is required")
	}
	if cfg.ExportsFile == "" {
		return nil, fmt.Errorf("exports file is required")
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "nfs-kernel-server"
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}

	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Builder == nil {
		deps.Builder = exports.NewBuilder(deps.Fs)
	}
	if deps.Renderer == nil {
		renderer, err := exports.NewRenderer(deps.Fs, "")
		if err != nil {
			return nil, err
		}
		deps.Renderer = renderer
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopReconcilerMetrics()
	}

	return &Reconciler{
		cfg:       cfg,
		transport: deps.Transport,
		store:     deps.Store,
		manager:   deps.Manager,
		exporter:  deps.Exporter,
		daemon:    deps.DaemonConfig,
		fs:        deps.Fs,
		builder:   deps.Builder,
		renderer:  deps.Renderer,
		verifier:  deps.Verifier,
		metrics:   deps.Metrics,
		directory: peer.New(cfg.Local, deps.Transport, cfg.AddressKey),
		publisher: publisher.New(deps.Transport),
		queue:     newQueue(),
		retry:     ratelimiter.New(cfg.RetryInterval, cfg.RetryBurst),
		opts:      cloneOptions(opts),
	}, nil
}

// Trigger schedules a pass. It never blocks.
func (r *Reconciler) Trigger(t Trigger) {
	r.queue.push(t)
}

// SetOptions replaces the options used by later passes and schedules one.
func (r *Reconciler) SetOptions(opts Options) {
	r.mu.Lock()
	r.opts = cloneOptions(opts)
	r.mu.Unlock()

	r.Trigger(TriggerConfigChanged)
}

// Options returns the options the next pass will run with.
func (r *Reconciler) Options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneOptions(r.opts)
}

// Status returns the report of the current or last pass.
func (r *Reconciler) Status() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.report.clone()
}

func (r *Reconciler) setReport(rep Report) {
	r.mu.Lock()
	r.report = rep.clone()
	r.mu.Unlock()
}

// Run drives passes until ctx is cancelled. It announces the local unit,
// subscribes to transport change notifications where supported, runs the
// periodic re-check and retries failed passes.
func (r *Reconciler) Run(ctx context.Context) error {
	if a, ok := r.transport.(transport.Announcer); ok {
		unit := transport.PeerUnit{
			Name:       r.cfg.Local.Name,
			Attributes: map[string]string{addressKeyOrDefault(r.cfg.AddressKey): r.cfg.Local.Address},
		}
		if err := a.Announce(ctx, unit); err != nil {
			logger.Warn("Failed to announce %s: %v", unit.Name, err)
		}
	}

	if w, ok := r.transport.(transport.Watcher); ok {
		changes, err := w.Watch(ctx)
		if err != nil {
			logger.Warn("Transport change notifications unavailable, relying on periodic re-check: %v", err)
		} else {
			go r.forwardChanges(changes)
		}
	}

	var tick <-chan time.Time
	if r.cfg.ResyncInterval > 0 {
		ticker := time.NewTicker(r.cfg.ResyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.Trigger(TriggerInstall)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Reconciler stopping")
			return nil

		case <-tick:
			r.Trigger(TriggerTimer)

		case <-r.queue.wake:
			triggers := r.queue.take()
			if triggers == 0 {
				continue
			}

			if _, err := r.Reconcile(ctx, triggers, r.Options()); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.scheduleRetry(ctx)
			}
		}
	}
}

func (r *Reconciler) forwardChanges(changes <-chan transport.ChangeKind) {
	for kind := range changes {
		switch kind {
		case transport.PeersChanged:
			r.Trigger(TriggerPeersChanged)
		case transport.RequestsChanged:
			r.Trigger(TriggerRequestsChanged)
		}
	}
}

// scheduleRetry pushes TriggerRetry after RetryInterval, paced by the retry
// token bucket. At most one retry is outstanding.
func (r *Reconciler) scheduleRetry(ctx context.Context) {
	if !r.retryScheduled.CompareAndSwap(false, true) {
		return
	}

	go func() {
		timer := time.NewTimer(r.cfg.RetryInterval)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			r.retryScheduled.Store(false)
			return
		case <-timer.C:
		}

		err := r.retry.Wait(ctx)
		// Cleared before triggering so a failure of the retry pass can
		// schedule the next one.
		r.retryScheduled.Store(false)
		if err == nil {
			r.Trigger(TriggerRetry)
		}
	}()
}

func cloneOptions(o Options) Options {
	o.ActiveUnits = slices.Clone(o.ActiveUnits)
	return o
}

func addressKeyOrDefault(key string) string {
	if key == "" {
		return transport.DefaultAddressKey
	}
	return key
}
