package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/exportd/internal/logger"
	"github.com/marmos91/exportd/pkg/election"
	"github.com/marmos91/exportd/pkg/metrics"
	"github.com/marmos91/exportd/pkg/peer"
	"github.com/marmos91/exportd/pkg/publisher"
	"github.com/marmos91/exportd/pkg/service"
	"github.com/marmos91/exportd/pkg/state"
	"github.com/marmos91/exportd/pkg/transport"
)

// pass is one run of the reconciliation algorithm.
type pass struct {
	r        *Reconciler
	id       string
	triggers Trigger
	opts     Options
	st       state.State
	report   Report

	// blocked is the first failure status of the pass.
	blocked state.Status
}

// Reconcile runs one pass with the given triggers and options snapshot and
// returns its report. The error is the first failure the pass hit; the same
// failure is reflected in the report status. A pass that found nothing to do
// because no requester has joined is not a failure.
func (r *Reconciler) Reconcile(ctx context.Context, triggers Trigger, opts Options) (Report, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	p := &pass{
		r:        r,
		id:       uuid.NewString(),
		triggers: triggers,
		opts:     cloneOptions(opts),
	}
	p.report = Report{
		PassID:    p.id,
		Triggers:  triggers.Names(),
		StartedAt: time.Now(),
		Exports:   []string{},
	}

	logger.Info("[%s] Pass started: triggers=%s", p.id, triggers)
	r.metrics.RecordTriggers(p.report.Triggers)

	err := p.run(ctx)
	p.finish(ctx, err)

	return p.report.clone(), err
}

func (p *pass) setPhase(phase Phase, level state.StatusLevel, msg string) {
	p.report.Phase = phase
	p.report.Status = state.Status{Level: level, Message: msg}
	p.r.setReport(p.report)
	logger.Debug("[%s] %s: %s", p.id, phase, msg)
}

// block records an external failure: status blocked with msg, details logged.
func (p *pass) block(operation, msg string, err error) error {
	var cmdErr *service.CommandError
	if errors.As(err, &cmdErr) {
		p.r.metrics.RecordCommandFailure(operation)
	}

	logger.Error("[%s] %s: %v", p.id, msg, err)
	p.report.Status = state.Status{Level: state.StatusBlocked, Message: msg}
	if p.blocked.Level == "" {
		p.blocked = p.report.Status
		p.report.Error = err.Error()
	}
	p.r.setReport(p.report)

	return fmt.Errorf("%s: %w", msg, err)
}

func (p *pass) save(ctx context.Context) error {
	if err := p.r.store.Save(ctx, p.st); err != nil {
		return p.block("save-state", "Unable to persist state", err)
	}
	return nil
}

func (p *pass) run(ctx context.Context) error {
	st, err := p.r.store.Load(ctx)
	if err != nil {
		return p.block("load-state", "Unable to load state", err)
	}
	p.st = st

	if !p.st.Installed {
		if err := p.install(ctx); err != nil {
			return err
		}
	}

	p.applyOptions()
	if err := p.save(ctx); err != nil {
		return err
	}

	// A config failure is reported but does not stop the mounts phase.
	var configErr error
	if p.st.ConfigPending {
		configErr = p.updateConfig(ctx)
		if err := p.save(ctx); err != nil {
			return err
		}
	}

	requests, err := p.r.transport.ListMountRequests(ctx)
	if errors.Is(err, transport.ErrNotJoined) {
		logger.Info("[%s] No mount requester has joined, nothing to do", p.id)
		if configErr == nil {
			p.setPhase(PhaseUpdatingMounts, state.StatusWaiting, msgWaiting)
		}
		return configErr
	}
	if err != nil {
		return p.block("list-requests", "Unable to read mount requests", err)
	}

	nodes, err := p.r.directory.Resolve(ctx)
	if err != nil {
		return p.block("list-peers", "Unable to read peers", err)
	}

	p.detectChanges(requests, nodes)
	if err := p.save(ctx); err != nil {
		return err
	}

	if p.st.ResyncPending {
		if err := p.updateMounts(ctx, requests, nodes); err != nil {
			return err
		}
		p.st.ResyncPending = false
	}

	return configErr
}

func (p *pass) install(ctx context.Context) error {
	p.setPhase(PhaseInstalling, state.StatusMaintenance, msgInstalling)

	if err := p.r.manager.Install(ctx); err != nil {
		return p.block("install", "Unable to install NFS", err)
	}

	dir := filepath.Dir(p.r.cfg.ExportsFile)
	if err := p.r.fs.MkdirAll(dir, 0o755); err != nil {
		return p.block("install", "Unable to create "+dir, err)
	}

	p.st.Installed = true
	p.st.ConfigPending = true
	p.st.ResyncPending = true

	logger.Info("[%s] NFS installed", p.id)
	return p.save(ctx)
}

// applyOptions compares the options snapshot with the last applied one and
// raises the pending flags it implies.
func (p *pass) applyOptions() {
	next := p.opts.snapshot()

	switch {
	case p.st.Applied == nil:
		p.st.ConfigPending = true
		p.st.ResyncPending = true
	case p.st.Applied.Equal(next):
		logger.Debug("[%s] Options unchanged", p.id)
	default:
		if p.st.Applied.DaemonCount != next.DaemonCount {
			logger.Info("[%s] Daemon count changed: %d -> %d", p.id, p.st.Applied.DaemonCount, next.DaemonCount)
			p.st.ConfigPending = true
		}
		if exportsChanged(*p.st.Applied, next) {
			logger.Info("[%s] Export options changed", p.id)
			p.st.ResyncPending = true
		}
	}

	if p.triggers.Has(TriggerResync) {
		p.st.ResyncPending = true
	}

	p.st.Applied = &next
}

func (p *pass) updateConfig(ctx context.Context) error {
	p.setPhase(PhaseUpdatingConfig, state.StatusMaintenance, msgConfig)

	if p.r.daemon != nil {
		changed, err := p.r.daemon.SetDaemonCount(p.opts.DaemonCount)
		if err != nil {
			p.r.metrics.RecordCommandFailure("patch-config")
			return p.block("patch-config", msgConfigFailed, err)
		}
		if changed {
			logger.Info("[%s] Set %s=%d in %s", p.id, service.DaemonCountKey, p.opts.DaemonCount, p.r.daemon.Path())
		}
	}

	running, err := p.r.manager.IsRunning(ctx)
	if err != nil {
		return p.block("status", "Unable to query "+p.r.cfg.ServiceName, err)
	}
	if running {
		if err := p.r.manager.Restart(ctx); err != nil {
			return p.block("restart", "Unable to restart "+p.r.cfg.ServiceName, err)
		}
	}

	p.st.ConfigPending = false
	return nil
}

// detectChanges raises the re-sync flag when the request or peer snapshot
// differs from the one the last pass saw.
func (p *pass) detectChanges(requests []transport.MountRequest, nodes map[string]peer.Node) {
	reqDigest := requestsDigest(requests)
	if reqDigest != p.st.RequestsDigest {
		logger.Info("[%s] Mount requests changed: %d requests", p.id, len(requests))
		p.st.RequestsDigest = reqDigest
		p.st.ResyncPending = true
	}

	peersDigest := peer.Digest(nodes)
	if peersDigest != p.st.PeersDigest {
		logger.Info("[%s] Peers changed: %d units", p.id, len(nodes))
		p.st.PeersDigest = peersDigest
		p.st.ResyncPending = true
	}
}

func (p *pass) updateMounts(ctx context.Context, requests []transport.MountRequest, nodes map[string]peer.Node) error {
	p.setPhase(PhaseUpdatingMounts, state.StatusMaintenance, msgMounts)

	local := p.r.directory.Local()
	sel := election.Select(p.opts.ActiveUnits, nodes, local.Name)
	active := sel.IsLocal(local.Address)

	p.report.Selection = sel.String()
	p.report.Active = active
	p.st.Active = sel.String()

	logger.Info("[%s] Election: selected=%s local=%s active=%t", p.id, sel, local.Name, active)

	if !active {
		return p.deactivate(ctx, requests)
	}
	return p.activate(ctx, requests)
}

// deactivate stops serving: the service is stopped and every requester is
// told to unmount. The export table file is left alone.
func (p *pass) deactivate(ctx context.Context, requests []transport.MountRequest) error {
	running, err := p.r.manager.IsRunning(ctx)
	if err != nil {
		return p.block("status", "Unable to query "+p.r.cfg.ServiceName, err)
	}
	if running {
		if err := p.r.manager.Stop(ctx); err != nil {
			return p.block("stop", "Unable to stop "+p.r.cfg.ServiceName, err)
		}
	}

	if err := p.r.publisher.Withdraw(ctx, requests); err != nil {
		return p.block("publish", "Unable to publish mount responses", err)
	}

	p.r.metrics.SetActive(false)
	p.r.metrics.SetExports(0)
	return nil
}

func (p *pass) activate(ctx context.Context, requests []transport.MountRequest) error {
	running, err := p.r.manager.IsRunning(ctx)
	if err != nil {
		return p.block("status", "Unable to query "+p.r.cfg.ServiceName, err)
	}
	if !running {
		if err := p.r.manager.Start(ctx); err != nil {
			return p.block("start", "Unable to start "+p.r.cfg.ServiceName, err)
		}
	}

	p.setPhase(PhaseRenderingExports, state.StatusMaintenance, msgRendering)

	table, err := p.r.builder.Build(requests, p.opts.StorageRoot, p.opts.ExportOptions)
	if err != nil {
		return p.block("build", "Unable to create export directories", err)
	}

	// Entries without client addresses keep their directory but are not written
	exported := table.Exported()
	if exported.Empty() {
		if err := p.r.renderer.Remove(p.r.cfg.ExportsFile); err != nil {
			return p.block("remove-table", "Unable to remove export table", err)
		}
		logger.Info("[%s] No exports, removed %s", p.id, p.r.cfg.ExportsFile)
	} else {
		if err := p.r.renderer.Render(exported, p.r.cfg.ExportsFile); err != nil {
			return p.block("render-table", "Unable to render export table", err)
		}
		logger.Info("[%s] Rendered %d exports to %s", p.id, len(exported.Entries), p.r.cfg.ExportsFile)
	}

	if err := p.r.exporter.Reload(ctx); err != nil {
		return p.block("reload", "Unable to reload exports", err)
	}

	if p.r.verifier != nil {
		if err := p.r.verifier.Verify(ctx, table); err != nil {
			return p.block("verify", "Advertised exports do not match", err)
		}
	}

	err = p.r.publisher.Publish(ctx, requests, publisher.Options{
		Hostname:     p.r.cfg.Local.Address,
		StorageRoot:  p.opts.StorageRoot,
		MountOptions: p.opts.MountOptions,
		Fstype:       p.r.cfg.Fstype,
	})
	if err != nil {
		return p.block("publish", "Unable to publish mount responses", err)
	}

	p.report.Exports = exported.Paths()
	p.r.metrics.SetActive(true)
	p.r.metrics.SetExports(len(exported.Entries))
	return nil
}

// finish settles the final status, persists state and records metrics.
func (p *pass) finish(ctx context.Context, err error) {
	p.report.ResyncPending = p.st.ResyncPending
	p.report.ConfigPending = p.st.ConfigPending
	p.report.Duration = time.Since(p.report.StartedAt)

	outcome := metrics.OutcomeError
	switch {
	case err == nil && !p.st.ResyncPending && !p.st.ConfigPending:
		p.report.Phase = PhaseIdle
		p.report.Status = state.Status{Level: state.StatusActive, Message: msgReady}
		outcome = metrics.OutcomeIdle
	case err == nil:
		outcome = metrics.OutcomeWaiting
	case p.blocked.Level != "":
		// Later phases may have overwritten the status of the first failure.
		p.report.Status = p.blocked
		outcome = metrics.OutcomeBlocked
	}

	if p.st.Installed || p.st.Applied != nil {
		p.st.LastPassID = p.id
		p.st.LastPassAt = p.report.StartedAt.UTC()
		p.st.Status = p.report.Status
		if saveErr := p.r.store.Save(ctx, p.st); saveErr != nil {
			logger.Error("[%s] Failed to persist state: %v", p.id, saveErr)
		}
	}

	p.r.metrics.RecordPass(outcome, p.report.Duration)
	p.r.metrics.SetResyncPending(p.st.ResyncPending)
	p.r.setReport(p.report)

	logger.Info("[%s] Pass finished in %s: phase=%s status=%s", p.id, p.report.Duration, p.report.Phase, p.report.Status)
}

// requestsDigest fingerprints a request snapshot independently of ordering.
func requestsDigest(requests []transport.MountRequest) string {
	lines := make([]string, 0, len(requests))
	for _, r := range requests {
		addrs := slices.Clone(r.Addresses)
		sort.Strings(addrs)
		lines = append(lines, r.Identifier+"\x00"+r.ApplicationName+"\x00"+strings.Join(addrs, ","))
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
