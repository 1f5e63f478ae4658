package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/exportd/pkg/exports"
	"github.com/marmos91/exportd/pkg/peer"
	"github.com/marmos91/exportd/pkg/service"
	"github.com/marmos91/exportd/pkg/state"
	statememory "github.com/marmos91/exportd/pkg/state/memory"
	"github.com/marmos91/exportd/pkg/transport"
	"github.com/marmos91/exportd/pkg/transport/memory"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	exportsFile  = "/etc/exports.d/nfs.exports"
	defaultsFile = "/etc/default/nfs-kernel-server"
	localAddress = "10.0.0.1"
)

// fakeManager is an in-memory service.Manager.
type fakeManager struct {
	mu         sync.Mutex
	running    bool
	calls      []string
	installErr error
	startErr   error
}

func (m *fakeManager) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *fakeManager) Install(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("install")
	return m.installErr
}

func (m *fakeManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("start")
	if m.startErr != nil {
		return m.startErr
	}
	m.running = true
	return nil
}

func (m *fakeManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stop")
	m.running = false
	return nil
}

func (m *fakeManager) Restart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("restart")
	m.running = true
	return nil
}

func (m *fakeManager) IsRunning(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running, nil
}

func (m *fakeManager) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *fakeManager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// fakeExporter counts reloads and fails the first failures of them.
type fakeExporter struct {
	mu       sync.Mutex
	reloads  int
	failures int
}

func (e *fakeExporter) Reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reloads++
	if e.failures > 0 {
		e.failures--
		return &service.CommandError{Command: "exportfs -ra", Output: "exportfs: bad line", Err: errors.New("exit status 1")}
	}
	return nil
}

func (e *fakeExporter) Reloads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reloads
}

type fakeVerifier struct{ err error }

func (v fakeVerifier) Verify(ctx context.Context, table exports.Table) error { return v.err }

type harness struct {
	fs        afero.Fs
	transport *memory.Transport
	store     *statememory.Store
	manager   *fakeManager
	exporter  *fakeExporter
	r         *Reconciler
}

type harnessOption func(*Config, *Deps)

func newHarness(t *testing.T, opts Options, options ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		fs:        afero.NewMemMapFs(),
		transport: memory.New(),
		store:     statememory.New(),
		manager:   &fakeManager{},
		exporter:  &fakeExporter{},
	}
	require.NoError(t, afero.WriteFile(h.fs, defaultsFile, []byte("RPCNFSDCOUNT=8\n"), 0o644))

	cfg := Config{
		Local:         peer.Node{Name: "nfs/0", Address: localAddress},
		ExportsFile:   exportsFile,
		RetryInterval: 10 * time.Millisecond,
		RetryBurst:    1,
	}
	deps := Deps{
		Transport:    h.transport,
		Store:        h.store,
		Manager:      h.manager,
		Exporter:     h.exporter,
		DaemonConfig: service.NewDaemonConfig(h.fs, defaultsFile),
		Fs:           h.fs,
	}
	for _, o := range options {
		o(&cfg, &deps)
	}

	r, err := New(cfg, opts, deps)
	require.NoError(t, err)
	h.r = r
	return h
}

func defaultOptions() Options {
	return Options{
		StorageRoot:   "/srv/nfs",
		ExportOptions: "rw,sync,no_subtree_check",
		MountOptions:  "nfsvers=4",
		DaemonCount:   8,
	}
}

func (h *harness) reconcile(t *testing.T, triggers Trigger) (Report, error) {
	t.Helper()
	return h.r.Reconcile(context.Background(), triggers, h.r.Options())
}

func (h *harness) state(t *testing.T) state.State {
	t.Helper()
	st, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return st
}

func (h *harness) exportsContent(t *testing.T) string {
	t.Helper()
	data, err := afero.ReadFile(h.fs, exportsFile)
	require.NoError(t, err)
	return string(data)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Local: peer.Node{Name: "nfs/0"}, ExportsFile: exportsFile}, Options{}, Deps{})
	require.Error(t, err)

	_, err = New(Config{ExportsFile: exportsFile}, Options{}, Deps{
		Transport: memory.New(),
		Store:     statememory.New(),
		Manager:   &fakeManager{},
		Exporter:  &fakeExporter{},
	})
	require.Error(t, err)
}

// Single node, empty preference, one requester.
func TestReconcile_SingleNodeExportsRequester(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	report, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)

	assert.Equal(t, PhaseIdle, report.Phase)
	assert.Equal(t, state.Status{Level: state.StatusActive, Message: "NFS ready"}, report.Status)
	assert.True(t, report.Active)
	assert.Equal(t, []string{"/srv/nfs/web"}, report.Exports)

	assert.Contains(t, h.exportsContent(t), "/srv/nfs/web 10.0.0.5(rw,sync,no_subtree_check)")

	info, err := h.fs.Stat("/srv/nfs/web")
	require.NoError(t, err)
	assert.Equal(t, exports.ExportDirMode, info.Mode().Perm())

	published := h.transport.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "/srv/nfs/web", *published[0].Mountpoint)
	assert.Equal(t, localAddress, *published[0].Hostname)
	assert.Equal(t, "nfs", *published[0].Fstype)
	assert.Equal(t, "nfsvers=4", *published[0].Options)

	assert.Equal(t, []string{"install", "start"}, h.manager.Calls())
	assert.Equal(t, 1, h.exporter.Reloads())

	st := h.state(t)
	assert.True(t, st.Installed)
	assert.False(t, st.ResyncPending)
	assert.False(t, st.ConfigPending)
	assert.Equal(t, report.PassID, st.LastPassID)
	assert.Equal(t, state.StatusActive, st.Status.Level)
}

func TestReconcile_IdempotentWithoutChanges(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	_, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)
	first := h.exportsContent(t)

	report, err := h.reconcile(t, TriggerTimer|TriggerRequestsChanged)
	require.NoError(t, err)

	assert.Equal(t, PhaseIdle, report.Phase)
	assert.Equal(t, first, h.exportsContent(t))
	assert.Equal(t, 1, h.exporter.Reloads(), "no re-export without a change")
	assert.Equal(t, 1, h.transport.PublishCount())
}

func TestReconcile_ExplicitResyncReexports(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	_, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)

	_, err = h.reconcile(t, TriggerResync)
	require.NoError(t, err)
	assert.Equal(t, 2, h.exporter.Reloads())
	assert.Equal(t, 2, h.transport.PublishCount())
}

// preference=["nfs/1","nfs/0"], only nfs/0 present: the local unit serves.
func TestReconcile_FallsThroughToLocal(t *testing.T) {
	opts := defaultOptions()
	opts.ActiveUnits = []string{"nfs/1", "nfs/0"}
	h := newHarness(t, opts)
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	report, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)

	assert.True(t, report.Active)
	assert.Equal(t, "nfs/0@10.0.0.1", report.Selection)
	assert.True(t, h.manager.Running())
}

// preference=["nfs/1"], nfs/1 absent: nobody serves.
func TestReconcile_NoEligibleNodeWithdraws(t *testing.T) {
	opts := defaultOptions()
	opts.ActiveUnits = []string{"nfs/1"}
	h := newHarness(t, opts)
	h.manager.running = true
	require.NoError(t, afero.WriteFile(h.fs, exportsFile, []byte("/srv/nfs/web 10.0.0.5(rw)\n"), 0o644))

	h.transport.SetRequests(
		transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}},
		transport.MountRequest{ApplicationName: "", Identifier: "broken:0"},
	)

	report, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)

	assert.False(t, report.Active)
	assert.Equal(t, "none", report.Selection)
	assert.False(t, h.manager.Running())
	assert.Contains(t, h.manager.Calls(), "stop")
	assert.Zero(t, h.exporter.Reloads())

	published := h.transport.Published()
	require.Len(t, published, 2)
	for _, r := range published {
		assert.True(t, r.IsWithdrawal())
	}
	assert.Equal(t, 1, h.transport.RawClearCount())

	// Inactive units leave the table file alone.
	assert.Equal(t, "/srv/nfs/web 10.0.0.5(rw)\n", h.exportsContent(t))
}

func TestReconcile_RemoteWinnerWithdraws(t *testing.T) {
	opts := defaultOptions()
	opts.ActiveUnits = []string{"nfs/1", "nfs/0"}
	h := newHarness(t, opts)
	h.transport.SetPeers(transport.PeerUnit{Name: "nfs/1", Attributes: map[string]string{"private-address": "10.0.0.2"}})
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	report, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)

	assert.False(t, report.Active)
	assert.Equal(t, "nfs/1@10.0.0.2", report.Selection)
	assert.NotContains(t, h.manager.Calls(), "start")
	require.Len(t, h.transport.Published(), 1)
	assert.True(t, h.transport.Published()[0].IsWithdrawal())
}

func TestReconcile_FailoverWhenPreferredPeerLeaves(t *testing.T) {
	opts := defaultOptions()
	opts.ActiveUnits = []string{"nfs/1", "nfs/0"}
	h := newHarness(t, opts)
	h.transport.SetPeers(transport.PeerUnit{Name: "nfs/1", Attributes: map[string]string{"private-address": "10.0.0.2"}})
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	report, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)
	require.False(t, report.Active)

	h.transport.SetPeers()

	report, err = h.reconcile(t, TriggerPeersChanged)
	require.NoError(t, err)
	assert.True(t, report.Active)
	assert.Equal(t, localAddress, *h.transport.Published()[0].Hostname)
}

func TestReconcile_MergesRequestsOfSameApplication(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.transport.SetRequests(
		transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.6"}},
		transport.MountRequest{ApplicationName: "web", Identifier: "web:1", Addresses: []string{"10.0.0.5", "10.0.0.6"}},
	)

	report, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)

	assert.Equal(t, []string{"/srv/nfs/web"}, report.Exports)
	assert.Contains(t, h.exportsContent(t), "/srv/nfs/web 10.0.0.5(rw,sync,no_subtree_check) 10.0.0.6(rw,sync,no_subtree_check)")
	assert.Len(t, h.transport.Published(), 2)
}

func TestReconcile_EmptyRequestSetRemovesTable(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	_, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)

	h.transport.SetRequests()

	report, err := h.reconcile(t, TriggerRequestsChanged)
	require.NoError(t, err)

	assert.Equal(t, PhaseIdle, report.Phase)
	assert.Empty(t, report.Exports)

	exists, err := afero.Exists(h.fs, exportsFile)
	require.NoError(t, err)
	assert.False(t, exists, "table file must be absent, not empty")
	assert.Equal(t, 2, h.exporter.Reloads())
}

func TestReconcile_RequestsWithoutAddressesLeaveNoTable(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: nil})

	report, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)

	assert.Equal(t, PhaseIdle, report.Phase)
	assert.Empty(t, report.Exports)

	exists, err := afero.Exists(h.fs, exportsFile)
	require.NoError(t, err)
	assert.False(t, exists, "a table granting no client must be absent")

	dirExists, err := afero.DirExists(h.fs, "/srv/nfs/web")
	require.NoError(t, err)
	assert.True(t, dirExists)
	assert.Equal(t, 1, h.exporter.Reloads())
}

func TestReconcile_ReloadFailureKeepsResync(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.exporter.failures = 1
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	report, err := h.reconcile(t, TriggerInstall)
	require.Error(t, err)

	var cmdErr *service.CommandError
	assert.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, state.Status{Level: state.StatusBlocked, Message: "Unable to reload exports"}, report.Status)
	assert.Equal(t, PhaseRenderingExports, report.Phase)
	assert.True(t, report.ResyncPending)
	assert.True(t, h.state(t).ResyncPending)
	assert.Zero(t, h.transport.PublishCount(), "responses are not published before the reload succeeded")

	// The next pass, whatever its trigger, retries the whole mounts phase.
	report, err = h.reconcile(t, TriggerRetry)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, report.Phase)
	assert.False(t, h.state(t).ResyncPending)
	assert.Equal(t, 2, h.exporter.Reloads())
	assert.Equal(t, 1, h.transport.PublishCount())
}

func TestReconcile_StartFailureKeepsResync(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.manager.startErr = errors.New("unit failed")
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	report, err := h.reconcile(t, TriggerInstall)
	require.Error(t, err)

	assert.Equal(t, state.StatusBlocked, report.Status.Level)
	assert.Equal(t, "Unable to start nfs-kernel-server", report.Status.Message)
	assert.True(t, h.state(t).ResyncPending)
	assert.Zero(t, h.exporter.Reloads())

	exists, err := afero.Exists(h.fs, exportsFile)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReconcile_ConfigPatchFailureDoesNotStopMounts(t *testing.T) {
	h := newHarness(t, defaultOptions(), func(cfg *Config, deps *Deps) {
		deps.DaemonConfig = service.NewDaemonConfig(afero.NewReadOnlyFs(afero.NewMemMapFs()), defaultsFile)
	})
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	report, err := h.reconcile(t, TriggerInstall)
	require.Error(t, err)

	assert.Equal(t, state.Status{Level: state.StatusBlocked, Message: "Unable to update config file!"}, report.Status)
	assert.True(t, report.ConfigPending)
	assert.False(t, report.ResyncPending)
	assert.Equal(t, 1, h.transport.PublishCount(), "mounts are still served")
	assert.True(t, h.state(t).ConfigPending)
}

func TestReconcile_DaemonCountChangeRestartsRunningService(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	_, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)

	opts := h.r.Options()
	opts.DaemonCount = 16
	h.r.SetOptions(opts)

	report, err := h.reconcile(t, TriggerConfigChanged)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, report.Phase)

	data, err := afero.ReadFile(h.fs, defaultsFile)
	require.NoError(t, err)
	assert.Equal(t, "RPCNFSDCOUNT=16\n", string(data))

	calls := h.manager.Calls()
	assert.Equal(t, "restart", calls[len(calls)-1])
	assert.Equal(t, 1, h.exporter.Reloads(), "daemon count alone does not re-export")
}

func TestReconcile_MountOptionsChangeRepublishes(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	_, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)

	opts := h.r.Options()
	opts.MountOptions = "nfsvers=4.2,hard"
	h.r.SetOptions(opts)

	_, err = h.reconcile(t, TriggerConfigChanged)
	require.NoError(t, err)

	assert.Equal(t, "nfsvers=4.2,hard", *h.transport.Published()[0].Options)
	assert.Equal(t, 2, h.exporter.Reloads())
}

func TestReconcile_NotJoinedIsNothingToDo(t *testing.T) {
	h := newHarness(t, defaultOptions())

	report, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)

	assert.Equal(t, state.StatusWaiting, report.Status.Level)
	assert.True(t, report.ResyncPending)
	assert.Zero(t, h.transport.PublishCount())
	assert.Zero(t, h.exporter.Reloads())
	assert.Equal(t, []string{"install"}, h.manager.Calls())

	// Once the requester joins the pending re-sync is honoured.
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})
	report, err = h.reconcile(t, TriggerRequestsChanged)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, report.Phase)
}

func TestReconcile_InstallFailure(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.manager.installErr = &service.CommandError{Command: "apt-get install -y nfs-kernel-server", Err: errors.New("exit status 100")}
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	report, err := h.reconcile(t, TriggerInstall)
	require.Error(t, err)

	assert.Equal(t, PhaseInstalling, report.Phase)
	assert.Equal(t, state.Status{Level: state.StatusBlocked, Message: "Unable to install NFS"}, report.Status)
	assert.False(t, h.state(t).Installed)
	assert.Zero(t, h.transport.PublishCount())
}

func TestReconcile_InstallCreatesExportsDirectory(t *testing.T) {
	h := newHarness(t, defaultOptions())

	_, err := h.reconcile(t, TriggerInstall)
	require.NoError(t, err)

	exists, err := afero.DirExists(h.fs, "/etc/exports.d")
	require.NoError(t, err)
	assert.True(t, exists)

	// Installing happens once.
	_, err = h.reconcile(t, TriggerInstall)
	require.NoError(t, err)
	assert.Equal(t, []string{"install"}, h.manager.Calls())
}

func TestReconcile_VerifyMismatchBlocks(t *testing.T) {
	h := newHarness(t, defaultOptions(), func(cfg *Config, deps *Deps) {
		deps.Verifier = fakeVerifier{err: errors.New("missing /srv/nfs/web")}
	})
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	report, err := h.reconcile(t, TriggerInstall)
	require.Error(t, err)
	assert.Equal(t, "Advertised exports do not match", report.Status.Message)
	assert.True(t, h.state(t).ResyncPending)
}

func TestReconcile_PublishFailureKeepsResync(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})
	h.transport.FailPublish(errors.New("relation gone"))

	report, err := h.reconcile(t, TriggerInstall)
	require.Error(t, err)
	assert.Equal(t, state.StatusBlocked, report.Status.Level)
	assert.True(t, h.state(t).ResyncPending)
}

func TestRun_ConvergesAndFollowsChanges(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return h.r.Status().Phase == PhaseIdle
	}, 5*time.Second, 5*time.Millisecond)

	h.transport.SetRequests(
		transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}},
		transport.MountRequest{ApplicationName: "db", Identifier: "db:0", Addresses: []string{"10.0.0.8"}},
	)

	assert.Eventually(t, func() bool {
		st := h.r.Status()
		return st.Phase == PhaseIdle && len(st.Exports) == 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_RetriesFailedPass(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.exporter.failures = 2
	h.transport.SetRequests(transport.MountRequest{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return h.r.Status().Phase == PhaseIdle
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, h.exporter.Reloads())
	assert.Contains(t, strings.Join(h.r.Status().Triggers, ","), "retry")
}

func TestTriggerNamesAndQueue(t *testing.T) {
	assert.Equal(t, "none", Trigger(0).String())
	assert.Equal(t, "install,resync", (TriggerResync | TriggerInstall).String())
	assert.True(t, (TriggerResync | TriggerTimer).Has(TriggerTimer))
	assert.False(t, TriggerTimer.Has(TriggerResync|TriggerTimer))

	q := newQueue()
	q.push(TriggerPeersChanged)
	q.push(TriggerRequestsChanged)
	q.push(TriggerPeersChanged)

	select {
	case <-q.wake:
	default:
		t.Fatal("queue did not signal")
	}
	assert.Equal(t, TriggerPeersChanged|TriggerRequestsChanged, q.take())
	assert.Equal(t, Trigger(0), q.take())
}

func TestRequestsDigest_OrderInsensitive(t *testing.T) {
	a := []transport.MountRequest{
		{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5", "10.0.0.6"}},
		{ApplicationName: "db", Identifier: "db:0"},
	}
	b := []transport.MountRequest{
		{ApplicationName: "db", Identifier: "db:0"},
		{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.6", "10.0.0.5"}},
	}
	assert.Equal(t, requestsDigest(a), requestsDigest(b))

	b[1].Addresses = []string{"10.0.0.7"}
	assert.NotEqual(t, requestsDigest(a), requestsDigest(b))
}
