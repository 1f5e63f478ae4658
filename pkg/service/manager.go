package service

import (
	"context"
	"fmt"

	"github.com/marmos91/exportd/internal/logger"
)

// Manager installs and controls the NFS server daemon.
type Manager interface {
	// Install installs the server package. Installing an already installed
	// package succeeds.
	Install(ctx context.Context) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error

	// IsRunning reports whether the daemon is active.
	IsRunning(ctx context.Context) (bool, error)
}

// SystemdManager manages the daemon through apt-get and systemctl.
type SystemdManager struct {
	runner  Runner
	unit    string
	pkg     string
	install []string
}

// SystemdConfig configures a SystemdManager.
type SystemdConfig struct {
	// Unit is the systemd unit name (e.g. "nfs-kernel-server").
	Unit string `mapstructure:"unit"`

	// Package is the distribution package providing the server.
	Package string `mapstructure:"package"`

	// InstallCommand overrides the package install command. The package name
	// is appended as the last argument. Defaults to "apt-get install -y".
	InstallCommand []string `mapstructure:"install_command"`
}

// NewSystemdManager creates a systemd-backed Manager.
func NewSystemdManager(runner Runner, cfg SystemdConfig) (*SystemdManager, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Unit == "" {
		return nil, fmt.Errorf("service unit name is required")
	}
	if cfg.Package == "" {
		cfg.Package = cfg.Unit
	}
	if len(cfg.InstallCommand) == 0 {
		cfg.InstallCommand = []string{"apt-get", "install", "-y"}
	}

	return &SystemdManager{
		runner:  runner,
		unit:    cfg.Unit,
		pkg:     cfg.Package,
		install: cfg.InstallCommand,
	}, nil
}

func (m *SystemdManager) Install(ctx context.Context) error {
	logger.Info("Installing package %s", m.pkg)
	args := append(append([]string{}, m.install[1:]...), m.pkg)
	_, err := m.runner.Run(ctx, m.install[0], args...)
	return err
}

func (m *SystemdManager) Start(ctx context.Context) error {
	logger.Info("Starting %s", m.unit)
	_, err := m.runner.Run(ctx, "systemctl", "start", m.unit)
	return err
}

func (m *SystemdManager) Stop(ctx context.Context) error {
	logger.Info("Stopping %s", m.unit)
	_, err := m.runner.Run(ctx, "systemctl", "stop", m.unit)
	return err
}

func (m *SystemdManager) Restart(ctx context.Context) error {
	logger.Info("Restarting %s", m.unit)
	_, err := m.runner.Run(ctx, "systemctl", "restart", m.unit)
	return err
}

// IsRunning asks systemd whether the unit is active. A unit that is inactive
// or failed is reported as not running without error.
func (m *SystemdManager) IsRunning(ctx context.Context) (bool, error) {
	_, err := m.runner.Run(ctx, "systemctl", "is-active", "--quiet", m.unit)
	if err == nil {
		return true, nil
	}
	if exitedNonZero(err) {
		return false, nil
	}
	return false, err
}

// Exporter tells the running server to re-read its export table.
type Exporter interface {
	Reload(ctx context.Context) error
}

// ExportfsExporter reloads exports with exportfs(8).
type ExportfsExporter struct {
	runner  Runner
	command []string
}

// NewExportfsExporter creates an Exporter. An empty command defaults to
// "exportfs -ra".
func NewExportfsExporter(runner Runner, command []string) *ExportfsExporter {
	if len(command) == 0 {
		command = []string{"exportfs", "-ra"}
	}
	return &ExportfsExporter{runner: runner, command: command}
}

func (e *ExportfsExporter) Reload(ctx context.Context) error {
	logger.Debug("Reloading exports: %v", e.command)
	_, err := e.runner.Run(ctx, e.command[0], e.command[1:]...)
	return err
}
