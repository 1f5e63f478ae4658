package config

import (
	"strings"
	"time"

	"github.com/marmos91/exportd/pkg/election"
	"github.com/marmos91/exportd/pkg/probe"
	"github.com/marmos91/exportd/pkg/transport"
)

// Default values.
const (
	DefaultUnitName      = "exportd/0"
	DefaultStorageRoot   = "/srv/nfs"
	DefaultExportOptions = "rw,sync,no_subtree_check"
	DefaultDaemonCount   = 8
	DefaultServiceName   = "nfs-kernel-server"
	DefaultExportsFile   = "/etc/exports.d/nfs.exports"
	DefaultDefaultsFile  = "/etc/default/nfs-kernel-server"
	DefaultAPIPort       = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyUnitDefaults(&cfg.Unit)
	applyOptionsDefaults(&cfg.Options)
	applyServiceDefaults(&cfg.Service)
	applyTransportDefaults(&cfg.Transport)
	applyStateDefaults(&cfg.State)
	applyEngineDefaults(&cfg.Engine)
	applyVerifyDefaults(&cfg.Verify)
	applyServerDefaults(&cfg.Server)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyUnitDefaults(cfg *UnitConfig) {
	if cfg.Name == "" {
		cfg.Name = DefaultUnitName
	}
	if cfg.AddressKey == "" {
		cfg.AddressKey = transport.DefaultAddressKey
	}
}

func applyOptionsDefaults(cfg *OptionsConfig) {
	if cfg.StorageRoot == "" {
		cfg.StorageRoot = DefaultStorageRoot
	}
	if cfg.ExportOptions == "" {
		cfg.ExportOptions = DefaultExportOptions
	}
	if cfg.InitialDaemonCount == 0 {
		cfg.InitialDaemonCount = DefaultDaemonCount
	}

	// "nfs/1, nfs/0" and ["nfs/1", " nfs/0"] both become [nfs/1 nfs/0]
	cfg.ActiveUnits = election.NormalizePreference(cfg.ActiveUnits)
	if cfg.ActiveUnits == nil {
		cfg.ActiveUnits = []string{}
	}
}

func applyServiceDefaults(cfg *ServiceConfig) {
	if cfg.Name == "" {
		cfg.Name = DefaultServiceName
	}
	if cfg.Package == "" {
		cfg.Package = cfg.Name
	}
	if cfg.Manager == "" {
		cfg.Manager = "systemd"
	}
	if cfg.ExportsFile == "" {
		cfg.ExportsFile = DefaultExportsFile
	}
	if cfg.DefaultsFile == "" {
		cfg.DefaultsFile = DefaultDefaultsFile
	}
	if len(cfg.ReloadCommand) == 0 {
		cfg.ReloadCommand = []string{"exportfs", "-ra"}
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 5 * time.Minute
	}
}

func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.File == nil {
		cfg.File = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Defaults for the file transport (also used for config file generation)
	if _, ok := cfg.File["relations_path"]; !ok {
		cfg.File["relations_path"] = "/var/lib/exportd/relations.yaml"
	}
}

func applyStateDefaults(cfg *StateConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/var/lib/exportd/state"
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	// A negative interval disables the periodic re-check.
	if cfg.ResyncInterval == 0 {
		cfg.ResyncInterval = 5 * time.Minute
	}
	if cfg.ResyncInterval < 0 {
		cfg.ResyncInterval = 0
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.RetryBurst == 0 {
		cfg.RetryBurst = 3
	}
}

func applyVerifyDefaults(cfg *VerifyConfig) {
	if cfg.Address == "" {
		cfg.Address = probe.DefaultAddress
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = DefaultAPIPort
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// The API server is enabled by default in generated configuration files.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			API: APIConfig{Enabled: true},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
