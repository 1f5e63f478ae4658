package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete exportd configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (EXPORTD_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Transport and state sections follow the store pattern: Type selects the
// implementation and only the option map matching it is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Unit identifies this replica
	Unit UnitConfig `mapstructure:"unit" yaml:"unit"`

	// Options are the operator-tunable reconciliation options
	Options OptionsConfig `mapstructure:"options" yaml:"options"`

	// Service describes the NFS server being managed
	Service ServiceConfig `mapstructure:"service" yaml:"service"`

	// Transport selects where peers and mount requests come from
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// State selects where reconciler state is persisted
	State StateConfig `mapstructure:"state" yaml:"state"`

	// Engine tunes the reconciliation loop
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`

	// Verify optionally checks advertised exports after every reload
	Verify VerifyConfig `mapstructure:"verify" yaml:"verify"`

	// Server contains the HTTP API and metrics settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// UnitConfig identifies the local replica.
type UnitConfig struct {
	// Name is the unique unit name (e.g. "nfs/0")
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// Address is the advertised address. Empty means detect it from the
	// interface used for the default route.
	Address string `mapstructure:"address" yaml:"address" validate:"omitempty,ip"`

	// AddressKey is the peer attribute carrying each unit's address
	AddressKey string `mapstructure:"address_key" yaml:"address_key"`
}

// OptionsConfig holds the options a pass runs with.
type OptionsConfig struct {
	// StorageRoot is the parent directory of every export
	StorageRoot string `mapstructure:"storage_root" yaml:"storage_root" validate:"required,startswith=/"`

	// ExportOptions is the server-side option string of every export line
	ExportOptions string `mapstructure:"export_options" yaml:"export_options" validate:"required"`

	// MountOptions is advertised to requesters
	MountOptions string `mapstructure:"mount_options" yaml:"mount_options"`

	// ActiveUnits is the ordered failover preference. Accepts a list or a
	// comma separated string. Empty means every unit serves.
	ActiveUnits []string `mapstructure:"active_units" yaml:"active_units"`

	// InitialDaemonCount is the nfsd thread count
	InitialDaemonCount int `mapstructure:"initial_daemon_count" yaml:"initial_daemon_count" validate:"gte=1,lte=1024"`
}

// ServiceConfig describes the managed NFS server.
type ServiceConfig struct {
	// Name is the service unit and package name
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// Package is installed on first run. Defaults to Name.
	Package string `mapstructure:"package" yaml:"package"`

	// Manager selects the service manager implementation
	// Valid values: systemd
	Manager string `mapstructure:"manager" yaml:"manager" validate:"required,oneof=systemd"`

	// InstallCommand overrides the package install command
	InstallCommand []string `mapstructure:"install_command" yaml:"install_command,omitempty"`

	// ExportsFile is the rendered export table
	ExportsFile string `mapstructure:"exports_file" yaml:"exports_file" validate:"required,startswith=/"`

	// ExportsTemplate optionally replaces the built-in export table template
	ExportsTemplate string `mapstructure:"exports_template" yaml:"exports_template,omitempty"`

	// DefaultsFile holds the daemon count setting
	DefaultsFile string `mapstructure:"defaults_file" yaml:"defaults_file" validate:"required,startswith=/"`

	// ReloadCommand re-reads the export table
	ReloadCommand []string `mapstructure:"reload_command" yaml:"reload_command" validate:"required,min=1"`

	// CommandTimeout bounds every external command
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout" validate:"gt=0"`
}

// TransportConfig specifies the relation transport.
type TransportConfig struct {
	// Type specifies which transport to use
	// Valid values: memory, file, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory file s3"`

	// File contains file transport options. Only used when Type = "file"
	File map[string]any `mapstructure:"file" yaml:"file,omitempty"`

	// S3 contains S3 transport options. Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// StateConfig specifies the state store.
type StateConfig struct {
	// Type specifies which state store to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB options. Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// EngineConfig tunes the reconciliation loop.
type EngineConfig struct {
	// ResyncInterval is the periodic re-check. A negative value disables it.
	ResyncInterval time.Duration `mapstructure:"resync_interval" yaml:"resync_interval"`

	// RetryInterval is the delay before a failed pass is retried
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval" validate:"gt=0"`

	// RetryBurst is how many retries may run back to back
	RetryBurst uint `mapstructure:"retry_burst" yaml:"retry_burst" validate:"gte=1"`
}

// VerifyConfig configures the MOUNT protocol probe.
type VerifyConfig struct {
	// Enabled turns the probe on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Address is the mountd host:port to query
	Address string `mapstructure:"address" yaml:"address" validate:"omitempty,hostname_port"`

	// Timeout bounds a single probe
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// API exposes status and the re-sync endpoint
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Metrics enables Prometheus metrics on the API server
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// APIConfig configures the status HTTP server.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"omitempty,gte=1,lte=65535"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

// unmarshal decodes, defaults and validates the configuration held by v.
//
// viper's default decode hooks turn a comma separated string into a slice,
// which is how active_units accepts both forms.
func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: EXPORTD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("EXPORTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/exportd/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "exportd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "exportd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
