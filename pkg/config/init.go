package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const configHeader = `# exportd Configuration File
#
# Environment variables override any value here: EXPORTD_<SECTION>_<KEY>,
# for example EXPORTD_LOGGING_LEVEL=DEBUG.
`

// configSections lists the top-level sections in the order they are written,
// with the comment placed above each one.
var configSections = []struct {
	key     string
	comment string
}{
	{"logging", "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr, path)"},
	{"unit", "This replica. An empty address is detected from the network interfaces"},
	{"options", "Reconciliation options. active_units is the ordered failover preference; empty means this unit always serves"},
	{"service", "The managed NFS server"},
	{"transport", "Where peers and mount requests come from (memory, file, s3)"},
	{"state", "Where reconciler state is persisted (memory, badger)"},
	{"engine", "Periodic re-check and retry pacing"},
	{"verify", "Query mountd after every reload and compare the advertised exports"},
	{"server", "Status API and Prometheus metrics"},
}

// InitConfig writes a configuration file with default values to the default
// location and returns its path.
//
// An existing file is only replaced when force is true.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a configuration file with default values to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := RenderConfig(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// RenderConfig renders cfg as a commented YAML document that Load accepts.
func RenderConfig(cfg *Config) ([]byte, error) {
	var values map[string]any
	if err := mapstructure.Decode(cfg, &values); err != nil {
		return nil, fmt.Errorf("failed to convert config: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	for _, section := range configSections {
		value, ok := values[section.key]
		if !ok {
			continue
		}

		data, err := yaml.Marshal(map[string]any{section.key: humanize(value)})
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s section: %w", section.key, err)
		}

		fmt.Fprintf(&buf, "\n# %s\n", section.comment)
		buf.Write(data)
	}

	return buf.Bytes(), nil
}

// humanize rewrites durations as strings ("30s") so the file stays readable.
func humanize(v any) any {
	switch value := v.(type) {
	case time.Duration:
		return value.String()
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = humanize(item)
		}
		return out
	default:
		return v
	}
}
