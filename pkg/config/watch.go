package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/exportd/internal/logger"
	"github.com/spf13/viper"
)

// Watch reloads the configuration file whenever it changes and hands every
// valid result to onChange. Invalid edits are logged and skipped, the
// previous configuration stays in effect.
//
// Watching needs an existing configuration file.
func Watch(configPath string, onChange func(*Config)) error {
	v := viper.New()
	setupViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file for watching: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			logger.Warn("Ignoring invalid configuration change in %s: %v", e.Name, err)
			return
		}
		logger.Info("Configuration reloaded from %s", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()

	logger.Debug("Watching %s for changes", v.ConfigFileUsed())
	return nil
}
