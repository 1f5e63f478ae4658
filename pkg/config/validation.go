package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Unit names are compared verbatim against the preference list
	if strings.TrimSpace(cfg.Unit.Name) != cfg.Unit.Name {
		return fmt.Errorf("unit.name: must not have surrounding whitespace")
	}

	seen := make(map[string]bool)
	for i, name := range cfg.Options.ActiveUnits {
		if seen[name] {
			return fmt.Errorf("options.active_units[%d]: duplicate unit %q", i, name)
		}
		seen[name] = true
	}

	if strings.ContainsAny(cfg.Options.ExportOptions, " \t\n()") {
		return fmt.Errorf("options.export_options: %q must be a single comma separated option list", cfg.Options.ExportOptions)
	}

	if cfg.Verify.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Verify.Address); err != nil {
			return fmt.Errorf("verify.address: %w", err)
		}
	}

	if cfg.Server.Metrics.Enabled && !cfg.Server.API.Enabled {
		return fmt.Errorf("server.metrics: metrics are served by the API server, enable server.api")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
