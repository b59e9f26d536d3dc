package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "gate.window").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateProviders(cfg.Providers)...)
	errs = append(errs, validateGate(&cfg.Gate)...)
	errs = append(errs, validateTokens(&cfg.Processing.Tokens)...)
	errs = append(errs, validateUsage(&cfg.Usage)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// validateProviders validates provider configurations in name order so the
// error list is stable.
func validateProviders(providers map[string]ProviderConfig) []FieldError {
	var errs []FieldError

	if len(providers) == 0 {
		return append(errs, FieldError{
			Field:   "providers",
			Message: "at least one provider must be configured",
		})
	}

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := providers[name]
		prefix := "providers." + name

		if p.BaseURL == "" {
			errs = append(errs, FieldError{Field: prefix + ".base_url", Message: "base URL is required"})
		} else if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{Field: prefix + ".base_url", Message: fmt.Sprintf("invalid URL %q", p.BaseURL)})
		}

		if p.Timeout < 0 {
			errs = append(errs, FieldError{Field: prefix + ".timeout", Message: "timeout must be positive"})
		}

		if p.Limits.TokensPerMinute <= 0 {
			errs = append(errs, FieldError{Field: prefix + ".limits.tokens_per_minute", Message: "must be positive"})
		}
		if p.Limits.RequestsPerMinute <= 0 {
			errs = append(errs, FieldError{Field: prefix + ".limits.requests_per_minute", Message: "must be positive"})
		}
		if p.Limits.MaxConcurrent <= 0 {
			errs = append(errs, FieldError{Field: prefix + ".limits.max_concurrent", Message: "must be positive"})
		}

		if p.Retry.MaxAttempts < 1 {
			errs = append(errs, FieldError{Field: prefix + ".retry.max_attempts", Message: "must be at least 1"})
		}
		if p.Retry.MaxAttempts > 20 {
			errs = append(errs, FieldError{Field: prefix + ".retry.max_attempts", Message: "exceeds reasonable limit (20)"})
		}
		if p.Retry.BackoffBase < 0 {
			errs = append(errs, FieldError{Field: prefix + ".retry.backoff_base", Message: "must be non-negative"})
		}
		if p.Retry.MaxBackoff < 0 {
			errs = append(errs, FieldError{Field: prefix + ".retry.max_backoff", Message: "must be non-negative"})
		}
	}

	return errs
}

// validateGate validates capacity gate tuning.
func validateGate(cfg *GateConfig) []FieldError {
	var errs []FieldError

	if cfg.PollInterval <= 0 {
		errs = append(errs, FieldError{Field: "gate.poll_interval", Message: "must be positive"})
	}
	if cfg.Window <= 0 {
		errs = append(errs, FieldError{Field: "gate.window", Message: "must be positive"})
	} else if cfg.PollInterval >= cfg.Window {
		errs = append(errs, FieldError{Field: "gate.poll_interval", Message: "must be shorter than gate.window"})
	}

	return errs
}

// validateTokens validates token estimation configuration.
func validateTokens(cfg *TokensConfig) []FieldError {
	var errs []FieldError

	validEstimators := map[string]bool{"simple": true, "tiktoken": true}
	if !validEstimators[cfg.Estimator] {
		errs = append(errs, FieldError{
			Field:   "processing.tokens.estimator",
			Message: fmt.Sprintf("invalid estimator %q (must be 'simple' or 'tiktoken')", cfg.Estimator),
		})
	}
	if cfg.CharsPerToken <= 0 {
		errs = append(errs, FieldError{Field: "processing.tokens.chars_per_token", Message: "must be positive"})
	}
	if cfg.Overhead < 0 {
		errs = append(errs, FieldError{Field: "processing.tokens.overhead", Message: "must be non-negative"})
	}

	return errs
}

// validateUsage validates usage history configuration. Backend sections
// other than the selected one are not checked.
func validateUsage(cfg *UsageConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}

	switch cfg.Backend {
	case "memory":
		if cfg.Memory.MaxEntries < 0 {
			errs = append(errs, FieldError{Field: "usage.memory.max_entries", Message: "must be non-negative"})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "usage.sqlite.path", Message: "path is required"})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "usage.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q (must be 'sqlite' or 'sqlite3')", cfg.SQLite.Driver),
			})
		}
	case "redis":
		if _, _, err := net.SplitHostPort(cfg.Redis.Addr); err != nil {
			errs = append(errs, FieldError{Field: "usage.redis.addr", Message: fmt.Sprintf("invalid address: %v", err)})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{Field: "usage.redis.db", Message: "must be non-negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "usage.backend",
			Message: fmt.Sprintf("invalid backend %q (must be 'memory', 'sqlite' or 'redis')", cfg.Backend),
		})
	}

	if cfg.Retention.Period < 0 {
		errs = append(errs, FieldError{Field: "usage.retention.period", Message: "must be non-negative"})
	}
	if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
		errs = append(errs, FieldError{Field: "usage.retention.schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn or error)", cfg.Logging.Level),
		})
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be 'json' or 'text')", cfg.Logging.Format),
		})
	}

	if cfg.ListenAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
			errs = append(errs, FieldError{Field: "telemetry.listen_address", Message: fmt.Sprintf("invalid address: %v", err)})
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with /"})
	}

	if cfg.Tracing.Enabled {
		validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
		if !validSamplers[cfg.Tracing.Sampler] {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be 'always', 'never' or 'ratio')", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0.0 and 1.0"})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
	}

	if cfg.Health.Enabled {
		if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
			errs = append(errs, FieldError{Field: "telemetry.health.liveness_path", Message: "path must start with /"})
		}
		if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
			errs = append(errs, FieldError{Field: "telemetry.health.readiness_path", Message: "path must start with /"})
		}
	}

	return errs
}
