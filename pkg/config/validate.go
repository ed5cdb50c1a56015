package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "rules[2].metric").
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
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

var (
	validFormats     = []string{"markdown", "csv", "json", "text"}
	validSchemas     = []string{"policy", "exception", "risk", "metric", "generic"}
	validExtractors  = []string{"keyvalue", "table"}
	validKinds       = []string{"completion", "count", "value", "expiry", "staleness"}
	validUnits       = []string{"percent", "count", "hours", "bool"}
	validComparators = []string{"gte", "lte", "eq", "not_expired", "must_exist"}
	validSeverities  = []string{"block", "warn"}
	validLogLevels   = []string{"debug", "info", "warn", "error"}
	validLogFormats  = []string{"json", "text", "console"}
	validSamplers    = []string{"always", "never", "ratio"}
)

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateSources(cfg.Sources)...)
	errs = append(errs, validateMetrics(cfg)...)
	errs = append(errs, validateRules(cfg)...)
	errs = append(errs, validateWaivers(cfg)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateWatch(&cfg.Watch)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateSources validates evidence source configuration.
func validateSources(sources []SourceConfig) []FieldError {
	var errs []FieldError
	seen := make(map[string]bool)

	for i, s := range sources {
		prefix := fmt.Sprintf("sources[%d]", i)

		if s.ID == "" {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: "source id is required"})
		} else if seen[s.ID] {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate source id %q", s.ID)})
		}
		seen[s.ID] = true

		if s.Path == "" {
			errs = append(errs, FieldError{Field: prefix + ".path", Message: "source path is required"})
		}
		if !contains(validFormats, s.Format) {
			errs = append(errs, FieldError{
				Field:   prefix + ".format",
				Message: fmt.Sprintf("invalid format %q (must be one of: %s)", s.Format, strings.Join(validFormats, ", ")),
			})
		}
		if !contains(validSchemas, s.Schema) {
			errs = append(errs, FieldError{
				Field:   prefix + ".schema",
				Message: fmt.Sprintf("invalid schema %q (must be one of: %s)", s.Schema, strings.Join(validSchemas, ", ")),
			})
		}

		switch s.Format {
		case "markdown":
			if !contains(validExtractors, s.Extract) {
				errs = append(errs, FieldError{
					Field:   prefix + ".extract",
					Message: fmt.Sprintf("invalid extractor %q (must be one of: %s)", s.Extract, strings.Join(validExtractors, ", ")),
				})
			}
			if s.Extract == "keyvalue" && s.Schema != "metric" {
				errs = append(errs, FieldError{Field: prefix + ".schema", Message: "keyvalue extraction requires schema \"metric\""})
			}
			if s.Extract == "table" && s.Schema == "metric" {
				errs = append(errs, FieldError{Field: prefix + ".schema", Message: "table extraction cannot use schema \"metric\""})
			}
		case "text":
			if s.Schema != "metric" {
				errs = append(errs, FieldError{Field: prefix + ".schema", Message: "text sources require schema \"metric\""})
			}
		case "csv":
			if s.Schema == "metric" {
				errs = append(errs, FieldError{Field: prefix + ".schema", Message: "csv sources cannot use schema \"metric\""})
			}
		case "json":
			if s.RecordsPath == "" && s.Schema != "metric" {
				errs = append(errs, FieldError{Field: prefix + ".records_path", Message: "records_path is required for record schemas"})
			}
			if s.RecordsPath != "" && s.Schema == "metric" {
				errs = append(errs, FieldError{Field: prefix + ".schema", Message: "records_path cannot be used with schema \"metric\""})
			}
		}
	}

	return errs
}

// validateMetrics validates metric definitions and their source references.
func validateMetrics(cfg *Config) []FieldError {
	var errs []FieldError
	seen := make(map[string]bool)

	for i, m := range cfg.Metrics {
		prefix := fmt.Sprintf("metrics[%d]", i)

		if m.Name == "" {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: "metric name is required"})
		} else if seen[m.Name] {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate metric name %q", m.Name)})
		}
		seen[m.Name] = true

		if !contains(validKinds, m.Kind) {
			errs = append(errs, FieldError{
				Field:   prefix + ".kind",
				Message: fmt.Sprintf("invalid kind %q (must be one of: %s)", m.Kind, strings.Join(validKinds, ", ")),
			})
		}
		if !contains(validUnits, m.Unit) {
			errs = append(errs, FieldError{
				Field:   prefix + ".unit",
				Message: fmt.Sprintf("invalid unit %q (must be one of: %s)", m.Unit, strings.Join(validUnits, ", ")),
			})
		}

		src := cfg.Source(m.Source)
		if src == nil {
			errs = append(errs, FieldError{Field: prefix + ".source", Message: fmt.Sprintf("unknown source %q", m.Source)})
			continue
		}

		keyed := src.Schema == "metric"
		switch m.Kind {
		case "completion", "count":
			if keyed {
				errs = append(errs, FieldError{Field: prefix + ".source", Message: fmt.Sprintf("%s metrics need a record source, %q holds key/value entries", m.Kind, src.ID)})
			}
			if m.Kind == "completion" && !m.TargetTotal && m.Target <= 0 {
				errs = append(errs, FieldError{Field: prefix + ".target", Message: "completion target must be positive unless target_total is set"})
			}
		case "value":
			if m.Key == "" {
				errs = append(errs, FieldError{Field: prefix + ".key", Message: "value metrics require a key"})
			}
			if !keyed {
				errs = append(errs, FieldError{Field: prefix + ".source", Message: fmt.Sprintf("value metrics need a key/value source, %q holds records", src.ID)})
			}
		case "expiry", "staleness":
			if keyed && m.Key == "" {
				errs = append(errs, FieldError{Field: prefix + ".key", Message: fmt.Sprintf("%s metrics over key/value sources require a key", m.Kind)})
			}
		}

		for j, f := range m.Filters {
			if f.Field == "" {
				errs = append(errs, FieldError{Field: fmt.Sprintf("%s.filters[%d].field", prefix, j), Message: "filter field is required"})
			}
			if len(f.In) == 0 && len(f.NotIn) == 0 {
				errs = append(errs, FieldError{Field: fmt.Sprintf("%s.filters[%d]", prefix, j), Message: "filter needs in or not_in values"})
			}
		}
	}

	return errs
}

// validateRules validates rule definitions and their metric references.
func validateRules(cfg *Config) []FieldError {
	var errs []FieldError
	seen := make(map[string]bool)

	for i, r := range cfg.Rules {
		prefix := fmt.Sprintf("rules[%d]", i)

		if r.ID == "" {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: "rule id is required"})
		} else if seen[r.ID] {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate rule id %q", r.ID)})
		}
		seen[r.ID] = true

		if r.Family == "" {
			errs = append(errs, FieldError{Field: prefix + ".family", Message: "rule family is required"})
		}
		if !contains(validComparators, r.Comparator) {
			errs = append(errs, FieldError{
				Field:   prefix + ".comparator",
				Message: fmt.Sprintf("invalid comparator %q (must be one of: %s)", r.Comparator, strings.Join(validComparators, ", ")),
			})
		}
		if !contains(validSeverities, r.Severity) {
			errs = append(errs, FieldError{
				Field:   prefix + ".severity",
				Message: fmt.Sprintf("invalid severity %q (must be one of: %s)", r.Severity, strings.Join(validSeverities, ", ")),
			})
		}
		if r.Message == "" {
			errs = append(errs, FieldError{Field: prefix + ".message", Message: "remediation message is required"})
		}

		m := cfg.Metric(r.Metric)
		if m == nil {
			errs = append(errs, FieldError{Field: prefix + ".metric", Message: fmt.Sprintf("unknown metric %q", r.Metric)})
			continue
		}
		if r.Comparator == "not_expired" && m.Kind != "expiry" {
			errs = append(errs, FieldError{Field: prefix + ".comparator", Message: fmt.Sprintf("not_expired requires an expiry metric, %q is %s", m.Name, m.Kind)})
		}
	}

	return errs
}

// validateWaivers validates exception register references.
func validateWaivers(cfg *Config) []FieldError {
	var errs []FieldError

	for i, id := range cfg.Waivers.Sources {
		src := cfg.Source(id)
		if src == nil {
			errs = append(errs, FieldError{Field: fmt.Sprintf("waivers.sources[%d]", i), Message: fmt.Sprintf("unknown source %q", id)})
			continue
		}
		if src.Schema != "exception" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("waivers.sources[%d]", i), Message: fmt.Sprintf("source %q must use schema \"exception\"", id)})
		}
	}
	if cfg.Waivers.ExpiringWindow < 0 {
		errs = append(errs, FieldError{Field: "waivers.expiring_window", Message: "expiring window must be non-negative"})
	}

	return errs
}

// validateAudit validates audit configuration.
func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	if cfg.Path == "" {
		errs = append(errs, FieldError{Field: "audit.path", Message: "audit log path is required"})
	}
	if cfg.SQLite.Enabled && cfg.SQLite.Path == "" {
		errs = append(errs, FieldError{Field: "audit.sqlite.path", Message: "sqlite path is required when sqlite is enabled"})
	}
	if cfg.SQLite.BusyTimeout < 0 {
		errs = append(errs, FieldError{Field: "audit.sqlite.busy_timeout", Message: "busy timeout must be non-negative"})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	if !contains(validLogLevels, strings.ToLower(cfg.Logging.Level)) {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be one of: %s)", cfg.Logging.Level, strings.Join(validLogLevels, ", ")),
		})
	}
	if !contains(validLogFormats, strings.ToLower(cfg.Logging.Format)) {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be one of: %s)", cfg.Logging.Format, strings.Join(validLogFormats, ", ")),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}

	if cfg.Tracing.Enabled {
		if !contains(validSamplers, cfg.Tracing.Sampler) {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be one of: %s)", cfg.Tracing.Sampler, strings.Join(validSamplers, ", ")),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "sample ratio must be between 0.0 and 1.0"})
		}
		if cfg.Tracing.Exporter != "otlp" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.exporter", Message: fmt.Sprintf("unsupported exporter %q (must be otlp)", cfg.Tracing.Exporter)})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
	}

	return errs
}

// validateWatch validates watch mode configuration.
func validateWatch(cfg *WatchConfig) []FieldError {
	var errs []FieldError

	if cfg.DebounceInterval < 0 {
		errs = append(errs, FieldError{Field: "watch.debounce_interval", Message: "debounce interval must be non-negative"})
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{Field: "watch.schedule", Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.Schedule, err)})
		}
	}

	return errs
}

// contains reports whether s is one of values.
func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
