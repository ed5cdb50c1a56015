package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable Tollgate reads.
const EnvPrefix = "TOLLGATE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// An empty path loads the compiled-in default gate. It applies default
// values, validates the configuration, and returns any errors. The
// configuration is not modified by environment variables; use
// LoadConfigWithEnvOverrides for that functionality.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		cfg, err := Parse(defaultGate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse default gate configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML gate configuration, applies defaults, and validates
// the result.
func Parse(data []byte) (*Config, error) {
	cfg := newBase()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TOLLGATE_SECTION_FIELD (e.g., TOLLGATE_AUDIT_PATH). Environment
// variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file (or the compiled-in gate)
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed threshold and toggle values are rejected rather than ignored,
// since a silently ignored threshold changes the gate outcome.
func applyEnvOverrides(cfg *Config) error {
	var errs []FieldError

	// Source path overrides: TOLLGATE_SOURCE_<ID>_PATH
	for i := range cfg.Sources {
		if val := os.Getenv(EnvPrefix + "SOURCE_" + EnvKey(cfg.Sources[i].ID) + "_PATH"); val != "" {
			cfg.Sources[i].Path = val
		}
	}

	// Threshold overrides: TOLLGATE_THRESHOLD_<RULE_ID>
	for i := range cfg.Rules {
		name := EnvPrefix + "THRESHOLD_" + EnvKey(cfg.Rules[i].ID)
		if val := os.Getenv(name); val != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				errs = append(errs, FieldError{Field: name, Message: fmt.Sprintf("invalid threshold %q", val)})
				continue
			}
			cfg.Rules[i].Threshold = f
		}
	}

	// Family toggles: TOLLGATE_BLOCK_<FAMILY>
	for _, family := range cfg.RuleFamilies() {
		name := EnvPrefix + "BLOCK_" + EnvKey(family)
		if val := os.Getenv(name); val != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				errs = append(errs, FieldError{Field: name, Message: fmt.Sprintf("invalid boolean %q", val)})
				continue
			}
			cfg.Families[family] = FamilyConfig{WarnOnly: !b}
		}
	}

	// Audit overrides
	if val := os.Getenv("TOLLGATE_AUDIT_PATH"); val != "" {
		cfg.Audit.Path = val
	}
	if val := os.Getenv("TOLLGATE_AUDIT_ACTOR"); val != "" {
		cfg.Audit.Actor = val
	}
	if val := os.Getenv("TOLLGATE_AUDIT_SQLITE_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Audit.SQLite.Enabled = b
		}
	}
	if val := os.Getenv("TOLLGATE_AUDIT_SQLITE_PATH"); val != "" {
		cfg.Audit.SQLite.Path = val
	}
	if val := os.Getenv("TOLLGATE_AUDIT_REVISION_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Audit.Revision.Enabled = b
		}
	}

	// Waiver overrides
	if val := os.Getenv("TOLLGATE_WAIVERS_EXPIRING_WINDOW"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Waivers.ExpiringWindow = d
		}
	}

	// Telemetry overrides
	if val := os.Getenv("TOLLGATE_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("TOLLGATE_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("TOLLGATE_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("TOLLGATE_TELEMETRY_METRICS_TEXTFILE_PATH"); val != "" {
		cfg.Telemetry.Metrics.TextfilePath = val
	}
	if val := os.Getenv("TOLLGATE_TELEMETRY_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Tracing.Enabled = b
		}
	}
	if val := os.Getenv("TOLLGATE_TELEMETRY_TRACING_ENDPOINT"); val != "" {
		cfg.Telemetry.Tracing.Endpoint = val
	}

	// Watch overrides
	if val := os.Getenv("TOLLGATE_WATCH_SCHEDULE"); val != "" {
		cfg.Watch.Schedule = val
	}
	if val := os.Getenv("TOLLGATE_WATCH_LISTEN_ADDRESS"); val != "" {
		cfg.Watch.ListenAddress = val
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// Overrides holds values supplied on the command line. They take
// precedence over the environment and the configuration file.
type Overrides struct {
	// SourcePaths maps source IDs to replacement paths.
	SourcePaths map[string]string

	// Thresholds maps rule IDs to replacement thresholds.
	Thresholds map[string]float64

	// Block maps family names to their block (true) or warn-only (false)
	// setting.
	Block map[string]bool

	AuditPath string
	Actor     string
}

// WithOverrides returns a validated copy of cfg with the overrides applied.
// cfg itself is left untouched.
func WithOverrides(cfg *Config, o Overrides) (*Config, error) {
	out := cfg.Clone()
	var errs []FieldError

	for id, path := range o.SourcePaths {
		src := out.Source(id)
		if src == nil {
			errs = append(errs, FieldError{Field: "sources", Message: fmt.Sprintf("unknown source %q", id)})
			continue
		}
		src.Path = path
	}

	for id, threshold := range o.Thresholds {
		rule := out.Rule(id)
		if rule == nil {
			errs = append(errs, FieldError{Field: "rules", Message: fmt.Sprintf("unknown rule %q", id)})
			continue
		}
		rule.Threshold = threshold
	}

	for family, block := range o.Block {
		out.Families[family] = FamilyConfig{WarnOnly: !block}
	}

	if o.AuditPath != "" {
		out.Audit.Path = o.AuditPath
	}
	if o.Actor != "" {
		out.Audit.Actor = o.Actor
	}

	if len(errs) > 0 {
		return nil, ValidationError{Errors: errs}
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// RuleFamilies returns the distinct rule families in configuration order.
func (c *Config) RuleFamilies() []string {
	seen := make(map[string]bool)
	var families []string
	for _, r := range c.Rules {
		if r.Family != "" && !seen[r.Family] {
			seen[r.Family] = true
			families = append(families, r.Family)
		}
	}
	return families
}

// EnvKey converts an identifier to its environment variable form
// ("risk-open-high" becomes "RISK_OPEN_HIGH").
func EnvKey(id string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(id) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// Marshal renders the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
