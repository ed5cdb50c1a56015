package config

import "time"

// Config is the root configuration structure for a Tollgate evaluation.
// It is built once at startup, never mutated afterwards, and passed
// explicitly to every component of the pipeline.
type Config struct {
	// Sources lists the evidence artifacts to load. Each source has a
	// stable identifier that metrics refer to.
	Sources []SourceConfig `yaml:"sources"`

	// Metrics lists the derived metrics computed from loaded evidence.
	Metrics []MetricConfig `yaml:"metrics"`

	// Rules lists the gate rules evaluated against computed metrics.
	Rules []RuleConfig `yaml:"rules"`

	// Families controls block vs. warn-only behavior per rule family.
	// Keys are family names (e.g., "access", "risk", "commit_signing").
	// A family that is referenced by a rule but absent here blocks.
	Families map[string]FamilyConfig `yaml:"families"`

	// Waivers contains configuration for exception resolution.
	Waivers WaiverConfig `yaml:"waivers"`

	// Audit contains configuration for the append-only audit trail.
	Audit AuditConfig `yaml:"audit"`

	// Telemetry contains configuration for logging, metrics, and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Watch contains configuration for continuous re-evaluation.
	Watch WatchConfig `yaml:"watch"`
}

// SourceConfig describes a single evidence artifact.
type SourceConfig struct {
	// ID is the source identifier referenced by metrics.
	ID string `yaml:"id"`

	// Path is the artifact location, relative to the working directory.
	Path string `yaml:"path"`

	// Format is the artifact format.
	// Options: "markdown", "csv", "json", "text"
	Format string `yaml:"format"`

	// Schema is the record schema rows are mapped to.
	// Options: "policy", "exception", "risk", "metric", "generic"
	// Default: "generic" for csv/json records, "metric" for key/value data
	Schema string `yaml:"schema"`

	// Section is the markdown heading that scopes extraction. An empty
	// section scans the whole document.
	Section string `yaml:"section"`

	// Extract selects the markdown extractor.
	// Options: "keyvalue", "table"
	// Default: "table" for record schemas, "keyvalue" for "metric"
	Extract string `yaml:"extract"`

	// Columns is the expected table column set. When empty, the required
	// columns of the schema are used.
	Columns []string `yaml:"columns"`

	// RecordsPath is the dotted path to an array of objects inside a JSON
	// document. When set, array elements become records.
	RecordsPath string `yaml:"records_path"`
}

// MetricConfig describes how a single metric is derived from evidence.
type MetricConfig struct {
	// Name is the metric name referenced by rules.
	Name string `yaml:"name"`

	// Kind is the derivation algorithm.
	// Options: "completion", "count", "value", "expiry", "staleness"
	Kind string `yaml:"kind"`

	// Source is the evidence source ID the metric reads.
	Source string `yaml:"source"`

	// Unit is the metric unit.
	// Options: "percent", "count", "hours", "bool"
	// Default: derived from Kind
	Unit string `yaml:"unit"`

	// Key names a key/value entry (markdown section, JSON scalar, text
	// status). Used by "value", and by "expiry"/"staleness" when the date
	// is a single entry rather than a record field.
	Key string `yaml:"key"`

	// Field names the record field holding a date for "expiry" and
	// "staleness" over records.
	// Default: "expiry_date"
	Field string `yaml:"field"`

	// SubjectField is the record field used to identify counted records.
	// Default: "id"
	SubjectField string `yaml:"subject_field"`

	// Target is the fixed denominator for "completion".
	Target float64 `yaml:"target"`

	// TargetTotal uses the unfiltered record count as the "completion"
	// denominator instead of Target.
	TargetTotal bool `yaml:"target_total"`

	// Filters narrow the records a metric considers. All filters must match.
	Filters []FilterConfig `yaml:"filters"`
}

// FilterConfig matches a record field against a value set. Comparison is
// case-insensitive and ignores spaces, dashes, and underscores.
type FilterConfig struct {
	Field string   `yaml:"field"`
	In    []string `yaml:"in"`
	NotIn []string `yaml:"not_in"`
}

// RuleConfig describes a single gate rule.
type RuleConfig struct {
	// ID is the rule identifier. Waivers reference rules by this ID.
	ID string `yaml:"id"`

	// Family groups rules for block/warn toggling.
	Family string `yaml:"family"`

	// Metric is the metric the rule evaluates.
	Metric string `yaml:"metric"`

	// Comparator is the rule comparison.
	// Options: "gte", "lte", "eq", "not_expired", "must_exist"
	Comparator string `yaml:"comparator"`

	// Threshold is the numeric threshold for "gte", "lte" and "eq".
	Threshold float64 `yaml:"threshold"`

	// Severity is the configured rule severity.
	// Options: "block", "warn"
	// Default: "block"
	Severity string `yaml:"severity"`

	// Message is the static remediation guidance shown when the rule fails.
	Message string `yaml:"message"`

	// WaiverKeys lists additional identifiers (policy or risk IDs) whose
	// waivers also cover this rule.
	WaiverKeys []string `yaml:"waiver_keys"`
}

// FamilyConfig controls enforcement for a rule family.
type FamilyConfig struct {
	// WarnOnly downgrades every rule of the family to warn severity, so
	// its failures are reported but never fail the gate.
	// Default: false
	WarnOnly bool `yaml:"warn_only"`
}

// WaiverConfig contains configuration for exception resolution.
type WaiverConfig struct {
	// Sources lists the evidence source IDs holding exception registers.
	// Default: every source with schema "exception"
	Sources []string `yaml:"sources"`

	// ExpiringWindow surfaces approved waivers that expire within this
	// window as advisory warnings.
	// Default: 168h (7 days)
	ExpiringWindow time.Duration `yaml:"expiring_window"`
}

// AuditConfig contains configuration for the audit trail.
type AuditConfig struct {
	// Path is the JSON Lines audit log. It is only ever appended to.
	// Default: ".tollgate/audit.log"
	Path string `yaml:"path"`

	// Actor identifies who or what ran the evaluation. When empty, the
	// actor is derived from the CI environment or the current user.
	Actor string `yaml:"actor"`

	// SQLite mirrors audit entries into a queryable SQLite index.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Revision stamps audit entries with the HEAD commit of a repository.
	Revision RevisionConfig `yaml:"revision"`
}

// SQLiteConfig contains configuration for the SQLite audit index.
type SQLiteConfig struct {
	// Enabled controls whether entries are mirrored to SQLite.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Path is the database file path.
	// Default: ".tollgate/audit.db"
	Path string `yaml:"path"`

	// WALMode enables Write-Ahead Logging mode.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RevisionConfig contains configuration for commit provenance.
type RevisionConfig struct {
	// Enabled controls whether the HEAD commit is recorded.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// RepoPath is a path inside the repository. Parent directories are
	// searched for the .git directory.
	// Default: "."
	RepoPath string `yaml:"repo_path"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains configuration for structured logging.
type LoggingConfig struct {
	// Level is the minimum log level.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log output format.
	// Options: "json", "text", "console"
	// Default: "text"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII enables redaction of owner emails and tokens in logs.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns contains additional redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern is a custom log redaction pattern.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains configuration for Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether gate metrics are collected.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Namespace is the metric namespace.
	// Default: "tollgate"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem.
	// Default: "gate"
	Subsystem string `yaml:"subsystem"`

	// TextfilePath writes metrics in the node_exporter textfile format
	// after every evaluation. Empty disables the export.
	TextfilePath string `yaml:"textfile_path"`

	// Path is the HTTP path metrics are served on in watch mode.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// DurationBuckets are the histogram buckets for evaluation duration.
	DurationBuckets []float64 `yaml:"duration_buckets"`
}

// TracingConfig contains configuration for distributed tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "always"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	SampleRatio float64 `yaml:"sample_ratio"`

	// Exporter determines the trace exporter.
	// Options: "otlp"
	// Default: "otlp"
	Exporter string `yaml:"exporter"`

	// Endpoint is the trace collector endpoint (e.g., "localhost:4317").
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "tollgate"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for the OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout is the export timeout.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// WatchConfig contains configuration for watch mode.
type WatchConfig struct {
	// DebounceInterval is the quiet period after an evidence change before
	// re-evaluating.
	// Default: 500ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`

	// Schedule is a standard cron expression for periodic re-evaluation.
	// Empty disables scheduled runs.
	Schedule string `yaml:"schedule"`

	// ListenAddress is the address the metrics endpoint listens on.
	// Default: "127.0.0.1:9464"
	ListenAddress string `yaml:"listen_address"`
}

// Source returns the source with the given ID, or nil.
func (c *Config) Source(id string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i]
		}
	}
	return nil
}

// Metric returns the metric with the given name, or nil.
func (c *Config) Metric(name string) *MetricConfig {
	for i := range c.Metrics {
		if c.Metrics[i].Name == name {
			return &c.Metrics[i]
		}
	}
	return nil
}

// Rule returns the rule with the given ID, or nil.
func (c *Config) Rule(id string) *RuleConfig {
	for i := range c.Rules {
		if c.Rules[i].ID == id {
			return &c.Rules[i]
		}
	}
	return nil
}

// FamilyBlocks reports whether failing block-severity rules of the family
// fail the gate.
func (c *Config) FamilyBlocks(family string) bool {
	return !c.Families[family].WarnOnly
}

// Clone returns a deep copy of the configuration. Overrides are applied to
// a clone so the loaded configuration is never mutated once handed out.
func (c *Config) Clone() *Config {
	out := *c

	out.Sources = make([]SourceConfig, len(c.Sources))
	for i, s := range c.Sources {
		s.Columns = append([]string(nil), s.Columns...)
		out.Sources[i] = s
	}

	out.Metrics = make([]MetricConfig, len(c.Metrics))
	for i, m := range c.Metrics {
		filters := make([]FilterConfig, len(m.Filters))
		for j, f := range m.Filters {
			filters[j] = FilterConfig{
				Field: f.Field,
				In:    append([]string(nil), f.In...),
				NotIn: append([]string(nil), f.NotIn...),
			}
		}
		m.Filters = filters
		out.Metrics[i] = m
	}

	out.Rules = make([]RuleConfig, len(c.Rules))
	for i, r := range c.Rules {
		r.WaiverKeys = append([]string(nil), r.WaiverKeys...)
		out.Rules[i] = r
	}

	out.Families = make(map[string]FamilyConfig, len(c.Families))
	for k, v := range c.Families {
		out.Families[k] = v
	}

	out.Waivers.Sources = append([]string(nil), c.Waivers.Sources...)
	out.Telemetry.Logging.RedactPatterns = append([]RedactPattern(nil), c.Telemetry.Logging.RedactPatterns...)
	out.Telemetry.Metrics.DurationBuckets = append([]float64(nil), c.Telemetry.Metrics.DurationBuckets...)

	return &out
}
