package config

import (
	_ "embed"
	"time"
)

// Default values for configuration fields.
const (
	// Waiver defaults
	DefaultExpiringWindow = 7 * 24 * time.Hour

	// Audit defaults
	DefaultAuditPath          = ".tollgate/audit.log"
	DefaultSQLiteEnabled      = false
	DefaultSQLitePath         = ".tollgate/audit.db"
	DefaultSQLiteWALMode      = true
	DefaultSQLiteBusyTimeout  = 5 * time.Second
	DefaultRevisionEnabled    = true
	DefaultRevisionRepoPath   = "."
	DefaultMetricSubjectField = "id"
	DefaultMetricDateField    = "expiry_date"

	// Logging defaults
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultLogRedactPII = true

	// Metrics defaults
	DefaultMetricsEnabled   = true
	DefaultMetricsNamespace = "tollgate"
	DefaultMetricsSubsystem = "gate"
	DefaultMetricsPath      = "/metrics"

	// Tracing defaults
	DefaultTracingEnabled      = false
	DefaultTracingSampler      = "always"
	DefaultTracingSampleRatio  = 1.0
	DefaultTracingExporter     = "otlp"
	DefaultTracingEndpoint     = "localhost:4317"
	DefaultTracingServiceName  = "tollgate"
	DefaultTracingOTLPInsecure = true
	DefaultTracingOTLPTimeout  = 10 * time.Second

	// Watch defaults
	DefaultWatchDebounceInterval = 500 * time.Millisecond
	DefaultWatchListenAddress    = "127.0.0.1:9464"

	// Rule defaults
	DefaultRuleSeverity = "block"
)

// defaultGate is the compiled-in gate covering the five governance
// families plus commit signing.
//
//go:embed default_gate.yaml
var defaultGate []byte

// DefaultGateYAML returns the compiled-in gate configuration document.
func DefaultGateYAML() []byte {
	return append([]byte(nil), defaultGate...)
}

// newBase returns a configuration with every boolean default set, so that
// YAML decoded on top of it only changes what the document mentions.
func newBase() *Config {
	return &Config{
		Families: map[string]FamilyConfig{},
		Audit: AuditConfig{
			SQLite: SQLiteConfig{
				Enabled: DefaultSQLiteEnabled,
				WALMode: DefaultSQLiteWALMode,
			},
			Revision: RevisionConfig{
				Enabled: DefaultRevisionEnabled,
			},
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{
				RedactPII: DefaultLogRedactPII,
			},
			Metrics: MetricsConfig{
				Enabled: DefaultMetricsEnabled,
			},
			Tracing: TracingConfig{
				Enabled: DefaultTracingEnabled,
				OTLP: OTLPConfig{
					Insecure: DefaultTracingOTLPInsecure,
				},
			},
		},
	}
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Families == nil {
		cfg.Families = map[string]FamilyConfig{}
	}

	// Source defaults
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		if s.Schema == "" {
			switch {
			case s.Format == "text":
				s.Schema = "metric"
			case s.Format == "markdown" && s.Extract == "keyvalue":
				s.Schema = "metric"
			case s.Format == "json" && s.RecordsPath == "":
				s.Schema = "metric"
			default:
				s.Schema = "generic"
			}
		}
		if s.Format == "markdown" && s.Extract == "" {
			if s.Schema == "metric" {
				s.Extract = "keyvalue"
			} else {
				s.Extract = "table"
			}
		}
	}

	// Metric defaults
	for i := range cfg.Metrics {
		m := &cfg.Metrics[i]
		if m.Unit == "" {
			switch m.Kind {
			case "completion":
				m.Unit = "percent"
			case "count", "value":
				m.Unit = "count"
			case "staleness":
				m.Unit = "hours"
			case "expiry":
				m.Unit = "bool"
			}
		}
		if m.SubjectField == "" {
			m.SubjectField = DefaultMetricSubjectField
		}
		if m.Field == "" && (m.Kind == "expiry" || m.Kind == "staleness") {
			m.Field = DefaultMetricDateField
		}
	}

	// Rule defaults
	for i := range cfg.Rules {
		if cfg.Rules[i].Severity == "" {
			cfg.Rules[i].Severity = DefaultRuleSeverity
		}
	}

	// Waiver defaults
	if len(cfg.Waivers.Sources) == 0 {
		for _, s := range cfg.Sources {
			if s.Schema == "exception" {
				cfg.Waivers.Sources = append(cfg.Waivers.Sources, s.ID)
			}
		}
	}
	if cfg.Waivers.ExpiringWindow == 0 {
		cfg.Waivers.ExpiringWindow = DefaultExpiringWindow
	}

	// Audit defaults
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = DefaultAuditPath
	}
	if cfg.Audit.SQLite.Path == "" {
		cfg.Audit.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Audit.SQLite.BusyTimeout == 0 {
		cfg.Audit.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Audit.Revision.RepoPath == "" {
		cfg.Audit.Revision.RepoPath = DefaultRevisionRepoPath
	}

	// Logging defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}

	// Metrics defaults
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if len(cfg.Telemetry.Metrics.DurationBuckets) == 0 {
		// Evaluations read a handful of local files (1ms - 10s)
		cfg.Telemetry.Metrics.DurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}
	}

	// Tracing defaults
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.Exporter == "" {
		cfg.Telemetry.Tracing.Exporter = DefaultTracingExporter
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.OTLP.Timeout == 0 {
		cfg.Telemetry.Tracing.OTLP.Timeout = DefaultTracingOTLPTimeout
	}

	// Watch defaults
	if cfg.Watch.DebounceInterval == 0 {
		cfg.Watch.DebounceInterval = DefaultWatchDebounceInterval
	}
	if cfg.Watch.ListenAddress == "" {
		cfg.Watch.ListenAddress = DefaultWatchListenAddress
	}
}
