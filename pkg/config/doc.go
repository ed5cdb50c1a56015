// Package config provides configuration management for Tollgate.
//
// A gate configuration names the evidence sources to load, the metrics
// derived from them, and the rules evaluated against those metrics. It is
// loaded once per invocation and then treated as immutable: overrides are
// applied to a copy (see WithOverrides) and the resulting *Config is passed
// explicitly to every component.
//
// # Configuration Loading
//
// Configuration can be loaded in three ways:
//
//  1. The compiled-in default gate:
//     cfg, err := config.LoadConfig("")
//
//  2. From a YAML file only:
//     cfg, err := config.LoadConfig("tollgate.yaml")
//
//  3. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("tollgate.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TOLLGATE_SECTION_FIELD.
// For example:
//
//   - TOLLGATE_AUDIT_PATH overrides audit.path
//   - TOLLGATE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//   - TOLLGATE_THRESHOLD_RISK_OPEN_HIGH overrides the threshold of rule "risk-open-high"
//   - TOLLGATE_BLOCK_ACCESS=false makes the "access" family warn-only
//   - TOLLGATE_SOURCE_RISK_REGISTER_PATH overrides the path of source "risk_register"
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Command-line overrides (WithOverrides)
//  5. Validation (fails fast if invalid)
//
// # Example Configuration
//
//	sources:
//	  - id: risk_register
//	    path: docs/governance/risk-register.csv
//	    format: csv
//	    schema: risk
//
//	metrics:
//	  - name: open_high_risks
//	    kind: count
//	    source: risk_register
//	    filters:
//	      - field: status
//	        in: [Open]
//	      - field: severity
//	        in: [High, Critical]
//
//	rules:
//	  - id: risk-open-high
//	    family: risk
//	    metric: open_high_risks
//	    comparator: lte
//	    threshold: 0
//	    message: Mitigate open High/Critical risks or file an exception.
//
//	families:
//	  vendor:
//	    warn_only: true
//
// # Validation
//
// All validation errors are collected and returned together as a
// ValidationError, so a broken configuration is reported in one pass.
package config
