package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_DefaultGate(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load default gate: %v", err)
	}

	if len(cfg.Sources) != 6 {
		t.Errorf("expected 6 sources, got %d", len(cfg.Sources))
	}
	if cfg.Audit.Path != DefaultAuditPath {
		t.Errorf("expected audit path %q, got %q", DefaultAuditPath, cfg.Audit.Path)
	}
	if got := cfg.Waivers.Sources; len(got) != 1 || got[0] != "exception_register" {
		t.Errorf("expected waiver sources [exception_register], got %v", got)
	}
	if cfg.Waivers.ExpiringWindow != 7*24*time.Hour {
		t.Errorf("expected expiring window 168h, got %v", cfg.Waivers.ExpiringWindow)
	}

	iam := cfg.Source("iam_map")
	if iam == nil {
		t.Fatal("expected iam_map source")
	}
	if iam.Schema != "metric" || iam.Extract != "keyvalue" {
		t.Errorf("expected iam_map schema metric/keyvalue, got %s/%s", iam.Schema, iam.Extract)
	}

	for _, r := range cfg.Rules {
		if r.Severity != "block" {
			t.Errorf("rule %s: expected default severity block, got %q", r.ID, r.Severity)
		}
	}

	if !cfg.Audit.Revision.Enabled {
		t.Error("expected revision stamping enabled by default")
	}
	if !cfg.Telemetry.Logging.RedactPII {
		t.Error("expected PII redaction enabled by default")
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tollgate.yaml")

	configContent := `
sources:
  - id: risks
    path: risks.csv
    format: csv
    schema: risk
  - id: exceptions
    path: exceptions.csv
    format: csv
    schema: exception

metrics:
  - name: open_risks
    kind: count
    source: risks
    filters:
      - field: status
        in: [Open]

rules:
  - id: no-open-risks
    family: risk
    metric: open_risks
    comparator: lte
    threshold: 0
    severity: warn
    message: Close open risks.

audit:
  path: "audit/gate.log"
  revision:
    enabled: false

telemetry:
  logging:
    level: "debug"
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Audit.Path != "audit/gate.log" {
		t.Errorf("expected audit path %q, got %q", "audit/gate.log", cfg.Audit.Path)
	}
	if cfg.Audit.Revision.Enabled {
		t.Error("expected revision stamping disabled")
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected logging level %q, got %q", "debug", cfg.Telemetry.Logging.Level)
	}
	if cfg.Rules[0].Severity != "warn" {
		t.Errorf("expected severity warn, got %q", cfg.Rules[0].Severity)
	}
	if cfg.Metrics[0].Unit != "count" {
		t.Errorf("expected unit count, got %q", cfg.Metrics[0].Unit)
	}
	if got := cfg.Waivers.Sources; len(got) != 1 || got[0] != "exceptions" {
		t.Errorf("expected waiver sources [exceptions], got %v", got)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read configuration file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configPath, []byte("sources: [\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := LoadConfig(configPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	t.Setenv("TOLLGATE_AUDIT_PATH", "/tmp/override.log")
	t.Setenv("TOLLGATE_THRESHOLD_POLICY_CATALOG_COMPLETION", "100")
	t.Setenv("TOLLGATE_BLOCK_VENDOR", "false")
	t.Setenv("TOLLGATE_SOURCE_RISK_REGISTER_PATH", "elsewhere/risks.csv")
	t.Setenv("TOLLGATE_TELEMETRY_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Audit.Path != "/tmp/override.log" {
		t.Errorf("expected audit path override, got %q", cfg.Audit.Path)
	}
	if got := cfg.Rule("policy-catalog-completion").Threshold; got != 100 {
		t.Errorf("expected threshold 100, got %v", got)
	}
	if cfg.FamilyBlocks("vendor") {
		t.Error("expected vendor family to be warn-only")
	}
	if !cfg.FamilyBlocks("risk") {
		t.Error("expected risk family to block")
	}
	if got := cfg.Source("risk_register").Path; got != "elsewhere/risks.csv" {
		t.Errorf("expected risk register path override, got %q", got)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("expected logging level warn, got %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidThreshold(t *testing.T) {
	t.Setenv("TOLLGATE_THRESHOLD_RISK_OPEN_HIGH", "many")

	_, err := LoadConfigWithEnvOverrides("")
	if err == nil {
		t.Fatal("expected error for malformed threshold")
	}

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if verr.Errors[0].Field != "TOLLGATE_THRESHOLD_RISK_OPEN_HIGH" {
		t.Errorf("unexpected field %q", verr.Errors[0].Field)
	}
}

func TestWithOverrides(t *testing.T) {
	base, err := LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load default gate: %v", err)
	}

	out, err := WithOverrides(base, Overrides{
		SourcePaths: map[string]string{"vendor_metrics": "v.json"},
		Thresholds:  map[string]float64{"risk-open-high": 2},
		Block:       map[string]bool{"access": false},
		AuditPath:   "a.log",
		Actor:       "ci-bot",
	})
	if err != nil {
		t.Fatalf("WithOverrides() error = %v", err)
	}

	if got := out.Source("vendor_metrics").Path; got != "v.json" {
		t.Errorf("source path = %q, want %q", got, "v.json")
	}
	if got := out.Rule("risk-open-high").Threshold; got != 2 {
		t.Errorf("threshold = %v, want 2", got)
	}
	if out.FamilyBlocks("access") {
		t.Error("expected access family warn-only")
	}
	if out.Audit.Actor != "ci-bot" {
		t.Errorf("actor = %q, want %q", out.Audit.Actor, "ci-bot")
	}

	// The base configuration is never mutated.
	if base.Source("vendor_metrics").Path == "v.json" {
		t.Error("base source path was mutated")
	}
	if base.Rule("risk-open-high").Threshold != 0 {
		t.Error("base threshold was mutated")
	}
	if !base.FamilyBlocks("access") {
		t.Error("base family toggle was mutated")
	}
}

func TestWithOverrides_UnknownIDs(t *testing.T) {
	base, err := LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load default gate: %v", err)
	}

	_, err = WithOverrides(base, Overrides{
		SourcePaths: map[string]string{"nope": "x"},
		Thresholds:  map[string]float64{"missing-rule": 1},
	})

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("expected 2 errors, got %d", len(verr.Errors))
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"risk-open-high", "RISK_OPEN_HIGH"},
		{"commit_signing", "COMMIT_SIGNING"},
		{"a.b c", "A_B_C"},
	}

	for _, tt := range tests {
		if got := EnvKey(tt.in); got != tt.want {
			t.Errorf("EnvKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
