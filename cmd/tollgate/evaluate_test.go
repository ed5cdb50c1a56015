package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
)

func resetEvaluateFlags(t *testing.T) {
	t.Helper()
	reset := func() {
		for _, p := range evaluateFlags.sourcePaths {
			*p = ""
		}
		for _, v := range evaluateFlags.thresholds {
			*v = optionalFloat{}
		}
		for _, v := range evaluateFlags.blocks {
			*v = optionalBool{}
		}
		evaluateFlags.sources = nil
		evaluateFlags.thresholdArgs = nil
		evaluateFlags.auditLog = ""
		evaluateFlags.actor = ""
		evaluateFlags.format = "text"
		evaluateFlags.color = false
		evaluateFlags.now = "2026-03-15"
		evaluateFlags.metricsFile = ""
	}
	reset()
	t.Cleanup(reset)
}

func TestOptionalFlags(t *testing.T) {
	var f optionalFloat
	if f.String() != "" {
		t.Errorf("unset float String() = %q, want empty", f.String())
	}
	if err := f.Set("97.5"); err != nil || !f.set || f.value != 97.5 {
		t.Errorf("Set(97.5) = %v, flag = %+v", err, f)
	}
	if err := f.Set("high"); err == nil {
		t.Error("Set(high) should fail")
	}

	var b optionalBool
	if err := b.Set("false"); err != nil || !b.set || b.value {
		t.Errorf("Set(false) = %v, flag = %+v", err, b)
	}
	if !b.IsBoolFlag() || b.Type() != "bool" {
		t.Error("optionalBool should behave as a bool flag")
	}
}

func TestBuildOverrides(t *testing.T) {
	resetEvaluateFlags(t)

	*evaluateFlags.sourcePaths["vendor_metrics"] = "named.json"
	evaluateFlags.thresholds["policy-catalog-completion"].Set("100")
	evaluateFlags.blocks["access"].Set("false")
	evaluateFlags.sources = []string{"vendor_metrics=generic.json", "iam_map = docs/iam.md"}
	evaluateFlags.thresholdArgs = []string{"risk-open-high=2"}
	evaluateFlags.auditLog = "audit.log"

	o, err := buildOverrides()
	if err != nil {
		t.Fatalf("buildOverrides() failed: %v", err)
	}

	if o.SourcePaths["vendor_metrics"] != "generic.json" {
		t.Errorf("generic --source should win, got %q", o.SourcePaths["vendor_metrics"])
	}
	if o.SourcePaths["iam_map"] != "docs/iam.md" {
		t.Errorf("iam_map = %q", o.SourcePaths["iam_map"])
	}
	if o.Thresholds["policy-catalog-completion"] != 100 || o.Thresholds["risk-open-high"] != 2 {
		t.Errorf("Thresholds = %v", o.Thresholds)
	}
	if _, ok := o.Thresholds["access-sod-violations"]; ok {
		t.Error("unset threshold flags must not override")
	}
	if block, ok := o.Block["access"]; !ok || block {
		t.Errorf("Block[access] = %v, %v; want false, true", block, ok)
	}
	if len(o.Block) != 1 {
		t.Errorf("Block = %v, want only access", o.Block)
	}
	if o.AuditPath != "audit.log" {
		t.Errorf("AuditPath = %q", o.AuditPath)
	}
}

func TestBuildOverrides_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		sources    []string
		thresholds []string
	}{
		{"source without path", []string{"vendor_metrics"}, nil},
		{"source without id", []string{"=x.json"}, nil},
		{"non-numeric threshold", nil, []string{"risk-open-high=none"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetEvaluateFlags(t)
			evaluateFlags.sources = tt.sources
			evaluateFlags.thresholdArgs = tt.thresholds

			_, err := buildOverrides()
			if cli.ExitCode(err) != cli.ExitUsage {
				t.Errorf("exit code = %d, want %d (err %v)", cli.ExitCode(err), cli.ExitUsage, err)
			}
		})
	}
}

func TestRunEvaluate_Pass(t *testing.T) {
	dir := writeWorkspace(t, 20)
	resetEvaluateFlags(t)
	out := capture(t, evaluateCmd)

	if err := runEvaluate(evaluateCmd, nil); err != nil {
		t.Fatalf("runEvaluate() = %v, want pass", err)
	}

	if !strings.HasPrefix(out.String(), "GATE result=PASS exit_code=0") {
		t.Errorf("summary does not start with the gate line:\n%s", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, ".tollgate", "audit.log")); err != nil {
		t.Errorf("audit log not written: %v", err)
	}
}

func TestRunEvaluate_ThresholdFlagFailsGate(t *testing.T) {
	writeWorkspace(t, 19)
	resetEvaluateFlags(t)
	out := capture(t, evaluateCmd)
	evaluateFlags.thresholds["policy-catalog-completion"].Set("100")

	err := runEvaluate(evaluateCmd, nil)

	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != cli.ExitFail || exitErr.Err != nil {
		t.Fatalf("runEvaluate() = %v, want silent exit 1", err)
	}
	if !strings.Contains(out.String(), "result=FAIL") {
		t.Errorf("summary missing FAIL:\n%s", out.String())
	}
}

func TestRunEvaluate_WarnOnlyFamily(t *testing.T) {
	dir := writeWorkspace(t, 20)
	resetEvaluateFlags(t)
	capture(t, evaluateCmd)
	os.Remove(filepath.Join(dir, "vendor-metrics.json"))

	if err := runEvaluate(evaluateCmd, nil); cli.ExitCode(err) != cli.ExitFail {
		t.Fatalf("missing vendor metrics: exit %d, want 1", cli.ExitCode(err))
	}

	evaluateFlags.blocks["vendor"].Set("false")
	if err := runEvaluate(evaluateCmd, nil); err != nil {
		t.Errorf("warn-only vendor family: %v, want pass", err)
	}
}

func TestRunEvaluate_JSONAndMetricsFile(t *testing.T) {
	dir := writeWorkspace(t, 20)
	resetEvaluateFlags(t)
	out := capture(t, evaluateCmd)
	evaluateFlags.format = "json"
	evaluateFlags.metricsFile = filepath.Join(dir, "metrics", "tollgate.prom")

	if err := runEvaluate(evaluateCmd, nil); err != nil {
		t.Fatalf("runEvaluate() failed: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if doc["result"] != "PASS" {
		t.Errorf("result = %v, want PASS", doc["result"])
	}

	data, err := os.ReadFile(evaluateFlags.metricsFile)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	if !strings.Contains(string(data), "tollgate_gate_last_result 1") {
		t.Errorf("metrics file missing last_result:\n%s", data)
	}
}

func TestRunEvaluate_UsageErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
	}{
		{"bad format", func() { evaluateFlags.format = "yaml" }},
		{"bad now", func() { evaluateFlags.now = "yesterday" }},
		{"unknown source", func() { evaluateFlags.sources = []string{"nope=x.json"} }},
		{"unknown rule", func() { evaluateFlags.thresholdArgs = []string{"nope=1"} }},
		{"missing config", func() { cfgFile = "/nonexistent/gate.yaml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeWorkspace(t, 20)
			resetEvaluateFlags(t)
			capture(t, evaluateCmd)
			tt.setup()

			err := runEvaluate(evaluateCmd, nil)
			if cli.ExitCode(err) != cli.ExitUsage {
				t.Errorf("exit code = %d, want %d (err %v)", cli.ExitCode(err), cli.ExitUsage, err)
			}
		})
	}
}

func TestNamedFlagsMatchDefaultGate(t *testing.T) {
	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	for _, sf := range sourceFlagNames {
		if cfg.Source(sf.id) == nil {
			t.Errorf("--%s names unknown source %s", sf.flag, sf.id)
		}
	}
	for _, tf := range thresholdFlagNames {
		if cfg.Rule(tf.rule) == nil {
			t.Errorf("--%s names unknown rule %s", tf.flag, tf.rule)
		}
	}
	families := make(map[string]bool)
	for _, f := range cfg.RuleFamilies() {
		families[f] = true
	}
	for _, bf := range blockFlagNames {
		if !families[bf.family] {
			t.Errorf("--%s names unknown family %s", bf.flag, bf.family)
		}
	}
}
