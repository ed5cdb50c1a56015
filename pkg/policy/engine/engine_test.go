package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/compliance/metric"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/evidence"
	"mercator-hq/tollgate/pkg/policy/waiver"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func pct(name string, v float64) metric.Metric {
	return metric.Metric{Name: name, Unit: metric.UnitPercent, Value: v, Available: true}
}

func count(name string, v float64, subjects ...string) metric.Metric {
	return metric.Metric{Name: name, Unit: metric.UnitCount, Value: v, Available: true, Subjects: subjects}
}

func approved(id, target string, days int) waiver.Waiver {
	return waiver.Waiver{ID: id, Target: target, Status: evidence.ExceptionApproved, Expiry: now.AddDate(0, 0, days)}
}

func TestEvaluateComparator(t *testing.T) {
	tests := []struct {
		name      string
		c         Comparator
		m         metric.Metric
		threshold float64
		want      bool
	}{
		{"gte equal", ComparatorGTE, pct("c", 95), 95, true},
		{"gte below", ComparatorGTE, pct("c", 94), 95, false},
		{"lte zero", ComparatorLTE, count("r", 0), 0, true},
		{"lte above", ComparatorLTE, count("r", 1), 0, false},
		{"eq", ComparatorEQ, count("r", 3), 3, true},
		{"eq mismatch", ComparatorEQ, count("r", 2), 3, false},
		{"bool as one", ComparatorGTE, metric.Metric{Unit: metric.UnitBool, Value: 1, Bool: true, Available: true}, 1, true},
		{"not expired", ComparatorNotExpired, metric.Metric{Available: true}, 0, true},
		{"expired", ComparatorNotExpired, metric.Metric{Available: true, Bool: true, Value: 1, Subjects: []string{"R-1"}}, 0, false},
		{"must exist", ComparatorMustExist, count("r", 0), 0, true},
		{"must exist unavailable", ComparatorMustExist, metric.Metric{}, 0, false},
		{"lte unavailable", ComparatorLTE, metric.Metric{}, 10, false},
		{"gte unavailable", ComparatorGTE, metric.Metric{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, detail, err := evaluateComparator(tt.c, tt.m, tt.threshold)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("evaluateComparator() = %v, want %v", got, tt.want)
			}
			if !got && detail == "" {
				t.Error("failing comparison should explain why")
			}
		})
	}

	if _, _, err := evaluateComparator("between", pct("c", 1), 0); err == nil {
		t.Error("unknown comparator should error")
	}
}

func TestEvaluate_OrderAndOutcomes(t *testing.T) {
	rules := []Rule{
		{ID: "policy-catalog-completion", Family: "policy", Metric: "policy_completion", Comparator: ComparatorGTE, Threshold: 100, Severity: SeverityBlock, Message: "Add the missing policies."},
		{ID: "risk-open-high", Family: "risk", Metric: "open_high_risks", Comparator: ComparatorLTE, Threshold: 0, Severity: SeverityBlock, Message: "Mitigate or accept."},
		{ID: "access-review-completion", Family: "access", Metric: "access_review", Comparator: ComparatorGTE, Threshold: 90, Severity: SeverityWarn, Message: "Finish reviews."},
		{ID: "vendor-metrics-present", Family: "vendor", Metric: "vendor_overdue", Comparator: ComparatorMustExist, Severity: SeverityBlock, Message: "Publish vendor metrics."},
	}
	snap := metric.Snapshot{
		"policy_completion": pct("policy_completion", 95),
		"open_high_risks":   count("open_high_risks", 0),
		"access_review":     pct("access_review", 80),
		"vendor_overdue":    {Name: "vendor_overdue", Reason: `source "vendor_metrics" is absent`},
	}

	result, err := New(rules, nil, nil).Evaluate(context.Background(), snap)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	wantOutcomes := []Outcome{OutcomeFail, OutcomePass, OutcomeWarn, OutcomeFail}
	for i, o := range result.Outcomes {
		if o.Outcome != wantOutcomes[i] {
			t.Errorf("outcome[%d] (%s) = %s, want %s", i, o.RuleID, o.Outcome, wantOutcomes[i])
		}
	}

	if len(result.Violations) != 3 {
		t.Fatalf("got %d violations, want 3", len(result.Violations))
	}
	wantOrder := []string{"policy-catalog-completion", "access-review-completion", "vendor-metrics-present"}
	for i, v := range result.Violations {
		if v.RuleID != wantOrder[i] {
			t.Errorf("violation[%d] = %s, want %s", i, v.RuleID, wantOrder[i])
		}
	}

	if result.Violations[1].Blocking() {
		t.Error("warn violation must not block")
	}
	vendor := result.Violations[2]
	if !vendor.Unavailable || !vendor.Blocking() || vendor.Message != "Publish vendor metrics." {
		t.Errorf("vendor violation = %+v", vendor)
	}
}

func TestEvaluate_MissingMetric(t *testing.T) {
	rules := []Rule{{ID: "r", Metric: "nope", Comparator: ComparatorLTE, Severity: SeverityBlock}}
	result, err := New(rules, nil, nil).Evaluate(context.Background(), metric.Snapshot{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Violations) != 1 || !result.Violations[0].Unavailable {
		t.Errorf("violations = %+v", result.Violations)
	}
}

func TestEvaluate_WaiverByRuleID(t *testing.T) {
	rules := []Rule{{ID: "policy-catalog-completion", Metric: "c", Comparator: ComparatorGTE, Threshold: 100, Severity: SeverityBlock}}
	snap := metric.Snapshot{"c": pct("c", 95)}

	expiredWaiver := approved("EXC-0", "policy-catalog-completion", -1)
	expiredWaiver.ExpiryRaw = "2026-03-14"
	expiredWaiver.Source = "exception_register"
	expiredWaiver.Provenance = evidence.Provenance{Path: "exceptions.csv", StartLine: 3, EndLine: 3}

	resolver := waiver.NewResolver([]waiver.Waiver{
		approved("EXC-1", "policy-catalog-completion", 10),
		expiredWaiver,
	}, now, nil)

	result, err := New(rules, resolver, nil).Evaluate(context.Background(), snap)
	if err != nil {
		t.Fatal(err)
	}

	v := result.Violations[0]
	if !v.Waived || v.Blocking() || len(v.WaiverIDs) != 1 || v.WaiverIDs[0] != "EXC-1" {
		t.Errorf("violation = %+v, want waived by EXC-1", v)
	}
	if len(v.ExpiredWaivers) != 1 || v.ExpiredWaivers[0] != "EXC-0" {
		t.Errorf("ExpiredWaivers = %v", v.ExpiredWaivers)
	}
	if result.Outcomes[0].Outcome != OutcomeWaived {
		t.Errorf("outcome = %s, want waived", result.Outcomes[0].Outcome)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Kind != evidence.WarnExpiredWaiver {
		t.Fatalf("warnings = %+v", result.Warnings)
	}
	w := result.Warnings[0]
	if w.Source != "exception_register" || w.Path != "exceptions.csv" || w.Line != 3 {
		t.Errorf("expired waiver warning location = %s %s:%d, want the register row", w.Source, w.Path, w.Line)
	}
}

func TestEvaluate_ExpiredWaiverNeverHonored(t *testing.T) {
	rules := []Rule{{ID: "r", Metric: "c", Comparator: ComparatorGTE, Threshold: 100, Severity: SeverityBlock}}
	snap := metric.Snapshot{"c": pct("c", 95)}
	resolver := waiver.NewResolver([]waiver.Waiver{approved("EXC-1", "r", -1)}, now, nil)

	result, _ := New(rules, resolver, nil).Evaluate(context.Background(), snap)
	v := result.Violations[0]
	if v.Waived || !v.Blocking() {
		t.Errorf("expired waiver was honored: %+v", v)
	}
}

func TestEvaluate_WaiverBySubjects(t *testing.T) {
	rules := []Rule{{ID: "risk-open-high", Metric: "risks", Comparator: ComparatorLTE, Threshold: 0, Severity: SeverityBlock}}

	resolver := waiver.NewResolver([]waiver.Waiver{
		approved("EXC-1", "RISK-1", 1),
		approved("EXC-2", "RISK-2", 5),
	}, now, nil)
	eng := New(rules, resolver, nil)

	result, _ := eng.Evaluate(context.Background(), metric.Snapshot{"risks": count("risks", 2, "RISK-1", "RISK-2")})
	v := result.Violations[0]
	if !v.Waived || len(v.WaiverIDs) != 2 {
		t.Errorf("all subjects waived: %+v", v)
	}

	result, _ = eng.Evaluate(context.Background(), metric.Snapshot{"risks": count("risks", 2, "RISK-1", "RISK-3")})
	v = result.Violations[0]
	if v.Waived {
		t.Errorf("partially waived subjects must not waive the rule: %+v", v)
	}
}

func TestEvaluate_WaiverKeys(t *testing.T) {
	rules := []Rule{{ID: "access-sod-violations", Metric: "sod", Comparator: ComparatorLTE, Severity: SeverityBlock, WaiverKeys: []string{"POL-IAM-004"}}}
	resolver := waiver.NewResolver([]waiver.Waiver{approved("EXC-7", "pol-iam-004", 3)}, now, nil)

	result, _ := New(rules, resolver, nil).Evaluate(context.Background(), metric.Snapshot{"sod": count("sod", 1)})
	if !result.Violations[0].Waived {
		t.Errorf("waiver key should cover the rule: %+v", result.Violations[0])
	}
}

func TestEvaluate_AmbiguousWarning(t *testing.T) {
	rules := []Rule{{ID: "r", Metric: "c", Comparator: ComparatorLTE, Severity: SeverityBlock}}
	resolver := waiver.NewResolver([]waiver.Waiver{approved("A", "r", 3), approved("B", "r", 9)}, now, nil)

	result, _ := New(rules, resolver, nil).Evaluate(context.Background(), metric.Snapshot{"c": count("c", 1)})
	v := result.Violations[0]
	if !v.Ambiguous || v.WaiverIDs[0] != "B" {
		t.Errorf("violation = %+v", v)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Kind != evidence.WarnAmbiguousWaiver {
		t.Errorf("warnings = %+v", result.Warnings)
	}
}

func TestEvaluate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rules := []Rule{{ID: "r", Metric: "c", Comparator: ComparatorLTE, Severity: SeverityBlock}}
	_, err := New(rules, nil, nil).Evaluate(ctx, metric.Snapshot{})
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("err = %v, want ErrContextCancelled", err)
	}
}

func TestEvaluate_Independent(t *testing.T) {
	a := Rule{ID: "a", Metric: "x", Comparator: ComparatorGTE, Threshold: 50, Severity: SeverityBlock}
	b := Rule{ID: "b", Metric: "y", Comparator: ComparatorLTE, Threshold: 0, Severity: SeverityBlock}
	snap := metric.Snapshot{"x": pct("x", 10), "y": count("y", 0)}

	ab, _ := New([]Rule{a, b}, nil, nil).Evaluate(context.Background(), snap)
	ba, _ := New([]Rule{b, a}, nil, nil).Evaluate(context.Background(), snap)

	if ab.Outcomes[0] != ba.Outcomes[1] || ab.Outcomes[1] != ba.Outcomes[0] {
		t.Errorf("rule outcomes depend on order: %+v vs %+v", ab.Outcomes, ba.Outcomes)
	}
}

func TestRulesFromConfig(t *testing.T) {
	cfg := &config.Config{
		Rules: []config.RuleConfig{
			{ID: "a", Family: "access", Metric: "m", Comparator: "gte", Threshold: 95, Severity: "block"},
			{ID: "b", Family: "risk", Metric: "m", Comparator: "lte", Severity: "block"},
			{ID: "c", Family: "risk", Metric: "m", Comparator: "lte", Severity: "warn"},
		},
		Families: map[string]config.FamilyConfig{"access": {WarnOnly: true}},
	}

	rules := RulesFromConfig(cfg)
	if rules[0].Severity != SeverityWarn || !rules[0].Downgraded {
		t.Errorf("warn-only family should downgrade: %+v", rules[0])
	}
	if rules[1].Severity != SeverityBlock || rules[1].Downgraded {
		t.Errorf("unconfigured family should block: %+v", rules[1])
	}
	if rules[2].Severity != SeverityWarn || rules[2].Downgraded {
		t.Errorf("warn rule: %+v", rules[2])
	}
}
