package engine

import (
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/evidence"
)

// Comparator is the comparison a rule applies to its metric.
type Comparator string

const (
	// ComparatorGTE passes when the metric value is at least the threshold.
	ComparatorGTE Comparator = "gte"

	// ComparatorLTE passes when the metric value is at most the threshold.
	ComparatorLTE Comparator = "lte"

	// ComparatorEQ passes when the metric value equals the threshold.
	ComparatorEQ Comparator = "eq"

	// ComparatorNotExpired passes when an expiry metric reports nothing expired.
	ComparatorNotExpired Comparator = "not_expired"

	// ComparatorMustExist passes when the metric's evidence is available.
	ComparatorMustExist Comparator = "must_exist"
)

// Severity determines whether an unwaived failure blocks the gate.
type Severity string

const (
	// SeverityBlock failures fail the gate unless waived.
	SeverityBlock Severity = "block"

	// SeverityWarn failures are advisory and never fail the gate.
	SeverityWarn Severity = "warn"
)

// Rule is an immutable gate rule.
type Rule struct {
	ID         string
	Family     string
	Metric     string
	Comparator Comparator
	Threshold  float64
	Severity   Severity
	Message    string
	WaiverKeys []string

	// Downgraded is set when a warn-only family turned a block rule into
	// a warn rule.
	Downgraded bool
}

// RulesFromConfig builds rules in configured order. Rules of a family
// configured as warn-only are downgraded to warn severity.
func RulesFromConfig(cfg *config.Config) []Rule {
	rules := make([]Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		r := Rule{
			ID:         rc.ID,
			Family:     rc.Family,
			Metric:     rc.Metric,
			Comparator: Comparator(rc.Comparator),
			Threshold:  rc.Threshold,
			Severity:   Severity(rc.Severity),
			Message:    rc.Message,
			WaiverKeys: append([]string(nil), rc.WaiverKeys...),
		}
		if r.Severity == SeverityBlock && !cfg.FamilyBlocks(rc.Family) {
			r.Severity = SeverityWarn
			r.Downgraded = true
		}
		rules = append(rules, r)
	}
	return rules
}

// Outcome is the result of evaluating one rule.
type Outcome string

const (
	OutcomePass   Outcome = "pass"
	OutcomeFail   Outcome = "fail"
	OutcomeWaived Outcome = "waived"
	OutcomeWarn   Outcome = "warn"
)

// RuleOutcome records how a single rule evaluated.
type RuleOutcome struct {
	RuleID   string   `json:"rule_id"`
	Family   string   `json:"family"`
	Metric   string   `json:"metric"`
	Severity Severity `json:"severity"`
	Outcome  Outcome  `json:"outcome"`
	Observed string   `json:"observed"`
}

// Violation is a failing rule. Waived violations and warn violations are
// reported but never fail the gate.
type Violation struct {
	RuleID   string   `json:"rule_id"`
	Family   string   `json:"family"`
	Metric   string   `json:"metric"`
	Severity Severity `json:"severity"`

	// Message is the rule's static remediation guidance.
	Message string `json:"message"`

	// Detail explains why the rule failed.
	Detail string `json:"detail"`

	Waived    bool     `json:"waived"`
	WaiverIDs []string `json:"waiver_ids,omitempty"`

	// ExpiredWaivers and UnapprovedWaivers list matching waivers that
	// could not be honored.
	ExpiredWaivers    []string `json:"expired_waivers,omitempty"`
	UnapprovedWaivers []string `json:"unapproved_waivers,omitempty"`

	// Ambiguous is set when more than one valid waiver matched.
	Ambiguous bool `json:"ambiguous,omitempty"`

	// Unavailable is set when the rule failed because its evidence was
	// absent, corrupt, or unreadable.
	Unavailable bool `json:"unavailable,omitempty"`
}

// Blocking reports whether the violation fails the gate.
func (v Violation) Blocking() bool {
	return v.Severity == SeverityBlock && !v.Waived
}

// Result is the output of one evaluation.
type Result struct {
	// Outcomes holds one entry per rule, in configured order.
	Outcomes []RuleOutcome `json:"outcomes"`

	// Violations holds failing rules, in configured order.
	Violations []Violation `json:"violations"`

	// Warnings holds waiver-related warnings raised while evaluating.
	Warnings []evidence.Warning `json:"warnings,omitempty"`
}
