package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"mercator-hq/tollgate/pkg/compliance/metric"
	"mercator-hq/tollgate/pkg/evidence"
	"mercator-hq/tollgate/pkg/policy/waiver"
)

// WaiverResolver finds the waiver covering a set of identifiers.
type WaiverResolver interface {
	Resolve(keys ...string) waiver.Resolution
}

// Engine evaluates gate rules against computed metrics. Rules are
// independent: no rule's outcome depends on another's.
type Engine struct {
	rules    []Rule
	resolver WaiverResolver
	logger   *slog.Logger
}

// New creates an engine. A nil resolver honors no waivers.
func New(rules []Rule, resolver WaiverResolver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rules:    rules,
		resolver: resolver,
		logger:   logger.With("component", "policy.engine"),
	}
}

// Rules returns the engine's rules in configured order.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Evaluate applies every rule to metrics. Violations follow configured
// rule order.
func (e *Engine) Evaluate(ctx context.Context, metrics metric.Snapshot) (*Result, error) {
	result := &Result{
		Outcomes:   make([]RuleOutcome, 0, len(e.rules)),
		Violations: []Violation{},
	}

	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		outcome, violation, warnings, err := e.evaluateRule(rule, metrics)
		if err != nil {
			return nil, err
		}

		result.Outcomes = append(result.Outcomes, outcome)
		if violation != nil {
			result.Violations = append(result.Violations, *violation)
		}
		result.Warnings = append(result.Warnings, warnings...)

		e.logger.Debug("rule evaluated",
			"rule_id", rule.ID,
			"family", rule.Family,
			"severity", rule.Severity,
			"outcome", outcome.Outcome,
			"observed", outcome.Observed,
		)
	}

	return result, nil
}

// evaluateRule evaluates one rule and, when it fails, resolves waivers.
func (e *Engine) evaluateRule(rule Rule, metrics metric.Snapshot) (RuleOutcome, *Violation, []evidence.Warning, error) {
	outcome := RuleOutcome{
		RuleID:   rule.ID,
		Family:   rule.Family,
		Metric:   rule.Metric,
		Severity: rule.Severity,
	}

	m, ok := metrics[rule.Metric]
	if !ok {
		m = metric.Metric{Name: rule.Metric, Reason: fmt.Sprintf("metric %q was not computed", rule.Metric)}
	}
	outcome.Observed = m.Display()

	passed, detail, err := evaluateComparator(rule.Comparator, m, rule.Threshold)
	if err != nil {
		return outcome, nil, nil, &EvaluationError{RuleID: rule.ID, Message: "comparison failed", Cause: err}
	}
	if passed {
		outcome.Outcome = OutcomePass
		return outcome, nil, nil, nil
	}

	v := &Violation{
		RuleID:      rule.ID,
		Family:      rule.Family,
		Metric:      rule.Metric,
		Severity:    rule.Severity,
		Message:     rule.Message,
		Detail:      detail,
		Unavailable: !m.Available,
	}
	warnings := e.applyWaivers(rule, m, v)

	switch {
	case v.Waived:
		outcome.Outcome = OutcomeWaived
	case rule.Severity == SeverityWarn:
		outcome.Outcome = OutcomeWarn
	default:
		outcome.Outcome = OutcomeFail
	}
	return outcome, v, warnings, nil
}

// applyWaivers marks v as waived when a valid waiver covers the rule, or
// when every subject of the metric carries its own valid waiver. Expired
// and unapproved waivers found along the way are recorded on v.
func (e *Engine) applyWaivers(rule Rule, m metric.Metric, v *Violation) []evidence.Warning {
	if e.resolver == nil {
		return nil
	}

	var warnings []evidence.Warning
	expired := make(map[string]waiver.Waiver)
	unapproved := make(map[string]bool)
	collect := func(res waiver.Resolution) {
		for _, w := range res.Expired {
			expired[w.ID] = w
		}
		for _, w := range res.Unapproved {
			unapproved[w.ID] = true
		}
		if res.Ambiguous {
			v.Ambiguous = true
			warnings = append(warnings, evidence.Warning{
				Kind:    evidence.WarnAmbiguousWaiver,
				Source:  res.Waiver.Source,
				Path:    res.Waiver.Provenance.Path,
				Line:    res.Waiver.Provenance.StartLine,
				Message: fmt.Sprintf("rule %s: %d valid waivers match; %s selected (latest expiry)", rule.ID, res.Candidates, res.Waiver.ID),
			})
		}
	}

	keys := append([]string{rule.ID}, rule.WaiverKeys...)
	res := e.resolver.Resolve(keys...)
	collect(res)

	if res.Waived() {
		v.Waived = true
		v.WaiverIDs = []string{res.Waiver.ID}
	} else if m.Available && len(m.Subjects) > 0 {
		ids := make([]string, 0, len(m.Subjects))
		all := true
		for _, subject := range m.Subjects {
			sres := e.resolver.Resolve(subject)
			collect(sres)
			if !sres.Waived() {
				all = false
				continue
			}
			ids = append(ids, sres.Waiver.ID)
		}
		if all {
			v.Waived = true
			v.WaiverIDs = dedupe(ids)
		}
	}

	v.ExpiredWaivers = sortedKeys(expired)
	v.UnapprovedWaivers = sortedKeys(unapproved)

	for _, id := range v.ExpiredWaivers {
		w := expired[id]
		warnings = append(warnings, evidence.Warning{
			Kind:    evidence.WarnExpiredWaiver,
			Source:  w.Source,
			Path:    w.Provenance.Path,
			Line:    w.Provenance.StartLine,
			Message: fmt.Sprintf("rule %s: waiver %s expired %s and was not honored", rule.ID, id, w.ExpiryRaw),
		})
	}

	if v.Waived {
		e.logger.Info("violation waived",
			"rule_id", rule.ID,
			"waivers", v.WaiverIDs,
			"severity", rule.Severity,
		)
	}

	return warnings
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
