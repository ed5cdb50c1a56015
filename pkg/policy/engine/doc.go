// Package engine evaluates gate rules against computed metrics.
//
// Each rule compares one metric using a comparator:
//
//   - gte, lte, eq: numeric comparison against the rule threshold.
//     Boolean metrics compare as 1 or 0.
//   - not_expired: passes when an expiry metric reports nothing expired.
//   - must_exist: passes when the metric's evidence is available.
//
// A rule whose metric is unavailable always fails with "evidence
// unavailable", whatever its comparator. Absent evidence is therefore never
// mistaken for a zero count.
//
// # Waivers
//
// A failing rule is looked up in the waiver resolver under its own ID and
// any configured waiver keys. When no waiver covers the rule itself, the
// rule is still waived if every subject the metric reports (for example
// each open high risk) carries its own valid waiver. Expired and
// unapproved waivers that matched are recorded on the violation so the
// summary can surface them.
//
// # Severity
//
// Block violations fail the gate unless waived. Warn violations are
// advisory only. Families configured as warn-only downgrade their block
// rules to warn when rules are built with RulesFromConfig.
//
// # Basic Usage
//
//	rules := engine.RulesFromConfig(cfg)
//	eng := engine.New(rules, resolver, logger)
//	result, err := eng.Evaluate(ctx, snapshot)
//	for _, v := range result.Violations {
//	    fmt.Println(v.RuleID, v.Blocking())
//	}
package engine
