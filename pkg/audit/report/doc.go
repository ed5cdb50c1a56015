// Package report renders gate evaluation summaries.
//
// Text output starts with colorless "TAG key=value" lines (GATE, AUDIT,
// RULE, METRIC, SOURCE, EXCEPTIONS) that scripts can parse, followed by a
// human section listing what failed, why, and the remediation message of
// each failing rule. JSON output is one document holding the full audit
// entry plus the exit code.
package report
