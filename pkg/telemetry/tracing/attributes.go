package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span names, one per pipeline stage.
const (
	SpanEvaluate = "tollgate.evaluate"
	SpanLoad     = "tollgate.evidence.load"
	SpanMetrics  = "tollgate.metrics.compute"
	SpanWaivers  = "tollgate.waivers.resolve"
	SpanRules    = "tollgate.rules.evaluate"
	SpanAudit    = "tollgate.audit.append"
)

// Attribute keys use the "tollgate.*" namespace.
const (
	AttrRunID    = "tollgate.run_id"
	AttrActor    = "tollgate.actor"
	AttrRevision = "tollgate.revision"

	AttrSourcesTotal = "tollgate.sources.total"
	AttrSourcesFatal = "tollgate.sources.fatal"
	AttrRecords      = "tollgate.records"

	AttrMetricsTotal     = "tollgate.metrics.total"
	AttrMetricsAvailable = "tollgate.metrics.available"

	AttrWaiversTotal   = "tollgate.waivers.total"
	AttrWaiversActive  = "tollgate.waivers.active"
	AttrWaiversExpired = "tollgate.waivers.expired"

	AttrRulesTotal = "tollgate.rules.total"
	AttrBlocking   = "tollgate.violations.blocking"
	AttrWaived     = "tollgate.violations.waived"
	AttrWarnings   = "tollgate.warnings"

	AttrResult   = "tollgate.result"
	AttrExitCode = "tollgate.exit_code"

	AttrAuditSink = "tollgate.audit.sink"

	AttrErrorMessage = "error.message"
)

// SetRunAttributes sets the identity of an evaluation on its root span.
func SetRunAttributes(span trace.Span, runID, actor, revision string) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.String(AttrActor, actor),
	}
	if revision != "" {
		attrs = append(attrs, attribute.String(AttrRevision, revision))
	}
	span.SetAttributes(attrs...)
}

// SetLoadAttributes records evidence loading totals.
func SetLoadAttributes(span trace.Span, sources, fatal, records int) {
	span.SetAttributes(
		attribute.Int(AttrSourcesTotal, sources),
		attribute.Int(AttrSourcesFatal, fatal),
		attribute.Int(AttrRecords, records),
	)
}

// SetMetricAttributes records how many metrics were computed and available.
func SetMetricAttributes(span trace.Span, total, available int) {
	span.SetAttributes(
		attribute.Int(AttrMetricsTotal, total),
		attribute.Int(AttrMetricsAvailable, available),
	)
}

// SetWaiverAttributes records exception resolution totals.
func SetWaiverAttributes(span trace.Span, total, active, expired int) {
	span.SetAttributes(
		attribute.Int(AttrWaiversTotal, total),
		attribute.Int(AttrWaiversActive, active),
		attribute.Int(AttrWaiversExpired, expired),
	)
}

// SetRuleAttributes records rule evaluation totals.
func SetRuleAttributes(span trace.Span, rules, blocking, waived, warnings int) {
	span.SetAttributes(
		attribute.Int(AttrRulesTotal, rules),
		attribute.Int(AttrBlocking, blocking),
		attribute.Int(AttrWaived, waived),
		attribute.Int(AttrWarnings, warnings),
	)
}

// SetResultAttributes records the gate outcome.
func SetResultAttributes(span trace.Span, result string, exitCode int) {
	span.SetAttributes(
		attribute.String(AttrResult, result),
		attribute.Int(AttrExitCode, exitCode),
	)
}
