package metrics

import (
	"mercator-hq/tollgate/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// GateMetrics tracks gate evaluations and their inputs.
//
// Metrics:
//   - tollgate_gate_evaluations_total: Evaluations by result (PASS/FAIL)
//   - tollgate_gate_evaluation_duration_seconds: End-to-end evaluation time
//   - tollgate_gate_last_result: 1 when the last evaluation passed, 0 otherwise
//   - tollgate_gate_last_evaluation_timestamp_seconds: Time of the last evaluation
//   - tollgate_gate_rule_outcomes_total: Rule outcomes by rule, family and outcome
//   - tollgate_gate_rule_passing: 1 when a rule did not block in the last evaluation
//   - tollgate_gate_metric_value: Last computed value of each compliance metric
//   - tollgate_gate_metric_available: 1 when a metric's evidence was available
//   - tollgate_gate_source_status: 1 for the current load status of each source
//   - tollgate_gate_waivers: Exceptions by effective state
type GateMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	lastResult         prometheus.Gauge
	lastEvaluation     prometheus.Gauge

	ruleOutcomes *prometheus.CounterVec
	rulePassing  *prometheus.GaugeVec

	metricValue     *prometheus.GaugeVec
	metricAvailable *prometheus.GaugeVec

	sourceStatus *prometheus.GaugeVec
	waivers      *prometheus.GaugeVec
}

// NewGateMetrics creates and registers gate metrics with the provided registry.
func NewGateMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *GateMetrics {
	gm := &GateMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluations_total",
				Help:      "Total number of gate evaluations",
			},
			[]string{"result"},
		),

		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of a gate evaluation in seconds",
				Buckets:   cfg.DurationBuckets,
			},
		),

		lastResult: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "last_result",
				Help:      "1 if the last gate evaluation passed, 0 otherwise",
			},
		),

		lastEvaluation: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "last_evaluation_timestamp_seconds",
				Help:      "Unix time of the last gate evaluation",
			},
		),

		ruleOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_outcomes_total",
				Help:      "Total number of rule outcomes",
			},
			[]string{"rule_id", "family", "outcome"},
		),

		rulePassing: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_passing",
				Help:      "1 if the rule did not block in the last evaluation, 0 otherwise",
			},
			[]string{"rule_id", "family"},
		),

		metricValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "metric_value",
				Help:      "Last computed value of a compliance metric",
			},
			[]string{"metric", "unit"},
		),

		metricAvailable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "metric_available",
				Help:      "1 if the evidence for a compliance metric was available",
			},
			[]string{"metric"},
		),

		sourceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "source_status",
				Help:      "1 for the current load status of an evidence source",
			},
			[]string{"source", "status"},
		),

		waivers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "waivers",
				Help:      "Number of exceptions by effective state",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		gm.evaluationsTotal,
		gm.evaluationDuration,
		gm.lastResult,
		gm.lastEvaluation,
		gm.ruleOutcomes,
		gm.rulePassing,
		gm.metricValue,
		gm.metricAvailable,
		gm.sourceStatus,
		gm.waivers,
	)

	return gm
}

// AuditMetrics tracks audit trail appends.
//
// Metrics:
//   - tollgate_gate_audit_appends_total: Appends by status (ok/error)
type AuditMetrics struct {
	appendsTotal *prometheus.CounterVec
}

// NewAuditMetrics creates and registers audit metrics with the provided registry.
func NewAuditMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AuditMetrics {
	am := &AuditMetrics{
		appendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_appends_total",
				Help:      "Total number of audit trail appends",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(am.appendsTotal)
	return am
}
