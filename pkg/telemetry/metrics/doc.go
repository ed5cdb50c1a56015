// Package metrics provides Prometheus metrics for gate evaluations.
//
// # Overview
//
// The collector records evaluation results and durations, per-rule
// outcomes, the last value of every compliance metric, evidence source
// status, exception counts, and audit append failures.
//
// # Export
//
// A single "tollgate evaluate" run is too short-lived to be scraped, so
// WriteTextfile writes the registry in the Prometheus text format for the
// node_exporter textfile collector. "tollgate watch" serves the same
// registry over HTTP through Handler.
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordEvaluation("FAIL", elapsed, now)
//	collector.RecordRuleOutcome("risk-open-high", "risk", "fail", true)
//	if err := collector.WriteTextfile("/var/lib/node_exporter/tollgate.prom"); err != nil {
//		// ...
//	}
package metrics
