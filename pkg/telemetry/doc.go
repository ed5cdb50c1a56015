// Package telemetry groups the observability packages used by the gate.
//
// # Components
//
//   - logging: Structured slog logging with redaction of emails and tokens
//   - metrics: Prometheus gate metrics, served in watch mode or written
//     to a node_exporter textfile
//   - tracing: OpenTelemetry spans per pipeline stage, exported over OTLP
//   - health: Liveness and readiness endpoints for watch mode
//
// Logs always go to stderr. Stdout carries only the gate summary, so CI
// systems can parse it.
package telemetry
