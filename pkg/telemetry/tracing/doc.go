// Package tracing provides OpenTelemetry tracing for gate evaluations.
//
// # Overview
//
// Each evaluation produces one root span ("tollgate.evaluate") with a child
// span per pipeline stage: evidence load, metric computation, exception
// resolution, rule evaluation and the audit append. Spans are exported to
// an OTLP gRPC collector.
//
// # Trace Context Propagation
//
// A CI job that is itself traced can pass its context to the gate through
// the TRACEPARENT, TRACESTATE and BAGGAGE environment variables:
//
//	TRACEPARENT=00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
//
// ExtractFromEnv turns them into a parent context.
//
// # Sampling Strategies
//
// Three sampling strategies are supported:
//   - always: Sample all traces
//   - never: Sample no traces
//   - ratio: Sample a percentage of traces
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx = tracing.ExtractFromEnv(ctx, os.Environ())
//	ctx, span := tracer.Start(ctx, tracing.SpanEvaluate)
//	defer span.End()
//
// When tracing is disabled, New returns a tracer backed by the noop
// provider, so call sites never check Enabled.
package tracing
