package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Environment variables carrying W3C Trace Context into a CLI process.
// CI systems that trace their pipelines export the parent job's context
// through these, following the OpenTelemetry environment carrier
// convention.
const (
	EnvTraceParent = "TRACEPARENT"
	EnvTraceState  = "TRACESTATE"
	EnvBaggage     = "BAGGAGE"
)

// ExtractFromEnv returns ctx carrying the remote span context found in
// environ (in os.Environ form). The gate's root span then joins the CI
// pipeline's trace. An absent or invalid TRACEPARENT leaves ctx unchanged.
//
//	ctx = tracing.ExtractFromEnv(ctx, os.Environ())
func ExtractFromEnv(ctx context.Context, environ []string) context.Context {
	carrier := propagation.MapCarrier{}
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		switch name {
		case EnvTraceParent:
			carrier.Set("traceparent", value)
		case EnvTraceState:
			carrier.Set("tracestate", value)
		case EnvBaggage:
			carrier.Set("baggage", value)
		}
	}
	if carrier.Get("traceparent") == "" {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// InjectToEnv returns the environment entries that hand the current span
// context to a child process.
func InjectToEnv(ctx context.Context) []string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	var env []string
	if v := carrier.Get("traceparent"); v != "" {
		env = append(env, EnvTraceParent+"="+v)
	}
	if v := carrier.Get("tracestate"); v != "" {
		env = append(env, EnvTraceState+"="+v)
	}
	if v := carrier.Get("baggage"); v != "" {
		env = append(env, EnvBaggage+"="+v)
	}
	return env
}

// ValidateTraceParent validates the traceparent format.
//
// Format: version-trace_id-parent_id-trace_flags
//   - version: 2 hex digits (00)
//   - trace_id: 32 hex digits (128-bit)
//   - parent_id: 16 hex digits (64-bit)
//   - trace_flags: 2 hex digits (8-bit)
//
// Example: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
func ValidateTraceParent(traceparent string) bool {
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return false
	}

	for i, n := range []int{2, 32, 16, 2} {
		if len(parts[i]) != n || !isHexString(parts[i]) {
			return false
		}
	}

	// All-zero IDs are invalid
	if parts[1] == strings.Repeat("0", 32) || parts[2] == strings.Repeat("0", 16) {
		return false
	}

	return true
}

// isHexString checks if a string contains only hexadecimal characters.
func isHexString(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
