package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// commandContext returns the command's context, or a background context
// when the command is run directly in tests.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// usageError reports an invalid flag or configuration value (exit 4).
func usageError(field, format string, args ...any) error {
	return cli.NewExitError(cli.ExitUsage, cli.NewConfigError(field, fmt.Sprintf(format, args...)))
}

// loadGateConfig loads the gate named by --config (or the embedded gate)
// with TOLLGATE_* environment overrides applied.
func loadGateConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewExitError(cli.ExitUsage, fmt.Errorf("failed to load config: %w", err))
	}
	return cfg, nil
}

// newLogger builds the stderr logger. --verbose and --log-level override
// the configured level.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	lc := logging.FromConfig(cfg.Telemetry.Logging, w)
	if logLevel != "" {
		lc.Level = logLevel
	}
	if verbose {
		lc.Level = "debug"
	}
	if logFormat != "" {
		lc.Format = logFormat
	}

	logger, err := logging.New(lc)
	if err != nil {
		return nil, usageError("log-level", "%v", err)
	}
	return logger, nil
}

// telemetry holds the metrics collector and tracer of one command run.
type telemetry struct {
	collector *metrics.Collector
	tracer    *tracing.Tracer
}

func newTelemetry(cfg *config.Config) (*telemetry, error) {
	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	return &telemetry{
		collector: metrics.NewCollector(&cfg.Telemetry.Metrics, nil),
		tracer:    tracer,
	}, nil
}

// shutdown flushes pending spans. Export failures are logged, never fatal.
func (t *telemetry) shutdown(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.tracer.Shutdown(ctx); err != nil {
		logger.Warn("failed to flush traces", "error", err)
	}
}

// parseTime accepts RFC 3339 timestamps and YYYY-MM-DD dates. Dates are
// midnight in loc.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q (want RFC 3339 or YYYY-MM-DD)", s)
}

// parseAssignment splits an ID=VALUE flag value.
func parseAssignment(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("expected ID=VALUE, got %q", s)
	}
	return key, strings.TrimSpace(value), nil
}

// openOutput returns stdout when path is empty, otherwise the created
// file. The returned close function must be called.
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return stdout, func() error { return nil }, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
