package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/audit/report"
	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/gate"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/watch"
)

var watchFlags struct {
	schedule string
	listen   string
	debounce time.Duration
	auditLog string
	actor    string
	maxAge   time.Duration
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-evaluate the gate on evidence changes",
	Long: `Run the gate once, then again whenever an evidence file changes and,
with --schedule, on a cron schedule. Gate metrics are served on the
metrics path, with /health, /ready, and /version alongside.

Every evaluation is audited exactly like tollgate evaluate. The command
exits 0 on SIGINT or SIGTERM.

Examples:
  # Re-evaluate on change, serve metrics on the default address
  tollgate watch

  # Also re-evaluate every 15 minutes, so expiring exceptions are noticed
  tollgate watch --schedule "*/15 * * * *" --listen 0.0.0.0:9464`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchFlags.schedule, "schedule", "", "cron schedule for periodic re-evaluation")
	watchCmd.Flags().StringVar(&watchFlags.listen, "listen", "", "metrics and health listen address")
	watchCmd.Flags().DurationVar(&watchFlags.debounce, "debounce", 0, "quiet period after a change before re-evaluating")
	watchCmd.Flags().StringVar(&watchFlags.auditLog, "audit-log", "", "audit log path")
	watchCmd.Flags().StringVar(&watchFlags.actor, "actor", "", "actor recorded in the audit log")
	watchCmd.Flags().DurationVar(&watchFlags.maxAge, "max-age", 0, "readiness fails when the last evaluation is older (default: none)")
}

// watcher serializes evaluations and publishes their outcome.
type watcher struct {
	mu      sync.Mutex
	ev      *gate.Evaluator
	tracker *health.Tracker
	render  *report.Renderer
	out     func(s *report.Summary)
	logger  *slog.Logger
}

// run performs one evaluation. Evaluations triggered while one is running
// wait for it to finish.
func (w *watcher) run(ctx context.Context, trigger string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	w.logger.Info("re-evaluating gate", "trigger", trigger)

	summary, err := w.ev.Evaluate(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("evaluation failed", "trigger", trigger, "error", err)
		}
		return
	}

	var auditErr error
	if summary.AuditError != "" {
		auditErr = errors.New(summary.AuditError)
	}
	w.tracker.Observe(time.Now(), summary.Result(), auditErr)
	if w.out != nil {
		w.out(summary)
	}
}

func watchConfig() (*config.Config, error) {
	base, err := loadGateConfig()
	if err != nil {
		return nil, err
	}
	cfg, err := config.WithOverrides(base, config.Overrides{
		AuditPath: watchFlags.auditLog,
		Actor:     watchFlags.actor,
	})
	if err != nil {
		return nil, cli.NewExitError(cli.ExitUsage, err)
	}

	if watchFlags.schedule != "" {
		cfg.Watch.Schedule = watchFlags.schedule
	}
	if watchFlags.listen != "" {
		cfg.Watch.ListenAddress = watchFlags.listen
	}
	if watchFlags.debounce > 0 {
		cfg.Watch.DebounceInterval = watchFlags.debounce
	}
	return cfg, nil
}

// newWatchMux serves gate metrics and health endpoints.
func newWatchMux(cfg *config.Config, tel *telemetry, tracker *health.Tracker) *http.ServeMux {
	checker := health.New(0)
	checker.RegisterCheck("audit", tracker.AuditCheck())
	checker.RegisterCheck("audit_path", health.AuditPathCheck(cfg.Audit.Path))
	checker.RegisterCheck("evaluation", tracker.FreshnessCheck(watchFlags.maxAge, time.Now))

	mux := http.NewServeMux()
	mux.Handle(cfg.Telemetry.Metrics.Path, tel.collector.Handler())
	health.Register(mux, checker, health.VersionInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	})
	return mux
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := watchConfig()
	if err != nil {
		return err
	}
	cfg.Telemetry.Metrics.Enabled = true

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	var scheduler *watch.Scheduler
	if cfg.Watch.Schedule != "" {
		scheduler, err = watch.NewScheduler(cfg.Watch.Schedule, logger)
		if err != nil {
			return usageError("schedule", "%v", err)
		}
	}

	tel, err := newTelemetry(cfg)
	if err != nil {
		return cli.NewExitError(cli.ExitUsage, err)
	}
	defer tel.shutdown(logger)

	ctx, stop := cli.SetupSignalHandler(commandContext(cmd))
	defer stop()

	ev, err := gate.New(cfg, logger, gate.WithMetrics(tel.collector), gate.WithTracer(tel.tracer))
	if err != nil {
		return cli.NewExitError(cli.ExitUsage, err)
	}
	defer func() {
		if err := ev.Close(); err != nil {
			logger.Error("failed to close audit log", "error", err)
		}
	}()

	tracker := &health.Tracker{}
	renderer := report.New(report.FormatText)
	out := cmd.OutOrStdout()
	w := &watcher{
		ev:      ev,
		tracker: tracker,
		logger:  logger,
		out: func(s *report.Summary) {
			if err := renderer.Render(out, s); err != nil {
				logger.Error("failed to write summary", "error", err)
			}
		},
	}

	server := &http.Server{
		Addr:              cfg.Watch.ListenAddress,
		Handler:           newWatchMux(cfg, tel, tracker),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "address", server.Addr, "path", cfg.Telemetry.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	w.run(ctx, "startup")

	paths := make([]string, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		paths = append(paths, src.Path)
	}
	files, err := watch.NewFileWatcher(paths, cfg.Watch.DebounceInterval, logger)
	if err != nil {
		return cli.NewCommandError("watch", err)
	}
	go func() {
		if err := files.Watch(ctx, func(path string) {
			w.run(ctx, "change:"+path)
		}); err != nil && ctx.Err() == nil {
			logger.Error("file watcher stopped", "error", err)
		}
	}()

	if scheduler != nil {
		if err := scheduler.Start(ctx, func(ctx context.Context) {
			w.run(ctx, "schedule")
		}); err != nil {
			return cli.NewCommandError("watch", err)
		}
		defer scheduler.Stop()
		if next := scheduler.NextRun(); next != nil {
			logger.Info("scheduled re-evaluation", "schedule", cfg.Watch.Schedule, "next_run", next.Format(time.RFC3339))
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down watch mode")
	case err := <-serverErr:
		return cli.NewCommandError("watch", fmt.Errorf("metrics server: %w", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}

	// Wait for an in-flight evaluation to finish its audit append.
	w.mu.Lock()
	defer w.mu.Unlock()
	return nil
}
