package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/audit/report"
	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/gate"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// optionalFloat is a float flag that remembers whether it was set.
type optionalFloat struct {
	value float64
	set   bool
}

func (f *optionalFloat) String() string {
	if !f.set {
		return ""
	}
	return strconv.FormatFloat(f.value, 'f', -1, 64)
}

func (f *optionalFloat) Set(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	f.value, f.set = v, true
	return nil
}

func (f *optionalFloat) Type() string { return "float" }

// optionalBool is a bool flag that remembers whether it was set.
type optionalBool struct {
	value bool
	set   bool
}

func (b *optionalBool) String() string {
	if !b.set {
		return ""
	}
	return strconv.FormatBool(b.value)
}

func (b *optionalBool) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean %q", s)
	}
	b.value, b.set = v, true
	return nil
}

func (b *optionalBool) Type() string { return "bool" }

func (b *optionalBool) IsBoolFlag() bool { return true }

// Named flags of the embedded gate. They only apply when set, so custom
// gates without these IDs are unaffected.
var (
	sourceFlagNames = []struct{ flag, id string }{
		{"policy-catalog", "policy_catalog"},
		{"exception-register", "exception_register"},
		{"risk-register", "risk_register"},
		{"iam-map", "iam_map"},
		{"vendor-metrics", "vendor_metrics"},
		{"commit-report", "commit_report"},
	}

	thresholdFlagNames = []struct{ flag, rule string }{
		{"min-policy-completion", "policy-catalog-completion"},
		{"max-open-high-risks", "risk-open-high"},
		{"min-access-review-completion", "access-review-completion"},
		{"max-overdue-reviews", "access-overdue-reviews"},
		{"max-sod-violations", "access-sod-violations"},
		{"max-vendor-overdue-assessments", "vendor-overdue-assessments"},
		{"min-signed-commits", "commit-signing-coverage"},
	}

	blockFlagNames = []struct{ flag, family string }{
		{"block-policy", "policy"},
		{"block-risk", "risk"},
		{"block-access", "access"},
		{"block-vendor", "vendor"},
		{"block-commit-signing", "commit_signing"},
	}
)

var evaluateFlags struct {
	sourcePaths map[string]*string
	thresholds  map[string]*optionalFloat
	blocks      map[string]*optionalBool

	sources       []string
	thresholdArgs []string

	auditLog    string
	actor       string
	format      string
	color       bool
	now         string
	metricsFile string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate the compliance gate",
	Long: `Load governance evidence, compute compliance metrics, apply exceptions,
evaluate the gate rules, and append the decision to the audit log.

The first lines of output are machine-parseable key=value records (or a
single JSON document with --format json), followed by what failed, why,
and what to do about it.

Configuration precedence: flags, then TOLLGATE_* environment variables,
then the config file, then built-in defaults.

Exit codes:
  0  gate passed
  1  a blocking rule failed and is not covered by a valid exception
  2  required evidence is corrupt or unreadable
  3  the decision could not be written to the audit log
  4  invalid configuration or usage

Examples:
  # Evaluate the embedded default gate
  tollgate evaluate

  # Stricter policy completion, access findings advisory only
  tollgate evaluate --min-policy-completion 100 --block-access=false

  # Point a source at a generated report
  tollgate evaluate --source vendor_metrics=build/vendor-metrics.json

  # Reproducible run for a past date
  tollgate evaluate --now 2026-03-15 --format json`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	flags := evaluateCmd.Flags()

	evaluateFlags.sourcePaths = make(map[string]*string)
	for _, sf := range sourceFlagNames {
		p := new(string)
		evaluateFlags.sourcePaths[sf.id] = p
		flags.StringVar(p, sf.flag, "", fmt.Sprintf("path of the %s source", sf.id))
	}

	evaluateFlags.thresholds = make(map[string]*optionalFloat)
	for _, tf := range thresholdFlagNames {
		v := &optionalFloat{}
		evaluateFlags.thresholds[tf.rule] = v
		flags.Var(v, tf.flag, fmt.Sprintf("threshold of rule %s", tf.rule))
	}

	evaluateFlags.blocks = make(map[string]*optionalBool)
	for _, bf := range blockFlagNames {
		v := &optionalBool{}
		evaluateFlags.blocks[bf.family] = v
		flags.Var(v, bf.flag, fmt.Sprintf("%s violations fail the gate (false: warn only)", bf.family))
		flags.Lookup(bf.flag).NoOptDefVal = "true"
	}

	flags.StringArrayVar(&evaluateFlags.sources, "source", nil, "override a source path (ID=PATH, repeatable)")
	flags.StringArrayVar(&evaluateFlags.thresholdArgs, "threshold", nil, "override a rule threshold (RULE=VALUE, repeatable)")
	flags.StringVar(&evaluateFlags.auditLog, "audit-log", "", "audit log path")
	flags.StringVar(&evaluateFlags.actor, "actor", "", "actor recorded in the audit log (default: CI user or OS user)")
	flags.StringVar(&evaluateFlags.format, "format", "text", "summary format: text, json")
	flags.BoolVar(&evaluateFlags.color, "color", false, "color the human-readable section")
	flags.StringVar(&evaluateFlags.now, "now", "", "evaluation time (RFC 3339 or YYYY-MM-DD) for reproducible runs")
	flags.StringVar(&evaluateFlags.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
}

// buildOverrides collects the command-line overrides. Generic --source and
// --threshold values win over the named flags.
func buildOverrides() (config.Overrides, error) {
	o := config.Overrides{
		SourcePaths: make(map[string]string),
		Thresholds:  make(map[string]float64),
		Block:       make(map[string]bool),
		AuditPath:   evaluateFlags.auditLog,
		Actor:       evaluateFlags.actor,
	}

	for id, p := range evaluateFlags.sourcePaths {
		if p != nil && *p != "" {
			o.SourcePaths[id] = *p
		}
	}
	for rule, v := range evaluateFlags.thresholds {
		if v != nil && v.set {
			o.Thresholds[rule] = v.value
		}
	}
	for family, v := range evaluateFlags.blocks {
		if v != nil && v.set {
			o.Block[family] = v.value
		}
	}

	for _, s := range evaluateFlags.sources {
		id, path, err := parseAssignment(s)
		if err != nil {
			return o, usageError("source", "%v", err)
		}
		o.SourcePaths[id] = path
	}
	for _, s := range evaluateFlags.thresholdArgs {
		rule, value, err := parseAssignment(s)
		if err != nil {
			return o, usageError("threshold", "%v", err)
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return o, usageError("threshold", "invalid threshold %q for rule %s", value, rule)
		}
		o.Thresholds[rule] = f
	}

	return o, nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(evaluateFlags.format)
	if err != nil {
		return usageError("format", "%v", err)
	}

	base, err := loadGateConfig()
	if err != nil {
		return err
	}
	overrides, err := buildOverrides()
	if err != nil {
		return err
	}
	cfg, err := config.WithOverrides(base, overrides)
	if err != nil {
		return cli.NewExitError(cli.ExitUsage, fmt.Errorf("invalid overrides: %w", err))
	}
	if evaluateFlags.metricsFile != "" {
		cfg.Telemetry.Metrics.Enabled = true
		cfg.Telemetry.Metrics.TextfilePath = evaluateFlags.metricsFile
	}

	opts := []gate.Option{}
	if evaluateFlags.now != "" {
		fixed, err := parseTime(evaluateFlags.now, time.Local)
		if err != nil {
			return usageError("now", "%v", err)
		}
		opts = append(opts, gate.WithClock(func() time.Time { return fixed }))
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	tel, err := newTelemetry(cfg)
	if err != nil {
		return cli.NewExitError(cli.ExitUsage, err)
	}
	defer tel.shutdown(logger)

	ctx, stop := cli.SetupSignalHandler(commandContext(cmd))
	defer stop()
	ctx = tracing.ExtractFromEnv(ctx, os.Environ())

	opts = append(opts, gate.WithMetrics(tel.collector), gate.WithTracer(tel.tracer))
	ev, err := gate.New(cfg, logger, opts...)
	if err != nil {
		return cli.NewExitError(cli.ExitUsage, err)
	}
	defer func() {
		if err := ev.Close(); err != nil {
			logger.Error("failed to close audit log", "error", err)
		}
	}()

	summary, err := ev.Evaluate(ctx)
	if err != nil {
		if errors.Is(err, ctx.Err()) && ctx.Err() != nil {
			return cli.NewExitError(cli.ExitFail, fmt.Errorf("evaluation interrupted: %w", err))
		}
		return cli.NewExitError(cli.ExitUsage, err)
	}

	renderer := report.New(format, report.WithColor(evaluateFlags.color))
	if err := renderer.Render(cmd.OutOrStdout(), summary); err != nil {
		code := summary.ExitCode
		if code == cli.ExitPass {
			code = cli.ExitFail
		}
		return cli.NewExitError(code, fmt.Errorf("failed to write summary: %w", err))
	}

	if summary.ExitCode != cli.ExitPass {
		return cli.NewExitError(summary.ExitCode, nil)
	}
	return nil
}
