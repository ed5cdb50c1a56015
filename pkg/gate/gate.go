package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/audit/report"
	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/compliance/metric"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/evidence"
	"mercator-hq/tollgate/pkg/evidence/loader"
	"mercator-hq/tollgate/pkg/policy/engine"
	"mercator-hq/tollgate/pkg/policy/waiver"
	"mercator-hq/tollgate/pkg/revision"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// Evaluator runs the gate pipeline: load evidence, compute metrics,
// resolve waivers, evaluate rules, decide, and append the decision to the
// audit trail. Each stage only consumes the output of the previous one.
//
// An Evaluator may be reused for repeated evaluations (watch mode) but
// must not run two evaluations concurrently.
type Evaluator struct {
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time
	getenv func(string) string

	// auditNow stamps audit entries. It is always the wall clock so a
	// fixed evaluation clock cannot backdate the audit trail.
	auditNow func() time.Time

	loader    *loader.Loader
	sink      audit.Sink
	ownsSink  bool
	collector *metrics.Collector
	tracer    *tracing.Tracer

	revision     func() string
	configDigest string
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock fixes the evaluation clock used for expiry checks and
// Decision.EvaluatedAt. Reproducible runs pass a constant. Audit entries
// are still timestamped with the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		e.now = now
	}
}

// WithSink sets the audit sink. Without it the evaluator opens the sinks
// named by the audit configuration on first use and closes them in Close.
func WithSink(s audit.Sink) Option {
	return func(e *Evaluator) {
		e.sink = s
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Evaluator) {
		e.collector = c
	}
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Evaluator) {
		e.tracer = t
	}
}

// WithRevision overrides how the evaluated commit is determined.
func WithRevision(fn func() string) Option {
	return func(e *Evaluator) {
		e.revision = fn
	}
}

// WithEnv sets the environment lookup used to derive the actor.
func WithEnv(getenv func(string) string) Option {
	return func(e *Evaluator) {
		e.getenv = getenv
	}
}

// New creates an evaluator for a validated configuration. The
// configuration is treated as immutable from here on.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Evaluator, error) {
	if cfg == nil {
		return nil, errors.New("gate configuration is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to digest configuration: %w", err)
	}

	e := &Evaluator{
		cfg:          cfg,
		logger:       logger.With("component", "gate"),
		now:          time.Now,
		auditNow:     time.Now,
		getenv:       envLookup,
		configDigest: evidence.HashContent(data),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.loader = loader.New(logger)
	if e.collector == nil {
		e.collector = metrics.NewCollector(&config.MetricsConfig{Enabled: false}, nil)
	}
	if e.tracer == nil {
		e.tracer, err = tracing.New(&config.TracingConfig{Enabled: false}, "")
		if err != nil {
			return nil, err
		}
	}
	if e.revision == nil {
		rc := cfg.Audit.Revision
		e.revision = func() string { return revision.Resolve(rc, logger) }
	}

	return e, nil
}

// Config returns the configuration the evaluator runs with.
func (e *Evaluator) Config() *config.Config {
	return e.cfg
}

// Evaluate runs one evaluation. The returned summary carries the exit code;
// an error is returned only when the evaluation itself could not complete
// (cancellation or an invalid rule), never for a failing gate or a failed
// audit append.
func (e *Evaluator) Evaluate(ctx context.Context) (*report.Summary, error) {
	start := time.Now()
	now := e.now()
	runID := uuid.New().String()
	actor := ResolveActor(e.cfg.Audit.Actor, e.getenv)
	rev := e.revision()

	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithActor(ctx, actor)

	ctx, span := e.tracer.Start(ctx, tracing.SpanEvaluate)
	defer span.End()
	tracing.SetRunAttributes(span, runID, actor, rev)
	if id := tracing.TraceID(ctx); id != "" {
		ctx = logging.WithTraceID(ctx, id)
	}

	e.logger.InfoContext(ctx, "evaluation started",
		"sources", len(e.cfg.Sources),
		"rules", len(e.cfg.Rules),
		"now", now.Format(time.RFC3339),
	)

	set := e.load(ctx, now)
	if err := ctx.Err(); err != nil {
		tracing.SetError(span, err)
		return nil, err
	}

	snapshot := e.computeMetrics(ctx, now, set)
	resolver, waiverWarnings := e.resolveWaivers(ctx, now, set)

	result, err := e.evaluateRules(ctx, resolver, snapshot)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}

	warnings := set.Warnings()
	warnings = append(warnings, snapshot.Warnings()...)
	warnings = append(warnings, waiverWarnings...)
	decision := audit.Decide(result, warnings, now)

	entry := audit.NewEntry(actor, decision, snapshot)
	entry.ID = runID
	entry.Exceptions = resolver.Stats(e.cfg.Waivers.ExpiringWindow)
	entry.Sources = audit.Snapshots(set)
	entry.Revision = rev
	entry.ConfigDigest = e.configDigest

	summary := &report.Summary{
		Entry:        entry,
		FatalSources: e.fatalSources(set),
	}

	if err := ctx.Err(); err != nil {
		tracing.SetError(span, err)
		return nil, err
	}

	auditErr := e.appendAudit(ctx, entry)
	if auditErr != nil {
		summary.AuditError = auditErr.Error()
	} else {
		summary.AuditPath = e.cfg.Audit.Path
	}

	summary.ExitCode = ExitCode(decision.Passed, len(summary.FatalSources) > 0, auditErr != nil)

	e.record(summary, time.Since(start), now)
	tracing.SetResultAttributes(span, summary.Result(), summary.ExitCode)
	tracing.SetStatus(span, auditErr)

	logArgs := []any{
		"result", summary.Result(),
		"exit_code", summary.ExitCode,
		"blocking", len(decision.Blocking()),
		"waived", len(decision.Waived()),
		"warnings", len(decision.Warnings),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if auditErr != nil {
		e.logger.ErrorContext(ctx, "audit append failed; failing closed", "error", auditErr)
	}
	e.logger.InfoContext(ctx, "evaluation completed", logArgs...)

	return summary, nil
}

// ExitCode maps an evaluation outcome to the process exit code. An audit
// failure outranks fatal evidence, which outranks a failing decision.
func ExitCode(passed, fatalEvidence, auditFailed bool) int {
	switch {
	case auditFailed:
		return cli.ExitAuditFailure
	case fatalEvidence:
		return cli.ExitFatalLoad
	case !passed:
		return cli.ExitFail
	default:
		return cli.ExitPass
	}
}

// Close releases the audit sinks opened by the evaluator.
func (e *Evaluator) Close() error {
	if e.sink == nil || !e.ownsSink {
		return nil
	}
	err := e.sink.Close()
	e.sink = nil
	return err
}

func (e *Evaluator) load(ctx context.Context, now time.Time) *evidence.Set {
	ctx, span := e.tracer.Start(ctx, tracing.SpanLoad)
	defer span.End()

	set := e.loader.Load(ctx, e.cfg.Sources, now)

	records, fatal := 0, 0
	for _, id := range set.IDs() {
		src := set.Sources[id]
		records += len(src.Records)
		if src.Status.Fatal() {
			fatal++
		}
	}
	tracing.SetLoadAttributes(span, len(set.Sources), fatal, records)
	return set
}

func (e *Evaluator) computeMetrics(ctx context.Context, now time.Time, set *evidence.Set) metric.Snapshot {
	_, span := e.tracer.Start(ctx, tracing.SpanMetrics)
	defer span.End()

	snapshot := metric.NewCalculator(now).ComputeAll(e.cfg.Metrics, set)

	available := 0
	for _, m := range snapshot {
		if m.Available {
			available++
		}
	}
	tracing.SetMetricAttributes(span, len(snapshot), available)
	return snapshot
}

func (e *Evaluator) resolveWaivers(ctx context.Context, now time.Time, set *evidence.Set) (*waiver.Resolver, []evidence.Warning) {
	_, span := e.tracer.Start(ctx, tracing.SpanWaivers)
	defer span.End()

	waivers, warnings := waiver.FromSet(set, e.cfg.Waivers.Sources, now.Location())
	resolver := waiver.NewResolver(waivers, now, e.logger)

	for _, w := range resolver.ExpiringWithin(e.cfg.Waivers.ExpiringWindow) {
		warnings = append(warnings, evidence.Warning{
			Kind:   evidence.WarnExpiringWaiver,
			Source: w.Source,
			Path:   w.Provenance.Path,
			Line:   w.Provenance.StartLine,
			Message: fmt.Sprintf("waiver %s for %s expires %s; renew it or remediate before then",
				w.ID, w.Target, w.Expiry.Format("2006-01-02")),
		})
	}

	stats := resolver.Stats(e.cfg.Waivers.ExpiringWindow)
	tracing.SetWaiverAttributes(span, stats.Total, stats.Approved, stats.Expired)
	return resolver, warnings
}

func (e *Evaluator) evaluateRules(ctx context.Context, resolver *waiver.Resolver, snapshot metric.Snapshot) (*engine.Result, error) {
	ctx, span := e.tracer.Start(ctx, tracing.SpanRules)
	defer span.End()

	eng := engine.New(engine.RulesFromConfig(e.cfg), resolver, e.logger)
	result, err := eng.Evaluate(ctx, snapshot)
	if err != nil {
		tracing.SetError(span, err)
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}

	blocking, waived := 0, 0
	for _, v := range result.Violations {
		if v.Blocking() {
			blocking++
		}
		if v.Waived {
			waived++
		}
	}
	tracing.SetRuleAttributes(span, len(result.Outcomes), blocking, waived, len(result.Warnings))
	return result, nil
}

// fatalSources returns the sources that are corrupt or unreadable while a
// blocking must_exist rule depends on them.
func (e *Evaluator) fatalSources(set *evidence.Set) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rule := range engine.RulesFromConfig(e.cfg) {
		if rule.Comparator != engine.ComparatorMustExist || rule.Severity != engine.SeverityBlock {
			continue
		}
		mc := e.cfg.Metric(rule.Metric)
		if mc == nil {
			continue
		}
		src := set.Get(mc.Source)
		if src == nil || !src.Status.Fatal() || seen[src.ID] {
			continue
		}
		seen[src.ID] = true
		out = append(out, src.ID)
	}
	sort.Strings(out)
	return out
}

func (e *Evaluator) appendAudit(ctx context.Context, entry *audit.Entry) error {
	ctx, span := e.tracer.Start(ctx, tracing.SpanAudit)
	defer span.End()

	if e.sink == nil {
		s, err := OpenSink(e.cfg.Audit, e.auditNow, e.logger)
		if err != nil {
			tracing.SetError(span, err)
			e.collector.RecordAuditAppend(err)
			return err
		}
		e.sink = s
		e.ownsSink = true
	}

	err := e.sink.Append(ctx, entry)
	e.collector.RecordAuditAppend(err)
	if err != nil {
		tracing.SetError(span, err)
		return err
	}
	return nil
}

// record publishes the evaluation to the metrics collector and, when
// configured, the node_exporter textfile.
func (e *Evaluator) record(s *report.Summary, elapsed time.Duration, now time.Time) {
	if !e.collector.Enabled() {
		return
	}
	entry := s.Entry

	e.collector.RecordEvaluation(s.Result(), elapsed, now)

	violations := make(map[string]engine.Violation, len(entry.Decision.Violations))
	for _, v := range entry.Decision.Violations {
		violations[v.RuleID] = v
	}
	for _, o := range entry.Decision.Outcomes {
		v, failed := violations[o.RuleID]
		e.collector.RecordRuleOutcome(o.RuleID, o.Family, string(o.Outcome), failed && v.Blocking())
	}

	for _, name := range entry.Metrics.Names() {
		m := entry.Metrics[name]
		e.collector.SetMetric(name, string(m.Unit), m.Value, m.Available)
	}
	for _, src := range entry.Sources {
		e.collector.SetSourceStatus(src.ID, string(src.Status))
	}

	st := entry.Exceptions
	e.collector.SetWaivers(map[string]int{
		"approved":      st.Approved,
		"pending":       st.Pending,
		"rejected":      st.Rejected,
		"expired":       st.Expired,
		"expiring_soon": st.ExpiringSoon,
	})

	if path := e.cfg.Telemetry.Metrics.TextfilePath; path != "" {
		if err := e.collector.WriteTextfile(path); err != nil {
			e.logger.Warn("failed to write metrics textfile", "path", path, "error", err)
		}
	}
}
