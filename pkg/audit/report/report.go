package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/policy/engine"
)

// Format is the summary output format.
type Format string

const (
	// FormatText is key=value machine lines followed by a human section.
	FormatText Format = "text"

	// FormatJSON is a single JSON document.
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (must be 'text' or 'json')", s)
	}
}

// Summary is everything reported about one evaluation.
type Summary struct {
	Entry    *audit.Entry `json:"entry"`
	ExitCode int          `json:"exit_code"`

	// AuditPath is where the entry was appended.
	AuditPath string `json:"audit_path,omitempty"`

	// AuditError is set when the entry could not be appended. The gate
	// fails closed in that case.
	AuditError string `json:"audit_error,omitempty"`

	// FatalSources lists required sources that were corrupt or unreadable.
	FatalSources []string `json:"fatal_sources,omitempty"`
}

// Result returns the reported result, which is FAIL whenever the exit code
// is non-zero even if the decision itself passed.
func (s *Summary) Result() string {
	if s.ExitCode != 0 {
		return audit.ResultFail
	}
	return s.Entry.Decision.Result()
}

// Renderer writes evaluation summaries. The machine-readable part is
// always colorless.
type Renderer struct {
	format Format
	color  bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithColor colors the human section of text output.
func WithColor(enabled bool) Option {
	return func(r *Renderer) {
		r.color = enabled
	}
}

// New creates a renderer for format.
func New(format Format, opts ...Option) *Renderer {
	r := &Renderer{format: format}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render writes the summary to w.
func (r *Renderer) Render(w io.Writer, s *Summary) error {
	if r.format == FormatJSON {
		return renderJSON(w, s)
	}
	return r.renderText(w, s)
}

type jsonSummary struct {
	Result       string   `json:"result"`
	ExitCode     int      `json:"exit_code"`
	AuditPath    string   `json:"audit_path,omitempty"`
	AuditError   string   `json:"audit_error,omitempty"`
	FatalSources []string `json:"fatal_sources,omitempty"`
	*audit.Entry
}

func renderJSON(w io.Writer, s *Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonSummary{
		Result:       s.Result(),
		ExitCode:     s.ExitCode,
		AuditPath:    s.AuditPath,
		AuditError:   s.AuditError,
		FatalSources: s.FatalSources,
		Entry:        s.Entry,
	})
}

func (r *Renderer) renderText(w io.Writer, s *Summary) error {
	e := s.Entry
	d := e.Decision
	tw := &textWriter{w: w}

	tw.line("GATE",
		"result", s.Result(),
		"exit_code", strconv.Itoa(s.ExitCode),
		"violations", strconv.Itoa(len(d.Violations)),
		"blocking", strconv.Itoa(len(d.Blocking())),
		"waived", strconv.Itoa(len(d.Waived())),
		"warnings", strconv.Itoa(len(d.Warnings)),
		"evaluated_at", d.EvaluatedAt.Format("2006-01-02T15:04:05Z07:00"),
	)
	if s.AuditError != "" {
		tw.line("AUDIT", "status", "failed", "path", s.AuditPath, "error", s.AuditError)
	} else {
		tw.line("AUDIT", "status", "appended", "path", s.AuditPath, "entry", e.ID, "hash", e.Hash)
	}

	for _, o := range d.Outcomes {
		tw.line("RULE",
			"id", o.RuleID,
			"family", o.Family,
			"severity", string(o.Severity),
			"outcome", string(o.Outcome),
			"observed", o.Observed,
		)
	}
	for _, name := range e.Metrics.Names() {
		m := e.Metrics[name]
		tw.line("METRIC", "name", name, "value", m.Display(), "available", strconv.FormatBool(m.Available))
	}
	for _, src := range e.Sources {
		tw.line("SOURCE",
			"id", src.ID,
			"status", string(src.Status),
			"records", strconv.Itoa(src.Records),
			"warnings", strconv.Itoa(src.Warnings),
		)
	}
	x := e.Exceptions
	tw.line("EXCEPTIONS",
		"total", strconv.Itoa(x.Total),
		"approved", strconv.Itoa(x.Approved),
		"pending", strconv.Itoa(x.Pending),
		"rejected", strconv.Itoa(x.Rejected),
		"expired", strconv.Itoa(x.Expired),
		"expiring_soon", strconv.Itoa(x.ExpiringSoon),
	)
	if tw.err != nil {
		return tw.err
	}

	return r.renderHuman(w, s)
}

// renderHuman writes what failed, why, and what to do about it.
func (r *Renderer) renderHuman(w io.Writer, s *Summary) error {
	d := s.Entry.Decision

	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen, color.Bold)
	for _, c := range []*color.Color{red, yellow, cyan, green} {
		if r.color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	var b strings.Builder
	b.WriteString("\n")

	if len(s.FatalSources) > 0 {
		b.WriteString(red.Sprint("Unreadable evidence:") + "\n")
		for _, id := range s.FatalSources {
			fmt.Fprintf(&b, "  %s %s\n", red.Sprint("✗"), id)
		}
		b.WriteString("\n")
	}

	if blocking := d.Blocking(); len(blocking) > 0 {
		b.WriteString(red.Sprint("Failed:") + "\n")
		for _, v := range blocking {
			writeViolation(&b, red.Sprint("✗"), v)
		}
		b.WriteString("\n")
	}

	if advisory := d.Advisory(); len(advisory) > 0 {
		b.WriteString(yellow.Sprint("Advisory:") + "\n")
		for _, v := range advisory {
			writeViolation(&b, yellow.Sprint("!"), v)
		}
		b.WriteString("\n")
	}

	if waived := d.Waived(); len(waived) > 0 {
		b.WriteString(cyan.Sprint("Waived:") + "\n")
		for _, v := range waived {
			fmt.Fprintf(&b, "  %s %s (%s) waived by %s\n", cyan.Sprint("~"), v.RuleID, v.Family, strings.Join(v.WaiverIDs, ", "))
			fmt.Fprintf(&b, "      why: %s\n", v.Detail)
		}
		b.WriteString("\n")
	}

	if len(d.Warnings) > 0 {
		b.WriteString(yellow.Sprint("Warnings:") + "\n")
		for _, warn := range d.Warnings {
			fmt.Fprintf(&b, "  - %s\n", warn.String())
		}
		b.WriteString("\n")
	}

	if s.AuditError != "" {
		b.WriteString(red.Sprint("Audit trail could not be written; the gate fails closed.") + "\n")
	}

	switch {
	case s.ExitCode == 0:
		b.WriteString(green.Sprint("Gate passed.") + "\n")
	default:
		b.WriteString(red.Sprint("Gate failed.") + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeViolation(b *strings.Builder, mark string, v engine.Violation) {
	fmt.Fprintf(b, "  %s %s (%s)\n", mark, v.RuleID, v.Family)
	fmt.Fprintf(b, "      why: %s\n", v.Detail)
	if v.Message != "" {
		fmt.Fprintf(b, "      fix: %s\n", v.Message)
	}
	if len(v.ExpiredWaivers) > 0 {
		fmt.Fprintf(b, "      expired waivers: %s\n", strings.Join(v.ExpiredWaivers, ", "))
	}
	if len(v.UnapprovedWaivers) > 0 {
		fmt.Fprintf(b, "      unapproved waivers: %s\n", strings.Join(v.UnapprovedWaivers, ", "))
	}
}

// textWriter writes "TAG key=value ..." lines and keeps the first error.
type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) line(tag string, kv ...string) {
	if t.err != nil {
		return
	}
	var b strings.Builder
	b.WriteString(tag)
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteByte(' ')
		b.WriteString(kv[i])
		b.WriteByte('=')
		b.WriteString(quote(kv[i+1]))
	}
	b.WriteByte('\n')
	_, t.err = io.WriteString(t.w, b.String())
}

// quote leaves simple values bare and quotes anything a key=value parser
// would split on.
func quote(v string) string {
	if v == "" {
		return `""`
	}
	if strings.ContainsAny(v, " \t\"=\n") {
		return strconv.Quote(v)
	}
	return v
}
