package evidence

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind identifies the typed variant a Record carries.
type Kind string

const (
	KindPolicy    Kind = "policy"
	KindException Kind = "exception"
	KindRisk      Kind = "risk"
	KindMetric    Kind = "metric"
	KindGeneric   Kind = "generic"
)

// Provenance locates a record in its source artifact.
type Provenance struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

// String formats the provenance as path:start-end.
func (p Provenance) String() string {
	switch {
	case p.StartLine == 0:
		return p.Path
	case p.EndLine == 0 || p.EndLine == p.StartLine:
		return fmt.Sprintf("%s:%d", p.Path, p.StartLine)
	default:
		return fmt.Sprintf("%s:%d-%d", p.Path, p.StartLine, p.EndLine)
	}
}

// PolicyEntry is a row of a policy catalog.
type PolicyEntry struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Section string `json:"section,omitempty"`
}

// ExceptionEntry is a row of an exception register.
type ExceptionEntry struct {
	ID             string          `json:"id"`
	PolicyOrRiskID string          `json:"policy_or_risk_id"`
	Description    string          `json:"description,omitempty"`
	RiskOwner      string          `json:"risk_owner,omitempty"`
	ExpiryDate     string          `json:"expiry_date"`
	Status         ExceptionStatus `json:"status"`
}

// RiskEntry is a row of a risk register.
type RiskEntry struct {
	ID         string     `json:"id"`
	Title      string     `json:"title,omitempty"`
	Severity   Severity   `json:"severity"`
	Status     RiskStatus `json:"status"`
	ExpiryDate string     `json:"expiry_date,omitempty"`
}

// MetricEntry is a named raw value asserted by a document, such as a
// "key: value" line or a JSON scalar.
type MetricEntry struct {
	Name     string `json:"name"`
	RawValue string `json:"raw_value"`
}

// Record is a typed row extracted from a source artifact. Exactly one of
// the typed variants matching Kind is set. Fields holds every column of
// the row under normalized lower_snake keys, with enumerations in their
// canonical spelling; metric filters match against it.
type Record struct {
	Kind       Kind              `json:"kind"`
	ID         string            `json:"id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Provenance Provenance        `json:"provenance"`

	Policy    *PolicyEntry    `json:"policy,omitempty"`
	Exception *ExceptionEntry `json:"exception,omitempty"`
	Risk      *RiskEntry      `json:"risk,omitempty"`
	Metric    *MetricEntry    `json:"metric,omitempty"`
}

// Field returns a normalized field value.
func (r *Record) Field(name string) string {
	return r.Fields[NormalizeKey(name)]
}

// Status describes the outcome of loading one source.
type Status string

const (
	// StatusLoaded means the source was read and parsed. It may still
	// have produced zero records.
	StatusLoaded Status = "loaded"

	// StatusAbsent means the source file, or the section it names, does
	// not exist.
	StatusAbsent Status = "absent"

	// StatusCorrupt means the source exists but could not be parsed.
	StatusCorrupt Status = "corrupt"

	// StatusUnreadable means the source exists but could not be read.
	StatusUnreadable Status = "unreadable"
)

// Available reports whether records from a source with this status can be
// used to compute metrics.
func (s Status) Available() bool {
	return s == StatusLoaded
}

// Fatal reports whether the status indicates a present-but-broken source.
func (s Status) Fatal() bool {
	return s == StatusCorrupt || s == StatusUnreadable
}

// WarningKind classifies a non-fatal problem surfaced in the summary.
type WarningKind string

const (
	WarnMalformedRow    WarningKind = "malformed_row"
	WarnUnknownValue    WarningKind = "unknown_value"
	WarnDateParse       WarningKind = "date_parse"
	WarnAmbiguousWaiver WarningKind = "ambiguous_waiver"
	WarnExpiredWaiver   WarningKind = "expired_waiver"
	WarnExpiringWaiver  WarningKind = "expiring_waiver"
	WarnUnavailable     WarningKind = "evidence_unavailable"
)

// Warning is a recoverable problem found while loading evidence,
// computing metrics, or resolving waivers.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Source  string      `json:"source,omitempty"`
	Path    string      `json:"path,omitempty"`
	Line    int         `json:"line,omitempty"`
	Message string      `json:"message"`
}

// String formats the warning for the human summary.
func (w Warning) String() string {
	loc := w.Source
	if w.Path != "" {
		loc = w.Path
		if w.Line > 0 {
			loc = fmt.Sprintf("%s:%d", w.Path, w.Line)
		}
	}
	if loc == "" {
		return fmt.Sprintf("[%s] %s", w.Kind, w.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", w.Kind, loc, w.Message)
}

// SourceResult is the outcome of loading a single source.
type SourceResult struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Format   string    `json:"format"`
	Status   Status    `json:"status"`
	Records  []Record  `json:"-"`
	Warnings []Warning `json:"warnings,omitempty"`
	Err      *Error    `json:"error,omitempty"`

	// Digest is the SHA-256 of the raw artifact, empty when unread.
	Digest string `json:"digest,omitempty"`
}

// Entry returns the metric entry with the given name.
func (r *SourceResult) Entry(name string) (*MetricEntry, *Record, bool) {
	key := NormalizeKey(name)
	for i := range r.Records {
		rec := &r.Records[i]
		if rec.Metric != nil && NormalizeKey(rec.Metric.Name) == key {
			return rec.Metric, rec, true
		}
	}
	return nil, nil, false
}

// Set maps source identifiers to load results. It is built fresh on every
// evaluation and discarded afterwards.
type Set struct {
	Sources  map[string]*SourceResult
	LoadedAt time.Time
}

// NewSet creates an empty evidence set.
func NewSet(loadedAt time.Time) *Set {
	return &Set{
		Sources:  make(map[string]*SourceResult),
		LoadedAt: loadedAt,
	}
}

// Get returns the result for a source, or nil.
func (s *Set) Get(id string) *SourceResult {
	if s == nil {
		return nil
	}
	return s.Sources[id]
}

// IDs returns the source identifiers in sorted order.
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.Sources))
	for id := range s.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Warnings returns every loader warning, ordered by source ID.
func (s *Set) Warnings() []Warning {
	var out []Warning
	for _, id := range s.IDs() {
		out = append(out, s.Sources[id].Warnings...)
	}
	return out
}

// NormalizeKey converts a header or key to lower_snake form
// ("Policy/Risk ID" becomes "policy_risk_id").
func NormalizeKey(s string) string {
	var sb strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			pendingSep = false
			sb.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return sb.String()
}

// NormalizeID folds an identifier for case-insensitive matching. Runs of
// separators collapse to a single "-", so "RISK_001" and "risk-001" are
// equal while "RISK-1-0" and "RISK-10" stay distinct.
func NormalizeID(s string) string {
	var sb strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case ' ', '\t', '_', '-', '/', '.':
			pendingSep = true
			continue
		}
		if pendingSep && sb.Len() > 0 {
			sb.WriteByte('-')
		}
		pendingSep = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// NormalizeToken folds an enumeration value for case- and
// separator-insensitive comparison ("In Progress", "in_progress" and
// "InProgress" are equal). Identifiers use NormalizeID instead.
func NormalizeToken(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if r == ' ' || r == '_' || r == '-' || r == '\t' {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
