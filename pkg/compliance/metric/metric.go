package metric

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/evidence"
)

// Kind identifies a metric derivation algorithm.
type Kind string

const (
	KindCompletion Kind = "completion"
	KindCount      Kind = "count"
	KindValue      Kind = "value"
	KindExpiry     Kind = "expiry"
	KindStaleness  Kind = "staleness"
)

// Unit is the unit a metric value is expressed in.
type Unit string

const (
	UnitPercent Unit = "percent"
	UnitCount   Unit = "count"
	UnitHours   Unit = "hours"
	UnitBool    Unit = "bool"
)

// Metric is a value derived from evidence. It is never hand-entered and
// never cached across evaluations.
type Metric struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Unit   Unit   `json:"unit"`
	Source string `json:"source"`

	// Value is the numeric value. Boolean metrics carry 1 or 0.
	Value float64 `json:"value"`

	// Bool is the boolean reading: expired for expiry metrics, the parsed
	// truth value for boolean "value" metrics.
	Bool bool `json:"bool,omitempty"`

	// Available is false when the evidence needed to compute the metric
	// is absent, corrupt, unreadable, or lacks the requested entry. An
	// unavailable metric is distinct from a zero value.
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`

	// Subjects lists the identifiers of the records that made a count or
	// expiry metric non-zero, or the records missing from a total-based
	// completion metric. Waivers may be matched against them.
	Subjects []string `json:"subjects,omitempty"`

	Warnings []evidence.Warning `json:"-"`
}

// Display formats the value with its unit for summaries.
func (m Metric) Display() string {
	if !m.Available {
		return "unavailable"
	}
	switch m.Unit {
	case UnitPercent:
		return strconv.FormatFloat(m.Value, 'f', -1, 64) + "%"
	case UnitHours:
		return strconv.FormatFloat(m.Value, 'f', 1, 64) + "h"
	case UnitBool:
		return strconv.FormatBool(m.Bool)
	default:
		return strconv.FormatFloat(m.Value, 'f', -1, 64)
	}
}

// Snapshot maps metric names to computed metrics.
type Snapshot map[string]Metric

// Names returns the metric names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Warnings returns every metric warning, ordered by metric name.
func (s Snapshot) Warnings() []evidence.Warning {
	var out []evidence.Warning
	for _, name := range s.Names() {
		out = append(out, s[name].Warnings...)
	}
	return out
}

// Calculator computes metrics from an evidence set against a fixed clock.
type Calculator struct {
	now time.Time
	loc *time.Location
}

// NewCalculator creates a Calculator. Dates without a zone are read in the
// location of now.
func NewCalculator(now time.Time) *Calculator {
	return &Calculator{now: now, loc: now.Location()}
}

// ComputeAll computes every configured metric.
func (c *Calculator) ComputeAll(specs []config.MetricConfig, set *evidence.Set) Snapshot {
	out := make(Snapshot, len(specs))
	for _, spec := range specs {
		out[spec.Name] = c.Compute(spec, set)
	}
	return out
}

// Compute derives a single metric.
func (c *Calculator) Compute(spec config.MetricConfig, set *evidence.Set) Metric {
	m := Metric{
		Name:   spec.Name,
		Kind:   Kind(spec.Kind),
		Unit:   Unit(spec.Unit),
		Source: spec.Source,
	}

	src := set.Get(spec.Source)
	if src == nil {
		return unavailable(m, fmt.Sprintf("source %q was not loaded", spec.Source))
	}
	if !src.Status.Available() {
		return unavailable(m, fmt.Sprintf("source %q is %s", spec.Source, src.Status))
	}

	switch m.Kind {
	case KindCompletion:
		return c.completion(m, spec, src)
	case KindCount:
		return c.count(m, spec, src)
	case KindValue:
		return c.value(m, spec, src)
	case KindExpiry:
		return c.expiry(m, spec, src)
	case KindStaleness:
		return c.staleness(m, spec, src)
	default:
		return unavailable(m, fmt.Sprintf("unknown metric kind %q", spec.Kind))
	}
}

// completion is min(100, floor(observed*100/target)). A record listed
// more than once counts once.
func (c *Calculator) completion(m Metric, spec config.MetricConfig, src *evidence.SourceResult) Metric {
	records, dups := distinct(src.Records, spec.SubjectField)
	for _, rec := range dups {
		m.Warnings = append(m.Warnings, evidence.Warning{
			Kind:    evidence.WarnMalformedRow,
			Source:  spec.Source,
			Path:    rec.Provenance.Path,
			Line:    rec.Provenance.StartLine,
			Message: fmt.Sprintf("%s: duplicate record %q counted once", spec.Name, identity(rec, spec.SubjectField)),
		})
	}

	matched, missed := partition(records, spec.Filters)
	observed := float64(len(matched))

	target := spec.Target
	if spec.TargetTotal {
		target = float64(len(records))
		for _, rec := range missed {
			m.Subjects = append(m.Subjects, subject(rec, spec.SubjectField))
		}
	}

	m.Available = true
	if target <= 0 {
		m.Value = 100
		return m
	}
	m.Value = math.Min(100, math.Floor(observed*100/target))
	return m
}

func (c *Calculator) count(m Metric, spec config.MetricConfig, src *evidence.SourceResult) Metric {
	matched, _ := partition(src.Records, spec.Filters)
	for _, rec := range matched {
		m.Subjects = append(m.Subjects, subject(rec, spec.SubjectField))
	}
	m.Value = float64(len(matched))
	m.Available = true
	return m
}

func (c *Calculator) value(m Metric, spec config.MetricConfig, src *evidence.SourceResult) Metric {
	entry, rec, ok := src.Entry(spec.Key)
	if !ok {
		return unavailable(m, fmt.Sprintf("key %q not found in %s", spec.Key, src.Path))
	}

	if v, b, isBool, err := ParseValue(entry.RawValue); err == nil {
		m.Value = v
		m.Bool = b
		if isBool && m.Unit == "" {
			m.Unit = UnitBool
		}
		m.Available = true
		return m
	}

	m.Warnings = append(m.Warnings, evidence.Warning{
		Kind:    evidence.WarnUnknownValue,
		Source:  spec.Source,
		Path:    rec.Provenance.Path,
		Line:    rec.Provenance.StartLine,
		Message: fmt.Sprintf("%s: value %q is neither numeric nor boolean", spec.Key, entry.RawValue),
	})
	return unavailable(m, fmt.Sprintf("value %q for key %q is not numeric", entry.RawValue, spec.Key))
}

// expiry counts expired dates. A date that fails to parse is treated as
// not expired and produces a warning; an empty date is ignored.
func (c *Calculator) expiry(m Metric, spec config.MetricConfig, src *evidence.SourceResult) Metric {
	check := func(raw, id string, prov evidence.Provenance) {
		if strings.TrimSpace(raw) == "" {
			return
		}
		date, err := evidence.ParseDate(raw, c.loc)
		if err != nil {
			m.Warnings = append(m.Warnings, dateWarning(spec, prov, id, err))
			return
		}
		if date.Before(c.now) {
			m.Value++
			m.Subjects = append(m.Subjects, id)
		}
	}

	if spec.Key != "" {
		entry, rec, ok := src.Entry(spec.Key)
		if !ok {
			return unavailable(m, fmt.Sprintf("key %q not found in %s", spec.Key, src.Path))
		}
		check(entry.RawValue, spec.Key, rec.Provenance)
	} else {
		matched, _ := partition(src.Records, spec.Filters)
		for _, rec := range matched {
			check(rec.Field(spec.Field), subject(rec, spec.SubjectField), rec.Provenance)
		}
	}

	m.Bool = m.Value > 0
	m.Available = true
	return m
}

// staleness is the age in hours of a timestamp, or of the oldest one when
// computed over records.
func (c *Calculator) staleness(m Metric, spec config.MetricConfig, src *evidence.SourceResult) Metric {
	var raws []string
	var provs []evidence.Provenance

	if spec.Key != "" {
		entry, rec, ok := src.Entry(spec.Key)
		if !ok {
			return unavailable(m, fmt.Sprintf("key %q not found in %s", spec.Key, src.Path))
		}
		raws = append(raws, entry.RawValue)
		provs = append(provs, rec.Provenance)
	} else {
		matched, _ := partition(src.Records, spec.Filters)
		for _, rec := range matched {
			if raw := rec.Field(spec.Field); strings.TrimSpace(raw) != "" {
				raws = append(raws, raw)
				provs = append(provs, rec.Provenance)
			}
		}
	}

	if len(raws) == 0 {
		return unavailable(m, "no timestamps found")
	}

	oldest := c.now
	for i, raw := range raws {
		ts, err := evidence.ParseTimestamp(raw, c.loc)
		if err != nil {
			m.Warnings = append(m.Warnings, dateWarning(spec, provs[i], spec.Key, err))
			return unavailable(m, err.Error())
		}
		if ts.Before(oldest) {
			oldest = ts
		}
	}

	m.Value = math.Floor(c.now.Sub(oldest).Hours()*10) / 10
	m.Available = true
	return m
}

// ParseValue reads a raw entry as a number or a boolean word. Percent
// signs and thousands separators are ignored.
func ParseValue(raw string) (value float64, b bool, isBool bool, err error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")

	if v, perr := strconv.ParseFloat(s, 64); perr == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v, v != 0, false, nil
	}

	switch evidence.NormalizeToken(s) {
	case "true", "yes", "pass", "passed", "ok", "enabled", "compliant":
		return 1, true, true, nil
	case "false", "no", "fail", "failed", "disabled", "noncompliant":
		return 0, false, true, nil
	}
	return 0, false, false, fmt.Errorf("value %q is neither numeric nor boolean", raw)
}

// partition splits records into those matching every filter and the rest.
func partition(records []evidence.Record, filters []config.FilterConfig) (matched, missed []evidence.Record) {
	for _, rec := range records {
		if matches(rec, filters) {
			matched = append(matched, rec)
		} else {
			missed = append(missed, rec)
		}
	}
	return matched, missed
}

func matches(rec evidence.Record, filters []config.FilterConfig) bool {
	for _, f := range filters {
		v := evidence.NormalizeToken(rec.Field(f.Field))
		if len(f.In) > 0 && !containsToken(f.In, v) {
			return false
		}
		if len(f.NotIn) > 0 && containsToken(f.NotIn, v) {
			return false
		}
	}
	return true
}

func containsToken(values []string, token string) bool {
	for _, v := range values {
		if evidence.NormalizeToken(v) == token {
			return true
		}
	}
	return false
}

// subject returns the identifier of a record, falling back to its location.
// identity is the identifier a record is deduplicated by: the subject
// field when configured, else the record ID. Records without one are
// never treated as duplicates.
func identity(rec evidence.Record, field string) string {
	if field != "" {
		if v := strings.TrimSpace(rec.Field(field)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(rec.ID)
}

// distinct keeps the first record of each identity, in order.
func distinct(records []evidence.Record, field string) (unique, dups []evidence.Record) {
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		id := identity(rec, field)
		if id == "" {
			unique = append(unique, rec)
			continue
		}
		key := evidence.NormalizeID(id)
		if seen[key] {
			dups = append(dups, rec)
			continue
		}
		seen[key] = true
		unique = append(unique, rec)
	}
	return unique, dups
}

func subject(rec evidence.Record, field string) string {
	if field != "" {
		if v := rec.Field(field); v != "" {
			return v
		}
	}
	if rec.ID != "" {
		return rec.ID
	}
	return rec.Provenance.String()
}

func unavailable(m Metric, reason string) Metric {
	m.Available = false
	m.Value = 0
	m.Bool = false
	m.Subjects = nil
	m.Reason = reason
	return m
}

func dateWarning(spec config.MetricConfig, prov evidence.Provenance, id string, err error) evidence.Warning {
	msg := fmt.Sprintf("%s: %v", spec.Name, err)
	if id != "" {
		msg = fmt.Sprintf("%s (%s): %v", spec.Name, id, err)
	}
	return evidence.Warning{
		Kind:    evidence.WarnDateParse,
		Source:  spec.Source,
		Path:    prov.Path,
		Line:    prov.StartLine,
		Message: msg,
	}
}
