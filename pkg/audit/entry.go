package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mercator-hq/tollgate/pkg/compliance/metric"
	"mercator-hq/tollgate/pkg/evidence"
	"mercator-hq/tollgate/pkg/policy/engine"
	"mercator-hq/tollgate/pkg/policy/waiver"
)

// Result labels for a decision.
const (
	ResultPass = "PASS"
	ResultFail = "FAIL"
)

// Decision is the aggregated outcome of one evaluation. It is derived from
// the engine result and never modified afterwards.
type Decision struct {
	Passed      bool                 `json:"passed"`
	Violations  []engine.Violation   `json:"violations"`
	Outcomes    []engine.RuleOutcome `json:"outcomes"`
	Warnings    []evidence.Warning   `json:"warnings,omitempty"`
	EvaluatedAt time.Time            `json:"evaluated_at"`
}

// Decide aggregates an engine result. The gate passes iff no violation
// blocks, that is no block-severity violation is left unwaived.
func Decide(result *engine.Result, warnings []evidence.Warning, evaluatedAt time.Time) Decision {
	d := Decision{
		Passed:      true,
		Violations:  []engine.Violation{},
		Warnings:    warnings,
		EvaluatedAt: evaluatedAt,
	}
	if result != nil {
		d.Violations = append(d.Violations, result.Violations...)
		d.Outcomes = append(d.Outcomes, result.Outcomes...)
		d.Warnings = append(d.Warnings, result.Warnings...)
	}
	for _, v := range d.Violations {
		if v.Blocking() {
			d.Passed = false
			break
		}
	}
	return d
}

// Result returns PASS or FAIL.
func (d Decision) Result() string {
	if d.Passed {
		return ResultPass
	}
	return ResultFail
}

// Blocking returns the violations that fail the gate.
func (d Decision) Blocking() []engine.Violation {
	var out []engine.Violation
	for _, v := range d.Violations {
		if v.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Waived returns the violations covered by a valid waiver.
func (d Decision) Waived() []engine.Violation {
	var out []engine.Violation
	for _, v := range d.Violations {
		if v.Waived {
			out = append(out, v)
		}
	}
	return out
}

// Advisory returns unwaived warn-severity violations.
func (d Decision) Advisory() []engine.Violation {
	var out []engine.Violation
	for _, v := range d.Violations {
		if !v.Waived && v.Severity == engine.SeverityWarn {
			out = append(out, v)
		}
	}
	return out
}

// SourceSnapshot records what was read from one evidence source.
type SourceSnapshot struct {
	ID       string          `json:"id"`
	Path     string          `json:"path"`
	Status   evidence.Status `json:"status"`
	Records  int             `json:"records"`
	Warnings int             `json:"warnings,omitempty"`
	Digest   string          `json:"digest,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Snapshots summarizes every source of an evidence set, ordered by ID.
func Snapshots(set *evidence.Set) []SourceSnapshot {
	if set == nil {
		return nil
	}
	out := make([]SourceSnapshot, 0, len(set.Sources))
	for _, id := range set.IDs() {
		src := set.Sources[id]
		s := SourceSnapshot{
			ID:       src.ID,
			Path:     src.Path,
			Status:   src.Status,
			Records:  len(src.Records),
			Warnings: len(src.Warnings),
			Digest:   src.Digest,
		}
		if src.Err != nil {
			s.Error = src.Err.Error()
		}
		out = append(out, s)
	}
	return out
}

// Entry is one immutable line of the audit trail: who ran the gate, what
// it saw, and what it decided.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`

	Decision   Decision         `json:"decision"`
	Metrics    metric.Snapshot  `json:"metrics"`
	Exceptions waiver.Stats     `json:"exceptions"`
	Sources    []SourceSnapshot `json:"sources"`

	// Revision is the HEAD commit of the evaluated repository, if known.
	Revision string `json:"revision,omitempty"`

	// ConfigDigest is the SHA-256 of the effective gate configuration.
	ConfigDigest string `json:"config_digest,omitempty"`

	// PrevHash is the Hash of the preceding entry, empty for the first.
	PrevHash string `json:"prev_hash"`

	// Hash is the SHA-256 of this entry serialized with Hash empty.
	Hash string `json:"hash"`
}

// NewEntry creates an entry for a decision. Timestamp and chain fields are
// assigned by the sink when the entry is appended.
func NewEntry(actor string, decision Decision, metrics metric.Snapshot) *Entry {
	return &Entry{
		ID:       uuid.New().String(),
		Actor:    actor,
		Decision: decision,
		Metrics:  metrics,
	}
}

// ComputeHash returns the SHA-256 of the entry serialized with an empty
// Hash field.
func (e *Entry) ComputeHash() (string, error) {
	c := *e
	c.Hash = ""
	data, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("marshal entry %s: %w", e.ID, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal links the entry to its predecessor and sets its hash.
func (e *Entry) Seal(prevHash string) error {
	e.PrevHash = prevHash
	h, err := e.ComputeHash()
	if err != nil {
		return err
	}
	e.Hash = h
	return nil
}
