package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/compliance/metric"
	"mercator-hq/tollgate/pkg/evidence"
	"mercator-hq/tollgate/pkg/policy/engine"
)

func violation(id string, sev engine.Severity, waived bool) engine.Violation {
	return engine.Violation{RuleID: id, Family: "risk", Metric: "m", Severity: sev, Waived: waived}
}

func TestDecide(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		violations []engine.Violation
		wantPassed bool
	}{
		{"no violations", nil, true},
		{"unwaived block", []engine.Violation{violation("r1", engine.SeverityBlock, false)}, false},
		{"waived block", []engine.Violation{violation("r1", engine.SeverityBlock, true)}, true},
		{"warn only", []engine.Violation{violation("r1", engine.SeverityWarn, false)}, true},
		{"mixed", []engine.Violation{
			violation("r1", engine.SeverityWarn, false),
			violation("r2", engine.SeverityBlock, true),
			violation("r3", engine.SeverityBlock, false),
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(&engine.Result{Violations: tt.violations}, nil, now)
			if d.Passed != tt.wantPassed {
				t.Errorf("Passed = %v, want %v", d.Passed, tt.wantPassed)
			}
			wantResult := ResultPass
			if !tt.wantPassed {
				wantResult = ResultFail
			}
			if d.Result() != wantResult {
				t.Errorf("Result() = %s, want %s", d.Result(), wantResult)
			}
		})
	}
}

func TestDecision_Partitions(t *testing.T) {
	d := Decide(&engine.Result{Violations: []engine.Violation{
		violation("warn", engine.SeverityWarn, false),
		violation("waived", engine.SeverityBlock, true),
		violation("block", engine.SeverityBlock, false),
	}}, []evidence.Warning{{Kind: evidence.WarnMalformedRow, Message: "row"}}, time.Now())

	if got := d.Blocking(); len(got) != 1 || got[0].RuleID != "block" {
		t.Errorf("Blocking() = %+v", got)
	}
	if got := d.Waived(); len(got) != 1 || got[0].RuleID != "waived" {
		t.Errorf("Waived() = %+v", got)
	}
	if got := d.Advisory(); len(got) != 1 || got[0].RuleID != "warn" {
		t.Errorf("Advisory() = %+v", got)
	}
	if len(d.Warnings) != 1 {
		t.Errorf("Warnings = %d, want 1", len(d.Warnings))
	}
}

// chain builds n sealed entries with strictly increasing timestamps.
func chain(t *testing.T, n int) []*Entry {
	t.Helper()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var entries []*Entry
	prev := ""
	for i := 0; i < n; i++ {
		d := Decide(&engine.Result{}, nil, base)
		e := NewEntry("ci", d, metric.Snapshot{
			"policy_completion": {Name: "policy_completion", Kind: metric.KindCompletion, Unit: metric.UnitPercent, Value: 95, Available: true},
		})
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		if err := e.Seal(prev); err != nil {
			t.Fatalf("Seal() failed: %v", err)
		}
		prev = e.Hash
		entries = append(entries, e)
	}
	return entries
}

func encode(t *testing.T, entries []*Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			t.Fatalf("Marshal() failed: %v", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func TestEntry_HashStableAcrossRoundTrip(t *testing.T) {
	e := chain(t, 1)[0]

	var decoded Entry
	if err := json.Unmarshal(encode(t, []*Entry{e}), &decoded); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	got, err := decoded.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash() failed: %v", err)
	}
	if got != e.Hash {
		t.Errorf("hash after round trip = %s, want %s", got, e.Hash)
	}
}

func TestVerify(t *testing.T) {
	entries := chain(t, 3)

	report, err := Verify(bytes.NewReader(encode(t, entries)))
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if report.Entries != 3 {
		t.Errorf("Entries = %d, want 3", report.Entries)
	}
	if report.LastHash != entries[2].Hash {
		t.Errorf("LastHash = %s, want %s", report.LastHash, entries[2].Hash)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(entries []*Entry)
		wantErr error
		line    int
	}{
		{
			name:    "edited content",
			mutate:  func(e []*Entry) { e[1].Actor = "someone-else" },
			wantErr: ErrHashMismatch,
			line:    2,
		},
		{
			name:    "deleted entry",
			mutate:  func(e []*Entry) { copy(e[1:], e[2:]) },
			wantErr: ErrChainBroken,
			line:    2,
		},
		{
			name: "reordered timestamps",
			mutate: func(e []*Entry) {
				e[2].Timestamp = e[1].Timestamp
				_ = e[2].Seal(e[1].Hash)
			},
			wantErr: ErrOutOfOrder,
			line:    3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := chain(t, 3)
			tt.mutate(entries)
			if tt.name == "deleted entry" {
				entries = entries[:2]
			}

			_, err := Verify(bytes.NewReader(encode(t, entries)))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
			}
			var verr *VerifyError
			if !errors.As(err, &verr) {
				t.Fatalf("error is not *VerifyError: %T", err)
			}
			if verr.Line != tt.line {
				t.Errorf("Line = %d, want %d", verr.Line, tt.line)
			}
		})
	}
}

func TestVerify_InvalidJSON(t *testing.T) {
	data := append(encode(t, chain(t, 1)), []byte("{not json\n")...)

	_, err := Verify(bytes.NewReader(data))
	var verr *VerifyError
	if !errors.As(err, &verr) || verr.Line != 2 {
		t.Fatalf("Verify() error = %v, want VerifyError at line 2", err)
	}
}

func TestReadEntries_SkipsBlankLines(t *testing.T) {
	data := strings.Join([]string{"", string(encode(t, chain(t, 2))), ""}, "\n")

	entries, err := ReadEntries(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadEntries() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
}

func TestValidate(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{"empty", Query{}, false},
		{"negative limit", Query{Limit: -1}, true},
		{"limit too large", Query{Limit: MaxLimit + 1}, true},
		{"negative offset", Query{Offset: -1}, true},
		{"bad sort order", Query{SortOrder: "sideways"}, true},
		{"bad result", Query{Result: "MAYBE"}, true},
		{"inverted range", Query{StartTime: &start, EndTime: &end}, true},
		{"valid", Query{Limit: 10, SortOrder: "asc", Result: ResultFail}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.query)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	entries := chain(t, 5)
	entries[1].Actor = "alice"
	entries[3].Decision = Decide(&engine.Result{Violations: []engine.Violation{
		violation("risk-open-high", engine.SeverityBlock, false),
	}}, nil, time.Now())

	t.Run("actor", func(t *testing.T) {
		got := Filter(entries, &Query{Actor: "alice"})
		if len(got) != 1 || got[0] != entries[1] {
			t.Errorf("Filter(actor) = %d entries", len(got))
		}
	})

	t.Run("result and rule", func(t *testing.T) {
		got := Filter(entries, &Query{Result: ResultFail, RuleID: "risk-open-high"})
		if len(got) != 1 || got[0] != entries[3] {
			t.Errorf("Filter(result, rule) = %d entries", len(got))
		}
	})

	t.Run("time range ascending", func(t *testing.T) {
		start, end := entries[1].Timestamp, entries[3].Timestamp
		got := Filter(entries, &Query{StartTime: &start, EndTime: &end, SortOrder: "asc"})
		if len(got) != 3 || got[0] != entries[1] || got[2] != entries[3] {
			t.Errorf("Filter(range) returned %d entries", len(got))
		}
	})

	t.Run("pagination descending", func(t *testing.T) {
		got := Filter(entries, &Query{Limit: 2, Offset: 1, SortOrder: "desc"})
		if len(got) != 2 || got[0] != entries[3] || got[1] != entries[2] {
			t.Errorf("Filter(page) returned unexpected entries")
		}
	})

	t.Run("offset past end", func(t *testing.T) {
		if got := Filter(entries, &Query{Offset: 10}); len(got) != 0 {
			t.Errorf("Filter(offset) = %d entries, want 0", len(got))
		}
	})
}
