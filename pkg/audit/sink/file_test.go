package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/compliance/metric"
	"mercator-hq/tollgate/pkg/policy/engine"
)

func newEntry(actor string, violations ...engine.Violation) *audit.Entry {
	d := audit.Decide(&engine.Result{Violations: violations}, nil, time.Now())
	return audit.NewEntry(actor, d, metric.Snapshot{
		"open_high_risks": {Name: "open_high_risks", Kind: metric.KindCount, Unit: metric.UnitCount, Value: float64(len(violations)), Available: true},
	})
}

func blocking(ruleID string) engine.Violation {
	return engine.Violation{RuleID: ruleID, Family: "risk", Metric: "open_high_risks", Severity: engine.SeverityBlock, Detail: "1 > 0"}
}

func TestFileSink_AppendAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.log")

	s, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, newEntry("ci")); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	report, err := s.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if report.Entries != 3 {
		t.Errorf("Entries = %d, want 3", report.Entries)
	}

	entries, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if entries[0].PrevHash != "" {
		t.Errorf("first PrevHash = %q, want empty", entries[0].PrevHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			t.Errorf("entry %d PrevHash does not link to entry %d", i, i-1)
		}
	}
}

func TestFileSink_MonotonicTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := NewFileSink(path, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}
	defer s.Close()

	var got []time.Time
	for i := 0; i < 3; i++ {
		e := newEntry("ci")
		if err := s.Append(context.Background(), e); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
		got = append(got, e.Timestamp)
	}

	for i, ts := range got {
		want := fixed.Add(time.Duration(i) * time.Microsecond)
		if !ts.Equal(want) {
			t.Errorf("timestamp %d = %s, want %s", i, ts, want)
		}
	}

	if _, err := VerifyFile(path); err != nil {
		t.Errorf("VerifyFile() failed: %v", err)
	}
}

func TestFileSink_ConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	const writers = 4
	const perWriter = 10

	// Separate sinks open separate descriptors, so only the OS lock
	// serializes them.
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		s, err := NewFileSink(path)
		if err != nil {
			t.Fatalf("NewFileSink() failed: %v", err)
		}
		defer s.Close()

		wg.Add(1)
		go func(w int, s *FileSink) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := s.Append(context.Background(), newEntry(fmt.Sprintf("writer-%d", w))); err != nil {
					errs <- err
				}
			}
		}(w, s)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Append() failed: %v", err)
	}

	report, err := VerifyFile(path)
	if err != nil {
		t.Fatalf("VerifyFile() failed: %v", err)
	}
	if report.Entries != writers*perWriter {
		t.Errorf("Entries = %d, want %d", report.Entries, writers*perWriter)
	}
}

func TestFileSink_ReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	ctx := context.Background()

	first, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}
	e1 := newEntry("ci")
	if err := first.Append(ctx, e1); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	first.Close()

	second, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}
	defer second.Close()
	e2 := newEntry("ci")
	if err := second.Append(ctx, e2); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	if e2.PrevHash != e1.Hash {
		t.Errorf("PrevHash = %s, want %s", e2.PrevHash, e1.Hash)
	}
}

func TestFileSink_TornLastLineFailsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	ctx := context.Background()

	s, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}
	if err := s.Append(ctx, newEntry("ci")); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	s.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString(`{"id":"torn"`)
	f.Close()

	s, err = NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}
	defer s.Close()

	err = s.Append(ctx, newEntry("ci"))
	var werr *audit.WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("Append() error = %v, want *audit.WriteError", err)
	}
	if werr.Operation != "read_tail" {
		t.Errorf("Operation = %s, want read_tail", werr.Operation)
	}
}

func TestFileSink_TamperDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	ctx := context.Background()

	s, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}
	for _, actor := range []string{"alice", "bob"} {
		if err := s.Append(ctx, newEntry(actor)); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}
	s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	tampered := strings.Replace(string(data), `"actor":"alice"`, `"actor":"mallory"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err = VerifyFile(path)
	if !errors.Is(err, audit.ErrHashMismatch) {
		t.Errorf("VerifyFile() error = %v, want ErrHashMismatch", err)
	}
}

func TestFileSink_Query(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	ctx := context.Background()

	s, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}
	defer s.Close()

	s.Append(ctx, newEntry("alice"))
	s.Append(ctx, newEntry("bob", blocking("risk-open-high")))
	s.Append(ctx, newEntry("alice"))

	got, err := s.Query(ctx, &audit.Query{Result: audit.ResultFail})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(got) != 1 || got[0].Actor != "bob" {
		t.Errorf("Query(FAIL) = %d entries", len(got))
	}

	got, err = s.Query(ctx, &audit.Query{Actor: "alice", SortOrder: "asc"})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(got) != 2 || !got[0].Timestamp.Before(got[1].Timestamp) {
		t.Errorf("Query(actor asc) returned unexpected entries")
	}
}

func TestFileSink_AppendAfterClose(t *testing.T) {
	s, err := NewFileSink(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}
	s.Close()

	if err := s.Append(context.Background(), newEntry("ci")); err == nil {
		t.Error("Append() after Close succeeded, want error")
	}
}

func TestFileSink_CancelledContext(t *testing.T) {
	s, err := NewFileSink(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatalf("NewFileSink() failed: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Append(ctx, newEntry("ci")); !errors.Is(err, context.Canceled) {
		t.Errorf("Append() error = %v, want context.Canceled", err)
	}
}

func TestVerifyFile_Missing(t *testing.T) {
	report, err := VerifyFile(filepath.Join(t.TempDir(), "missing.log"))
	if err != nil {
		t.Fatalf("VerifyFile() failed: %v", err)
	}
	if report.Entries != 0 {
		t.Errorf("Entries = %d, want 0", report.Entries)
	}
}
