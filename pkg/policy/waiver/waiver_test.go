package waiver

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/evidence"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	d := now.AddDate(0, 0, offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func approved(id, target string, expiry time.Time) Waiver {
	return Waiver{ID: id, Target: target, Status: evidence.ExceptionApproved, Expiry: expiry, ExpiryRaw: expiry.Format(evidence.DateLayout)}
}

func TestWaiver_Valid(t *testing.T) {
	tests := []struct {
		name string
		w    Waiver
		want bool
	}{
		{"approved tomorrow", approved("E1", "R", day(1)), true},
		{"approved yesterday", approved("E1", "R", day(-1)), false},
		{"approved today at midnight", approved("E1", "R", day(0)), false},
		{"pending tomorrow", Waiver{ID: "E1", Status: evidence.ExceptionPending, Expiry: day(1)}, false},
		{"expired status future date", Waiver{ID: "E1", Status: evidence.ExceptionExpired, Expiry: day(30)}, false},
		{"approved unreadable expiry", Waiver{ID: "E1", Status: evidence.ExceptionApproved}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.Valid(now); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromSet(t *testing.T) {
	set := evidence.NewSet(now)
	set.Sources["exceptions"] = &evidence.SourceResult{
		ID:     "exceptions",
		Status: evidence.StatusLoaded,
		Records: []evidence.Record{
			{Kind: evidence.KindException, Exception: &evidence.ExceptionEntry{ID: "EXC-1", PolicyOrRiskID: "RISK-1", ExpiryDate: "2026-04-01", Status: evidence.ExceptionApproved}},
			{Kind: evidence.KindException, Exception: &evidence.ExceptionEntry{ID: "EXC-2", PolicyOrRiskID: "RISK-2", ExpiryDate: "April 1st", Status: evidence.ExceptionApproved},
				Provenance: evidence.Provenance{Path: "exceptions.csv", StartLine: 3}},
			{Kind: evidence.KindRisk, Risk: &evidence.RiskEntry{ID: "RISK-1"}},
		},
	}
	set.Sources["broken"] = &evidence.SourceResult{ID: "broken", Status: evidence.StatusCorrupt}

	waivers, warnings := FromSet(set, []string{"exceptions", "broken", "unknown"}, time.UTC)
	if len(waivers) != 2 {
		t.Fatalf("got %d waivers, want 2", len(waivers))
	}
	if !waivers[0].Valid(now) {
		t.Errorf("EXC-1 should be valid")
	}
	if waivers[1].Valid(now) {
		t.Errorf("EXC-2 with an unreadable expiry must not be valid")
	}
	if len(warnings) != 1 || warnings[0].Kind != evidence.WarnDateParse || warnings[0].Line != 3 {
		t.Errorf("warnings = %+v", warnings)
	}
}

func TestResolve(t *testing.T) {
	waivers := []Waiver{
		approved("EXC-1", "RISK-7", day(10)),
		approved("EXC-2", "risk-7", day(30)),
		approved("EXC-3", "RISK-7", day(-2)),
		{ID: "EXC-4", Target: "RISK-7", Status: evidence.ExceptionPending, Expiry: day(5)},
		approved("EXC-5", "policy-catalog-completion", day(1)),
		{ID: "EXC-6", Target: "RISK-7", Status: evidence.ExceptionApproved},
	}

	var buf bytes.Buffer
	r := NewResolver(waivers, now, slog.New(slog.NewTextHandler(&buf, nil)))

	res := r.Resolve("RISK-7")
	if !res.Waived() || res.Waiver.ID != "EXC-2" {
		t.Fatalf("selected = %+v, want EXC-2 (latest expiry)", res.Waiver)
	}
	if !res.Ambiguous || res.Candidates != 2 {
		t.Errorf("Ambiguous=%v Candidates=%d, want true/2", res.Ambiguous, res.Candidates)
	}
	if len(res.Expired) != 1 || res.Expired[0].ID != "EXC-3" {
		t.Errorf("Expired = %+v", res.Expired)
	}
	if len(res.Unapproved) != 1 || res.Unapproved[0].ID != "EXC-4" {
		t.Errorf("Unapproved = %+v", res.Unapproved)
	}
	if len(res.Unreadable) != 1 || res.Unreadable[0].ID != "EXC-6" {
		t.Errorf("Unreadable = %+v", res.Unreadable)
	}
	if !strings.Contains(buf.String(), "latest expiry wins") {
		t.Errorf("ambiguity should be logged, got %q", buf.String())
	}

	res = r.Resolve("unrelated", "POLICY-CATALOG-COMPLETION")
	if !res.Waived() || res.Waiver.ID != "EXC-5" || res.Ambiguous {
		t.Errorf("rule key resolution = %+v", res)
	}

	res = r.Resolve("nothing")
	if res.Waived() || len(res.Expired) != 0 {
		t.Errorf("unmatched key resolved to %+v", res)
	}
}

func TestResolve_TieBreakByID(t *testing.T) {
	r := NewResolver([]Waiver{
		approved("EXC-9", "R", day(10)),
		approved("EXC-3", "R", day(10)),
	}, now, nil)

	res := r.Resolve("R")
	if res.Waiver == nil || res.Waiver.ID != "EXC-3" {
		t.Errorf("tie should go to the lowest ID, got %+v", res.Waiver)
	}
}

func TestResolve_ExpiredNeverValid(t *testing.T) {
	for _, offset := range []int{-365, -30, -1, 0} {
		r := NewResolver([]Waiver{approved("E", "R", day(offset))}, now, nil)
		if res := r.Resolve("R"); res.Waived() {
			t.Errorf("waiver expiring at day %d was honored", offset)
		}
	}
}

func TestResolve_SameWaiverManyKeys(t *testing.T) {
	r := NewResolver([]Waiver{approved("E", "R", day(3))}, now, nil)
	res := r.Resolve("R", "r", "R")
	if res.Candidates != 1 || res.Ambiguous {
		t.Errorf("duplicate keys must not create ambiguity: %+v", res)
	}
}

func TestResolve_SeparatorsDistinguishIDs(t *testing.T) {
	r := NewResolver([]Waiver{approved("EXC-1", "RISK-1-0", day(3))}, now, nil)

	if res := r.Resolve("RISK-10"); res.Waived() {
		t.Errorf("waiver for RISK-1-0 covered RISK-10: %+v", res.Waiver)
	}
	if res := r.Resolve("risk_1_0"); !res.Waived() {
		t.Error("waiver should match the same ID spelled with other separators")
	}
}

func TestStatsAndExpiring(t *testing.T) {
	r := NewResolver([]Waiver{
		approved("A", "x", day(3)),
		approved("B", "x", day(60)),
		approved("C", "x", day(-1)),
		{ID: "D", Target: "x", Status: evidence.ExceptionPending, Expiry: day(20)},
		{ID: "E", Target: "x", Status: evidence.ExceptionRejected, Expiry: day(20)},
		{ID: "F", Target: "x", Status: evidence.ExceptionExpired, Expiry: day(20)},
	}, now, nil)

	expiring := r.ExpiringWithin(7 * 24 * time.Hour)
	if len(expiring) != 1 || expiring[0].ID != "A" {
		t.Errorf("ExpiringWithin = %+v, want [A]", expiring)
	}

	got := r.Stats(7 * 24 * time.Hour)
	want := Stats{Total: 6, Approved: 2, Pending: 1, Rejected: 1, Expired: 2, ExpiringSoon: 1}
	if got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}
}
