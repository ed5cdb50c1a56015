package main

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/audit/export"
	"mercator-hq/tollgate/pkg/cli"
)

func resetAuditFlags(t *testing.T) {
	t.Helper()
	reset := func() {
		auditFlags.backend = "file"
		auditFlags.auditLog = ""
		auditFlags.sqlitePath = ""
		auditFlags.since = ""
		auditFlags.until = ""
		auditFlags.actor = ""
		auditFlags.rule = ""
		auditFlags.result = ""
		auditFlags.limit = audit.DefaultLimit
		auditFlags.offset = 0
		auditFlags.order = "desc"
		auditFlags.format = "text"
		auditFlags.output = ""
	}
	reset()
	t.Cleanup(reset)
}

// seedAudit runs two evaluations, a pass and a fail, and returns the
// workspace directory.
func seedAudit(t *testing.T) string {
	t.Helper()
	dir := writeWorkspace(t, 20)
	resetEvaluateFlags(t)
	capture(t, evaluateCmd)

	if err := runEvaluate(evaluateCmd, nil); err != nil {
		t.Fatalf("first evaluation: %v", err)
	}
	evaluateFlags.thresholds["policy-catalog-completion"].Set("101")
	evaluateFlags.now = "2026-03-16"
	if err := runEvaluate(evaluateCmd, nil); cli.ExitCode(err) != cli.ExitFail {
		t.Fatalf("second evaluation: %v, want exit 1", err)
	}
	return dir
}

func TestQueryAudit_Formats(t *testing.T) {
	seedAudit(t)

	t.Run("text", func(t *testing.T) {
		resetAuditFlags(t)
		out := capture(t, auditQueryCmd)
		if err := queryAudit(auditQueryCmd, nil); err != nil {
			t.Fatalf("queryAudit() failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("lines = %d, want 2:\n%s", len(lines), out.String())
		}
		// Newest first.
		if !strings.Contains(lines[0], "\tci-test\tFAIL\t") {
			t.Errorf("first line = %q", lines[0])
		}
	})

	t.Run("csv with filter", func(t *testing.T) {
		resetAuditFlags(t)
		out := capture(t, auditQueryCmd)
		auditFlags.format = "csv"
		auditFlags.result = "fail"

		if err := queryAudit(auditQueryCmd, nil); err != nil {
			t.Fatalf("queryAudit() failed: %v", err)
		}
		rows, err := csv.NewReader(out).ReadAll()
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 2 || len(rows[1]) != len(export.Columns) {
			t.Fatalf("rows = %v", rows)
		}
		if rows[1][3] != "FAIL" || rows[1][4] != "policy-catalog-completion" {
			t.Errorf("row = %v", rows[1])
		}
	})

	t.Run("json", func(t *testing.T) {
		resetAuditFlags(t)
		out := capture(t, auditQueryCmd)
		auditFlags.format = "json"
		auditFlags.actor = "someone-else"

		if err := queryAudit(auditQueryCmd, nil); err != nil {
			t.Fatalf("queryAudit() failed: %v", err)
		}
		var entries []*audit.Entry
		if err := json.Unmarshal(out.Bytes(), &entries); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("entries = %d, want 0", len(entries))
		}
	})
}

func TestQueryAudit_InvalidFlags(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
	}{
		{"format", func() { auditFlags.format = "xml" }},
		{"result", func() { auditFlags.result = "maybe" }},
		{"since", func() { auditFlags.since = "last week" }},
		{"range", func() { auditFlags.since, auditFlags.until = "2026-03-20", "2026-03-01" }},
		{"backend", func() { auditFlags.backend = "postgres" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeWorkspace(t, 20)
			resetAuditFlags(t)
			capture(t, auditQueryCmd)
			tt.setup()

			if err := queryAudit(auditQueryCmd, nil); cli.ExitCode(err) != cli.ExitUsage {
				t.Errorf("exit code = %d, want %d (err %v)", cli.ExitCode(err), cli.ExitUsage, err)
			}
		})
	}
}

func TestVerifyAudit(t *testing.T) {
	dir := seedAudit(t)
	resetAuditFlags(t)
	out := capture(t, auditVerifyCmd)

	if err := verifyAudit(auditVerifyCmd, nil); err != nil {
		t.Fatalf("verifyAudit() on intact log: %v", err)
	}
	if !strings.Contains(out.String(), "verify=OK") || !strings.Contains(out.String(), "entries=2") {
		t.Errorf("output = %q", out.String())
	}

	// Rewrite the first entry's actor.
	path := filepath.Join(dir, ".tollgate", "audit.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"actor":"ci-test"`, `"actor":"mallory"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	auditFlags.format = "json"
	err = verifyAudit(auditVerifyCmd, nil)
	if cli.ExitCode(err) != cli.ExitFail {
		t.Fatalf("verifyAudit() on tampered log: exit %d, want 1", cli.ExitCode(err))
	}
	var doc struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc.Valid || doc.Error == "" {
		t.Errorf("doc = %+v, want invalid with error", doc)
	}
}

func TestExportAudit(t *testing.T) {
	dir := seedAudit(t)
	resetAuditFlags(t)
	capture(t, auditExportCmd)
	auditFlags.format = "jsonl"
	auditFlags.output = filepath.Join(dir, "export", "audit.jsonl")

	if err := exportAudit(auditExportCmd, nil); err != nil {
		t.Fatalf("exportAudit() failed: %v", err)
	}

	f, err := os.Open(auditFlags.output)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	report, err := audit.Verify(f)
	if err != nil {
		t.Fatalf("exported trail does not verify: %v", err)
	}
	if report.Entries != 2 {
		t.Errorf("exported %d entries, want 2", report.Entries)
	}
}

func TestRuleHistory(t *testing.T) {
	seedAudit(t)
	resetAuditFlags(t)
	out := capture(t, auditHistoryCmd)

	if err := ruleHistory(auditHistoryCmd, []string{"policy-catalog-completion"}); err != nil {
		t.Fatalf("ruleHistory() failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "RULE id=policy-catalog-completion failures=1 waived=0" {
		t.Errorf("output = %q", got)
	}
}
