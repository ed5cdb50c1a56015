package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// writeWorkspace writes a small governance workspace and its gate config,
// and points --config at it. policies of 20 are published.
func writeWorkspace(t *testing.T, policies int) string {
	t.Helper()
	dir := t.TempDir()

	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var catalog strings.Builder
	catalog.WriteString("## Policy Catalog\n\n| Policy ID | Title |\n|---|---|\n")
	for i := 1; i <= policies; i++ {
		fmt.Fprintf(&catalog, "| POL-%03d | Policy %d |\n", i, i)
	}
	write("policy-catalog.md", catalog.String())
	write("exceptions.csv", "Exception ID,Policy/Risk ID,Description,Risk Owner,Expiry Date,Status\n")
	write("vendor-metrics.json", `{"overdue_assessments": 0}`)

	write("gate.yaml", fmt.Sprintf(`
sources:
  - id: policy_catalog
    path: %[1]s/policy-catalog.md
    format: markdown
    section: Policy Catalog
    schema: policy
  - id: exception_register
    path: %[1]s/exceptions.csv
    format: csv
    schema: exception
  - id: vendor_metrics
    path: %[1]s/vendor-metrics.json
    format: json
metrics:
  - name: policy_completion
    kind: completion
    source: policy_catalog
    target: 20
  - name: vendor_overdue_assessments
    kind: value
    source: vendor_metrics
    key: overdue_assessments
rules:
  - id: policy-catalog-completion
    family: policy
    metric: policy_completion
    comparator: gte
    threshold: 95
    message: Publish the missing policies.
  - id: vendor-metrics-present
    family: vendor
    metric: vendor_overdue_assessments
    comparator: must_exist
    message: Regenerate vendor-metrics.json.
audit:
  path: %[1]s/.tollgate/audit.log
  actor: ci-test
  sqlite:
    path: %[1]s/.tollgate/audit.db
  revision:
    enabled: false
telemetry:
  logging:
    level: error
`, dir))

	prev := cfgFile
	cfgFile = filepath.Join(dir, "gate.yaml")
	t.Cleanup(func() { cfgFile = prev })
	return dir
}

// capture directs a command's output to a buffer for the test.
func capture(t *testing.T, cmd *cobra.Command) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
	})
	return &out
}
