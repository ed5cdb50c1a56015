package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/audit/export"
	"mercator-hq/tollgate/pkg/audit/sink"
	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
)

var auditFlags struct {
	backend    string
	auditLog   string
	sqlitePath string
	since      string
	until      string
	actor      string
	rule       string
	result     string
	limit      int
	offset     int
	order      string
	format     string
	output     string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log",
	Long: `Query, verify, and export the gate audit log.

Subcommands:
  query    - List audit entries with filters
  verify   - Check the hash chain and timestamp ordering
  export   - Export entries as JSON, JSON Lines, or CSV
  history  - Count failures and waivers of one rule`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit entries",
	Long: `Query audit entries with filters.

Examples:
  # Failed evaluations this month
  tollgate audit query --result fail --since 2026-03-01

  # Evaluations where a rule was violated, from the SQLite index
  tollgate audit query --backend sqlite --rule risk-open-high

  # CSV for a spreadsheet
  tollgate audit query --format csv --output audit.csv`,
	Args: cobra.NoArgs,
	RunE: queryAudit,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log hash chain",
	Long: `Walk the audit log and check that every entry hashes to its recorded
hash, links to its predecessor, and is timestamped after it. The first
break is reported and the command exits with status 1.`,
	Args: cobra.NoArgs,
	RunE: verifyAudit,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit entries",
	Long: `Export audit entries, oldest first, as a JSON array (json), JSON Lines
(jsonl), or CSV (csv). Query filters apply.

Examples:
  tollgate audit export --format jsonl --output evidence/audit-2026Q1.jsonl --since 2026-01-01 --until 2026-03-31`,
	Args: cobra.NoArgs,
	RunE: exportAudit,
}

var auditHistoryCmd = &cobra.Command{
	Use:   "history RULE_ID",
	Short: "Count failures and waivers of a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  ruleHistory,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd, auditVerifyCmd, auditExportCmd, auditHistoryCmd)

	auditCmd.PersistentFlags().StringVar(&auditFlags.backend, "backend", "file", "backend: file, sqlite")
	auditCmd.PersistentFlags().StringVar(&auditFlags.auditLog, "audit-log", "", "audit log path (default: from config)")
	auditCmd.PersistentFlags().StringVar(&auditFlags.sqlitePath, "sqlite-path", "", "SQLite index path (default: from config)")

	for _, c := range []*cobra.Command{auditQueryCmd, auditExportCmd} {
		c.Flags().StringVar(&auditFlags.since, "since", "", "entries at or after this time (RFC 3339 or YYYY-MM-DD)")
		c.Flags().StringVar(&auditFlags.until, "until", "", "entries at or before this time (RFC 3339 or YYYY-MM-DD)")
		c.Flags().StringVar(&auditFlags.actor, "actor", "", "filter by actor")
		c.Flags().StringVar(&auditFlags.rule, "rule", "", "entries with a violation of this rule")
		c.Flags().StringVar(&auditFlags.result, "result", "", "filter by result: pass, fail")
		c.Flags().StringVarP(&auditFlags.output, "output", "o", "", "output file (default: stdout)")
	}

	auditQueryCmd.Flags().IntVar(&auditFlags.limit, "limit", audit.DefaultLimit, "max results")
	auditQueryCmd.Flags().IntVar(&auditFlags.offset, "offset", 0, "pagination offset")
	auditQueryCmd.Flags().StringVar(&auditFlags.order, "order", "desc", "sort order: asc, desc")
	auditQueryCmd.Flags().StringVar(&auditFlags.format, "format", "text", "output format: text, json, csv")

	auditExportCmd.Flags().StringVar(&auditFlags.format, "format", "jsonl", "export format: json, jsonl, csv")

	auditVerifyCmd.Flags().StringVar(&auditFlags.format, "format", "text", "output format: text, json")
}

// auditConfig resolves the audit paths from the flags and the gate
// configuration. A missing or invalid gate falls back to the defaults.
func auditConfig() config.AuditConfig {
	var ac config.AuditConfig
	if cfg, err := config.LoadConfigWithEnvOverrides(cfgFile); err == nil {
		ac = cfg.Audit
	} else {
		ac.Path = config.DefaultAuditPath
		ac.SQLite = config.SQLiteConfig{Path: config.DefaultSQLitePath, WALMode: true}
	}
	if auditFlags.auditLog != "" {
		ac.Path = auditFlags.auditLog
	}
	if auditFlags.sqlitePath != "" {
		ac.SQLite.Path = auditFlags.sqlitePath
	}
	ac.SQLite.Enabled = true
	return ac
}

// buildQuery turns the filter flags into a validated query.
func buildQuery() (*audit.Query, error) {
	q := &audit.Query{
		Actor:     auditFlags.actor,
		RuleID:    auditFlags.rule,
		Result:    strings.ToUpper(auditFlags.result),
		Limit:     auditFlags.limit,
		Offset:    auditFlags.offset,
		SortOrder: auditFlags.order,
	}
	if auditFlags.since != "" {
		t, err := parseTime(auditFlags.since, time.Local)
		if err != nil {
			return nil, usageError("since", "%v", err)
		}
		q.StartTime = &t
	}
	if auditFlags.until != "" {
		t, err := parseTime(auditFlags.until, time.Local)
		if err != nil {
			return nil, usageError("until", "%v", err)
		}
		// A bare date includes the whole day.
		if !strings.Contains(auditFlags.until, "T") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		q.EndTime = &t
	}

	audit.ApplyDefaults(q)
	if err := audit.Validate(q); err != nil {
		return nil, cli.NewExitError(cli.ExitUsage, err)
	}
	return q, nil
}

// readEntries runs q against the selected backend.
func readEntries(ctx context.Context, q *audit.Query) ([]*audit.Entry, error) {
	ac := auditConfig()

	switch auditFlags.backend {
	case "", "file":
		entries, err := sink.ReadFile(ac.Path)
		if err != nil {
			return nil, err
		}
		return audit.Filter(entries, q), nil

	case "sqlite":
		db, err := sink.NewSQLiteSink(ac.SQLite, nil)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return db.Query(ctx, q)

	default:
		return nil, usageError("backend", "unsupported backend %q (must be file or sqlite)", auditFlags.backend)
	}
}

// entryTable renders entries with a subset of the export columns.
type entryTable struct {
	entries []*audit.Entry
	columns []string
}

// compactColumns are shown by the text format.
var compactColumns = []string{"timestamp", "actor", "result", "blocking", "waived", "expired_waivers", "revision"}

func (t entryTable) Header() []string {
	return t.columns
}

func (t entryTable) Rows() [][]string {
	index := make(map[string]int, len(export.Columns))
	for i, c := range export.Columns {
		index[c] = i
	}

	rows := make([][]string, 0, len(t.entries))
	for _, e := range t.entries {
		full := export.Row(e)
		row := make([]string, len(t.columns))
		for i, c := range t.columns {
			row[i] = full[index[c]]
		}
		rows = append(rows, row)
	}
	return rows
}

func queryAudit(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(auditFlags.format)
	if err != nil {
		return cli.NewExitError(cli.ExitUsage, err)
	}
	q, err := buildQuery()
	if err != nil {
		return err
	}

	entries, err := readEntries(commandContext(cmd), q)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}

	w, closeOutput, err := openOutput(auditFlags.output, cmd.OutOrStdout())
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}

	var data any
	switch format {
	case cli.FormatJSON:
		if entries == nil {
			entries = []*audit.Entry{}
		}
		data = entries
	case cli.FormatCSV:
		data = entryTable{entries: entries, columns: export.Columns}
	default:
		data = entryTable{entries: entries, columns: compactColumns}
	}

	err = cli.NewFormatter(format).FormatTo(w, data)
	return errors.Join(err, closeOutput())
}

func verifyAudit(cmd *cobra.Command, args []string) error {
	ac := auditConfig()
	report, err := sink.VerifyFile(ac.Path)

	out := cmd.OutOrStdout()
	if auditFlags.format == "json" {
		doc := struct {
			Path     string `json:"path"`
			Valid    bool   `json:"valid"`
			Entries  int    `json:"entries"`
			LastHash string `json:"last_hash,omitempty"`
			Error    string `json:"error,omitempty"`
		}{Path: ac.Path, Valid: err == nil}
		if report != nil {
			doc.Entries = report.Entries
			doc.LastHash = report.LastHash
		}
		if err != nil {
			doc.Error = err.Error()
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(doc); encErr != nil {
			return cli.NewCommandError("audit verify", encErr)
		}
		if err != nil {
			return cli.NewExitError(cli.ExitFail, nil)
		}
		return nil
	}

	if err != nil {
		fmt.Fprintf(out, "AUDIT verify=FAIL path=%s\n", ac.Path)
		return cli.NewExitError(cli.ExitFail, err)
	}
	fmt.Fprintf(out, "AUDIT verify=OK path=%s entries=%d last_hash=%s\n", ac.Path, report.Entries, report.LastHash)
	return nil
}

func exportAudit(cmd *cobra.Command, args []string) error {
	auditFlags.limit = audit.MaxLimit
	auditFlags.offset = 0
	auditFlags.order = "asc"
	q, err := buildQuery()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	entries, err := readEntries(ctx, q)
	if err != nil {
		return cli.NewCommandError("audit export", err)
	}

	var exporter interface {
		Export(ctx context.Context, entries []*audit.Entry, w io.Writer) error
	}
	switch auditFlags.format {
	case "json":
		exporter = export.NewJSONExporter(true)
	case "jsonl", "":
		exporter = export.NewJSONLinesExporter()
	case "csv":
		exporter = export.NewCSVExporter(true)
	default:
		return usageError("format", "unsupported export format %q (must be json, jsonl or csv)", auditFlags.format)
	}

	w, closeOutput, err := openOutput(auditFlags.output, cmd.OutOrStdout())
	if err != nil {
		return cli.NewCommandError("audit export", err)
	}
	err = exporter.Export(ctx, entries, w)
	return errors.Join(err, closeOutput())
}

func ruleHistory(cmd *cobra.Command, args []string) error {
	ruleID := args[0]
	ctx := commandContext(cmd)

	var failures, waived int
	if auditFlags.backend == "sqlite" {
		db, err := sink.NewSQLiteSink(auditConfig().SQLite, nil)
		if err != nil {
			return cli.NewCommandError("audit history", err)
		}
		defer db.Close()
		if failures, waived, err = db.RuleHistory(ctx, ruleID); err != nil {
			return cli.NewCommandError("audit history", err)
		}
	} else {
		entries, err := sink.ReadFile(auditConfig().Path)
		if err != nil {
			return cli.NewCommandError("audit history", err)
		}
		failures, waived = countRule(entries, ruleID)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "RULE id=%s failures=%d waived=%d\n", ruleID, failures, waived)
	return nil
}

// countRule counts the violations of ruleID across entries, and how many
// of them were waived.
func countRule(entries []*audit.Entry, ruleID string) (failures, waived int) {
	for _, e := range entries {
		for _, v := range e.Decision.Violations {
			if v.RuleID != ruleID {
				continue
			}
			failures++
			if v.Waived {
				waived++
			}
		}
	}
	return failures, waived
}
