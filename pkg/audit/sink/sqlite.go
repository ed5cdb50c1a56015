package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/config"
)

// timestampLayout is a fixed-width UTC layout so stored timestamps sort
// lexically.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteSink indexes audit entries in SQLite so they can be queried by
// actor, result, rule, and time. Entries appended without a hash are
// timestamped and chained against the last stored entry; entries already
// sealed by a primary sink are stored as-is.
type SQLiteSink struct {
	db     *sql.DB
	config config.SQLiteConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewSQLiteSink opens the audit index, creating the schema if needed.
func NewSQLiteSink(cfg config.SQLiteConfig, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit.sink.sqlite")

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, audit.NewWriteError("sqlite", "mkdir", cfg.Path, err)
		}
	}

	// Appends read the chain tail and insert in one transaction; an
	// immediate transaction takes the write lock up front.
	db, err := sql.Open("sqlite", cfg.Path+"?_txlock=immediate")
	if err != nil {
		return nil, audit.NewWriteError("sqlite", "open", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{
		db:     db,
		config: cfg,
		now:    time.Now,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("SQLite audit index initialized",
		"path", cfg.Path,
		"wal_mode", cfg.WALMode,
	)

	return s, nil
}

// initialize sets up the database schema and enables WAL mode.
func (s *SQLiteSink) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return audit.NewWriteError("sqlite", "enable_wal", s.config.Path, err)
		}
	}

	busyTimeoutMs := s.config.BusyTimeout.Milliseconds()
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return audit.NewWriteError("sqlite", "set_busy_timeout", s.config.Path, err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return audit.NewWriteError("sqlite", "create_schema", s.config.Path, err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return audit.NewWriteError("sqlite", "insert_schema_version", s.config.Path, err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return audit.NewWriteError("sqlite", "get_schema_version", s.config.Path, err)
	}
	if version != SchemaVersion {
		return audit.NewWriteError("sqlite", "schema_version_mismatch", s.config.Path,
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	return nil
}

// Append implements audit.Sink.
func (s *SQLiteSink) Append(ctx context.Context, entry *audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.NewWriteError("sqlite", "begin", s.config.Path, err)
	}
	defer tx.Rollback()

	if entry.Hash == "" {
		if err := s.seal(ctx, tx, entry); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return audit.NewWriteError("sqlite", "marshal", s.config.Path, err)
	}

	d := entry.Decision
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, timestamp, actor,
			result, passed, violations, blocking, waived, warnings,
			revision, config_digest,
			prev_hash, hash,
			payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.Timestamp.UTC().Format(timestampLayout), entry.Actor,
		d.Result(), d.Passed, len(d.Violations), len(d.Blocking()), len(d.Waived()), len(d.Warnings),
		nullable(entry.Revision), nullable(entry.ConfigDigest),
		entry.PrevHash, entry.Hash,
		string(payload),
	)
	if err != nil {
		return audit.NewWriteError("sqlite", "insert_entry", s.config.Path, err)
	}

	for _, v := range d.Violations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_violations (entry_id, rule_id, family, severity, waived, waiver_ids, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, entry.ID, v.RuleID, v.Family, string(v.Severity), v.Waived, nullable(strings.Join(v.WaiverIDs, ",")), v.Detail)
		if err != nil {
			return audit.NewWriteError("sqlite", "insert_violation", s.config.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return audit.NewWriteError("sqlite", "commit", s.config.Path, err)
	}
	return nil
}

// seal timestamps and chains an entry against the last stored entry.
func (s *SQLiteSink) seal(ctx context.Context, tx *sql.Tx, entry *audit.Entry) error {
	var lastHash, lastTS string
	err := tx.QueryRowContext(ctx,
		"SELECT hash, timestamp FROM audit_entries ORDER BY timestamp DESC, rowid DESC LIMIT 1",
	).Scan(&lastHash, &lastTS)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return audit.NewWriteError("sqlite", "read_tail", s.config.Path, err)
	}

	ts := s.now().UTC().Truncate(time.Microsecond)
	if lastTS != "" {
		last, perr := time.Parse(timestampLayout, lastTS)
		if perr != nil {
			return audit.NewWriteError("sqlite", "read_tail", s.config.Path, perr)
		}
		if !ts.After(last) {
			ts = last.Add(time.Microsecond)
		}
	}

	entry.Timestamp = ts
	if err := entry.Seal(lastHash); err != nil {
		return audit.NewWriteError("sqlite", "hash", s.config.Path, err)
	}
	return nil
}

// Query implements audit.Reader.
func (s *SQLiteSink) Query(ctx context.Context, q *audit.Query) ([]*audit.Entry, error) {
	whereClause, args := buildWhereClause(q)

	sqlQuery := "SELECT payload FROM audit_entries e"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	sortOrder := "DESC"
	if q.SortOrder == "asc" {
		sortOrder = "ASC"
	}
	sqlQuery += fmt.Sprintf(" ORDER BY e.timestamp %s", sortOrder)

	limit := audit.DefaultLimit
	if q.Limit > 0 {
		limit = q.Limit
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)
	if q.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, audit.NewQueryError(q, err)
	}
	defer rows.Close()

	entries := []*audit.Entry{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, audit.NewQueryError(q, err)
		}
		var e audit.Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, audit.NewQueryError(q, err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewQueryError(q, err)
	}

	return entries, nil
}

// RuleHistory counts how often a rule failed, and was waived, in the index.
func (s *SQLiteSink) RuleHistory(ctx context.Context, ruleID string) (failures, waived int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN waived THEN 1 ELSE 0 END), 0)
		FROM audit_violations WHERE rule_id = ?
	`, ruleID).Scan(&failures, &waived)
	if err != nil {
		return 0, 0, audit.NewQueryError(&audit.Query{RuleID: ruleID}, err)
	}
	return failures, waived, nil
}

// Close implements audit.Sink.
func (s *SQLiteSink) Close() error {
	if err := s.db.Close(); err != nil {
		return audit.NewWriteError("sqlite", "close", s.config.Path, err)
	}
	s.logger.Debug("SQLite audit index closed")
	return nil
}

// buildWhereClause builds a WHERE clause and its arguments from a query.
func buildWhereClause(q *audit.Query) (string, []any) {
	var conditions []string
	var args []any

	if q.StartTime != nil {
		conditions = append(conditions, "e.timestamp >= ?")
		args = append(args, q.StartTime.UTC().Format(timestampLayout))
	}
	if q.EndTime != nil {
		conditions = append(conditions, "e.timestamp <= ?")
		args = append(args, q.EndTime.UTC().Format(timestampLayout))
	}
	if q.Actor != "" {
		conditions = append(conditions, "e.actor = ?")
		args = append(args, q.Actor)
	}
	if q.Result != "" {
		conditions = append(conditions, "e.result = ?")
		args = append(args, q.Result)
	}
	if q.RuleID != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM audit_violations v WHERE v.entry_id = e.id AND v.rule_id = ?)")
		args = append(args, q.RuleID)
	}

	return strings.Join(conditions, " AND "), args
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
