package sink

// SchemaVersion is the current audit index schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the audit index schema.
const Schema = `
-- One row per gate evaluation
CREATE TABLE IF NOT EXISTS audit_entries (
    id TEXT PRIMARY KEY,
    timestamp TEXT NOT NULL,
    actor TEXT NOT NULL,

    -- Decision summary
    result TEXT NOT NULL,
    passed BOOLEAN NOT NULL,
    violations INTEGER NOT NULL,
    blocking INTEGER NOT NULL,
    waived INTEGER NOT NULL,
    warnings INTEGER NOT NULL,

    -- Provenance
    revision TEXT,
    config_digest TEXT,

    -- Hash chain
    prev_hash TEXT NOT NULL,
    hash TEXT NOT NULL,

    -- Full entry as written to the JSON Lines trail
    payload TEXT NOT NULL
);

-- One row per violation, for per-rule history
CREATE TABLE IF NOT EXISTS audit_violations (
    entry_id TEXT NOT NULL REFERENCES audit_entries(id),
    rule_id TEXT NOT NULL,
    family TEXT NOT NULL,
    severity TEXT NOT NULL,
    waived BOOLEAN NOT NULL,
    waiver_ids TEXT,
    detail TEXT
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries(actor);
CREATE INDEX IF NOT EXISTS idx_audit_entries_result ON audit_entries(result);
CREATE INDEX IF NOT EXISTS idx_audit_violations_rule_id ON audit_violations(rule_id);
CREATE INDEX IF NOT EXISTS idx_audit_violations_entry_id ON audit_violations(entry_id);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
