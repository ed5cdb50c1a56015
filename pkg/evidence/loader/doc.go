// Package loader reads governance evidence artifacts into typed records.
//
// Four formats are supported:
//
//   - markdown: a named section is extracted either as "key: value" lines
//     (KeyValueExtractor) or as the first pipe table carrying the expected
//     columns (TableExtractor).
//   - csv: a header row followed by data rows.
//   - json: a flattened object of scalars, or an array of records found at
//     a dotted records path.
//   - text: "key: value" or "key=value" lines, or a single status token.
//
// Column headers are matched loosely. "Policy/Risk ID", "policy_risk_id" and
// "Policy Or Risk ID" all map to the same canonical column, and enumeration
// values are compared case- and separator-insensitively.
//
// Failures are scoped to one source. A missing file or section leaves the
// source absent, a file that cannot be parsed as a whole leaves it corrupt,
// and individual bad rows are dropped with a warning that names the file
// and line. Load never returns an error; callers inspect each
// evidence.SourceResult instead.
//
// Sources are loaded concurrently, one goroutine per source. The loader
// never writes to the evidence files.
package loader
