// Package export writes audit entries in formats suited to reviewers and
// spreadsheets.
//
// # Export Formats
//
//   - JSON: an array of full entries, optionally indented
//   - JSON Lines: one entry per line, the same encoding as the audit log
//   - CSV: one flattened row per entry with a header row
//
// # CSV Export
//
// The CSV schema flattens each entry to its provenance, result, and the
// rule IDs that blocked, were waived, or carried expired waivers:
//
//	exporter := export.NewCSVExporter(true)
//	if err := exporter.Export(ctx, entries, os.Stdout); err != nil {
//		return err
//	}
//
// Columns and Row are exported so that other table renderers show the
// same columns as the CSV file.
//
// # Streaming
//
// ExportStream consumes entries from a channel so that a trail can be
// exported while it is being read.
//
// # Error Handling
//
// Exporters return *audit.ExportError when encoding or writing fails.
package export
