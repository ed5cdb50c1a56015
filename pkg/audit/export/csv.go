package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"mercator-hq/tollgate/pkg/audit"
)

// Columns is the flattened schema of an exported entry.
var Columns = []string{
	"id", "timestamp", "actor", "result",
	"blocking", "waived", "advisory", "expired_waivers",
	"warnings", "sources_unavailable",
	"revision", "config_digest", "hash",
}

// CSVExporter exports audit entries to CSV format.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{
		IncludeHeader: includeHeader,
	}
}

// Export writes entries to w, one row each.
func (e *CSVExporter) Export(ctx context.Context, entries []*audit.Entry, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(Columns); err != nil {
			return audit.NewExportError("csv", 0, err)
		}
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writer.Write(Row(entry)); err != nil {
			return audit.NewExportError("csv", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return audit.NewExportError("csv", len(entries), err)
	}
	return nil
}

// ExportStream writes entries from ch until it is closed or ctx is done.
// The writer is flushed every 100 rows.
func (e *CSVExporter) ExportStream(ctx context.Context, ch <-chan *audit.Entry, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(Columns); err != nil {
			return audit.NewExportError("csv", 0, err)
		}
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case entry, ok := <-ch:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return audit.NewExportError("csv", count, err)
				}
				return nil
			}

			if err := writer.Write(Row(entry)); err != nil {
				return audit.NewExportError("csv", count, err)
			}
			count++

			if count%100 == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return audit.NewExportError("csv", count, err)
				}
			}
		}
	}
}

// Row flattens an entry into the Columns schema. Rule ID lists are joined
// with ';' so they survive spreadsheet imports.
func Row(e *audit.Entry) []string {
	d := e.Decision

	var blocking, waived, advisory, expired []string
	for _, v := range d.Violations {
		switch {
		case v.Blocking():
			blocking = append(blocking, v.RuleID)
		case v.Waived:
			waived = append(waived, v.RuleID)
		default:
			advisory = append(advisory, v.RuleID)
		}
		expired = append(expired, v.ExpiredWaivers...)
	}

	var unavailable []string
	for _, s := range e.Sources {
		if !s.Status.Available() {
			unavailable = append(unavailable, s.ID)
		}
	}

	ts := ""
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	return []string{
		e.ID,
		ts,
		e.Actor,
		d.Result(),
		strings.Join(blocking, ";"),
		strings.Join(waived, ";"),
		strings.Join(advisory, ";"),
		strings.Join(expired, ";"),
		strconv.Itoa(len(d.Warnings)),
		strings.Join(unavailable, ";"),
		e.Revision,
		e.ConfigDigest,
		e.Hash,
	}
}
