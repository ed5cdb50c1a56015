package export

import (
	"context"
	"encoding/json"
	"io"

	"mercator-hq/tollgate/pkg/audit"
)

// JSONExporter exports audit entries to JSON.
type JSONExporter struct {
	// Pretty enables pretty-printing with indentation.
	Pretty bool

	// Lines writes one compact entry per line instead of an array.
	Lines bool
}

// NewJSONExporter creates a new JSON array exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{
		Pretty: pretty,
	}
}

// NewJSONLinesExporter creates an exporter that writes JSON Lines.
func NewJSONLinesExporter() *JSONExporter {
	return &JSONExporter{
		Lines: true,
	}
}

// Export writes entries to w. An empty set is written as "[]" in array
// mode and as nothing in line mode.
func (e *JSONExporter) Export(ctx context.Context, entries []*audit.Entry, w io.Writer) error {
	if e.Lines {
		enc := json.NewEncoder(w)
		for i, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := enc.Encode(entry); err != nil {
				return audit.NewExportError("jsonl", i, err)
			}
		}
		return nil
	}

	if entries == nil {
		entries = []*audit.Entry{}
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(entries, "", "  ")
	} else {
		data, err = json.Marshal(entries)
	}
	if err != nil {
		return audit.NewExportError("json", len(entries), err)
	}

	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return audit.NewExportError("json", len(entries), err)
	}
	return nil
}

// ExportStream writes entries from ch as a JSON array (or JSON Lines)
// until ch is closed or ctx is done.
func (e *JSONExporter) ExportStream(ctx context.Context, ch <-chan *audit.Entry, w io.Writer) error {
	format := "json"
	if e.Lines {
		format = "jsonl"
	} else if _, err := w.Write([]byte("[")); err != nil {
		return audit.NewExportError(format, 0, err)
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case entry, ok := <-ch:
			if !ok {
				closing := "]\n"
				if e.Lines {
					closing = ""
				}
				if _, err := io.WriteString(w, closing); err != nil {
					return audit.NewExportError(format, count, err)
				}
				return nil
			}

			if count > 0 && !e.Lines {
				sep := ","
				if e.Pretty {
					sep = ",\n"
				}
				if _, err := io.WriteString(w, sep); err != nil {
					return audit.NewExportError(format, count, err)
				}
			}

			data, err := e.serialize(entry)
			if err != nil {
				return audit.NewExportError(format, count, err)
			}
			if e.Lines {
				data = append(data, '\n')
			}
			if _, err := w.Write(data); err != nil {
				return audit.NewExportError(format, count, err)
			}
			count++
		}
	}
}

func (e *JSONExporter) serialize(entry *audit.Entry) ([]byte, error) {
	if e.Pretty && !e.Lines {
		return json.MarshalIndent(entry, "  ", "  ")
	}
	return json.Marshal(entry)
}
