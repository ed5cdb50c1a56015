package loader

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/evidence"
)

// parseCSV reads a delimited register. The header row is mapped onto the
// source schema; a header missing a required column makes the whole source
// corrupt, since counting rows of the wrong shape would report a false zero.
func (l *Loader) parseCSV(src config.SourceConfig, data []byte, res *evidence.SourceResult) error {
	sch := schemaFor(src.Schema)

	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		if len(sch.required) > 0 {
			return evidence.NewError(src.Path, evidence.ErrCorrupt, "file has no header row", nil)
		}
		return nil
	}
	if err != nil {
		return evidence.NewError(src.Path, evidence.ErrCorrupt, "header row could not be parsed", err)
	}

	columns := sch.columns(header)
	if missing := sch.missing(columns, src.Columns); len(missing) > 0 {
		return evidence.NewError(src.Path, evidence.ErrCorrupt,
			"header is missing required columns: "+strings.Join(missing, ", "), nil)
	}

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// The reader resumes at the next record after a parse error.
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Warnings = append(res.Warnings, l.warning(src, evidence.WarnMalformedRow, perr.Line,
					fmt.Sprintf("row skipped: %v", err)))
				continue
			}
			res.Warnings = append(res.Warnings, l.warning(src, evidence.WarnMalformedRow, 0,
				fmt.Sprintf("stopped reading: %v", err)))
			break
		}

		line, _ := r.FieldPos(0)
		if allEmpty(trimAll(row)) {
			continue
		}
		if len(row) != len(columns) {
			res.Warnings = append(res.Warnings, l.warning(src, evidence.WarnMalformedRow, line,
				fmt.Sprintf("row has %d fields, header has %d", len(row), len(columns))))
			continue
		}

		fields := make(map[string]string, len(columns))
		for i, col := range columns {
			fields[col] = row[i]
		}
		rec, issue := sch.record(fields, evidence.Provenance{Path: src.Path, StartLine: line, EndLine: line})
		if issue != nil {
			res.Warnings = append(res.Warnings, l.warning(src, issue.kind, line, issue.message))
			continue
		}
		res.Records = append(res.Records, rec)
	}

	return nil
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
