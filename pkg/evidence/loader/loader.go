package loader

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/evidence"
)

// Loader turns evidence artifacts into typed records. Loading is read-only;
// every problem is recorded on the source result instead of being returned.
type Loader struct {
	logger   *slog.Logger
	readFile func(path string) ([]byte, error)
}

// New creates a new Loader.
func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		logger:   logger.With("component", "evidence.loader"),
		readFile: os.ReadFile,
	}
}

// Load loads every source concurrently and merges the results into one set.
// Sources are independent, so the merge is a plain map union.
func (l *Loader) Load(ctx context.Context, sources []config.SourceConfig, now time.Time) *evidence.Set {
	set := evidence.NewSet(now)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src config.SourceConfig) {
			defer wg.Done()

			var res *evidence.SourceResult
			if err := ctx.Err(); err != nil {
				res = &evidence.SourceResult{
					ID:     src.ID,
					Path:   src.Path,
					Format: src.Format,
					Status: evidence.StatusUnreadable,
					Err:    evidence.NewError(src.Path, evidence.ErrUnreadable, "load cancelled", err),
				}
			} else {
				res = l.LoadSource(src)
			}

			mu.Lock()
			set.Sources[src.ID] = res
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	return set
}

// LoadSource loads a single source.
func (l *Loader) LoadSource(src config.SourceConfig) *evidence.SourceResult {
	res := &evidence.SourceResult{
		ID:     src.ID,
		Path:   src.Path,
		Format: src.Format,
	}

	data, err := l.readFile(src.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			res.Err = evidence.NewError(src.Path, evidence.ErrAbsent, "file does not exist", nil)
		} else {
			res.Err = evidence.NewError(src.Path, evidence.ErrUnreadable, "file could not be read", err)
		}
		res.Status = res.Err.Status()
		l.logResult(res)
		return res
	}
	res.Digest = evidence.HashContent(data)

	var perr error
	switch src.Format {
	case "markdown":
		perr = l.parseMarkdown(src, data, res)
	case "csv":
		perr = l.parseCSV(src, data, res)
	case "json":
		perr = l.parseJSON(src, data, res)
	case "text":
		perr = l.parseText(src, data, res)
	default:
		perr = evidence.NewError(src.Path, evidence.ErrCorrupt, "unsupported format "+src.Format, nil)
	}

	if perr != nil {
		var ee *evidence.Error
		if !errors.As(perr, &ee) {
			ee = evidence.NewError(src.Path, evidence.ErrCorrupt, "parse failed", perr)
		}
		res.Err = ee
		res.Status = ee.Status()
		res.Records = nil
	} else {
		res.Status = evidence.StatusLoaded
	}

	l.logResult(res)
	return res
}

// parseMarkdown extracts a section as key/value entries or table rows.
func (l *Loader) parseMarkdown(src config.SourceConfig, data []byte, res *evidence.SourceResult) error {
	lines := splitLines(data)

	var extractor SectionExtractor
	var sch *schema
	if src.Extract == "keyvalue" {
		extractor = KeyValueExtractor{}
	} else {
		sch = schemaFor(src.Schema)
		extractor = TableExtractor{Match: func(header []string) bool {
			return len(sch.missing(sch.columns(header), src.Columns)) == 0
		}}
	}

	ext, err := extractor.Extract(lines, src.Section)
	switch {
	case errors.Is(err, ErrSectionNotFound):
		return evidence.NewError(src.Path, evidence.ErrAbsent, err.Error(), nil)
	case errors.Is(err, ErrNoTable):
		return evidence.NewError(src.Path, evidence.ErrCorrupt, "section "+quoteOrDocument(src.Section)+" has no table with columns "+strings.Join(expectedColumns(sch, src.Columns), ", "), nil)
	case err != nil:
		return evidence.NewError(src.Path, evidence.ErrCorrupt, "markdown extraction failed", err)
	}

	for _, issue := range ext.Issues {
		res.Warnings = append(res.Warnings, l.warning(src, evidence.WarnMalformedRow, issue.Line, issue.Message))
	}

	if sch == nil {
		for _, p := range ext.Pairs {
			res.Records = append(res.Records, metricRecord(p.Key, p.Value, evidence.Provenance{Path: src.Path, StartLine: p.Line, EndLine: p.Line}))
		}
		return nil
	}

	columns := sch.columns(ext.Header)
	for _, row := range ext.Rows {
		fields := make(map[string]string, len(columns))
		for i, col := range columns {
			fields[col] = row.Cells[i]
		}
		rec, issue := sch.record(fields, evidence.Provenance{Path: src.Path, StartLine: row.Line, EndLine: row.Line})
		if issue != nil {
			res.Warnings = append(res.Warnings, l.warning(src, issue.kind, row.Line, issue.message))
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return nil
}

// warning builds a source-scoped warning.
func (l *Loader) warning(src config.SourceConfig, kind evidence.WarningKind, line int, msg string) evidence.Warning {
	return evidence.Warning{
		Kind:    kind,
		Source:  src.ID,
		Path:    src.Path,
		Line:    line,
		Message: msg,
	}
}

// logResult logs the outcome of a source load.
func (l *Loader) logResult(res *evidence.SourceResult) {
	if res.Status == evidence.StatusLoaded {
		l.logger.Debug("evidence source loaded",
			"source", res.ID,
			"path", res.Path,
			"records", len(res.Records),
			"warnings", len(res.Warnings),
		)
		return
	}
	l.logger.Warn("evidence source unavailable",
		"source", res.ID,
		"path", res.Path,
		"status", res.Status,
		"error", res.Err,
	)
}

// splitLines splits data into lines without trailing carriage returns.
func splitLines(data []byte) []string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}

func expectedColumns(sch *schema, configured []string) []string {
	if sch == nil {
		return configured
	}
	if len(configured) == 0 {
		return sch.required
	}
	out := make([]string, len(configured))
	for i, c := range configured {
		out[i] = sch.column(c)
	}
	return out
}

func quoteOrDocument(section string) string {
	if section == "" {
		return "(document)"
	}
	return `"` + section + `"`
}
