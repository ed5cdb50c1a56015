package loader

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"mercator-hq/tollgate/pkg/evidence"
)

var (
	// ErrSectionNotFound is returned when no heading matches the requested section.
	ErrSectionNotFound = errors.New("section not found")

	// ErrNoTable is returned when a section holds no table with the expected columns.
	ErrNoTable = errors.New("no table with the expected columns")
)

var (
	headingPattern   = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	separatorPattern = regexp.MustCompile(`^:?-+:?$`)
	bulletPattern    = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+`)
)

// Pair is a "key: value" line.
type Pair struct {
	Key   string
	Value string
	Line  int
}

// Row is a table data row.
type Row struct {
	Cells []string
	Line  int
}

// Issue is a malformed line skipped during extraction.
type Issue struct {
	Line    int
	Message string
}

// Extraction is the structured content pulled out of one section.
type Extraction struct {
	Heading   string
	StartLine int
	EndLine   int

	// Pairs is set by KeyValueExtractor.
	Pairs []Pair

	// Header and Rows are set by TableExtractor.
	Header []string
	Rows   []Row

	Issues []Issue
}

// SectionExtractor pulls structured content out of a named markdown
// section. Line numbers in the result are 1-based positions in lines.
type SectionExtractor interface {
	Extract(lines []string, heading string) (*Extraction, error)
}

// span is a half-open range of line indexes.
type span struct {
	heading    string
	start, end int
}

// findSection locates the section under heading. The section runs until the
// next heading of the same or a higher level. An empty heading selects the
// whole document.
func findSection(lines []string, heading string) (span, error) {
	if strings.TrimSpace(heading) == "" {
		return span{start: 0, end: len(lines)}, nil
	}

	want := evidence.NormalizeKey(heading)
	inFence := false
	level := 0
	found := span{start: -1}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		m := headingPattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}

		if found.start >= 0 {
			if len(m[1]) <= level {
				found.end = i
				return found, nil
			}
			continue
		}

		if evidence.NormalizeKey(m[2]) == want {
			level = len(m[1])
			found = span{heading: m[2], start: i + 1}
		}
	}

	if found.start < 0 {
		return span{}, fmt.Errorf("%w: %q", ErrSectionNotFound, heading)
	}
	found.end = len(lines)
	return found, nil
}

// KeyValueExtractor extracts "key: value" lines. Bullets, emphasis, and
// code spans around keys and values are tolerated.
type KeyValueExtractor struct{}

// Extract implements SectionExtractor.
func (KeyValueExtractor) Extract(lines []string, heading string) (*Extraction, error) {
	sec, err := findSection(lines, heading)
	if err != nil {
		return nil, err
	}

	ext := &Extraction{Heading: sec.heading, StartLine: sec.start + 1, EndLine: sec.end}
	inFence := false
	for i := sec.start; i < sec.end; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed == "" || strings.HasPrefix(trimmed, "|") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		trimmed = bulletPattern.ReplaceAllString(trimmed, "")

		idx := strings.Index(trimmed, ":")
		if idx <= 0 {
			continue
		}

		rawKey := cleanInline(trimmed[:idx])
		value := strings.Trim(cleanInline(trimmed[idx+1:]), " \t*`")
		key := evidence.NormalizeKey(rawKey)
		if key == "" {
			continue
		}

		if value == "" {
			// A machine-style key with nothing after it is a broken entry;
			// prose labels ("Review notes:") are not.
			if !strings.ContainsAny(rawKey, " \t") {
				ext.Issues = append(ext.Issues, Issue{Line: i + 1, Message: fmt.Sprintf("empty value for key %q", rawKey)})
			}
			continue
		}

		ext.Pairs = append(ext.Pairs, Pair{Key: key, Value: value, Line: i + 1})
	}

	return ext, nil
}

// TableExtractor extracts the first pipe-delimited table in the section
// whose header is accepted by Match. A nil Match accepts any table.
type TableExtractor struct {
	Match func(header []string) bool
}

// Extract implements SectionExtractor.
func (t TableExtractor) Extract(lines []string, heading string) (*Extraction, error) {
	sec, err := findSection(lines, heading)
	if err != nil {
		return nil, err
	}

	i := sec.start
	for i < sec.end {
		if !isTableLine(lines[i]) {
			i++
			continue
		}

		// Collect the contiguous table block.
		blockStart := i
		for i < sec.end && isTableLine(lines[i]) {
			i++
		}

		header := splitCells(lines[blockStart])
		if t.Match != nil && !t.Match(header) {
			continue
		}

		ext := &Extraction{
			Heading:   sec.heading,
			StartLine: blockStart + 1,
			EndLine:   i,
			Header:    header,
		}
		for j := blockStart + 1; j < i; j++ {
			cells := splitCells(lines[j])
			if isSeparatorRow(cells) || allEmpty(cells) {
				continue
			}
			if len(cells) != len(header) {
				ext.Issues = append(ext.Issues, Issue{
					Line:    j + 1,
					Message: fmt.Sprintf("row has %d cells, header has %d", len(cells), len(header)),
				})
				continue
			}
			ext.Rows = append(ext.Rows, Row{Cells: cells, Line: j + 1})
		}
		return ext, nil
	}

	return nil, ErrNoTable
}

// isTableLine reports whether a line is part of a pipe table.
func isTableLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "|")
}

// splitCells splits a table line into trimmed cells, honoring "\|" escapes.
func splitCells(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	if strings.HasSuffix(line, "|") && !strings.HasSuffix(line, `\|`) {
		line = line[:len(line)-1]
	}

	var cells []string
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\' && i+1 < len(line) && line[i+1] == '|':
			cur.WriteByte('|')
			i++
		case line[i] == '|':
			cells = append(cells, cleanInline(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(line[i])
		}
	}
	cells = append(cells, cleanInline(cur.String()))
	return cells
}

// isSeparatorRow reports whether cells form a header separator ("---").
func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if !separatorPattern.MatchString(strings.ReplaceAll(c, " ", "")) {
			return false
		}
	}
	return len(cells) > 0
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

// cleanInline strips surrounding whitespace, emphasis, and code spans.
func cleanInline(s string) string {
	s = strings.TrimSpace(s)
	for _, marker := range []string{"**", "__", "`", "*", "_"} {
		if len(s) >= 2*len(marker) && strings.HasPrefix(s, marker) && strings.HasSuffix(s, marker) {
			s = strings.TrimSpace(s[len(marker) : len(s)-len(marker)])
		}
	}
	return s
}
