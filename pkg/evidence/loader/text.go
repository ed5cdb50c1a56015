package loader

import (
	"fmt"
	"strings"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/evidence"
)

// parseText reads a plain-text status file. Lines are "key: value" or
// "key=value"; a file holding a single bare token is read as "status".
// Blank lines and lines starting with '#' are ignored.
func (l *Loader) parseText(src config.SourceConfig, data []byte, res *evidence.SourceResult) error {
	lines := splitLines(data)

	type bare struct {
		value string
		line  int
	}
	var bares []bare
	pairs := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		idx := strings.IndexAny(trimmed, ":=")
		if idx > 0 {
			key := strings.TrimSpace(trimmed[:idx])
			value := strings.TrimSpace(trimmed[idx+1:])
			if evidence.NormalizeKey(key) == "" || value == "" {
				res.Warnings = append(res.Warnings, l.warning(src, evidence.WarnMalformedRow, i+1,
					fmt.Sprintf("cannot read %q as key and value", trimmed)))
				continue
			}
			res.Records = append(res.Records, metricRecord(key, value,
				evidence.Provenance{Path: src.Path, StartLine: i + 1, EndLine: i + 1}))
			pairs++
			continue
		}

		bares = append(bares, bare{value: trimmed, line: i + 1})
	}

	if pairs == 0 && len(bares) == 1 && !strings.ContainsAny(bares[0].value, " \t") {
		b := bares[0]
		res.Records = append(res.Records, metricRecord("status", b.value,
			evidence.Provenance{Path: src.Path, StartLine: b.line, EndLine: b.line}))
		return nil
	}

	for _, b := range bares {
		res.Warnings = append(res.Warnings, l.warning(src, evidence.WarnMalformedRow, b.line,
			fmt.Sprintf("cannot read %q as key and value", b.value)))
	}
	return nil
}
