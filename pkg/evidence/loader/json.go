package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/evidence"
)

// parseJSON reads a JSON document. Without a records path the top-level
// object is flattened into metric entries ("a.b" for nested keys). With a
// records path the array found there is mapped row by row onto the schema.
func (l *Loader) parseJSON(src config.SourceConfig, data []byte, res *evidence.SourceResult) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return evidence.NewError(src.Path, evidence.ErrCorrupt, "invalid JSON", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return evidence.NewError(src.Path, evidence.ErrCorrupt, "unexpected data after top-level value", nil)
	}

	prov := evidence.Provenance{Path: src.Path}

	if src.RecordsPath == "" {
		obj, ok := doc.(map[string]any)
		if !ok {
			return evidence.NewError(src.Path, evidence.ErrCorrupt, "top-level value is not an object", nil)
		}
		flat := make(map[string]string)
		flatten("", obj, flat)
		for _, key := range sortedKeys(flat) {
			res.Records = append(res.Records, metricRecord(key, flat[key], prov))
		}
		return nil
	}

	node, ok := lookupPath(doc, src.RecordsPath)
	if !ok {
		return evidence.NewError(src.Path, evidence.ErrCorrupt, fmt.Sprintf("records path %q not found", src.RecordsPath), nil)
	}
	items, ok := node.([]any)
	if !ok {
		return evidence.NewError(src.Path, evidence.ErrCorrupt, fmt.Sprintf("records path %q is not an array", src.RecordsPath), nil)
	}

	sch := schemaFor(src.Schema)
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			res.Warnings = append(res.Warnings, l.warning(src, evidence.WarnMalformedRow, 0,
				fmt.Sprintf("%s[%d] is not an object", src.RecordsPath, i)))
			continue
		}

		flat := make(map[string]string)
		flatten("", obj, flat)
		fields := make(map[string]string, len(flat))
		for k, v := range flat {
			fields[sch.column(k)] = v
		}

		rec, issue := sch.record(fields, prov)
		if issue != nil {
			res.Warnings = append(res.Warnings, l.warning(src, issue.kind, 0,
				fmt.Sprintf("%s[%d]: %s", src.RecordsPath, i, issue.message)))
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return nil
}

// flatten writes every scalar under obj into out, joining nested keys with
// dots. Arrays and nulls carry no scalar value and are skipped.
func flatten(prefix string, obj map[string]any, out map[string]string) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case json.Number:
			out[key] = val.String()
		case string:
			out[key] = val
		case bool:
			if val {
				out[key] = "true"
			} else {
				out[key] = "false"
			}
		}
	}
}

// lookupPath walks a dotted path through nested objects.
func lookupPath(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
