package loader

import (
	"fmt"
	"strings"

	"mercator-hq/tollgate/pkg/evidence"
)

// schema maps loosely authored column headers onto a record type.
type schema struct {
	kind     evidence.Kind
	required []string
	aliases  map[string]string
}

// newSchema builds a schema; aliases maps each canonical column to the
// header spellings accepted for it.
func newSchema(kind evidence.Kind, required []string, aliases map[string][]string) *schema {
	s := &schema{
		kind:     kind,
		required: required,
		aliases:  make(map[string]string),
	}
	for canonical, names := range aliases {
		s.aliases[canonical] = canonical
		for _, n := range names {
			s.aliases[evidence.NormalizeKey(n)] = canonical
		}
	}
	return s
}

var schemas = map[string]*schema{
	"policy": newSchema(evidence.KindPolicy,
		[]string{"id", "title"},
		map[string][]string{
			"id":      {"policy_id", "policy"},
			"title":   {"name", "policy_name", "policy_title"},
			"section": {"domain", "category", "area"},
		}),
	"exception": newSchema(evidence.KindException,
		[]string{"id", "policy_or_risk_id", "expiry_date", "status"},
		map[string][]string{
			"id":                {"exception_id", "exc_id"},
			"policy_or_risk_id": {"policy_risk_id", "policy_id", "risk_id", "rule_id", "target"},
			"description":       {"justification", "summary"},
			"risk_owner":        {"owner", "approver"},
			"expiry_date":       {"expiry", "expires", "expiration", "expiration_date"},
			"status":            {"approval_status", "state"},
		}),
	"risk": newSchema(evidence.KindRisk,
		[]string{"id", "severity", "status"},
		map[string][]string{
			"id":          {"risk_id"},
			"title":       {"name", "risk", "risk_title"},
			"severity":    {"rating", "risk_level", "level"},
			"status":      {"state", "treatment_status"},
			"expiry_date": {"acceptance_expiry", "review_date", "expiry", "expires"},
		}),
	"generic": newSchema(evidence.KindGeneric, nil, nil),
}

// schemaFor returns the schema registered under name, defaulting to generic.
func schemaFor(name string) *schema {
	if s, ok := schemas[name]; ok {
		return s
	}
	return schemas["generic"]
}

// column maps a raw header to its canonical column name.
func (s *schema) column(header string) string {
	key := evidence.NormalizeKey(header)
	if canonical, ok := s.aliases[key]; ok {
		return canonical
	}
	return key
}

// columns maps a header row to canonical column names.
func (s *schema) columns(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = s.column(h)
	}
	return out
}

// missing returns the expected columns absent from a canonical header.
func (s *schema) missing(header []string, expected []string) []string {
	if len(expected) == 0 {
		expected = s.required
	}
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[h] = true
	}
	var out []string
	for _, e := range expected {
		if !have[s.column(e)] {
			out = append(out, s.column(e))
		}
	}
	return out
}

// rowIssue explains why a row was dropped.
type rowIssue struct {
	kind    evidence.WarningKind
	message string
}

// record maps a row keyed by canonical column names to a typed record.
// Rows missing a required value or holding an unknown enumeration value
// are rejected with an issue.
func (s *schema) record(row map[string]string, prov evidence.Provenance) (evidence.Record, *rowIssue) {
	fields := make(map[string]string, len(row))
	for k, v := range row {
		fields[k] = strings.TrimSpace(v)
	}

	for _, col := range s.required {
		if fields[col] == "" {
			return evidence.Record{}, &rowIssue{
				kind:    evidence.WarnMalformedRow,
				message: fmt.Sprintf("missing required value for column %q", col),
			}
		}
	}

	rec := evidence.Record{
		Kind:       s.kind,
		ID:         fields["id"],
		Fields:     fields,
		Provenance: prov,
	}

	switch s.kind {
	case evidence.KindPolicy:
		rec.Policy = &evidence.PolicyEntry{
			ID:      fields["id"],
			Title:   fields["title"],
			Section: fields["section"],
		}

	case evidence.KindException:
		status, err := evidence.ParseExceptionStatus(fields["status"])
		if err != nil {
			return evidence.Record{}, &rowIssue{kind: evidence.WarnUnknownValue, message: err.Error()}
		}
		fields["status"] = string(status)
		rec.Exception = &evidence.ExceptionEntry{
			ID:             fields["id"],
			PolicyOrRiskID: fields["policy_or_risk_id"],
			Description:    fields["description"],
			RiskOwner:      fields["risk_owner"],
			ExpiryDate:     fields["expiry_date"],
			Status:         status,
		}

	case evidence.KindRisk:
		severity, err := evidence.ParseSeverity(fields["severity"])
		if err != nil {
			return evidence.Record{}, &rowIssue{kind: evidence.WarnUnknownValue, message: err.Error()}
		}
		status, err := evidence.ParseRiskStatus(fields["status"])
		if err != nil {
			return evidence.Record{}, &rowIssue{kind: evidence.WarnUnknownValue, message: err.Error()}
		}
		fields["severity"] = string(severity)
		fields["status"] = string(status)
		rec.Risk = &evidence.RiskEntry{
			ID:         fields["id"],
			Title:      fields["title"],
			Severity:   severity,
			Status:     status,
			ExpiryDate: fields["expiry_date"],
		}
	}

	return rec, nil
}

// metricRecord builds a key/value record.
func metricRecord(name, value string, prov evidence.Provenance) evidence.Record {
	key := evidence.NormalizeKey(name)
	value = strings.TrimSpace(value)
	return evidence.Record{
		Kind:       evidence.KindMetric,
		ID:         key,
		Fields:     map[string]string{"name": key, "value": value},
		Provenance: prov,
		Metric:     &evidence.MetricEntry{Name: key, RawValue: value},
	}
}
