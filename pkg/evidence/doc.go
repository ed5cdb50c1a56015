// Package evidence defines the typed records Tollgate extracts from
// compliance artifacts and the bookkeeping around loading them.
//
// A Set maps source identifiers to SourceResults. Each result carries a
// Status that keeps "absent" (the file or section does not exist) distinct
// from "loaded but empty", and distinct again from "corrupt" (present but
// unparseable). Metrics computed from a source that is not loaded are
// unavailable rather than zero.
//
// Free-form status columns are parsed into closed enumerations
// (ExceptionStatus, RiskStatus, Severity); a value outside the enumeration
// drops the row with a warning instead of silently failing a filter.
//
// Dates use a single canonical layout, DateLayout ("2006-01-02").
package evidence
