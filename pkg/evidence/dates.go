package evidence

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the single canonical date format accepted in evidence.
const DateLayout = "2006-01-02"

// ParseDate parses a canonical date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not in %s format", s, DateLayout)
	}
	return t, nil
}

// ParseTimestamp parses an RFC 3339 timestamp, falling back to the
// canonical date format.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := ParseDate(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q is neither RFC 3339 nor %s", s, DateLayout)
	}
	return t, nil
}
