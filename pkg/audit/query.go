package audit

import (
	"fmt"
	"sort"
)

const (
	// DefaultLimit is the default number of entries to return if not specified.
	DefaultLimit = 100

	// MaxLimit is the maximum number of entries that can be returned in a single query.
	MaxLimit = 10000
)

// ValidSortOrders contains the valid sort orders.
var ValidSortOrders = map[string]bool{
	"asc":  true,
	"desc": true,
}

// ValidResults contains the valid result filters.
var ValidResults = map[string]bool{
	ResultPass: true,
	ResultFail: true,
}

// Validate validates a query and returns an error if any parameters are invalid.
func Validate(q *Query) error {
	if q.Limit < 0 {
		return NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if q.Limit > MaxLimit {
		return NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit))
	}
	if q.Offset < 0 {
		return NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}
	if q.SortOrder != "" && !ValidSortOrders[q.SortOrder] {
		return NewQueryError(q, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder))
	}
	if q.Result != "" && !ValidResults[q.Result] {
		return NewQueryError(q, fmt.Errorf("invalid result: %s (must be 'PASS' or 'FAIL')", q.Result))
	}
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return NewQueryError(q, fmt.Errorf("start time %s is after end time %s", q.StartTime, q.EndTime))
	}
	return nil
}

// ApplyDefaults sets default values for unspecified query parameters.
func ApplyDefaults(q *Query) {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
}

// Filter applies q to entries held in memory: filter, sort, paginate.
func Filter(entries []*Entry, q *Query) []*Entry {
	var out []*Entry
	for _, e := range entries {
		if q.Matches(e) {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.SortOrder == "asc" {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if q.Offset >= len(out) {
		return []*Entry{}
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
