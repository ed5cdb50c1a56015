package audit

import (
	"context"
	"time"
)

// Sink is an append-only destination for audit entries. Implementations
// must be safe for concurrent use within a process and, for shared files,
// across processes. Append assigns the entry's timestamp and hash chain.
type Sink interface {
	// Append durably records an entry. An error means the entry may not
	// have been persisted and the caller must fail closed.
	Append(ctx context.Context, entry *Entry) error

	// Close releases resources held by the sink.
	Close() error
}

// Reader reads back audit entries.
type Reader interface {
	// Query returns entries matching q, ordered by q.SortOrder.
	Query(ctx context.Context, q *Query) ([]*Entry, error)
}

// Query filters audit entries.
type Query struct {
	// Time range
	StartTime *time.Time `json:"start_time,omitempty"` // Inclusive start time
	EndTime   *time.Time `json:"end_time,omitempty"`   // Inclusive end time

	// Filters
	Actor  string `json:"actor,omitempty"`   // Filter by actor
	RuleID string `json:"rule_id,omitempty"` // Entries with a violation of this rule
	Result string `json:"result,omitempty"`  // "PASS" or "FAIL"

	// Pagination
	Limit  int `json:"limit,omitempty"`  // Max entries to return
	Offset int `json:"offset,omitempty"` // Skip N entries

	// Sorting by timestamp
	SortOrder string `json:"sort_order,omitempty"` // "asc", "desc"
}

// Matches reports whether an entry satisfies the query filters. Pagination
// is not considered.
func (q *Query) Matches(e *Entry) bool {
	if q.StartTime != nil && e.Timestamp.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && e.Timestamp.After(*q.EndTime) {
		return false
	}
	if q.Actor != "" && e.Actor != q.Actor {
		return false
	}
	if q.Result != "" && e.Decision.Result() != q.Result {
		return false
	}
	if q.RuleID != "" {
		found := false
		for _, v := range e.Decision.Violations {
			if v.RuleID == q.RuleID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
