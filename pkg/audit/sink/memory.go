package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/audit"
)

// MemorySink implements audit.Sink in memory.
// This implementation is intended for testing only and should not be used in production.
type MemorySink struct {
	entries []*audit.Entry
	mu      sync.RWMutex

	// Err, when set, is returned by every Append.
	Err error
}

// NewMemorySink creates a new in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append implements audit.Sink.
func (s *MemorySink) Append(ctx context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return audit.NewWriteError("memory", "append", "", s.Err)
	}

	if entry.Hash == "" {
		prev := ""
		ts := time.Now().UTC().Truncate(time.Microsecond)
		if n := len(s.entries); n > 0 {
			last := s.entries[n-1]
			prev = last.Hash
			if !ts.After(last.Timestamp) {
				ts = last.Timestamp.Add(time.Microsecond)
			}
		}
		entry.Timestamp = ts
		if err := entry.Seal(prev); err != nil {
			return err
		}
	}

	// Create a copy to avoid mutation
	entryCopy := *entry
	s.entries = append(s.entries, &entryCopy)
	return nil
}

// Entries returns a copy of the stored entries in append order.
func (s *MemorySink) Entries() []*audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*audit.Entry(nil), s.entries...)
}

// Query implements audit.Reader.
func (s *MemorySink) Query(ctx context.Context, q *audit.Query) ([]*audit.Entry, error) {
	return audit.Filter(s.Entries(), q), nil
}

// Close implements audit.Sink.
func (s *MemorySink) Close() error {
	return nil
}

// ErrInjected is a convenience failure for tests of fail-closed paths.
var ErrInjected = errors.New("injected audit failure")
