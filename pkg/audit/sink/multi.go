package sink

import (
	"context"
	"errors"

	"mercator-hq/tollgate/pkg/audit"
)

// MultiSink appends to several sinks in order. The first sink seals the
// entry (timestamp and hash chain); later sinks mirror it. Any failure is
// returned, since a partially audited decision must fail closed.
type MultiSink struct {
	sinks []audit.Sink
}

// NewMultiSink creates a sink that fans out to sinks in order.
func NewMultiSink(sinks ...audit.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Append implements audit.Sink.
func (m *MultiSink) Append(ctx context.Context, entry *audit.Entry) error {
	for _, s := range m.sinks {
		if err := s.Append(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// Query implements audit.Reader using the first sink that can read.
func (m *MultiSink) Query(ctx context.Context, q *audit.Query) ([]*audit.Entry, error) {
	for _, s := range m.sinks {
		if r, ok := s.(audit.Reader); ok {
			return r.Query(ctx, q)
		}
	}
	return nil, audit.NewQueryError(q, errors.New("no readable audit sink configured"))
}

// Close implements audit.Sink, closing every sink.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
