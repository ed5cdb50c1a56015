package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/audit"
)

// tailChunk is the read size used when scanning backwards for the last line.
const tailChunk = 4096

// FileSink appends audit entries to a JSON Lines file. The file is opened
// in append mode and never truncated. Each append holds an in-process
// mutex and an exclusive OS lock while it reads the last entry, links the
// new entry to it, writes one line, and syncs.
type FileSink struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger
}

// FileOption configures a FileSink.
type FileOption func(*FileSink)

// WithClock sets the clock used to timestamp entries.
func WithClock(now func() time.Time) FileOption {
	return func(s *FileSink) {
		s.now = now
	}
}

// WithLogger sets the sink logger.
func WithLogger(logger *slog.Logger) FileOption {
	return func(s *FileSink) {
		s.logger = logger
	}
}

// NewFileSink opens (creating if needed) the audit file at path.
func NewFileSink(path string, opts ...FileOption) (*FileSink, error) {
	s := &FileSink{
		path:   path,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "audit.sink.file")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, audit.NewWriteError("file", "mkdir", path, err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, audit.NewWriteError("file", "open", path, err)
	}
	s.file = f

	s.logger.Debug("audit file opened", "path", path)
	return s, nil
}

// Path returns the audit file path.
func (s *FileSink) Path() string {
	return s.path
}

// Append implements audit.Sink. The entry timestamp is the sink clock,
// moved forward past the last entry when needed so timestamps strictly
// increase.
func (s *FileSink) Append(ctx context.Context, entry *audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return audit.NewWriteError("file", "append", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return audit.NewWriteError("file", "append", s.path, os.ErrClosed)
	}

	if err := lockFile(s.file); err != nil {
		return audit.NewWriteError("file", "lock", s.path, err)
	}
	defer func() {
		if err := unlockFile(s.file); err != nil {
			s.logger.Warn("failed to release audit lock", "path", s.path, "error", err)
		}
	}()

	last, err := readLastEntry(s.file)
	if err != nil {
		return audit.NewWriteError("file", "read_tail", s.path, err)
	}

	ts := s.now().UTC().Truncate(time.Microsecond)
	prevHash := ""
	if last != nil {
		prevHash = last.Hash
		if !ts.After(last.Timestamp) {
			ts = last.Timestamp.UTC().Add(time.Microsecond)
		}
	}
	entry.Timestamp = ts
	if err := entry.Seal(prevHash); err != nil {
		return audit.NewWriteError("file", "hash", s.path, err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return audit.NewWriteError("file", "marshal", s.path, err)
	}
	data = append(data, '\n')

	if _, err := s.file.Write(data); err != nil {
		return audit.NewWriteError("file", "write", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return audit.NewWriteError("file", "sync", s.path, err)
	}

	s.logger.Debug("audit entry appended",
		"id", entry.ID,
		"hash", entry.Hash,
		"bytes", len(data),
	)
	return nil
}

// Query implements audit.Reader by reading the whole file.
func (s *FileSink) Query(ctx context.Context, q *audit.Query) ([]*audit.Entry, error) {
	entries, err := ReadFile(s.path)
	if err != nil {
		return nil, audit.NewQueryError(q, err)
	}
	return audit.Filter(entries, q), nil
}

// Verify checks the hash chain of the audit file.
func (s *FileSink) Verify(ctx context.Context) (*audit.VerifyReport, error) {
	return VerifyFile(s.path)
}

// Close implements audit.Sink.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return audit.NewWriteError("file", "close", s.path, err)
	}
	return nil
}

// ReadFile reads every entry of an audit file. A missing file holds no
// entries.
func ReadFile(path string) ([]*audit.Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return audit.ReadEntries(f)
}

// VerifyFile verifies the audit file at path.
func VerifyFile(path string) (*audit.VerifyReport, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return &audit.VerifyReport{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return audit.Verify(f)
}

// readLastEntry decodes the final line of f, scanning backwards from the
// end. It returns nil for an empty file. A final line without a trailing
// newline is a torn write and is reported as an error.
func readLastEntry(f *os.File) (*audit.Entry, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	var tail []byte
	offset := size
	for offset > 0 {
		n := int64(tailChunk)
		if offset < n {
			n = offset
		}
		offset -= n

		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		tail = append(buf, tail...)

		trimmed := bytes.TrimRight(tail, "\n")
		if len(trimmed) == 0 {
			continue
		}
		if idx := bytes.LastIndexByte(trimmed, '\n'); idx >= 0 || offset == 0 {
			if tail[len(tail)-1] != '\n' {
				return nil, fmt.Errorf("last line of audit trail is incomplete")
			}
			line := trimmed[idx+1:]
			var e audit.Entry
			if err := json.Unmarshal(line, &e); err != nil {
				return nil, fmt.Errorf("last line of audit trail is not a valid entry: %w", err)
			}
			return &e, nil
		}
	}
	return nil, nil
}
