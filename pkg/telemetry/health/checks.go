package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Tracker remembers the outcome of the most recent gate evaluation in
// watch mode. It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	at       time.Time
	result   string
	auditErr error
}

// Observe records a completed evaluation.
func (t *Tracker) Observe(at time.Time, result string, auditErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.at = at
	t.result = result
	t.auditErr = auditErr
}

// Last returns the time and result of the most recent evaluation. The
// time is zero before the first evaluation.
func (t *Tracker) Last() (time.Time, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.at, t.result
}

// AuditCheck fails while the most recent audit append failed. A watcher
// that cannot record decisions is not ready.
func (t *Tracker) AuditCheck() CheckFunc {
	return func(ctx context.Context) error {
		t.mu.RLock()
		defer t.mu.RUnlock()
		if t.auditErr != nil {
			return fmt.Errorf("last audit append failed: %w", t.auditErr)
		}
		return nil
	}
}

// FreshnessCheck fails when no evaluation completed within maxAge. A zero
// maxAge only requires that one evaluation has completed.
func (t *Tracker) FreshnessCheck(maxAge time.Duration, now func() time.Time) CheckFunc {
	return func(ctx context.Context) error {
		at, _ := t.Last()
		if at.IsZero() {
			return errors.New("no evaluation has completed yet")
		}
		if maxAge > 0 {
			if age := now().Sub(at); age > maxAge {
				return fmt.Errorf("last evaluation is %s old (max %s)", age.Round(time.Second), maxAge)
			}
		}
		return nil
	}
}

// AuditPathCheck fails when the directory holding the audit trail is
// missing or not writable.
func AuditPathCheck(path string) CheckFunc {
	return func(ctx context.Context) error {
		dir := filepath.Dir(path)
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("audit directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("audit directory %s is not a directory", dir)
		}

		probe, err := os.CreateTemp(dir, ".tollgate-health-*")
		if err != nil {
			return fmt.Errorf("audit directory is not writable: %w", err)
		}
		name := probe.Name()
		_ = probe.Close()
		_ = os.Remove(name)
		return nil
	}
}
