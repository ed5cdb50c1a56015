package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineSize bounds a single audit line.
const maxLineSize = 16 << 20

// ReadEntries decodes a JSON Lines audit trail. Blank lines are skipped.
func ReadEntries(r io.Reader) ([]*Entry, error) {
	var entries []*Entry
	err := scanLines(r, func(line int, data []byte) error {
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return &VerifyError{Line: line, Cause: fmt.Errorf("invalid JSON: %w", err)}
		}
		entries = append(entries, &e)
		return nil
	})
	return entries, err
}

// VerifyReport summarizes a verified trail.
type VerifyReport struct {
	Entries  int    `json:"entries"`
	LastHash string `json:"last_hash,omitempty"`
	LastID   string `json:"last_id,omitempty"`
}

// Verify walks a trail and checks that every entry hashes to its recorded
// Hash, links to its predecessor, and is timestamped strictly after it.
// The first failure is returned as a *VerifyError.
func Verify(r io.Reader) (*VerifyReport, error) {
	report := &VerifyReport{}
	var prev *Entry

	err := scanLines(r, func(line int, data []byte) error {
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return &VerifyError{Line: line, Cause: fmt.Errorf("invalid JSON: %w", err)}
		}

		want, err := e.ComputeHash()
		if err != nil {
			return &VerifyError{Line: line, EntryID: e.ID, Cause: err}
		}
		if want != e.Hash {
			return &VerifyError{Line: line, EntryID: e.ID, Cause: ErrHashMismatch}
		}

		prevHash := ""
		if prev != nil {
			prevHash = prev.Hash
		}
		if e.PrevHash != prevHash {
			return &VerifyError{Line: line, EntryID: e.ID, Cause: ErrChainBroken}
		}
		if prev != nil && !e.Timestamp.After(prev.Timestamp) {
			return &VerifyError{Line: line, EntryID: e.ID, Cause: ErrOutOfOrder}
		}

		prev = &e
		report.Entries++
		report.LastHash = e.Hash
		report.LastID = e.ID
		return nil
	})
	if err != nil {
		return report, err
	}
	return report, nil
}

// scanLines calls fn for each non-blank line with its 1-based number.
func scanLines(r io.Reader, fn func(line int, data []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for sc.Scan() {
		line++
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}
		if err := fn(line, data); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read audit trail: %w", err)
	}
	return nil
}
