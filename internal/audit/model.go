// Package audit keeps the ordered, append-only record of issued seals.
// Each entry is chained to its predecessor by hash so that edits, deletions
// and reordering are detectable.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/timeauthority/internal/seal"
)

var (
	// ErrAuditWrite is matched by every append failure.
	ErrAuditWrite = errors.New("audit log write failed")
	// ErrNotFound is returned when no entry exists for a seal id.
	ErrNotFound = errors.New("seal not found in audit log")
	// ErrClosed is returned when appending to a closed log.
	ErrClosed = errors.New("audit log is closed")
	// ErrChainBroken is returned when the hash chain does not verify.
	ErrChainBroken = errors.New("audit log chain broken")
	// ErrNilSeal is returned when appending a nil seal.
	ErrNilSeal = errors.New("seal cannot be nil")
)

// Entry is one line of the audit log.
type Entry struct {
	// Seq starts at 1 and increases by one per entry.
	Seq uint64 `json:"seq"`
	// PrevHash is the hex SHA-256 of the previous entry's line, empty for the first.
	PrevHash   string     `json:"prev_hash"`
	RecordedAt time.Time  `json:"recorded_at"`
	Seal       *seal.Seal `json:"seal"`
}

// Stats summarises the log.
type Stats struct {
	Total        uint64 `json:"total_seals"`
	Demo         uint64 `json:"demo_seals"`
	Paid         uint64 `json:"paid_seals"`
	LastIssuedAt string `json:"last_issued_at,omitempty"`
}

func (s *Stats) add(sl *seal.Seal) {
	s.Total++
	if sl.Kind() == seal.KindDemo {
		s.Demo++
	} else {
		s.Paid++
	}
	s.LastIssuedAt = sl.IssuedAt
}

// WriteError reports a failed append. It matches ErrAuditWrite.
type WriteError struct {
	SealID string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("append seal %s: %v", e.SealID, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrAuditWrite, e.Err}
}

// hashLine returns the chain hash of an encoded entry (without its newline).
func hashLine(line []byte) string {
	sum := sha256.Sum256(line)
	return hex.EncodeToString(sum[:])
}

// chain tracks the tail of the log and builds the next entry.
type chain struct {
	seq      uint64
	lastHash string
	stats    Stats
}

// next encodes the entry that would follow the current tail.
func (c *chain) next(s *seal.Seal, recordedAt time.Time) (*Entry, []byte, error) {
	entry := &Entry{
		Seq:        c.seq + 1,
		PrevHash:   c.lastHash,
		RecordedAt: recordedAt.UTC(),
		Seal:       s,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, err
	}
	return entry, line, nil
}

// commit advances the tail past an entry that was durably written.
func (c *chain) commit(entry *Entry, line []byte) {
	c.seq = entry.Seq
	c.lastHash = hashLine(line)
	c.stats.add(entry.Seal)
}
