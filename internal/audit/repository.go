package audit

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/timeauthority/internal/seal"
)

// Repository defines the audit log operations.
type Repository interface {
	// Append records a seal after every previously appended seal.
	// Each call adds exactly one entry; there is no deduplication.
	Append(ctx context.Context, s *seal.Seal) error

	// Find returns the entry holding the seal with the given id.
	Find(sealID string) (*Entry, error)

	// Entries returns all entries in issuance order.
	Entries() ([]*Entry, error)

	// Stats returns counters over the whole log.
	Stats() Stats
}

// MemoryLog is an in-memory Repository.
// Used for testing and development. Thread-safe via RWMutex.
type MemoryLog struct {
	mu      sync.RWMutex
	chain   chain
	entries []*Entry
	lines   [][]byte
	now     func() time.Time
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: time.Now}
}

// Append records s.
func (l *MemoryLog) Append(ctx context.Context, s *seal.Seal) error {
	if s == nil {
		return &WriteError{Err: ErrNilSeal}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, line, err := l.chain.next(s, l.now())
	if err != nil {
		return &WriteError{SealID: s.SealID, Err: err}
	}
	l.entries = append(l.entries, entry)
	l.lines = append(l.lines, line)
	l.chain.commit(entry, line)
	return nil
}

// Find returns the entry for sealID.
func (l *MemoryLog) Find(sealID string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Seal.SealID == sealID {
			entryCopy := *l.entries[i]
			return &entryCopy, nil
		}
	}
	return nil, ErrNotFound
}

// Entries returns copies of all entries in order.
func (l *MemoryLog) Entries() ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Entry, len(l.entries))
	for i, e := range l.entries {
		entryCopy := *e
		out[i] = &entryCopy
	}
	return out, nil
}

// Lines returns the encoded entries, one per element, as a file log would store them.
func (l *MemoryLog) Lines() [][]byte {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([][]byte, len(l.lines))
	copy(out, l.lines)
	return out
}

// Stats returns counters over the log.
func (l *MemoryLog) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.stats
}
