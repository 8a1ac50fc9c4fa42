package audit

import (
	"encoding/json"
	"fmt"
	"io"
)

// ChainError locates the first entry that breaks the log. It matches ErrChainBroken.
type ChainError struct {
	Line   int
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Is reports whether target is ErrChainBroken.
func (e *ChainError) Is(target error) bool {
	return target == ErrChainBroken
}

// checkLink verifies that entry directly follows the tail c.
func checkLink(c chain, entry *Entry, lineNo int) error {
	if entry.Seq != c.seq+1 {
		return &ChainError{Line: lineNo, Reason: fmt.Sprintf("seq %d follows %d", entry.Seq, c.seq)}
	}
	if entry.PrevHash != c.lastHash {
		return &ChainError{Line: lineNo, Reason: "prev_hash does not match previous entry"}
	}
	if entry.Seal == nil || entry.Seal.SealID == "" {
		return &ChainError{Line: lineNo, Reason: "entry has no seal"}
	}
	return nil
}

// VerifyOptions controls VerifyChain.
type VerifyOptions struct {
	// Signatures also checks every seal's signature against its own public key.
	Signatures bool
}

// VerifyChain reads a log and checks sequence numbers and hash links, and
// optionally every seal signature. It returns the number of valid entries read
// before the first failure.
func VerifyChain(r io.Reader, opts VerifyOptions) (int, error) {
	var c chain
	count := 0
	err := scanLines(r, func(lineNo int, line []byte) error {
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return &ChainError{Line: lineNo, Reason: "malformed entry: " + err.Error()}
		}
		if err := checkLink(c, &entry, lineNo); err != nil {
			return err
		}
		if opts.Signatures {
			if err := entry.Seal.Verify(); err != nil {
				return &ChainError{Line: lineNo, Reason: fmt.Sprintf("seal %s: %v", entry.Seal.SealID, err)}
			}
		}
		c.commit(&entry, line)
		count++
		return nil
	})
	return count, err
}

// Snapshot is a read-only, already verified copy of a log.
type Snapshot []*Entry

// Entries returns the snapshot's entries.
func (s Snapshot) Entries() ([]*Entry, error) {
	return s, nil
}

// ReadSnapshot loads every entry of a log and checks its hash chain.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	var (
		c    chain
		snap Snapshot
	)
	err := scanLines(r, func(lineNo int, line []byte) error {
		entry := new(Entry)
		if err := json.Unmarshal(line, entry); err != nil {
			return &ChainError{Line: lineNo, Reason: "malformed entry: " + err.Error()}
		}
		if err := checkLink(c, entry, lineNo); err != nil {
			return err
		}
		c.commit(entry, line)
		snap = append(snap, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
