package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/onnwee/timeauthority/internal/seal"
	"github.com/onnwee/timeauthority/internal/tracing"
)

// maxLineSize bounds a single encoded entry when reading the log back.
const maxLineSize = 1 << 20

// FileLog is a Repository backed by a JSON-lines file.
//
// A single mutex serializes appends, and each entry is written with one
// Write call on a file opened with O_APPEND, so concurrent appends never
// interleave and the file order is the issuance order.
type FileLog struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	size  int64
	chain chain
	sync   bool
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a FileLog.
type Option func(*FileLog)

// WithSync makes every append fsync before returning.
func WithSync(enabled bool) Option {
	return func(l *FileLog) {
		l.sync = enabled
	}
}

// WithClock overrides the clock used for RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(l *FileLog) {
		l.now = now
	}
}

// WithLogger sets the logger used for recovery warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *FileLog) {
		l.logger = logger
	}
}

// Open opens (creating if needed) the log at path and recovers the chain tail
// from its existing entries. A final record left partial by a crash is cut
// off with a warning. Any other content that does not verify fails Open.
func Open(path string, opts ...Option) (*FileLog, error) {
	l := &FileLog{path: path, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}

	rec, err := recoverChain(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("recover audit log %s: %w", path, err)
	}
	if rec.torn > 0 {
		if err := f.Truncate(rec.size); err != nil {
			f.Close()
			return nil, fmt.Errorf("drop partial entry in audit log %s: %w", path, err)
		}
		l.logger.Warn("dropped partial final entry from audit log",
			"path", path,
			"line", rec.tornLine,
			"bytes", rec.torn,
			"entries", rec.chain.seq,
		)
	}

	size, err := terminateLastLine(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("prepare audit log %s: %w", path, err)
	}

	l.file = f
	l.size = size
	l.chain = rec.chain
	return l, nil
}

// terminateLastLine makes sure the file ends with a newline so the next
// entry starts on its own line, and returns the resulting size.
func terminateLastLine(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return 0, err
	}
	if last[0] == '\n' {
		return size, nil
	}
	n, err := f.Write([]byte{'\n'})
	return size + int64(n), err
}

// recovery is the state of an existing log after scanning it.
type recovery struct {
	chain    chain
	size     int64 // bytes up to the end of the last verified entry
	torn     int   // length of an unparseable unterminated final record
	tornLine int
}

// recoverChain scans the existing entries and returns the chain tail. An
// unterminated final line that does not parse is an append cut short and is
// reported in torn instead of failing.
func recoverChain(r io.Reader) (recovery, error) {
	var rec recovery
	br := bufio.NewReaderSize(r, 64*1024)
	for lineNo := 1; ; lineNo++ {
		line, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return rec, readErr
		}
		if len(line) > maxLineSize {
			return rec, &ChainError{Line: lineNo, Reason: "entry too long"}
		}

		terminated := bytes.HasSuffix(line, []byte{'\n'})
		body := bytes.TrimSuffix(line, []byte{'\n'})
		if len(body) > 0 {
			var entry Entry
			if err := json.Unmarshal(body, &entry); err != nil {
				if !terminated {
					rec.torn = len(line)
					rec.tornLine = lineNo
					return rec, nil
				}
				return rec, &ChainError{Line: lineNo, Reason: "malformed entry: " + err.Error()}
			}
			if err := checkLink(rec.chain, &entry, lineNo); err != nil {
				return rec, err
			}
			rec.chain.commit(&entry, body)
		}
		rec.size += int64(len(line))

		if readErr != nil {
			return rec, nil
		}
	}
}

// Path returns the file path of the log.
func (l *FileLog) Path() string {
	return l.path
}

// Append writes s as the next entry.
func (l *FileLog) Append(ctx context.Context, s *seal.Seal) (err error) {
	if s == nil {
		return &WriteError{Err: ErrNilSeal}
	}

	_, endSpan := tracing.StartStorageSpan(ctx, "audit_log", tracing.StorageOperationAppend)
	defer func() { endSpan(err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return &WriteError{SealID: s.SealID, Err: ErrClosed}
	}

	entry, line, err := l.chain.next(s, l.now())
	if err != nil {
		return &WriteError{SealID: s.SealID, Err: err}
	}

	record := make([]byte, 0, len(line)+1)
	record = append(record, line...)
	record = append(record, '\n')

	n, err := l.file.Write(record)
	if err != nil {
		// Drop a partial record so the next append starts on a clean line.
		if n > 0 {
			if truncErr := l.file.Truncate(l.size); truncErr != nil {
				err = errors.Join(err, fmt.Errorf("truncate partial entry: %w", truncErr))
			}
		}
		return &WriteError{SealID: s.SealID, Err: err}
	}
	if l.sync {
		if err := l.file.Sync(); err != nil {
			// The bytes are in the file; keep the chain consistent with it.
			l.size += int64(n)
			l.chain.commit(entry, line)
			return &WriteError{SealID: s.SealID, Err: fmt.Errorf("sync: %w", err)}
		}
	}

	l.size += int64(n)
	l.chain.commit(entry, line)
	return nil
}

// Find scans the log for sealID.
func (l *FileLog) Find(sealID string) (*Entry, error) {
	var found *Entry
	err := l.scan(func(entry *Entry) bool {
		if entry.Seal != nil && entry.Seal.SealID == sealID {
			found = entry
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Entries reads all entries in order.
func (l *FileLog) Entries() ([]*Entry, error) {
	var entries []*Entry
	err := l.scan(func(entry *Entry) bool {
		entries = append(entries, entry)
		return true
	})
	return entries, err
}

// Stats returns counters over the whole log.
func (l *FileLog) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain.stats
}

// HealthCheck reports whether the log is open for appends.
func (l *FileLog) HealthCheck(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ErrClosed
	}
	_, err := l.file.Stat()
	return err
}

// Close closes the underlying file. Later appends fail with ErrClosed.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// scan reads the entries committed at call time. Appends may continue
// concurrently; bytes past the snapshot are ignored.
func (l *FileLog) scan(fn func(*Entry) bool) error {
	l.mu.Lock()
	size := l.size
	l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", l.path, err)
	}
	defer f.Close()

	stop := errors.New("stop")
	err = scanLines(io.LimitReader(f, size), func(lineNo int, line []byte) error {
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return &ChainError{Line: lineNo, Reason: "malformed entry: " + err.Error()}
		}
		if !fn(&entry) {
			return stop
		}
		return nil
	})
	if errors.Is(err, stop) {
		return nil
	}
	return err
}

// scanLines calls fn for each non-empty line of r, numbering lines from 1.
func scanLines(r io.Reader, fn func(lineNo int, line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
