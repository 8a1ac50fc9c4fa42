package audit

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/timeauthority/internal/keys"
	"github.com/onnwee/timeauthority/internal/seal"
)

func testSeal(id string) *seal.Seal {
	return &seal.Seal{
		SealID:       id,
		IssuedAt:     seal.FormatTimestamp(time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)),
		Payload:      seal.Payload{DataHash: "sha256:" + id},
		SignerPubKey: "pk",
		Signature:    "sig",
	}
}

func openTestLog(t *testing.T, opts ...Option) (*FileLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "issued_seals.log")
	l, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestFileLog_AppendOneLinePerSeal(t *testing.T) {
	l, path := openTestLog(t)
	ctx := context.Background()

	for _, id := range []string{"demo_a", "seal_b", "demo_c"} {
		if err := l.Append(ctx, testSeal(id)); err != nil {
			t.Fatalf("Append(%s) error = %v", id, err)
		}
	}

	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}

	var prev string
	for i, line := range lines {
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line %d not parseable: %v", i+1, err)
		}
		if entry.Seq != uint64(i+1) {
			t.Errorf("line %d: seq = %d, want %d", i+1, entry.Seq, i+1)
		}
		if entry.PrevHash != prev {
			t.Errorf("line %d: prev_hash = %q, want %q", i+1, entry.PrevHash, prev)
		}
		prev = hashLine([]byte(line))
	}

	stats := l.Stats()
	if stats.Total != 3 || stats.Demo != 2 || stats.Paid != 1 {
		t.Errorf("Stats() = %+v, want total 3, demo 2, paid 1", stats)
	}
}

func TestFileLog_DuplicateAppendsAreKept(t *testing.T) {
	l, path := openTestLog(t)
	s := testSeal("demo_dup")

	for i := 0; i < 2; i++ {
		if err := l.Append(context.Background(), s); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(readLines(t, path)); got != 2 {
		t.Errorf("got %d lines, want 2 (no deduplication)", got)
	}
}

func TestFileLog_ConcurrentAppends(t *testing.T) {
	l, path := openTestLog(t)

	const n = 300
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := l.Append(context.Background(), testSeal(fmt.Sprintf("demo_%04d", i))); err != nil {
				t.Errorf("Append() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	count, err := VerifyChain(bytes.NewReader(data), VerifyOptions{})
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if count != n {
		t.Fatalf("VerifyChain() count = %d, want %d", count, n)
	}

	seen := make(map[string]int)
	entries, err := l.Entries()
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		seen[e.Seal.SealID]++
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("demo_%04d", i)
		if seen[id] != 1 {
			t.Errorf("%s present %d times, want 1", id, seen[id])
		}
	}
}

func TestFileLog_ReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issued_seals.log")

	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Append(context.Background(), testSeal("demo_1"))
	_ = l.Append(context.Background(), testSeal("seal_2"))
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer l.Close()

	if stats := l.Stats(); stats.Total != 2 {
		t.Errorf("recovered Total = %d, want 2", stats.Total)
	}
	if err := l.Append(context.Background(), testSeal("demo_3")); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	count, err := VerifyChain(bytes.NewReader(data), VerifyOptions{})
	if err != nil || count != 3 {
		t.Errorf("VerifyChain() = %d, %v; want 3, nil", count, err)
	}
}

func TestFileLog_ReopenWithoutTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issued_seals.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Append(context.Background(), testSeal("demo_1"))
	l.Close()

	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, bytes.TrimSuffix(data, []byte("\n")), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer l.Close()
	if err := l.Append(context.Background(), testSeal("demo_2")); err != nil {
		t.Fatal(err)
	}
	if got := len(readLines(t, path)); got != 2 {
		t.Errorf("got %d lines, want 2", got)
	}
}

func TestOpen_RejectsTamperedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issued_seals.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"demo_1", "demo_2", "demo_3"} {
		_ = l.Append(context.Background(), testSeal(id))
	}
	l.Close()

	data, _ := os.ReadFile(path)
	tampered := bytes.Replace(data, []byte("sha256:demo_1"), []byte("sha256:forged"), 1)
	if err := os.WriteFile(path, tampered, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Open(path)
	if !errors.Is(err, ErrChainBroken) {
		t.Errorf("Open() error = %v, want ErrChainBroken", err)
	}
}

// writeTwoEntries creates a log holding demo_1 and demo_2 and returns its path.
func writeTwoEntries(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "issued_seals.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"demo_1", "demo_2"} {
		if err := l.Append(context.Background(), testSeal(id)); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()
	return path
}

func appendRaw(t *testing.T, path, raw string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(raw); err != nil {
		t.Fatal(err)
	}
}

func TestOpen_DropsTornFinalEntry(t *testing.T) {
	path := writeTwoEntries(t)
	intact, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	appendRaw(t, path, `{"seq":3,"prev_hash":"ab`)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	l, err := Open(path, WithLogger(logger))
	if err != nil {
		t.Fatalf("Open() error = %v, want recovery from partial entry", err)
	}
	defer l.Close()

	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, intact) {
		t.Errorf("partial entry not removed:\n%s", data)
	}
	if got := l.Stats().Total; got != 2 {
		t.Errorf("Stats().Total = %d, want 2", got)
	}
	if !strings.Contains(logs.String(), `"level":"WARN"`) || !strings.Contains(logs.String(), "dropped partial final entry") {
		t.Errorf("expected a warning about the dropped entry, got %q", logs.String())
	}

	if err := l.Append(context.Background(), testSeal("demo_3")); err != nil {
		t.Fatalf("Append() after recovery error = %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	n, err := VerifyChain(f, VerifyOptions{})
	if err != nil || n != 3 {
		t.Errorf("VerifyChain() = %d, %v; want 3, nil", n, err)
	}
}

func TestOpen_RejectsCorruptionBeforeTail(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"terminated garbage line", "{\"seq\":3,\"prev_hash\":\"ab\n"},
		{"garbage followed by entry", "not json\n{\"seq\":4}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTwoEntries(t)
			appendRaw(t, path, tt.raw)

			_, err := Open(path, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
			if !errors.Is(err, ErrChainBroken) {
				t.Errorf("Open() error = %v, want ErrChainBroken", err)
			}
		})
	}
}

func TestFileLog_Find(t *testing.T) {
	l, _ := openTestLog(t)
	for _, id := range []string{"demo_a", "seal_b"} {
		_ = l.Append(context.Background(), testSeal(id))
	}

	entry, err := l.Find("seal_b")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if entry.Seq != 2 || entry.Seal.Payload.DataHash != "sha256:seal_b" {
		t.Errorf("Find() = %+v, want seq 2 for seal_b", entry)
	}

	if _, err := l.Find("seal_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFileLog_AppendAfterClose(t *testing.T) {
	l, _ := openTestLog(t)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	err := l.Append(context.Background(), testSeal("demo_late"))
	if !errors.Is(err, ErrAuditWrite) || !errors.Is(err, ErrClosed) {
		t.Errorf("Append() error = %v, want ErrAuditWrite and ErrClosed", err)
	}
	var writeErr *WriteError
	if !errors.As(err, &writeErr) || writeErr.SealID != "demo_late" {
		t.Errorf("expected *WriteError for demo_late, got %v", err)
	}
	if err := l.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() error = %v, want ErrClosed", err)
	}
}

func TestFileLog_AppendNil(t *testing.T) {
	l, _ := openTestLog(t)
	if err := l.Append(context.Background(), nil); !errors.Is(err, ErrNilSeal) {
		t.Errorf("Append(nil) error = %v, want ErrNilSeal", err)
	}
}

func TestFileLog_WithSyncAndClock(t *testing.T) {
	recorded := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	l, _ := openTestLog(t, WithSync(true), WithClock(func() time.Time { return recorded }))

	if err := l.Append(context.Background(), testSeal("demo_sync")); err != nil {
		t.Fatal(err)
	}
	entry, err := l.Find("demo_sync")
	if err != nil {
		t.Fatal(err)
	}
	if !entry.RecordedAt.Equal(recorded) {
		t.Errorf("RecordedAt = %v, want %v", entry.RecordedAt, recorded)
	}
}

func TestFileLog_OpenUnwritablePath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing-dir", "issued_seals.log"))
	if err == nil {
		t.Error("Open() expected error for missing directory")
	}
}

func TestVerifyChain_Signatures(t *testing.T) {
	mem := NewMemoryLog()
	engine, err := seal.NewEngine(seal.Config{
		Keys:     keys.NewEphemeralProvider(rand.Reader),
		Recorder: mem,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := engine.Issue(context.Background(), seal.Request{Demo: true}); err != nil {
			t.Fatal(err)
		}
	}

	log := bytes.Join(mem.Lines(), []byte("\n"))
	count, err := VerifyChain(bytes.NewReader(log), VerifyOptions{Signatures: true})
	if err != nil || count != 5 {
		t.Fatalf("VerifyChain() = %d, %v; want 5, nil", count, err)
	}

	// A correctly chained entry whose signature does not verify.
	forgedSeal := testSeal("demo_forged")
	forged := NewMemoryLog()
	_ = forged.Append(context.Background(), forgedSeal)
	_, err = VerifyChain(bytes.NewReader(bytes.Join(forged.Lines(), []byte("\n"))), VerifyOptions{Signatures: true})
	if !errors.Is(err, ErrChainBroken) {
		t.Errorf("VerifyChain() error = %v, want ErrChainBroken for bad signature", err)
	}
}

func TestVerifyChain_DetectsReordering(t *testing.T) {
	mem := NewMemoryLog()
	for _, id := range []string{"demo_1", "demo_2", "demo_3"} {
		_ = mem.Append(context.Background(), testSeal(id))
	}
	lines := mem.Lines()
	lines[1], lines[2] = lines[2], lines[1]

	count, err := VerifyChain(bytes.NewReader(bytes.Join(lines, []byte("\n"))), VerifyOptions{})
	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("VerifyChain() error = %v, want *ChainError", err)
	}
	if chainErr.Line != 2 || count != 1 {
		t.Errorf("broken at line %d after %d entries, want line 2 after 1", chainErr.Line, count)
	}
}

func TestReadSnapshot(t *testing.T) {
	mem := NewMemoryLog()
	for _, id := range []string{"demo_1", "seal_2", "demo_3"} {
		_ = mem.Append(context.Background(), testSeal(id))
	}
	data := bytes.Join(mem.Lines(), []byte("\n"))

	snap, err := ReadSnapshot(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	entries, _ := snap.Entries()
	if len(entries) != 3 || entries[1].Seal.SealID != "seal_2" {
		t.Fatalf("unexpected snapshot %+v", entries)
	}

	out, err := Export(snap, ExportOptions{Format: ExportFormatCSV, Kind: seal.KindPaid})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.Contains(string(out), "seal_2") || strings.Contains(string(out), "demo_1") {
		t.Errorf("unexpected export:\n%s", out)
	}

	tampered := bytes.Replace(data, []byte(`"seq":3`), []byte(`"seq":4`), 1)
	if _, err := ReadSnapshot(bytes.NewReader(tampered)); !errors.Is(err, ErrChainBroken) {
		t.Errorf("ReadSnapshot() error = %v, want ErrChainBroken", err)
	}
}
