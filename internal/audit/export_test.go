package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/timeauthority/internal/seal"
)

func sealAt(id string, issuedAt time.Time) *seal.Seal {
	s := testSeal(id)
	s.IssuedAt = seal.FormatTimestamp(issuedAt)
	return s
}

func seededLog(t *testing.T) (*MemoryLog, time.Time) {
	t.Helper()
	base := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	repo := NewMemoryLog()
	seals := []*seal.Seal{
		sealAt("demo_1", base),
		sealAt("seal_2", base.Add(time.Minute)),
		sealAt("demo_3", base.Add(2*time.Minute)),
		sealAt("seal_4", base.Add(3*time.Minute)),
	}
	for _, s := range seals {
		if err := repo.Append(context.Background(), s); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	return repo, base
}

func TestExport_CSV(t *testing.T) {
	repo, _ := seededLog(t)

	data, err := Export(repo, ExportOptions{Format: ExportFormatCSV})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("Expected 5 CSV rows (header + 4 data), got %d", len(records))
	}

	expectedHeader := []string{"Seq", "Seal ID", "Kind", "Issued At (UTC)", "Data Hash", "Signer Public Key", "Signature", "Recorded At (UTC)", "Previous Hash"}
	for i, col := range expectedHeader {
		if records[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], col)
		}
	}

	if records[1][0] != "1" || records[1][1] != "demo_1" || records[1][2] != "demo" {
		t.Errorf("first row = %v, want seq 1 demo_1 demo", records[1])
	}
	if records[2][2] != "paid" {
		t.Errorf("second row kind = %q, want paid", records[2][2])
	}
	if records[1][8] != "" || records[2][8] == "" {
		t.Errorf("prev hash column: first %q (want empty), second %q (want set)", records[1][8], records[2][8])
	}
}

func TestExport_JSON_ByKind(t *testing.T) {
	repo, _ := seededLog(t)

	data, err := Export(repo, ExportOptions{Format: ExportFormatJSON, Kind: seal.KindPaid})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 paid entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Seal.Kind() != seal.KindPaid {
			t.Errorf("entry %s kind = %s, want paid", e.Seal.SealID, e.Seal.Kind())
		}
	}
}

func TestExport_TimeRangeFilter(t *testing.T) {
	repo, base := seededLog(t)

	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want []string
	}{
		{"from only", base.Add(2 * time.Minute), time.Time{}, []string{"demo_3", "seal_4"}},
		{"to only", time.Time{}, base.Add(time.Minute), []string{"demo_1", "seal_2"}},
		{"inclusive window", base.Add(time.Minute), base.Add(2 * time.Minute), []string{"seal_2", "demo_3"}},
		{"empty window", base.Add(time.Hour), base.Add(2 * time.Hour), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Export(repo, ExportOptions{Format: ExportFormatJSON, From: tt.from, To: tt.to})
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			var entries []Entry
			if err := json.Unmarshal(data, &entries); err != nil {
				t.Fatalf("Failed to parse JSON: %v", err)
			}
			if len(entries) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(entries), len(tt.want))
			}
			for i, id := range tt.want {
				if entries[i].Seal.SealID != id {
					t.Errorf("entry %d = %s, want %s", i, entries[i].Seal.SealID, id)
				}
			}
		})
	}
}

func TestExport_InvalidFormat(t *testing.T) {
	repo := NewMemoryLog()
	if _, err := Export(repo, ExportOptions{Format: "xml"}); err == nil {
		t.Error("Export() with invalid format should return error")
	}
}

func TestExport_EmptyResults(t *testing.T) {
	data, err := Export(NewMemoryLog(), ExportOptions{Format: ExportFormatJSON})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("Export() = %s, want []", data)
	}
}

func TestExport_WithLimit(t *testing.T) {
	repo, _ := seededLog(t)

	data, err := Export(repo, ExportOptions{Format: ExportFormatJSON, Kind: seal.KindDemo, Limit: 1})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if len(entries) != 1 || entries[0].Seal.SealID != "demo_1" {
		t.Errorf("Export() = %+v, want only demo_1", entries)
	}
}

func TestExportToCSV_SpecialCharacters(t *testing.T) {
	repo := NewMemoryLog()
	s := testSeal("demo_quote")
	s.Payload.DataHash = `sha256:"quoted", with commas` + "\nand a newline"
	if err := repo.Append(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	data, err := Export(repo, ExportOptions{Format: ExportFormatCSV})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV with special characters: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 CSV rows, got %d", len(records))
	}
	if records[1][4] != s.Payload.DataHash {
		t.Errorf("data hash = %q, want %q", records[1][4], s.Payload.DataHash)
	}
}
