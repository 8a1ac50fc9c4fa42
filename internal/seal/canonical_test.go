package seal

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCanonicalize_FixedLayout(t *testing.T) {
	issuedAt := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)

	got := string(Canonicalize("sha256:abc123", issuedAt))
	want := `{"data_hash":"sha256:abc123","issued_at":"2026-03-14T15:09:26.535Z"}`
	if got != want {
		t.Errorf("Canonicalize() = %s, want %s", got, want)
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	issuedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := Canonicalize("sha256:deadbeef", issuedAt)
	for i := 0; i < 100; i++ {
		if got := Canonicalize("sha256:deadbeef", issuedAt); string(got) != string(first) {
			t.Fatalf("iteration %d: Canonicalize() = %s, want %s", i, got, first)
		}
	}
}

func TestCanonicalize_NormalizesZone(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	local := time.Date(2026, 5, 1, 12, 0, 0, 0, loc)
	utc := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	if string(Canonicalize("h", local)) != string(Canonicalize("h", utc)) {
		t.Error("same instant in different zones should canonicalize identically")
	}
}

func TestCanonicalize_Escaping(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		dataHash string
		want     string
	}{
		{name: "quote and backslash", dataHash: `a"b\c`, want: `"a\"b\\c"`},
		{name: "short escapes", dataHash: "\b\f\n\r\t", want: `"\b\f\n\r\t"`},
		{name: "other control", dataHash: "\x01\x1f", want: `"\u0001\u001f"`},
		{name: "html not escaped", dataHash: "<a&b>", want: `"<a&b>"`},
		{name: "unicode kept", dataHash: "häsh ", want: "\"häsh \""},
		{name: "invalid utf8 replaced", dataHash: "a\xffb", want: "\"a�b\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(Canonicalize(tt.dataHash, issuedAt))
			want := `{"data_hash":` + tt.want + `,"issued_at":"2026-01-01T00:00:00.000Z"}`
			if got != want {
				t.Errorf("Canonicalize() = %s, want %s", got, want)
			}
		})
	}
}

func TestCanonicalize_ValidJSON(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inputs := []string{"sha256:demo", `"quoted"`, "tab\there", "\x00", "emoji 🕰"}

	for _, in := range inputs {
		var decoded struct {
			DataHash string `json:"data_hash"`
			IssuedAt string `json:"issued_at"`
		}
		if err := json.Unmarshal(Canonicalize(in, issuedAt), &decoded); err != nil {
			t.Fatalf("Canonicalize(%q) is not valid JSON: %v", in, err)
		}
		if decoded.DataHash != in {
			t.Errorf("round trip data_hash = %q, want %q", decoded.DataHash, in)
		}
	}
}

func TestFormatTimestamp_ParseRoundTrip(t *testing.T) {
	now := time.Now()
	formatted := FormatTimestamp(now)

	parsed, err := ParseTimestamp(formatted)
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	if !parsed.Equal(now.UTC().Truncate(time.Millisecond)) {
		t.Errorf("parsed = %v, want %v", parsed, now.UTC().Truncate(time.Millisecond))
	}

	// issued_at must be readable by a standard RFC 3339 parser.
	if _, err := time.Parse(time.RFC3339Nano, formatted); err != nil {
		t.Errorf("FormatTimestamp() = %q is not RFC 3339: %v", formatted, err)
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	for _, in := range []string{"", "2026-01-01", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00.000+02:00"} {
		if _, err := ParseTimestamp(in); err == nil {
			t.Errorf("ParseTimestamp(%q) expected error", in)
		}
	}
}
