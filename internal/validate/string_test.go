package validate

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		constraints StringConstraints
		wantErr     error
		wantOutput  string
	}{
		{
			name:        "valid string within length constraints",
			input:       "Hello World",
			constraints: StringConstraints{MinLength: 5, MaxLength: 20, TrimSpace: true},
			wantOutput:  "Hello World",
		},
		{
			name:        "string too short",
			input:       "Hi",
			constraints: StringConstraints{MinLength: 5, MaxLength: 20},
			wantErr:     ErrStringTooShort,
		},
		{
			name:        "string too long",
			input:       strings.Repeat("a", 101),
			constraints: StringConstraints{MinLength: 1, MaxLength: 100},
			wantErr:     ErrStringTooLong,
		},
		{
			name:        "length counts characters not bytes",
			input:       strings.Repeat("é", 10),
			constraints: StringConstraints{MaxLength: 10},
			wantOutput:  strings.Repeat("é", 10),
		},
		{
			name:        "empty string not allowed",
			input:       "",
			constraints: StringConstraints{},
			wantErr:     ErrEmpty,
		},
		{
			name:        "empty string allowed",
			input:       "",
			constraints: StringConstraints{AllowEmpty: true},
			wantOutput:  "",
		},
		{
			name:        "whitespace only is empty after trim",
			input:       "   ",
			constraints: StringConstraints{TrimSpace: true},
			wantErr:     ErrEmpty,
		},
		{
			name:        "whitespace trimmed",
			input:       "  Hello  ",
			constraints: StringConstraints{TrimSpace: true},
			wantOutput:  "Hello",
		},
		{
			name:        "control characters rejected",
			input:       "line\nbreak",
			constraints: StringConstraints{RejectControl: true},
			wantErr:     ErrControlCharacters,
		},
		{
			name:        "control characters allowed by default",
			input:       "tab\there",
			constraints: StringConstraints{},
			wantOutput:  "tab\there",
		},
		{
			name:        "invalid utf-8",
			input:       "bad\xffbyte",
			constraints: StringConstraints{},
			wantErr:     ErrInvalidCharacters,
		},
		{
			name:        "pattern mismatch",
			input:       "abc!",
			constraints: StringConstraints{AllowedPattern: regexp.MustCompile(`^[a-z]+$`)},
			wantErr:     ErrInvalidCharacters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := String(tt.input, tt.constraints)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("String() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("String() unexpected error = %v", err)
			}
			if got != tt.wantOutput {
				t.Errorf("String() = %q, want %q", got, tt.wantOutput)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"sha256 fingerprint", "sha256:9f86d081884c7d659a2feaa0c55ad015", nil},
		{"kept verbatim with spaces", " sha256:abc ", nil},
		{"empty", "", ErrEmpty},
		{"too long", strings.Repeat("a", 65), ErrStringTooLong},
		{"newline", "sha256:abc\n{\"seq\":9}", ErrControlCharacters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Fingerprint(tt.input, 64)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Fingerprint() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got != tt.input {
				t.Errorf("Fingerprint() = %q, want input unchanged", got)
			}
		})
	}
}
