package seal

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// TimestampLayout is the fixed issued_at format: ISO-8601, UTC, milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in TimestampLayout, truncating below milliseconds.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(TimestampLayout)
}

// ParseTimestamp parses a value produced by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid issued_at %q: %w", s, err)
	}
	return t, nil
}

// Canonicalize returns the bytes signed for a seal:
//
//	{"data_hash":"<hash>","issued_at":"<TimestampLayout>"}
//
// Field order is fixed, there is no insignificant whitespace, and strings are
// escaped the way ECMAScript JSON.stringify escapes them, so any verifier can
// rebuild the same bytes from the returned seal.
func Canonicalize(dataHash string, issuedAt time.Time) []byte {
	buf := make([]byte, 0, len(dataHash)+64)
	buf = append(buf, `{"data_hash":`...)
	buf = appendJSONString(buf, dataHash)
	buf = append(buf, `,"issued_at":`...)
	buf = appendJSONString(buf, FormatTimestamp(issuedAt))
	buf = append(buf, '}')
	return buf
}

const hexDigits = "0123456789abcdef"

// appendJSONString appends s as a quoted JSON string. Invalid UTF-8 bytes are
// replaced with U+FFFD.
func appendJSONString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				buf = append(buf, '\\', '"')
			case '\\':
				buf = append(buf, '\\', '\\')
			case '\b':
				buf = append(buf, '\\', 'b')
			case '\f':
				buf = append(buf, '\\', 'f')
			case '\n':
				buf = append(buf, '\\', 'n')
			case '\r':
				buf = append(buf, '\\', 'r')
			case '\t':
				buf = append(buf, '\\', 't')
			default:
				if c < 0x20 {
					buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
				} else {
					buf = append(buf, c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf = utf8.AppendRune(buf, utf8.RuneError)
		} else {
			buf = append(buf, s[i:i+size]...)
		}
		i += size
	}
	return append(buf, '"')
}
