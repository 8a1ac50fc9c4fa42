package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/onnwee/timeauthority/internal/seal"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports entries as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports entries as a JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ExportOptions configures an export.
type ExportOptions struct {
	Format ExportFormat // csv or json
	From   time.Time    // Start of issued_at range (inclusive, optional)
	To     time.Time    // End of issued_at range (inclusive, optional)
	Kind   seal.Kind    // Only demo or paid seals (optional)
	Limit  int          // Maximum number of entries (0 = no limit)
}

// Lister returns log entries in issuance order. Every Repository is a Lister.
type Lister interface {
	Entries() ([]*Entry, error)
}

// Export renders the entries of repo matching opts.
func Export(repo Lister, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}

	entries, err := repo.Entries()
	if err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}

	entries = filterEntries(entries, opts)

	// Limit applies after filtering so the caller gets up to Limit matches.
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	switch opts.Format {
	case ExportFormatCSV:
		return exportToCSV(entries)
	default:
		return exportToJSON(entries)
	}
}

// filterEntries keeps entries within the issued_at range and of the requested kind.
func filterEntries(entries []*Entry, opts ExportOptions) []*Entry {
	var filtered []*Entry
	for _, entry := range entries {
		if opts.Kind != "" && entry.Seal.Kind() != opts.Kind {
			continue
		}
		if !opts.From.IsZero() || !opts.To.IsZero() {
			issuedAt, err := seal.ParseTimestamp(entry.Seal.IssuedAt)
			if err != nil {
				continue
			}
			if !opts.From.IsZero() && issuedAt.Before(opts.From) {
				continue
			}
			if !opts.To.IsZero() && issuedAt.After(opts.To) {
				continue
			}
		}
		filtered = append(filtered, entry)
	}
	return filtered
}

// exportToCSV exports entries to CSV.
func exportToCSV(entries []*Entry) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"Seq",
		"Seal ID",
		"Kind",
		"Issued At (UTC)",
		"Data Hash",
		"Signer Public Key",
		"Signature",
		"Recorded At (UTC)",
		"Previous Hash",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		row := []string{
			strconv.FormatUint(entry.Seq, 10),
			entry.Seal.SealID,
			string(entry.Seal.Kind()),
			entry.Seal.IssuedAt,
			entry.Seal.Payload.DataHash,
			entry.Seal.SignerPubKey,
			entry.Seal.Signature,
			entry.RecordedAt.Format(time.RFC3339Nano),
			entry.PrevHash,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// exportToJSON exports entries to an indented JSON array.
func exportToJSON(entries []*Entry) ([]byte, error) {
	if entries == nil {
		entries = []*Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
