package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/timeauthority/internal/archive"
	"github.com/onnwee/timeauthority/internal/audit"
	"github.com/onnwee/timeauthority/internal/config"
	"github.com/onnwee/timeauthority/internal/seal"
)

var (
	auditSignatures bool

	exportFormat string
	exportFrom   string
	exportTo     string
	exportKind   string
	exportLimit  int
	exportOutput string

	archivePrefix string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the issued seals audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <log-file>",
	Short: "Verify the hash chain of an audit log",
	Long: `Verify the integrity of an audit log file.

Checks:
  - Sequence: entries are numbered 1, 2, 3... with no gaps
  - Hash chain: every entry links to the hash of the previous line
  - Signatures (--signatures): every seal verifies against its own key

Example:
  sealctl audit verify issued_seals.log --signatures`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditVerify,
}

var auditExportCmd = &cobra.Command{
	Use:   "export <log-file>",
	Short: "Export audit log entries as CSV or JSON",
	Long: `Export the entries of a verified audit log.

--from and --to bound issued_at (RFC 3339, inclusive). --kind selects demo
or paid seals. --limit applies after filtering.

Example:
  sealctl audit export issued_seals.log --format csv --kind paid -o paid.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditExport,
}

var auditArchiveCmd = &cobra.Command{
	Use:   "archive <log-file>",
	Short: "Upload an audit log snapshot to object storage",
	Long: `Verify an audit log and upload it to the configured S3-compatible bucket.

Storage settings are read like the server reads them: ARCHIVE_BUCKET,
ARCHIVE_ACCESS_KEY_ID, ARCHIVE_SECRET_ACCESS_KEY, ARCHIVE_ENDPOINT and
ARCHIVE_REGION, optionally from --config.

Example:
  sealctl audit archive issued_seals.log --prefix nightly`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditArchive,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditExportCmd, auditArchiveCmd)

	auditVerifyCmd.Flags().BoolVar(&auditSignatures, "signatures", false, "also verify every seal signature")

	auditExportCmd.Flags().StringVarP(&exportFormat, "format", "f", string(audit.ExportFormatCSV), "export format: csv or json")
	auditExportCmd.Flags().StringVar(&exportFrom, "from", "", "earliest issued_at to include (RFC 3339)")
	auditExportCmd.Flags().StringVar(&exportTo, "to", "", "latest issued_at to include (RFC 3339)")
	auditExportCmd.Flags().StringVar(&exportKind, "kind", "", "only include demo or paid seals")
	auditExportCmd.Flags().IntVar(&exportLimit, "limit", 0, "maximum number of entries (0 = no limit)")
	auditExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")

	auditArchiveCmd.Flags().StringVar(&archivePrefix, "prefix", "", "object key prefix (default \""+archive.DefaultPrefix+"\")")
}

// chainReport is the result of verifying a log file.
type chainReport struct {
	Path       string `json:"path"`
	Entries    int    `json:"entries"`
	Signatures bool   `json:"signatures_checked"`
	Valid      bool   `json:"valid"`
	BrokenLine int    `json:"broken_line,omitempty"`
	Error      string `json:"error,omitempty"`
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	report := chainReport{Path: path, Signatures: auditSignatures}
	report.Entries, err = audit.VerifyChain(f, audit.VerifyOptions{Signatures: auditSignatures})
	if err != nil {
		var chainErr *audit.ChainError
		if !errors.As(err, &chainErr) {
			return fmt.Errorf("reading audit log: %w", err)
		}
		report.BrokenLine = chainErr.Line
		report.Error = chainErr.Reason
	} else {
		report.Valid = true
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Auditing log: %s\n", path)
		if report.Valid {
			fmt.Fprintf(out, "  [ok] Hash chain: %d entries, no gaps, all links valid\n", report.Entries)
			if report.Signatures {
				fmt.Fprintf(out, "  [ok] Signatures: %d seals verified\n", report.Entries)
			}
			fmt.Fprintln(out, "VERDICT: [ok] INTACT")
		} else {
			fmt.Fprintf(out, "  [FAIL] line %d: %s\n", report.BrokenLine, report.Error)
			fmt.Fprintf(out, "  %d entries verified before the break\n", report.Entries)
			fmt.Fprintln(out, "VERDICT: [FAIL] TAMPERED")
		}
	}

	if !report.Valid {
		// Return error so Cobra exits with code 1
		return fmt.Errorf("tampering detected at line %d", report.BrokenLine)
	}
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	opts, err := exportOptions()
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	snap, err := audit.ReadSnapshot(f)
	if err != nil {
		return fmt.Errorf("reading audit log: %w", err)
	}

	data, err := audit.Export(snap, opts)
	if err != nil {
		return err
	}

	if exportOutput != "" {
		if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported to: %s\n", exportOutput)
		return nil
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// exportOptions builds audit.ExportOptions from the export flags.
func exportOptions() (audit.ExportOptions, error) {
	opts := audit.ExportOptions{
		Format: audit.ExportFormat(strings.ToLower(exportFormat)),
		Limit:  exportLimit,
	}
	if opts.Format != audit.ExportFormatCSV && opts.Format != audit.ExportFormatJSON {
		return opts, fmt.Errorf("unsupported export format %q: use csv or json", exportFormat)
	}
	if exportLimit < 0 {
		return opts, errors.New("--limit must not be negative")
	}

	switch seal.Kind(exportKind) {
	case "", seal.KindDemo, seal.KindPaid:
		opts.Kind = seal.Kind(exportKind)
	default:
		return opts, fmt.Errorf("unsupported kind %q: use demo or paid", exportKind)
	}

	var err error
	if opts.From, err = parseBound("--from", exportFrom); err != nil {
		return opts, err
	}
	if opts.To, err = parseBound("--to", exportTo); err != nil {
		return opts, err
	}
	if !opts.From.IsZero() && !opts.To.IsZero() && opts.To.Before(opts.From) {
		return opts, errors.New("--to must not be before --from")
	}
	return opts, nil
}

func parseBound(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 time: %w", flag, err)
	}
	return t, nil
}

// fileArchiver uploads a log file snapshot.
type fileArchiver interface {
	ArchiveFile(ctx context.Context, path string) (*archive.Result, error)
	Bucket() string
}

// newArchiver builds the archiver from configuration. Tests replace it.
var newArchiver = func(cfg *config.Config, prefix string) (fileArchiver, error) {
	return archive.NewService(archive.Config{
		Bucket:          cfg.ArchiveBucket,
		AccessKeyID:     cfg.ArchiveAccessKeyID,
		SecretAccessKey: cfg.ArchiveSecretAccessKey,
		Endpoint:        cfg.ArchiveEndpoint,
		Region:          cfg.ArchiveRegion,
		Prefix:          prefix,
	})
}

func runAuditArchive(cmd *cobra.Command, args []string) error {
	cfg, errs := config.Load(configPath)
	if len(errs) > 0 {
		return fmt.Errorf("loading config: %w", errors.Join(errs...))
	}
	if !cfg.ArchiveEnabled() {
		return errors.New("archive is not configured: set ARCHIVE_BUCKET and its credentials")
	}

	archiver, err := newArchiver(cfg, archivePrefix)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	result, err := archiver.ArchiveFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSON(out, result)
	}
	fmt.Fprintf(out, "Archived %d entries (%d bytes)\n", result.Entries, result.Bytes)
	fmt.Fprintf(out, "  bucket: %s\n", archiver.Bucket())
	fmt.Fprintf(out, "  key:    %s\n", result.Key)
	fmt.Fprintf(out, "  sha256: %s\n", result.SHA256)
	return nil
}
