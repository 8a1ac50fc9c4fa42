// Package archive copies audit log snapshots to S3-compatible object storage (R2).
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/onnwee/timeauthority/internal/audit"
	"github.com/onnwee/timeauthority/internal/tracing"
)

// ContentType of uploaded snapshots: one JSON entry per line.
const ContentType = "application/x-ndjson"

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "audit"

// Validation errors
var (
	ErrMissingBucket    = errors.New("bucket name is required")
	ErrMissingAccessKey = errors.New("access key ID is required")
	ErrMissingSecret    = errors.New("secret access key is required")
	ErrEmptySnapshot    = errors.New("audit log snapshot is empty")
)

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds configuration for the archive service.
type Config struct {
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint is the S3-compatible base URL. Empty uses AWS S3.
	Endpoint string
	// Region defaults to "auto", which R2 expects.
	Region string
	// Prefix defaults to DefaultPrefix.
	Prefix string
}

// Result describes an uploaded snapshot.
type Result struct {
	Key     string `json:"key"`
	Entries int    `json:"entries"`
	Bytes   int    `json:"bytes"`
	SHA256  string `json:"sha256"`
}

// Service uploads audit log snapshots.
type Service struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	timeNow func() time.Time // For testability
}

// NewService creates an archive service with an S3 client built from cfg.
func NewService(cfg Config) (*Service, error) {
	if cfg.Bucket == "" {
		return nil, ErrMissingBucket
	}
	if cfg.AccessKeyID == "" {
		return nil, ErrMissingAccessKey
	}
	if cfg.SecretAccessKey == "" {
		return nil, ErrMissingSecret
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true // R2 requires path-style addressing
	}

	return NewServiceWithClient(s3.New(opts), cfg.Bucket, cfg.Prefix), nil
}

// NewServiceWithClient creates an archive service around an existing client.
func NewServiceWithClient(client ObjectPutter, bucket, prefix string) *Service {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Service{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		timeNow: time.Now,
	}
}

// ObjectKey returns the key for a snapshot taken at t.
// Pattern: {prefix}/YYYY/MM/DD/issued_seals-YYYYMMDDTHHMMSSZ-{random}.log
func ObjectKey(prefix string, t time.Time) string {
	t = t.UTC()
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s/%s/issued_seals-%s-%s.log",
		prefix, t.Format("2006/01/02"), t.Format("20060102T150405Z"), suffix)
}

// ArchiveFile uploads a consistent snapshot of the audit log at path.
// The file may still be appended to while it is read.
func (s *Service) ArchiveFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return s.ArchiveBytes(ctx, data)
}

// ArchiveBytes uploads a snapshot given as raw log bytes. A trailing partial
// line, left by an append in progress, is excluded. The snapshot's hash chain
// is verified before upload.
func (s *Service) ArchiveBytes(ctx context.Context, data []byte) (_ *Result, err error) {
	ctx, endSpan := tracing.StartStorageSpan(ctx, "archive", tracing.StorageOperationUpload)
	defer func() { endSpan(err) }()

	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	} else {
		data = nil
	}
	if len(data) == 0 {
		return nil, ErrEmptySnapshot
	}

	entries, err := audit.VerifyChain(bytes.NewReader(data), audit.VerifyOptions{})
	if err != nil {
		return nil, fmt.Errorf("verify snapshot: %w", err)
	}

	sum := sha256.Sum256(data)
	result := &Result{
		Key:     ObjectKey(s.prefix, s.timeNow()),
		Entries: entries,
		Bytes:   len(data),
		SHA256:  hex.EncodeToString(sum[:]),
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(result.Key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(ContentType),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"entries": strconv.Itoa(entries),
			"sha256":  result.SHA256,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return result, nil
}

// Bucket returns the bucket name used by the service.
func (s *Service) Bucket() string {
	return s.bucket
}
