package seal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/timeauthority/internal/keys"
	"github.com/onnwee/timeauthority/internal/tracing"
	"github.com/onnwee/timeauthority/internal/validate"
)

// Issuance errors.
var (
	// ErrValidation is returned when a request is missing or has malformed fields.
	ErrValidation = errors.New("validation failed")
	// ErrIssueDenied is returned when the issue gate rejects a paid request.
	ErrIssueDenied = errors.New("issuance not allowed")
	// ErrMissingDependency is returned by NewEngine for incomplete configuration.
	ErrMissingDependency = errors.New("engine dependency missing")
)

// ValidationError describes a rejected request field. It matches ErrValidation
// under errors.Is and its message is safe to show to callers.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Recorder persists issued seals in issuance order.
type Recorder interface {
	Append(ctx context.Context, s *Seal) error
}

// Config holds the engine's collaborators.
type Config struct {
	Keys     keys.Provider
	Recorder Recorder

	// Optional. Defaults: AllowAll gate, crypto/rand signer, time.Now clock,
	// UUIDv4-based ids, slog.Default logger, no metrics.
	Gate    IssueGate
	Signer  *Signer
	Metrics *Metrics
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func(kind Kind) (string, error)
}

// Engine validates, timestamps, signs and records seals.
type Engine struct {
	keys     keys.Provider
	recorder Recorder
	gate     IssueGate
	signer   *Signer
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func(kind Kind) (string, error)
}

// NewEngine creates an engine. Keys and Recorder are required.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Keys == nil {
		return nil, fmt.Errorf("%w: key provider", ErrMissingDependency)
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("%w: recorder", ErrMissingDependency)
	}

	e := &Engine{
		keys:     cfg.Keys,
		recorder: cfg.Recorder,
		gate:     cfg.Gate,
		signer:   cfg.Signer,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
		newID:    cfg.NewID,
	}
	if e.gate == nil {
		e.gate = AllowAll
	}
	if e.signer == nil {
		e.signer = NewSigner(nil)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = NewID
	}
	return e, nil
}

// SignerMode reports which identity variant seals are signed with.
func (e *Engine) SignerMode() keys.Mode {
	return e.keys.Mode()
}

// Issue produces a seal for req.
//
// Steps: validate, consult the gate (paid only), capture issued_at once,
// canonicalize, resolve the identity, sign, assign an id, append to the
// recorder, return. Nothing is signed or recorded when validation or the gate
// fails. Once a signature exists the seal is always handed to the recorder,
// even if ctx is cancelled; a recorder failure is logged and counted but the
// seal is still returned.
func (e *Engine) Issue(ctx context.Context, req Request) (_ *Seal, err error) {
	kind := req.Kind()
	ctx, endSpan := tracing.StartSpan(ctx, "seal.issue")
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx,
		attribute.String("seal.kind", string(kind)),
		attribute.String("signer.mode", string(e.keys.Mode())),
	)

	dataHash, err := validateDataHash(req.DataHash, req.Demo)
	if err != nil {
		e.metrics.incFailure(kind, ReasonValidation)
		return nil, err
	}

	if !req.Demo {
		allowed, gateErr := e.gate.AllowIssue(ctx, req)
		if gateErr != nil {
			e.metrics.incFailure(kind, ReasonGate)
			return nil, fmt.Errorf("issue gate: %w", gateErr)
		}
		if !allowed {
			e.metrics.incFailure(kind, ReasonDenied)
			return nil, ErrIssueDenied
		}
	}

	// Last point at which a disconnected caller aborts the request.
	if ctxErr := ctx.Err(); ctxErr != nil {
		e.metrics.incFailure(kind, ReasonCancelled)
		return nil, ctxErr
	}

	issuedAt := e.now().UTC().Truncate(time.Millisecond)
	payload := Canonicalize(dataHash, issuedAt)

	signStart := time.Now()
	identity, err := e.keys.Resolve()
	if err != nil {
		e.metrics.incFailure(kind, ReasonKey)
		return nil, err
	}
	signature, err := e.signer.Sign(identity, payload)
	if err != nil {
		e.metrics.incFailure(kind, ReasonSigning)
		return nil, err
	}
	e.metrics.observeSigning(time.Since(signStart).Seconds())

	id, err := e.newID(kind)
	if err != nil {
		e.metrics.incFailure(kind, ReasonID)
		return nil, fmt.Errorf("assign seal id: %w", err)
	}

	s := &Seal{
		SealID:       id,
		IssuedAt:     FormatTimestamp(issuedAt),
		Payload:      Payload{DataHash: dataHash},
		SignerPubKey: identity.PublicKey,
		Signature:    signature,
	}
	tracing.SetAttributes(ctx, attribute.String("seal.id", id))

	if appendErr := e.recorder.Append(context.WithoutCancel(ctx), s); appendErr != nil {
		e.metrics.incAuditWriteFailure()
		e.logger.ErrorContext(ctx, "failed to append seal to audit log",
			"seal_id", s.SealID,
			"request_id", req.RequestID,
			"error", appendErr,
		)
	}

	e.metrics.incIssued(kind)
	e.logger.InfoContext(ctx, "seal issued",
		"seal_id", s.SealID,
		"kind", kind,
		"signer_mode", identity.Mode,
		"request_id", req.RequestID,
	)
	return s, nil
}

// validateDataHash applies the demo default and rejects malformed fingerprints.
func validateDataHash(dataHash string, demo bool) (string, error) {
	if dataHash == "" && demo {
		return DemoDataHash, nil
	}
	v, err := validate.Fingerprint(dataHash, MaxDataHashLength)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, validate.ErrEmpty):
		return "", &ValidationError{Message: "missing data_hash"}
	case errors.Is(err, validate.ErrStringTooLong):
		return "", &ValidationError{Message: fmt.Sprintf("data_hash exceeds %d characters", MaxDataHashLength)}
	case errors.Is(err, validate.ErrControlCharacters):
		return "", &ValidationError{Message: "data_hash contains control characters"}
	default:
		return "", &ValidationError{Message: "data_hash contains invalid characters"}
	}
}

// NewID returns a random seal id namespaced by kind.
func NewID(kind Kind) (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	prefix := PaidIDPrefix
	if kind == KindDemo {
		prefix = DemoIDPrefix
	}
	return prefix + strings.ReplaceAll(u.String(), "-", ""), nil
}
