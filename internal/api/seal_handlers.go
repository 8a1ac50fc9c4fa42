// Package api provides HTTP handlers for the time authority service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/timeauthority/internal/audit"
	"github.com/onnwee/timeauthority/internal/keys"
	"github.com/onnwee/timeauthority/internal/middleware"
	"github.com/onnwee/timeauthority/internal/seal"
)

// MaxRequestBodyBytes bounds the size of issuance request bodies.
const MaxRequestBodyBytes = 64 << 10

// Issuer issues seals. Implemented by *seal.Engine.
type Issuer interface {
	Issue(ctx context.Context, req seal.Request) (*seal.Seal, error)
	SignerMode() keys.Mode
}

// SealHandlers serves seal issuance, lookup and statistics.
type SealHandlers struct {
	issuer Issuer
	log    audit.Repository
}

// NewSealHandlers creates seal handlers backed by an issuer and the audit log it records to.
func NewSealHandlers(issuer Issuer, log audit.Repository) *SealHandlers {
	return &SealHandlers{
		issuer: issuer,
		log:    log,
	}
}

// IssueRequest is the body accepted by the issuance routes.
type IssueRequest struct {
	DataHash string `json:"data_hash"`

	// Hash is accepted on the demo route as an alias of DataHash.
	Hash string `json:"hash,omitempty"`
}

// VerifyResponse reports whether a seal is in the audit log and still verifies.
type VerifyResponse struct {
	// Verified is true when the seal was found and its signature is valid.
	Verified       bool         `json:"verified"`
	SignatureValid bool         `json:"signature_valid"`
	Entry          *audit.Entry `json:"entry"`
}

// IssueDemo handles POST /timestamp/demo.
// The fingerprint is optional; a placeholder is sealed when it is missing.
func (h *SealHandlers) IssueDemo(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, true)
}

// IssuePaid handles POST /timestamp.
// The fingerprint is required and the issue gate is consulted before signing.
func (h *SealHandlers) IssuePaid(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, false)
}

func (h *SealHandlers) issue(w http.ResponseWriter, r *http.Request, demo bool) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	ctx := r.Context()

	body, status, err := readIssueRequest(w, r)
	if err != nil {
		WriteError(w, ctx, status, ErrCodeBadRequest, err.Error())
		return
	}

	dataHash := body.DataHash
	if demo && dataHash == "" {
		dataHash = body.Hash
	}

	issued, err := h.issuer.Issue(ctx, seal.Request{
		DataHash:  dataHash,
		Demo:      demo,
		RequestID: middleware.GetRequestID(ctx),
	})
	if err != nil {
		h.writeIssueError(w, ctx, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, issued)
}

// readIssueRequest decodes a bounded JSON body. An empty body decodes as {}.
func readIssueRequest(w http.ResponseWriter, r *http.Request) (IssueRequest, int, error) {
	var req IssueRequest

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return req, http.StatusBadRequest, errors.New("failed to read request body")
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return req, 0, nil
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, http.StatusBadRequest, errors.New("invalid JSON body")
	}
	return req, 0, nil
}

func (h *SealHandlers) writeIssueError(w http.ResponseWriter, ctx context.Context, err error) {
	switch {
	case errors.Is(err, seal.ErrValidation):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, seal.ErrIssueDenied):
		WriteError(w, ctx, http.StatusPaymentRequired, ErrCodePaymentRequired, "payment required")
	default:
		// Key and signing failures are never described to the caller.
		slog.ErrorContext(ctx, "seal issuance failed", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to issue seal")
	}
}

// Verify handles GET /verify/{seal_id}.
func (h *SealHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()

	sealID, ok := sealIDFromPath(r.URL.Path)
	if !ok {
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "seal not found")
		return
	}

	entry, err := h.log.Find(sealID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "seal not found")
			return
		}
		slog.ErrorContext(ctx, "failed to read audit log", "seal_id", sealID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to look up seal")
		return
	}

	signatureValid := true
	if err := entry.Seal.Verify(); err != nil {
		signatureValid = false
		slog.WarnContext(ctx, "recorded seal failed verification", "seal_id", sealID, "error", err)
	}

	writeJSON(ctx, w, http.StatusOK, VerifyResponse{
		Verified:       signatureValid,
		SignatureValid: signatureValid,
		Entry:          entry,
	})
}

// Stats handles GET /stats.
func (h *SealHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, h.log.Stats())
}

// sealIDFromPath extracts the id from /verify/{seal_id}.
func sealIDFromPath(path string) (string, bool) {
	id, ok := strings.CutPrefix(path, "/verify/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
