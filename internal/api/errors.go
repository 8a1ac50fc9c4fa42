package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/timeauthority/internal/middleware"
)

// Error codes returned in the "code" field of error bodies.
const (
	ErrCodeValidation       = "validation_error"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeNotFound         = "not_found"
	ErrCodePaymentRequired  = "payment_required"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal_error"
)

// ErrorResponse is the body of every error: {"error":{"code":"...","message":"..."}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable machine code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes an error body with status and tags the request log line
// with code.
//
//	api.WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodeNotFound, "seal not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, middleware.SetErrorCode(ctx, code))

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	body := ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// allowMethods answers 405 with an Allow header unless r uses one of methods.
func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
	return false
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
