package tracing_test

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/onnwee/timeauthority/internal/audit"
	"github.com/onnwee/timeauthority/internal/keys"
	"github.com/onnwee/timeauthority/internal/middleware"
	"github.com/onnwee/timeauthority/internal/seal"
	"github.com/onnwee/timeauthority/internal/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestEndToEndTracing issues a seal behind the HTTP middleware and checks
// that the request, issuance and audit append spans share one trace.
func TestEndToEndTracing(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	auditLog, err := audit.Open(filepath.Join(t.TempDir(), "issued_seals.log"))
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	defer auditLog.Close()

	engine, err := seal.NewEngine(seal.Config{
		Keys:     keys.NewEphemeralProvider(rand.Reader),
		Recorder: auditLog,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := engine.Issue(r.Context(), seal.Request{Demo: true}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		tracing.AddEvent(r.Context(), "seal_returned", attribute.Bool("success", true))
		w.WriteHeader(http.StatusOK)
	})

	tracedHandler := middleware.Tracing("test-service")(handler)

	req := httptest.NewRequest(http.MethodPost, "/timestamp/demo", nil)
	rr := httptest.NewRecorder()
	tracedHandler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Expected spans:
	// 1. HTTP handler span (from middleware)
	// 2. seal.issue
	// 3. append audit_log
	spans := spanRecorder.Ended()
	expectedSpanCount := 3
	if len(spans) != expectedSpanCount {
		t.Errorf("expected %d spans, got %d", expectedSpanCount, len(spans))
		for i, span := range spans {
			t.Logf("  span %d: %s", i, span.Name())
		}
	}

	spanNames := make(map[string]bool)
	for _, span := range spans {
		spanNames[span.Name()] = true
	}
	for _, name := range []string{"POST /timestamp/demo", "seal.issue", "append audit_log"} {
		if !spanNames[name] {
			t.Errorf("missing required span: %s", name)
		}
	}

	if len(spans) > 0 {
		traceID := spans[0].SpanContext().TraceID()
		for i, span := range spans {
			if span.SpanContext().TraceID() != traceID {
				t.Errorf("span %d has different trace ID: expected %s, got %s",
					i, traceID, span.SpanContext().TraceID())
			}
		}
	}

	for _, span := range spans {
		if span.Name() != "append audit_log" {
			continue
		}
		found := false
		for _, attr := range span.Attributes() {
			if attr.Key == "storage.target" && attr.Value.AsString() == "audit_log" {
				found = true
			}
		}
		if !found {
			t.Error("append span missing storage.target attribute")
		}
	}
}

// TestTraceContextPropagation checks that an incoming W3C traceparent
// header continues the caller's trace.
func TestTraceContextPropagation(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer tp.Shutdown(context.Background())

	const callerTrace = "4bf92f3577b34da6a3ce929d0e0e4736"

	var handlerTraceID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerTraceID = middleware.GetTraceID(r)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/verify/demo_0123", nil)
	req.Header.Set("traceparent", "00-"+callerTrace+"-00f067aa0ba902b7-01")
	middleware.Tracing("test-service")(handler).ServeHTTP(httptest.NewRecorder(), req)

	if handlerTraceID != callerTrace {
		t.Errorf("handler trace ID = %q, want %q", handlerTraceID, callerTrace)
	}
	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].Parent().SpanID().String(); got != "00f067aa0ba902b7" {
		t.Errorf("parent span ID = %q", got)
	}
}
