package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scopes.
const (
	scopeSeal    = "timeauthority/seal"
	scopeStorage = "timeauthority/storage"
)

// StorageOperation names what a storage span does.
type StorageOperation string

const (
	StorageOperationAppend StorageOperation = "append"
	StorageOperationRead   StorageOperation = "read"
	StorageOperationUpload StorageOperation = "upload"
)

// EndFunc ends a span, recording err on it when non-nil.
type EndFunc func(err error)

// StartStorageSpan starts a span named "<operation> <target>", for example
// "append audit_log".
//
//	ctx, end := tracing.StartStorageSpan(ctx, "audit_log", tracing.StorageOperationAppend)
//	defer func() { end(err) }()
func StartStorageSpan(ctx context.Context, target string, op StorageOperation) (context.Context, EndFunc) {
	name := string(op)
	attrs := []attribute.KeyValue{attribute.String("storage.operation", string(op))}
	if target != "" {
		name += " " + target
		attrs = append(attrs, attribute.String("storage.target", target))
	}
	ctx, span := otel.Tracer(scopeStorage).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, endSpan(span)
}

// StartSpan starts a span for an issuance-level operation such as "seal.issue".
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, EndFunc) {
	ctx, span := otel.Tracer(scopeSeal).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, endSpan(span)
}

func endSpan(span trace.Span) EndFunc {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// AddEvent adds an event to the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
