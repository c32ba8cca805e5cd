package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context key types
type streamCtxKey struct{}
type requestCtxKey struct{}

// WithStreamID adds a stream id to context.
func WithStreamID(ctx context.Context, streamID string) context.Context {
	return context.WithValue(ctx, streamCtxKey{}, streamID)
}

// StreamIDFromContext extracts a stream id from context.
func StreamIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(streamCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRequestID adds a request id to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts a request id from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if streamID := StreamIDFromContext(ctx); streamID != "" {
		fields = append(fields, zap.String("stream.id", streamID))
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}
