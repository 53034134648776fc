package chat

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/x402chat/client/chat"

// WithTracerProvider reports message and payment spans to tp instead of the global provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) {
		s.tracer = tp.Tracer(tracerName)
	}
}

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// endSpan records err on span, if any, and ends it
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// traceID returns the trace id carried by ctx, or "" when ctx is not traced
func traceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func traceField(id string) zap.Field {
	if id == "" {
		return zap.Skip()
	}
	return zap.String("trace_id", id)
}
