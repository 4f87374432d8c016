package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartDispatchSpan creates a child span covering one logical completion
// request through the credential pool and tier ladder.
func StartDispatchSpan(ctx context.Context, requestID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "dispatch.complete",
		trace.WithAttributes(attribute.String("request.id", requestID)),
	)
}

// StartUpstreamSpan creates a child span for a single upstream HTTP call.
func StartUpstreamSpan(ctx context.Context, url, model string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "upstream.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.url", url),
			attribute.String("upstream.model", model),
		),
	)
}

// InjectHeaders injects the current trace context (traceparent, tracestate)
// into the given HTTP request headers so the upstream service can continue
// the trace.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetDispatchAttributes records the terminal shape of a logical request on
// the current span.
func SetDispatchAttributes(ctx context.Context, model string, tier, attempts int, outcome string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("dispatch.model", model),
		attribute.Int("dispatch.tier", tier),
		attribute.Int("dispatch.attempts", attempts),
		attribute.String("dispatch.outcome", outcome),
	)
}

// SetAttemptAttributes records one credential attempt on the current span.
// Only the redacted credential hint is ever attached.
func SetAttemptAttributes(ctx context.Context, credentialHint, class string, statusCode int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("attempt.credential", credentialHint),
		attribute.String("attempt.class", class),
		attribute.Int("attempt.status_code", statusCode),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
