package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartRaceSpan starts the parent span covering one fan-out.
func StartRaceSpan(ctx context.Context, tracer trace.Tracer, raceID string, targets int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "chorus race",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("chorus.race_id", raceID),
		attribute.Int("chorus.targets", targets),
	)
	return ctx, span
}

// StartTargetSpan starts a client span for one provider/model stream.
func StartTargetSpan(ctx context.Context, tracer trace.Tracer, provider, model string) (context.Context, trace.Span) {
	spanName := "llm stream"
	if provider != "" {
		spanName = "llm " + provider
	}
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("gen_ai.system", provider),
		attribute.String("gen_ai.request.model", model),
	)
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers. With no
// propagator installed it writes nothing.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
