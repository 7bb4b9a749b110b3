package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelTracer forwards spans to an OpenTelemetry tracer provider.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer uses the global provider. Spans are non-recording until an
// SDK provider is installed with otel.SetTracerProvider.
func NewOTelTracer(serviceName string) *OTelTracer {
	return NewOTelTracerFromProvider(otel.GetTracerProvider(), serviceName)
}

// NewOTelTracerFromProvider uses tp.
func NewOTelTracerFromProvider(tp trace.TracerProvider, serviceName string) *OTelTracer {
	if serviceName == "" {
		serviceName = "httq"
	}
	return &OTelTracer{tracer: tp.Tracer(serviceName)}
}

// StartSpan starts an OpenTelemetry span. A failed span records the error
// and its taxonomy kind.
func (t *OTelTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	cfg := newSpanConfig(opts)
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(cfg.kind), trace.WithAttributes(cfg.attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(AttrErrorKind.String(errorKind(err)))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
