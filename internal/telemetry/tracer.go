package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/roach88/airvm"

// Tracer produces one span per interpreter execution.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a tracer backed by provider.
func NewTracer(provider *sdktrace.TracerProvider) *Tracer {
	return &Tracer{provider: provider, tracer: provider.Tracer(tracerName)}
}

// NewStdoutTracer writes finished spans as JSON to w as soon as they end.
func NewStdoutTracer(w io.Writer) (*Tracer, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create stdout span exporter: %w", err)
	}
	return NewTracer(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))), nil
}

// StartExecution starts the span of one execution.
func (t *Tracer) StartExecution(ctx context.Context, particleID, peerID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "airvm.execute",
		trace.WithAttributes(
			attribute.String("particle.id", particleID),
			attribute.String("peer.id", peerID),
		),
	)
}

// EndExecution records the outcome on span and ends it.
func EndExecution(span trace.Span, retCode int64, message string, traceLen int) {
	span.SetAttributes(
		attribute.Int64("airvm.ret_code", retCode),
		attribute.String("airvm.band", Band(retCode)),
		attribute.Int("airvm.trace_len", traceLen),
	)
	if retCode != 0 {
		span.SetStatus(codes.Error, message)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
