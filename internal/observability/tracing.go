// Package observability wires OpenTelemetry tracing for index and query runs.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "docrag"

// TracingConfig configures the exporter. An empty OTLPEndpoint disables export.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string

	// SampleRate is the trace sampling rate (0.0 to 1.0)
	SampleRate float64
}

func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "docrag",
		ServiceVersion: "0.1.0",
		SampleRate:     1.0,
	}
}

type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing installs a global tracer provider exporting over OTLP gRPC.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "docrag"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartIndexRunSpan starts the span covering one reconciliation pass.
func StartIndexRunSpan(ctx context.Context, namespace string, documents int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "index.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("index.namespace", namespace),
			attribute.Int("index.documents", documents),
		),
	)
}

// StartIndexSourceSpan starts a span for the work done on one source key.
func StartIndexSourceSpan(ctx context.Context, sourceKey string, chunks int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "index.source",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("index.source", sourceKey),
			attribute.Int("index.chunks", chunks),
		),
	)
}

// RecordIndexResult records the run totals on a span.
func RecordIndexResult(span trace.Span, added, skipped, deleted int) {
	span.SetAttributes(
		attribute.Int("index.added", added),
		attribute.Int("index.skipped", skipped),
		attribute.Int("index.deleted", deleted),
	)
}

func StartRetrieveSpan(ctx context.Context, k int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "query.retrieve",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("query.k", k)),
	)
}

// StartGenerateSpan starts a span for an LLM call.
func StartGenerateSpan(ctx context.Context, model string, contextChunks int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "query.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", model),
			attribute.Int("query.context_chunks", contextChunks),
		),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
