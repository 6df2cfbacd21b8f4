// Package tracing provides OpenTelemetry distributed tracing: a tracer
// provider plus span helpers for a query's retrieval, complexity, routing,
// generation, and dialogue steps. The Query Coordinator does not call these
// helpers; spans exist only where a caller starts them.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls how the tracer provider is constructed.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // host:port of the OTLP gRPC collector, empty disables export
	SampleRatio    float64
}

// Provider wraps an sdktrace.TracerProvider along with the tracer used for
// all SYNAPSE spans.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// New builds a tracer provider and installs it as the global otel provider.
// When cfg.OTLPEndpoint is empty, spans are still created and propagated
// through context but are not exported anywhere.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.SampleRatio <= 0 {
		cfg.SampleRatio = 1.0
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("merge resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer("synapse-engine-sub002"),
	}, nil
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// StartQuerySpan begins the root span for a single Query Coordinator run.
func (p *Provider) StartQuerySpan(ctx context.Context, queryID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "coordinator.query",
		trace.WithAttributes(attribute.String("query.id", queryID)),
	)
}

// StartRetrievalSpan traces one CGRAG Engine retrieval call.
func (p *Provider) StartRetrievalSpan(ctx context.Context, collection string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "cgrag.retrieve",
		trace.WithAttributes(attribute.String("retrieval.collection", collection)),
	)
}

// StartComplexitySpan traces one Complexity Assessor scoring call.
func (p *Provider) StartComplexitySpan(ctx context.Context) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "complexity.assess")
}

// StartRouteSpan traces one Router selection.
func (p *Provider) StartRouteSpan(ctx context.Context, tier string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "router.select",
		trace.WithAttributes(attribute.String("router.tier", tier)),
	)
}

// StartGenerationSpan traces one Model Client generate call.
func (p *Provider) StartGenerationSpan(ctx context.Context, modelID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "modelclient.generate",
		trace.WithAttributes(attribute.String("model.id", modelID)),
	)
}

// StartDialogueSpan traces one Dialogue Engine turn.
func (p *Provider) StartDialogueSpan(ctx context.Context, dialogueID string, seq int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "dialogue.turn",
		trace.WithAttributes(
			attribute.String("dialogue.id", dialogueID),
			attribute.Int("dialogue.seq", seq),
		),
	)
}

// RecordLatency attaches a latency measurement to the active span as an event.
func RecordLatency(span trace.Span, name string, d time.Duration) {
	span.AddEvent(name, trace.WithAttributes(
		attribute.Int64("duration_ms", d.Milliseconds()),
	))
}

// NoopTracer returns a Provider backed by otel's no-op implementation, for
// tests and for components run without a configured collector.
func NoopTracer() *Provider {
	return &Provider{
		tp:     sdktrace.NewTracerProvider(),
		tracer: otel.Tracer("synapse-engine-sub002-noop"),
	}
}
