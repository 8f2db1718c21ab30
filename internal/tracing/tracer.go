// Package tracing wires OpenTelemetry tracing for module servers and
// clients. Spans are exported to a Jaeger collector and the W3C trace
// context is propagated on every module-to-module request.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls span export. When Enabled is false, or Endpoint is
// empty, a provider is still returned so propagation keeps working, but
// no spans leave the process.
type Config struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Provider owns the tracer provider lifecycle for one process.
type Provider struct {
	provider *sdktrace.TracerProvider
	enabled  bool
}

// NewProvider configures the global tracer provider and propagator.
func NewProvider(cfg *Config) (*Provider, error) {
	// Propagation is always on so trace headers flow through even when
	// export is disabled.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg == nil || !cfg.Enabled || cfg.Endpoint == "" {
		return &Provider{}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate > 0 && cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	return &Provider{provider: provider, enabled: true}, nil
}

// Enabled reports whether spans are being exported.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// Shutdown flushes pending spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	if err := p.provider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("failed to flush tracer: %w", err)
	}
	return p.provider.Shutdown(ctx)
}

// StartSpan starts a span named after the module operation.
func StartSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return otel.Tracer("talkie").Start(ctx, operation)
}

// InjectHeaders writes the trace context from ctx into outbound headers.
func InjectHeaders(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}

// ExtractHeaders returns a context carrying the trace context found in
// inbound headers.
func ExtractHeaders(ctx context.Context, header http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(header))
}
