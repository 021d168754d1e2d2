package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ProviderConfig holds configuration for the OTLP/HTTP exporter
type ProviderConfig struct {
	ServiceName string
	// Endpoint is the OTLP collector endpoint (e.g., "localhost:4318")
	Endpoint string
	Insecure bool
	Timeout  time.Duration
}

// Setup installs a batching tracer provider exporting over OTLP/HTTP and
// registers its tracer for StartSpan. The returned func flushes and stops it.
func Setup(ctx context.Context, config ProviderConfig) (func(context.Context) error, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.Endpoint),
	}
	if config.Timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(config.Timeout))
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	SetTracer(tp.Tracer(config.ServiceName))

	return tp.Shutdown, nil
}
