package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// TracingConfig holds the configuration for initializing the tracer.
type TracingConfig struct {
	Endpoint    string
	SampleRate  float64
	ServiceName string
	Insecure    bool
}

// noopShutdown is returned when tracing is disabled so callers can always
// defer the returned shutdown func unconditionally.
func noopShutdown(context.Context) error { return nil }

// Setup initializes OpenTelemetry tracing for the given service when
// endpoint is set, and returns a shutdown func to defer. With no endpoint
// configured it's a no-op: the global tracer provider stays the default,
// so every otel.Tracer(...) call remains safe but produces no spans.
func Setup(ctx context.Context, endpoint string, sampleRate float64, insecure bool, serviceName string) (func(context.Context) error, error) {
	if endpoint == "" {
		return noopShutdown, nil
	}
	return InitTracer(ctx, TracingConfig{
		Endpoint:    endpoint,
		SampleRate:  sampleRate,
		ServiceName: serviceName,
		Insecure:    insecure,
	})
}

// InitTracer sets up an OpenTelemetry TracerProvider with an OTLP HTTP exporter.
// It returns a shutdown function that should be deferred.
func InitTracer(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
