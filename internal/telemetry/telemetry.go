package telemetry

import (
	"context"
	"fmt"

	"github.com/vvakame/shelfql/internal/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type ShutdownFunc func(ctx context.Context) error

// Setup installs the global tracer provider exporting to the OTLP/HTTP
// endpointURL. An empty endpointURL leaves the no-op provider in place.
func Setup(ctx context.Context, serviceName, endpointURL string) (ShutdownFunc, error) {
	if endpointURL == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpointURL))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	return install(ctx, serviceName, sdktrace.WithBatcher(exporter))
}

func install(ctx context.Context, serviceName string, opts ...sdktrace.TracerProviderOption) (ShutdownFunc, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(append(opts, sdktrace.WithResource(res))...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.FromContext(ctx).Info("tracing enabled", "service", serviceName)

	return tp.Shutdown, nil
}
