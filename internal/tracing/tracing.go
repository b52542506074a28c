// Package tracing wires optional OpenTelemetry span export. Without an
// endpoint configured the tracer is a no-op, keeping worker runs free
// of network side effects.
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// EndpointEnv names the OTLP gRPC endpoint variable; unset disables
// export entirely.
const EndpointEnv = "SUPERLOOP_OTLP_ENDPOINT"

const tracerName = "github.com/nextlevelbuilder/superloop/internal/worker"

// Setup installs the global tracer provider. The returned shutdown
// function flushes pending spans and must be called before the process
// prints its result line.
func Setup(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	endpoint := os.Getenv(EndpointEnv)
	if endpoint == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// Tracer returns the worker tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
