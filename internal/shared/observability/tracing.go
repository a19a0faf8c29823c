package observability

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the process-wide tracer used for per-unit and per-stage spans.
var Tracer trace.Tracer = otel.Tracer("molt")

// InitTracing installs an OTLP gRPC exporter when OTEL_EXPORTER_OTLP_ENDPOINT
// is set. Without the endpoint the default no-op provider stays in place, so
// span calls cost nothing. The returned shutdown func flushes pending spans.
func InitTracing(ctx context.Context) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	Tracer = provider.Tracer("molt")

	return provider.Shutdown, nil
}
