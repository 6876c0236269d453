// Package telemetry sets up OpenTelemetry tracing for applications that want
// every recorded LLM call mirrored as a span.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ragmetrics-ai/ragmetrics-go/config"
)

// Version is the SDK version reported as the service version attribute.
const Version = "1.0.0"

// InitTracer installs a global tracer provider exporting to stdout or an OTLP
// collector, per cfg, and returns a shutdown function that flushes pending
// spans. Pass otel.Tracer(serviceName) to ragmetrics.WithTracer afterwards.
func InitTracer(serviceName string, cfg *config.Config) (func(), error) {
	ctx := context.Background()

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Merging with an empty schema URL sidesteps the schema conflict that
	// resource.Default() otherwise raises.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("ragmetrics: tracer provider shutdown: %v", err)
		}
	}, nil
}

func newExporter(ctx context.Context, cfg *config.Config) (sdktrace.SpanExporter, error) {
	if cfg.OTELExporterType == "otlp" {
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTELExporterEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		return exp, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}
	return exp, nil
}
