// Package tracing installs the OpenTelemetry tracer provider whose tracer
// spans each per-target dispatch of a controller fan-out apply; the session
// receive loop and decree phases are not spanned. Grounded on kadirpekel-hector's observability.InitGlobalTracer
// shape (config-gated provider construction, otel.SetTracerProvider,
// otel.Tracer(name) accessor) with the exporter swapped for stdouttrace so
// this module has no required network dependency for tracing to function.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls whether tracing is enabled and how spans are labelled.
type Config struct {
	Enabled     bool
	ServiceName string
}

// Init installs a global TracerProvider per cfg and returns a shutdown func.
// When cfg.Enabled is false, a no-op provider is installed so call sites
// never need to check a flag before starting a span.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("tracing: create stdout exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the named tracer off the current global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
