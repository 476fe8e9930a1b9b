// Package observability installs the process-wide OpenTelemetry tracer.
package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "sortline"

var (
	tracerOnce sync.Once
	shutdownFn func(context.Context) error
)

// InitTracing installs a tracer provider for exporter ("none" or "stdout")
// and returns its shutdown func. Only the first call has an effect.
func InitTracing(service, exporter string) (func(context.Context) error, error) {
	var initErr error
	tracerOnce.Do(func() {
		switch exporter {
		case "", "none":
			otel.SetTracerProvider(noop.NewTracerProvider())
			shutdownFn = func(context.Context) error { return nil }
			return
		case "stdout":
		default:
			initErr = fmt.Errorf("observability: unknown exporter %q", exporter)
			return
		}

		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			initErr = fmt.Errorf("observability: stdout exporter: %w", err)
			return
		}
		res, err := resource.New(context.Background(),
			resource.WithAttributes(semconv.ServiceNameKey.String(service)),
		)
		if err != nil {
			initErr = fmt.Errorf("observability: resource: %w", err)
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdownFn = tp.Shutdown
	})
	if shutdownFn == nil {
		shutdownFn = func(context.Context) error { return nil }
	}
	return shutdownFn, initErr
}

// StartSpan starts a span on the global tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}
