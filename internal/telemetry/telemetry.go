// Package telemetry initializes OpenTelemetry tracing for clink.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "clink"

// Config controls tracing setup.
type Config struct {
	Enabled  bool
	Exporter string // "stdout" or "noop"
}

// Setup installs a global TracerProvider and returns its shutdown
// function. When disabled, a noop provider is used with zero overhead.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	case "noop", "":
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartSpan starts a named span on the clink tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// RecordError records an error on the span and sets error status.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// StringAttr is a convenience for attribute.String.
func StringAttr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// IntAttr is a convenience for attribute.Int.
func IntAttr(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}
