// Package observability wires up tracing for mrpc binaries. Library code
// only creates spans through the global otel tracer; installing a provider
// is a binary-level decision made here.
package observability

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type options struct {
	writer io.Writer
	pretty bool
}

type Option func(*options)

// WithWriter directs exported spans to w instead of stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithPrettyPrint renders exported spans as indented JSON.
func WithPrettyPrint() Option {
	return func(o *options) {
		o.pretty = true
	}
}

// Setup installs a global tracer provider exporting spans to stdout,
// suitable for development binaries. The returned func flushes and shuts
// the provider down.
func Setup(ctx context.Context, service string, opts ...Option) (func(context.Context) error, error) {
	var o options

	for _, opt := range opts {
		opt(&o)
	}

	var eopts []stdouttrace.Option

	if o.writer != nil {
		eopts = append(eopts, stdouttrace.WithWriter(o.writer))
	}

	if o.pretty {
		eopts = append(eopts, stdouttrace.WithPrettyPrint())
	}

	exp, err := stdouttrace.New(eopts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(service)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
