package server

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/apollographql/router-sub000/gateway"
)

// setupTracing installs an OTLP/HTTP trace exporter as the global
// tracer provider and returns its shutdown function.
func setupTracing(ctx context.Context, settings gateway.GatewayOption) (func(context.Context) error, error) {
	var opts []otlptracehttp.Option
	if ep := settings.Opentelemetry.TracingSetting.Endpoint; ep != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(ep))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	serviceName := settings.ServiceName
	if serviceName == "" {
		serviceName = "federation-gateway"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
