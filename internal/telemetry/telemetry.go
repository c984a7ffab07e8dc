// Package telemetry installs the OpenTelemetry meter provider used by the
// hub and routing counters.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// Shutdown flushes and stops the installed providers.
type Shutdown func(context.Context) error

// NewMeterProvider builds a meter provider that reads through reader.
func NewMeterProvider(ctx context.Context, serviceName string, reader sdkmetric.Reader) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	), nil
}

// Init exports metrics over OTLP/gRPC to endpoint and makes the provider
// global. An empty endpoint leaves the no-op provider in place.
func Init(ctx context.Context, endpoint, serviceName string, logger *zap.Logger) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	mp, err := NewMeterProvider(ctx, serviceName, sdkmetric.NewPeriodicReader(exporter))
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(mp)

	logger.Info("metrics exporter initialized",
		zap.String("endpoint", endpoint),
		zap.String("service", serviceName))
	return mp.Shutdown, nil
}
