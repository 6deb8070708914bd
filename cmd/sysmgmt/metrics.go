package main

import (
	"context"
	"fmt"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// newMeterProvider exports to an OTLP collector when an endpoint is set;
// otherwise measurements stay in-process.
func newMeterProvider(c *conf.Metrics, logger log.Logger) (metric.MeterProvider, func(), error) {
	helper := log.NewHelper(logger)
	res := resource.NewSchemaless(
		attribute.String("service.name", Name),
		attribute.String("service.version", Version),
		attribute.String("service.instance.id", id),
	)

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if c != nil && c.OTLPEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		exp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(c.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		interval := c.Interval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
		helper.Infof("exporting metrics to %s every %s", c.OTLPEndpoint, interval)
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(ctx); err != nil {
			helper.Errorf("failed to shut down meter provider: %v", err)
		}
	}
	return mp, cleanup, nil
}
