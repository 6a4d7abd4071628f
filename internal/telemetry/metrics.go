// Package telemetry sets up the OpenTelemetry meter provider and the
// checkout counters exported on /metrics.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "storefront-checkout"

// InitMeterProvider initializes the Prometheus exporter and MeterProvider.
// It returns an http.Handler for the /metrics endpoint and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return promhttp.Handler(), mp.Shutdown, nil
}

// Metrics holds the checkout counters. A nil *Metrics is valid and records
// nothing, so components can be built without telemetry in tests.
type Metrics struct {
	commits           metric.Int64Counter
	shippingFallbacks metric.Int64Counter
	postCapture       metric.Int64Counter
}

// NewMetrics registers the checkout counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.GetMeterProvider())
}

// NewMetricsFrom registers the checkout counters on mp.
func NewMetricsFrom(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	commits, err := meter.Int64Counter("checkout.commits",
		metric.WithDescription("Commit attempts by pathway and outcome"))
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64Counter("checkout.shipping.fallbacks",
		metric.WithDescription("Shipping resolutions served from the fallback method list"))
	if err != nil {
		return nil, err
	}
	postCapture, err := meter.Int64Counter("checkout.post_capture_failures",
		metric.WithDescription("Captured payments with no recorded order"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		commits:           commits,
		shippingFallbacks: fallbacks,
		postCapture:       postCapture,
	}, nil
}

// Commit records one commit attempt.
func (m *Metrics) Commit(ctx context.Context, pathway, outcome string) {
	if m == nil {
		return
	}
	m.commits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pathway", pathway),
		attribute.String("outcome", outcome),
	))
}

// ShippingFallback records one fallback resolution.
func (m *Metrics) ShippingFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.shippingFallbacks.Add(ctx, 1)
}

// PostCaptureFailure records a captured payment without an order.
func (m *Metrics) PostCaptureFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.postCapture.Add(ctx, 1)
}
