package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.Commit(ctx, "manual", "ok")
	m.ShippingFallback(ctx)
	m.PostCaptureFailure(ctx)
}

func TestMetrics_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetricsFrom(mp)
	if err != nil {
		t.Fatalf("NewMetricsFrom() error = %v", err)
	}

	ctx := context.Background()
	m.Commit(ctx, "card_capture", "intent_created")
	m.Commit(ctx, "manual", "ok")
	m.ShippingFallback(ctx)
	m.ShippingFallback(ctx)
	m.PostCaptureFailure(ctx)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[md.Name] += dp.Value
			}
		}
	}

	want := map[string]int64{
		"checkout.commits":               2,
		"checkout.shipping.fallbacks":    2,
		"checkout.post_capture_failures": 1,
	}
	for name, v := range want {
		if totals[name] != v {
			t.Errorf("%s = %d, want %d", name, totals[name], v)
		}
	}
}

func TestInitMeterProvider(t *testing.T) {
	handler, shutdown, err := InitMeterProvider("checkout-test", "0.0.0")
	if err != nil {
		t.Fatalf("InitMeterProvider() error = %v", err)
	}
	defer shutdown(context.Background())

	if handler == nil {
		t.Error("expected metrics handler")
	}
}
