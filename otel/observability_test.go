package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jilio/recache"
)

func newTestObservability(t *testing.T) (*Observability, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	recorder := tracetest.NewSpanRecorder()
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	obs, err := New(
		WithMeterProvider(meterProvider),
		WithTracerProvider(tracerProvider),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return obs, reader, recorder
}

func collectMetricNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestNewDefaultProviders(t *testing.T) {
	obs, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if obs == nil {
		t.Fatal("New() returned nil")
	}
	// The default (global) providers are no-ops; callbacks must not panic.
	ctx := obs.OnFetchStart(context.Background(), recache.ScopeCollection, "")
	obs.OnFetchComplete(ctx, recache.ScopeCollection, "", time.Millisecond, nil)
}

func TestFetchMetricsAndSpan(t *testing.T) {
	obs, reader, recorder := newTestObservability(t)

	ctx := obs.OnFetchStart(context.Background(), recache.ScopeEntity, "42")
	obs.OnFetchComplete(ctx, recache.ScopeEntity, "42", 5*time.Millisecond, nil)

	names := collectMetricNames(t, reader)
	for _, want := range []string{"recache.fetch.count", "recache.fetch.duration"} {
		if !names[want] {
			t.Errorf("metric %q not recorded", want)
		}
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if got := spans[0].Name(); got != "recache.fetch: entity" {
		t.Errorf("span name = %q", got)
	}
	if got := spans[0].Status().Code; got != codes.Ok {
		t.Errorf("span status = %v, want Ok", got)
	}
}

func TestFetchErrorRecorded(t *testing.T) {
	obs, reader, recorder := newTestObservability(t)

	ctx := obs.OnFetchStart(context.Background(), recache.ScopeCollection, "")
	obs.OnFetchComplete(ctx, recache.ScopeCollection, "", time.Millisecond, errors.New("down"))

	names := collectMetricNames(t, reader)
	if !names["recache.fetch.errors"] {
		t.Error("fetch error metric not recorded")
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if got := spans[0].Status().Code; got != codes.Error {
		t.Errorf("span status = %v, want Error", got)
	}
}

func TestWriteMetricsAndSpan(t *testing.T) {
	obs, reader, recorder := newTestObservability(t)

	ctx := obs.OnWriteStart(context.Background(), "create")
	obs.OnWriteComplete(ctx, "create", 2*time.Millisecond, nil)

	ctx = obs.OnWriteStart(context.Background(), "delete")
	obs.OnWriteComplete(ctx, "delete", time.Millisecond, errors.New("conflict"))

	names := collectMetricNames(t, reader)
	for _, want := range []string{"recache.write.count", "recache.write.duration", "recache.write.errors"} {
		if !names[want] {
			t.Errorf("metric %q not recorded", want)
		}
	}

	if got := len(recorder.Ended()); got != 2 {
		t.Errorf("recorded %d spans, want 2", got)
	}
}

func TestApplyMetrics(t *testing.T) {
	obs, reader, _ := newTestObservability(t)

	obs.OnApply(recache.OriginFullRefresh, 10)
	obs.OnApply(recache.OriginNotification, 11)

	names := collectMetricNames(t, reader)
	for _, want := range []string{"recache.apply.count", "recache.entities"} {
		if !names[want] {
			t.Errorf("metric %q not recorded", want)
		}
	}
}

func TestObservabilityWiredIntoCache(t *testing.T) {
	// Compile-time check that Observability satisfies the cache's interface.
	var _ recache.Observability = (*Observability)(nil)
}
