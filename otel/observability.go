package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/jilio/recache"
)

// Observability implements recache.Observability using OpenTelemetry
type Observability struct {
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	fetchCounter  metric.Int64Counter
	fetchDuration metric.Float64Histogram
	fetchErrors   metric.Int64Counter
	writeCounter  metric.Int64Counter
	writeDuration metric.Float64Histogram
	writeErrors   metric.Int64Counter
	applyCounter  metric.Int64Counter
	entityCount   metric.Int64Gauge
}

// Option configures the Observability
type Option func(*Observability)

// WithTracerProvider sets a custom tracer provider
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *Observability) {
		o.tracer = provider.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets a custom meter provider
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *Observability) {
		o.meter = provider.Meter(instrumentationName)
	}
}

// New creates a new OpenTelemetry observability implementation
func New(opts ...Option) (*Observability, error) {
	obs := &Observability{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	// Apply options
	for _, opt := range opts {
		opt(obs)
	}

	// Initialize metrics
	var err error

	obs.fetchCounter, err = obs.meter.Int64Counter(
		"recache.fetch.count",
		metric.WithDescription("Number of remote fetches"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	obs.fetchDuration, err = obs.meter.Float64Histogram(
		"recache.fetch.duration",
		metric.WithDescription("Remote fetch duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.fetchErrors, err = obs.meter.Int64Counter(
		"recache.fetch.errors",
		metric.WithDescription("Number of failed remote fetches"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	obs.writeCounter, err = obs.meter.Int64Counter(
		"recache.write.count",
		metric.WithDescription("Number of write-through calls"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	obs.writeDuration, err = obs.meter.Float64Histogram(
		"recache.write.duration",
		metric.WithDescription("Write-through call duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.writeErrors, err = obs.meter.Int64Counter(
		"recache.write.errors",
		metric.WithDescription("Number of failed write-through calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	obs.applyCounter, err = obs.meter.Int64Counter(
		"recache.apply.count",
		metric.WithDescription("Number of derivation recomputations"),
		metric.WithUnit("{apply}"),
	)
	if err != nil {
		return nil, err
	}

	obs.entityCount, err = obs.meter.Int64Gauge(
		"recache.entities",
		metric.WithDescription("Entities in the canonical map"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		return nil, err
	}

	return obs, nil
}

// OnFetchStart is called when a remote read begins
func (o *Observability) OnFetchStart(ctx context.Context, scope, key string) context.Context {
	ctx, _ = o.tracer.Start(ctx, "recache.fetch: "+scope,
		trace.WithAttributes(
			attribute.String("fetch.scope", scope),
			attribute.String("fetch.key", key),
		),
	)

	o.fetchCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("fetch.scope", scope),
		),
	)

	return ctx
}

// OnFetchComplete is called when a remote read settles
func (o *Observability) OnFetchComplete(ctx context.Context, scope, key string, d time.Duration, err error) {
	span := trace.SpanFromContext(ctx)

	attrs := metric.WithAttributes(attribute.String("fetch.scope", scope))
	o.fetchDuration.Record(ctx, float64(d.Milliseconds()), attrs)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		o.fetchErrors.Add(ctx, 1, attrs)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// OnWriteStart is called when a write-through call begins
func (o *Observability) OnWriteStart(ctx context.Context, op string) context.Context {
	ctx, _ = o.tracer.Start(ctx, "recache.write: "+op,
		trace.WithAttributes(
			attribute.String("write.op", op),
		),
	)

	o.writeCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("write.op", op),
		),
	)

	return ctx
}

// OnWriteComplete is called when a write-through call settles
func (o *Observability) OnWriteComplete(ctx context.Context, op string, d time.Duration, err error) {
	span := trace.SpanFromContext(ctx)

	attrs := metric.WithAttributes(attribute.String("write.op", op))
	o.writeDuration.Record(ctx, float64(d.Milliseconds()), attrs)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		o.writeErrors.Add(ctx, 1, attrs)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// OnApply is called after each derivation recomputation
func (o *Observability) OnApply(origin string, size int) {
	ctx := context.Background()
	o.applyCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("apply.origin", origin),
		),
	)
	o.entityCount.Record(ctx, int64(size))
}
