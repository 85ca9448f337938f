package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
)

type telemetry struct {
	tracer         trace.Tracer
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider

	syncCounter      metric.Int64Counter
	syncDuration     metric.Float64Histogram
	identityCounter  metric.Int64Counter
	analysisDuration metric.Float64Histogram
}

func New(ctx context.Context, cfg config.TelemetryConfig) (core.Telemetry, error) {
	if !cfg.Enabled {
		return &noopTelemetry{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter

	switch cfg.ExporterType {
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := tp.Tracer(cfg.ServiceName)
	meter := otel.Meter(cfg.ServiceName)

	syncCounter, err := meter.Int64Counter("identra.syncs.total",
		metric.WithDescription("Total number of provider syncs"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	syncDuration, err := meter.Float64Histogram("identra.sync.duration",
		metric.WithDescription("Provider sync duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	identityCounter, err := meter.Int64Counter("identra.identities.total",
		metric.WithDescription("Total number of identities ingested"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	analysisDuration, err := meter.Float64Histogram("identra.analysis.duration",
		metric.WithDescription("Analysis operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &telemetry{
		tracer:           tracer,
		meter:            meter,
		tracerProvider:   tp,
		syncCounter:      syncCounter,
		syncDuration:     syncDuration,
		identityCounter:  identityCounter,
		analysisDuration: analysisDuration,
	}, nil
}

func (t *telemetry) RecordSync(provider string, duration float64, success bool) {
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.String("sync.provider", provider),
		attribute.Bool("sync.success", success),
	}

	t.syncCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.syncDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
}

func (t *telemetry) RecordIdentities(provider string, count int) {
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.String("sync.provider", provider),
	}

	t.identityCounter.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func (t *telemetry) RecordAnalysis(operation string, duration float64) {
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.String("analysis.operation", operation),
	}

	t.analysisDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
}

func (t *telemetry) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

type noopTelemetry struct{}

func (n *noopTelemetry) RecordSync(provider string, duration float64, success bool) {}
func (n *noopTelemetry) RecordIdentities(provider string, count int)                {}
func (n *noopTelemetry) RecordAnalysis(operation string, duration float64)          {}
func (n *noopTelemetry) Close() error                                               { return nil }
