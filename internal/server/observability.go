package server

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Observability struct {
	Tracer oteltrace.Tracer
	Meter  metric.Meter

	traceProvider   *sdktrace.TracerProvider
	AnalysisCounter metric.Int64Counter
	AdapterDuration metric.Int64Histogram
	DegradedCounter metric.Int64Counter
	SinkFailures    metric.Int64Counter
}

func SetupObservability(ctx context.Context, cfg ObservabilityConfig) (*Observability, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "synthscan-api"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	if cfg.OTLPEndpoint != "" {
		exporter, exportErr := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if exportErr != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", exportErr)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		slog.Info("otel trace exporter not configured; using local tracer provider")
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	meter := otel.Meter(serviceName)
	tracer := otel.Tracer(serviceName)
	analysisCounter, _ := meter.Int64Counter("synthscan_analysis_total")
	adapterDuration, _ := meter.Int64Histogram("synthscan_adapter_duration_ms")
	degradedCounter, _ := meter.Int64Counter("synthscan_degraded_total")
	sinkFailures, _ := meter.Int64Counter("synthscan_sink_failures_total")
	return &Observability{
		Tracer:          tracer,
		Meter:           meter,
		traceProvider:   tp,
		AnalysisCounter: analysisCounter,
		AdapterDuration: adapterDuration,
		DegradedCounter: degradedCounter,
		SinkFailures:    sinkFailures,
	}, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.traceProvider == nil {
		return nil
	}
	return o.traceProvider.Shutdown(ctx)
}

func (o *Observability) MarkAnalysis(ctx context.Context, modality, determination string) {
	if o == nil {
		return
	}
	o.AnalysisCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("modality", modality),
		attribute.String("determination", determination),
	))
}

func (o *Observability) MarkAdapter(ctx context.Context, sourceID string, succeeded bool, durationMS int64) {
	if o == nil {
		return
	}
	o.AdapterDuration.Record(ctx, durationMS, metric.WithAttributes(
		attribute.String("source", sourceID),
		attribute.Bool("succeeded", succeeded),
	))
}

func (o *Observability) MarkDegraded(ctx context.Context, modality string) {
	if o == nil {
		return
	}
	o.DegradedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("modality", modality),
	))
}

func (o *Observability) MarkSinkFailure(ctx context.Context, kind string) {
	if o == nil {
		return
	}
	o.SinkFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}
