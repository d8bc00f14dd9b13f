package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"lkvs/internal/config"
)

const instrumentationName = "lkvs"

// TracingService owns the tracer provider for one process.
type TracingService struct {
	config   config.TracingConfig
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider
}

// NewTracingService builds the exporter named by cfg. A disabled config
// yields a service whose spans are dropped.
func NewTracingService(cfg config.TracingConfig) (*TracingService, error) {
	if !cfg.Enabled {
		return &TracingService{
			config: cfg,
			tracer: noop.NewTracerProvider().Tracer(instrumentationName),
		}, nil
	}

	exporter, err := newExporter(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	return newService(cfg, exporter, false), nil
}

// NewTracingServiceWithExporter sends spans synchronously to exporter.
func NewTracingServiceWithExporter(cfg config.TracingConfig, exporter trace.SpanExporter) *TracingService {
	return newService(cfg, exporter, true)
}

func newExporter(cfg config.TracingConfig, console io.Writer) (trace.SpanExporter, error) {
	switch cfg.ExporterType {
	case "otlp":
		opts := []otlptracehttp.Option{otlptracehttp.WithHeaders(cfg.OTLPHeaders)}
		if strings.HasPrefix(cfg.OTLPEndpoint, "http://") || strings.HasPrefix(cfg.OTLPEndpoint, "https://") {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exporter, nil
	case "console", "":
		return NewConsoleExporter(console), nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
}

func newService(cfg config.TracingConfig, exporter trace.SpanExporter, synchronous bool) *TracingService {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	samplingRatio := cfg.SamplingRatio
	if samplingRatio <= 0 {
		samplingRatio = 1.0
	}

	export := trace.WithBatcher(exporter)
	if synchronous {
		export = trace.WithSyncer(exporter)
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		export,
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(samplingRatio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingService{
		config:   cfg,
		tracer:   tp.Tracer(instrumentationName),
		provider: tp,
	}
}

func (ts *TracingService) StartSpan(ctx context.Context, name string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, name, opts...)
}

// RecordError marks span as failed.
func (ts *TracingService) RecordError(span oteltrace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Close flushes pending spans and shuts the provider down.
func (ts *TracingService) Close(ctx context.Context) error {
	if ts.provider != nil {
		return ts.provider.Shutdown(ctx)
	}
	return nil
}

// InstrumentDeviceOperation starts a span for one put or get.
func (ts *TracingService) InstrumentDeviceOperation(ctx context.Context, operation, devicePath string, key []byte) (context.Context, oteltrace.Span) {
	return ts.StartSpan(ctx, "lkvs."+operation,
		oteltrace.WithAttributes(
			attribute.String("lkvs.operation", operation),
			attribute.String("lkvs.device", devicePath),
			attribute.Int("lkvs.key_size", len(key)),
			attribute.String("component", "storage"),
		),
	)
}
