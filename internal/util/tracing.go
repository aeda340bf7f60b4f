package util

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "storefront"

var tracer trace.Tracer

// TracingConfig selects the exporter endpoint and how much is sampled
type TracingConfig struct {
	ServiceName    string
	Environment    string
	JaegerEndpoint string
	// SampleRatio is the fraction of root spans kept; child spans follow their parent.
	SampleRatio float64
}

// InitTracer installs a Jaeger-backed tracer provider as the global provider.
// An empty endpoint disables export and leaves the no-op provider in place.
func InitTracer(cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	if cfg.JaegerEndpoint == "" {
		GetLogger().Info("Tracing disabled: no Jaeger endpoint configured")
		return sdktrace.NewTracerProvider(), nil
	}

	exporter, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	if cfg.SampleRatio >= 1 {
		sampler = sdktrace.AlwaysSample()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(instrumentationName)

	GetLogger().Info("Tracer initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("endpoint", cfg.JaegerEndpoint),
		zap.Float64("sample_ratio", cfg.SampleRatio))
	return tp, nil
}

// GetTracer returns the global tracer
func GetTracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return tracer
}

// StartSpan starts a new span with optional attributes
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// FailSpan marks span as failed with err and its kind, when the error carries one
func FailSpan(span trace.Span, err error, kind string) {
	if err == nil {
		return
	}
	if kind != "" {
		span.SetAttributes(attribute.String("error.kind", kind))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
