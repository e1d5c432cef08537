// Package telemetry provides OpenTelemetry span helpers shared by the
// ribbit, tact, cdn and cache packages, so fetch and cache-tier timings
// show up as nested spans instead of scattered log lines.
package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
)

const tracerName = "ngdp"

// InitTelemetry wires up a process-wide tracer provider. With
// NGDP_DISABLE_TELEMETRY set it installs a no-op provider; otherwise spans
// are written to stdout, which is enough to observe fetch/cache timing
// without standing up a collector.
func InitTelemetry(ctx context.Context, serviceName string) (func(), error) {
	if os.Getenv("NGDP_DISABLE_TELEMETRY") == "true" {
		klog.V(1).Info("telemetry disabled via NGDP_DISABLE_TELEMETRY")
		return func() {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	klog.V(1).Info("telemetry initialized")

	return func() {
		if err := tp.Shutdown(ctx); err != nil {
			klog.Errorf("telemetry shutdown: %v", err)
		}
	}, nil
}

// StartSpan starts a new span under the shared tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartCacheSpan starts a span for one cache-tier operation (get/put/evict
// against disk or memory), tagged with the tier and key so traces line up
// with the counters in metrics.
func StartCacheSpan(ctx context.Context, tier, op, key string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "cache."+op, trace.WithAttributes(
		attribute.String("cache.tier", tier),
		attribute.String("cache.key", key),
	))
}

// GetTracer returns a named tracer.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// MeasureExecutionTime runs fn, recording its duration and any error on
// span.
func MeasureExecutionTime(span trace.Span, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.String("execution.step", name),
		attribute.Int64("execution.time_ms", elapsed.Milliseconds()),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// RecordError records an error on span and sets its status accordingly.
func RecordError(span trace.Span, err error, message string) {
	if err != nil {
		span.RecordError(err, trace.WithAttributes(
			attribute.String("error.message", message),
		))
		span.SetStatus(codes.Error, message)
	}
}
