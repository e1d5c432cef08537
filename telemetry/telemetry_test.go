package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/wowemulation-dev/ngdp/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

func TestStartSpan(t *testing.T) {
	ctx := context.Background()
	_, span := telemetry.StartSpan(ctx, "TestSpan")
	span.SetAttributes(attribute.String("test", "value"))
	span.End()
}

func TestStartCacheSpan(t *testing.T) {
	ctx := context.Background()
	_, span := telemetry.StartCacheSpan(ctx, "disk", "get", "abc123")
	span.End()
}

func TestHelpers(t *testing.T) {
	ctx := context.Background()
	err := telemetry.TraceExecutionTime(ctx, "SlowOperation", func() error {
		time.Sleep(time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	_, span, done := telemetry.TraceFunctionExecution(ctx, "ImportantFunction")
	done()

	_, span = telemetry.TraceFileOperation(ctx, "read", "/path/to/file.txt")
	span.End()
}
