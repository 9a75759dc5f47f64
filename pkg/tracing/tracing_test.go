package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Enabled {
		t.Error("expected tracing to be disabled by default")
	}
	if cfg.ServiceName != "rtcstats" {
		t.Errorf("expected service name 'rtcstats', got '%s'", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of disabled provider failed: %v", err)
	}
}

func TestSpanHelpers_WithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "session.process")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	defer span.End()

	AddSpanAttributes(ctx, ClientIDKey.String("abc_1"), attribute.Int("persist.attempts", 2))
	RecordError(ctx, errors.New("duplicate key"))
	MeasureDuration(ctx, time.Now(), "session.process")
}

func TestTraceHelpers(t *testing.T) {
	ctx := context.Background()

	_, httpSpan := TraceHTTPRequest(ctx, "POST", "/api/v1/sessions")
	httpSpan.End()

	_, wsSpan := TraceWebSocketMessage(ctx, "submission", "abc")
	wsSpan.End()

	_, dbSpan := TraceDatabaseOperation(ctx, "insert_unique", "metadata")
	dbSpan.End()
}
