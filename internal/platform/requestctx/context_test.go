package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNop(t *testing.T) {
	ctx := context.Background()
	if HasLogger(ctx) {
		t.Fatal("expected no logger on empty context")
	}
	if Logger(ctx) == nil {
		t.Fatal("expected a usable logger")
	}
	if HasLogger(WithLogger(ctx, nil)) {
		t.Fatal("expected nil logger to be stored as no-op")
	}

	logger := zap.NewExample()
	ctx = WithLogger(ctx, logger)
	if !HasLogger(ctx) || Logger(ctx) != logger {
		t.Fatal("expected stored logger to be returned")
	}
}

func TestTraceRoundTrip(t *testing.T) {
	ctx := context.Background()
	if TraceID(ctx) != "" {
		t.Fatal("expected empty trace id")
	}
	ctx = WithTrace(ctx, TraceInfo{TraceID: "4bf92f3577b34da6a3ce929d0e0e4736", Sampled: true})
	info, ok := Trace(ctx)
	if !ok || !info.Sampled || TraceID(ctx) != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected trace %+v", info)
	}
}
