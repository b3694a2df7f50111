package telemetry

import (
	"context"
	"testing"
)

func TestDisabledProviderUsesNoopTracer(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if Enabled() {
		t.Fatal("expected Enabled() to report false")
	}
	ctx, span := StartSpan(context.Background(), "helianthus.queue.send")
	defer span.End()
	if GetTraceID(ctx) != "" {
		t.Fatalf("expected no trace id from a noop tracer, got %q", GetTraceID(ctx))
	}
}

func TestInjectTraceContextNoopWithoutTraceParent(t *testing.T) {
	ctx := InjectTraceContext(context.Background(), TraceContext{})
	if ctx != context.Background() {
		t.Fatal("expected InjectTraceContext to return ctx unchanged when TraceParent is empty")
	}
}

func TestExtractTraceContextDisabledReturnsEmpty(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	tc := ExtractTraceContext(context.Background())
	if tc.TraceParent != "" || tc.TraceState != "" {
		t.Fatalf("expected empty TraceContext while disabled, got %+v", tc)
	}
}
