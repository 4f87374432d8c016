package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_StdoutExporter(t *testing.T) {
	shutdown, err := Init(context.Background(), "keygate-test", "1.0.0", "stdout", "", 1.0, false)
	if err != nil {
		t.Fatalf("Init with stdout exporter: %v", err)
	}
	defer shutdown(context.Background())

	if otel.GetTracerProvider() == nil {
		t.Fatal("expected non-nil TracerProvider")
	}
	if otel.GetTextMapPropagator() == nil {
		t.Fatal("expected non-nil TextMapPropagator")
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), "keygate-test", "1.0.0", "unknown", "", 1.0, false)
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestInit_Shutdown(t *testing.T) {
	shutdown, err := Init(context.Background(), "keygate-test", "1.0.0", "stdout", "", 0.5, false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestTracer_ReturnsNonNil(t *testing.T) {
	if Tracer() == nil {
		t.Fatal("expected non-nil Tracer")
	}
}
