package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupDisabled(t *testing.T) {
	for _, cfg := range []Config{
		{},
		{Enabled: true},
		{Endpoint: "http://127.0.0.1:4318"},
	} {
		shutdown, err := Setup(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Setup(%+v) error = %v", cfg, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown error = %v", err)
		}
		if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
			t.Fatalf("Setup(%+v) registered an sdk provider", cfg)
		}
	}
}

func TestSetupEnabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Setup(context.Background(), Config{
		Enabled:     true,
		Endpoint:    "http://127.0.0.1:4318",
		Environment: "test",
	})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("provider = %T, want sdk provider", otel.GetTracerProvider())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
}
