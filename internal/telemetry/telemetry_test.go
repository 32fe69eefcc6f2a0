package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitializeWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Initialize(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestStartSpanUsesInstalledProvider(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "monitor.CheckVersion")
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Name() != "monitor.CheckVersion" {
		t.Fatalf("recorded spans = %v", ended)
	}
}
