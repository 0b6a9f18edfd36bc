package tracing

import (
	"context"
	"testing"
)

func TestInitDisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitEnabledStartsAndStopsSpans(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: true, ServiceName: "test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown(context.Background())

	_, span := Tracer("test").Start(context.Background(), "op")
	span.End()
}
