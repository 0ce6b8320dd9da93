package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{
			name: "with endpoint",
			config: TraceConfig{
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
				Endpoint:       "localhost:4317",
				EnableInsecure: true,
			},
		},
		{
			name: "without endpoint (no-op)",
			config: TraceConfig{
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
			},
		},
		{
			name: "with sampling",
			config: TraceConfig{
				ServiceName:  "test-service",
				Endpoint:     "localhost:4317",
				SamplingRate: 0.5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown := NewTracer(tt.config)
			defer func() { _ = shutdown(context.Background()) }()

			if tracer == nil {
				t.Fatal("NewTracer() returned nil")
			}
			if tracer.tracer == nil {
				t.Error("tracer.tracer is nil")
			}
		})
	}
}

func TestTracerStart(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{
		ServiceName: "test-service",
	})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := tracer.Start(context.Background(), "test-operation")
	defer span.End()

	if span == nil {
		t.Fatal("Start() returned nil span")
	}
	if ctx == nil {
		t.Fatal("Start() returned nil context")
	}
}

func TestTraceHelpers(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()

	_, span := tracer.TraceTurn(ctx, "sess-1", "primary", "gpt-5.2")
	span.End()

	_, span = tracer.TraceRound(ctx, "primary", "gpt-5.2", 1)
	span.End()

	_, span = tracer.TraceToolExecution(ctx, "current_time")
	span.End()

	_, span = tracer.TraceRPC(ctx, "session.send")
	span.End()
}

func TestRecordError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), "op")
	defer span.End()

	tracer.RecordError(span, errors.New("boom"))
	tracer.RecordError(span, nil) // must not panic
}

func TestWithSpan(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	wantErr := errors.New("inner failure")
	err := WithSpan(context.Background(), tracer, "op", func(ctx context.Context, span trace.Span) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("WithSpan() error = %v, want %v", err, wantErr)
	}
}

func TestGetTraceIDEmpty(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID() = %q, want empty for no active span", id)
	}
}
