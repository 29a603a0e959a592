// Copyright 2025 James Ross
package obs

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/flyingrobots/queueengine/internal/config"
	"github.com/flyingrobots/queueengine/internal/job"
)

func TestMaybeInitTracingDisabledReturnsNil(t *testing.T) {
	cfg := &config.Config{Observability: config.Observability{Tracing: config.Tracing{Enabled: false}}}
	tp, err := MaybeInitTracing(cfg)
	if err != nil {
		t.Fatalf("MaybeInitTracing() error = %v", err)
	}
	if tp != nil {
		t.Fatalf("expected nil tracer provider when tracing disabled")
	}
}

func TestMaybeInitTracingEnabledWithoutEndpointReturnsNil(t *testing.T) {
	cfg := &config.Config{Observability: config.Observability{Tracing: config.Tracing{Enabled: true}}}
	tp, err := MaybeInitTracing(cfg)
	if err != nil {
		t.Fatalf("MaybeInitTracing() error = %v", err)
	}
	if tp != nil {
		t.Fatalf("expected nil tracer provider without an endpoint")
	}
}

func TestMaybeInitTracingEnabledWithEndpoint(t *testing.T) {
	cfg := &config.Config{
		ServerID: "test",
		Observability: config.Observability{Tracing: config.Tracing{
			Enabled:  true,
			Endpoint: "localhost:4318",
			Insecure: true,
			Sampling: 1.0,
		}},
	}
	tp, err := MaybeInitTracing(cfg)
	if err != nil {
		t.Fatalf("MaybeInitTracing() error = %v", err)
	}
	if tp == nil {
		t.Fatalf("expected a tracer provider when tracing is enabled with an endpoint")
	}
	defer TracerShutdown(context.Background(), tp)
}

func newRecordingTracer() (*sdktrace.TracerProvider, func()) {
	tp := sdktrace.NewTracerProvider()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	return tp, func() { otel.SetTracerProvider(prev) }
}

func TestContextWithJobSpanSetsAttributes(t *testing.T) {
	_, restore := newRecordingTracer()
	defer restore()

	j := job.New("emails", "send", nil, job.Options{Priority: 7}, job.Options{})
	ctx, span := ContextWithJobSpan(context.Background(), j)
	defer span.End()

	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Fatalf("expected a valid span context")
	}

	ro, ok := span.(sdktrace.ReadOnlySpan)
	if !ok {
		t.Fatalf("expected an SDK span, got %T", span)
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range ro.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["job.queue"].AsString(); got != "emails" {
		t.Fatalf("job.queue = %q, want %q", got, "emails")
	}
	if got := attrs["job.priority"].AsInt64(); got != 7 {
		t.Fatalf("job.priority = %d, want 7", got)
	}
}

func TestInjectExtractTraceContextRoundTrips(t *testing.T) {
	_, restore := newRecordingTracer()
	defer restore()

	ctx, span := otel.Tracer("test").Start(context.Background(), "parent")
	defer span.End()

	carrier := InjectTraceContext(ctx)
	if len(carrier) == 0 {
		t.Fatalf("expected a non-empty carrier")
	}

	restored := ExtractTraceContext(context.Background(), carrier)
	traceID, _ := GetTraceAndSpanID(ctx)
	restoredID := trace.SpanContextFromContext(restored).TraceID().String()
	if traceID != restoredID {
		t.Fatalf("expected extracted trace id %q to match original %q", restoredID, traceID)
	}
}

func TestRecordErrorAndSetSpanSuccessDoNotPanicOnNoopSpan(t *testing.T) {
	ctx := context.Background()
	RecordError(ctx, nil)
	RecordError(ctx, context.DeadlineExceeded)
	SetSpanSuccess(ctx)
}

func TestKeyValueConvertsSupportedTypes(t *testing.T) {
	cases := []struct {
		value any
		want  attribute.Value
	}{
		{"x", attribute.StringValue("x")},
		{7, attribute.IntValue(7)},
		{int64(8), attribute.Int64Value(8)},
		{1.5, attribute.Float64Value(1.5)},
		{true, attribute.BoolValue(true)},
	}
	for _, c := range cases {
		kv := KeyValue("k", c.value)
		if kv.Value.Type() != c.want.Type() {
			t.Fatalf("KeyValue(%v) type = %v, want %v", c.value, kv.Value.Type(), c.want.Type())
		}
	}
}
