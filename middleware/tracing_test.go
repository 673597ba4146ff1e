package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	mw "github.com/xraph/courier/middleware"
)

// traced runs one envelope through tracing middleware and returns the
// single ended span plus the span context the handler observed.
func traced(t *testing.T, handlerErr error) (sdktrace.ReadOnlySpan, trace.SpanContext, error) {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	m := mw.TracingWithTracer(tp.Tracer("courier-test"))

	var inner trace.SpanContext
	err := m(context.Background(), newTestEnvelope(), func(ctx context.Context) error {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return handlerErr
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	return spans[0], inner, err
}

func TestTracing_SpanShape(t *testing.T) {
	t.Parallel()

	span, inner, err := traced(t, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if span.Name() != "courier.envelope.execute" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.SpanKind() != trace.SpanKindConsumer {
		t.Errorf("span kind = %v, want consumer", span.SpanKind())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}
	if !inner.IsValid() || inner.SpanID() != span.SpanContext().SpanID() {
		t.Error("handler context does not carry the execute span")
	}

	got := make(map[string]string)
	for _, kv := range span.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"courier.message_type":   "OrderPlaced",
		"courier.attempts":       "2",
		"courier.correlation_id": "corr-1",
		"courier.saga_id":        "saga-9",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, got[k], v)
		}
	}
	if got["courier.envelope.id"] == "" {
		t.Error("missing courier.envelope.id")
	}
}

func TestTracing_HandlerFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("handler failed")
	span, _, err := traced(t, boom)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	if st := span.Status(); st.Code != codes.Error || st.Description != boom.Error() {
		t.Errorf("status = %v %q", st.Code, st.Description)
	}

	var recorded bool
	for _, ev := range span.Events() {
		recorded = recorded || ev.Name == "exception"
	}
	if !recorded {
		t.Error("no exception event on span")
	}
}

func TestTracing_GlobalProviderIsNoop(t *testing.T) {
	t.Parallel()

	var ran bool
	err := mw.Tracing()(context.Background(), newTestEnvelope(), func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("ran = %v, err = %v", ran, err)
	}
}
