package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/envelope"
)

// tracerName is the instrumentation scope name for courier tracing.
const tracerName = "github.com/xraph/courier"

// Tracing returns middleware that wraps envelope execution in an
// OpenTelemetry span using the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: courier.envelope.id, courier.message_type,
// courier.attempts, courier.correlation_id, courier.saga_id.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, env *envelope.Envelope, next Handler) error {
		ctx, span := tracer.Start(ctx, "courier.envelope.execute",
			trace.WithAttributes(
				attribute.String("courier.envelope.id", env.ID.String()),
				attribute.String("courier.message_type", env.MessageType),
				attribute.Int("courier.attempts", env.Attempts),
				attribute.String("courier.correlation_id", env.CorrelationID),
				attribute.String("courier.saga_id", env.SagaID),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
