package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.EnvelopeReceived     = (*MetricsExtension)(nil)
	_ ext.EnvelopeSucceeded    = (*MetricsExtension)(nil)
	_ ext.EnvelopeRetrying     = (*MetricsExtension)(nil)
	_ ext.EnvelopeScheduled    = (*MetricsExtension)(nil)
	_ ext.EnvelopeDeadLettered = (*MetricsExtension)(nil)
	_ ext.EnvelopeSent         = (*MetricsExtension)(nil)
	_ ext.SendFailed           = (*MetricsExtension)(nil)
	_ ext.CircuitBroken        = (*MetricsExtension)(nil)
	_ ext.CircuitResumed       = (*MetricsExtension)(nil)
	_ ext.NodeReassigned       = (*MetricsExtension)(nil)
	_ ext.EnvelopesRecovered   = (*MetricsExtension)(nil)
	_ ext.ScheduledReleased    = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/courier/observability"

// MetricsExtension records system-wide lifecycle counters. Register it
// on the engine's extension registry.
type MetricsExtension struct {
	Received       metric.Int64Counter
	Succeeded      metric.Int64Counter
	Retried        metric.Int64Counter
	Scheduled      metric.Int64Counter
	DeadLettered   metric.Int64Counter
	Sent           metric.Int64Counter
	SendFailures   metric.Int64Counter
	CircuitBroken  metric.Int64Counter
	CircuitResumed metric.Int64Counter
	Reassigned     metric.Int64Counter
	Recovered      metric.Int64Counter
	Released       metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API returns a noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		Received:       counter("courier.envelope.received", "Envelopes accepted into the incoming table"),
		Succeeded:      counter("courier.envelope.succeeded", "Envelopes handled successfully"),
		Retried:        counter("courier.envelope.retried", "Envelopes requeued locally after a failure"),
		Scheduled:      counter("courier.envelope.scheduled", "Envelopes scheduled for a later attempt"),
		DeadLettered:   counter("courier.envelope.dead_lettered", "Envelopes moved to dead letter storage"),
		Sent:           counter("courier.envelope.sent", "Envelopes acknowledged by a transport"),
		SendFailures:   counter("courier.envelope.send_failures", "Failed transmission attempts"),
		CircuitBroken:  counter("courier.circuit.broken", "Sending agents latched"),
		CircuitResumed: counter("courier.circuit.resumed", "Sending agents resumed"),
		Reassigned:     counter("courier.node.reassigned", "Dormant node owners released to any node"),
		Recovered:      counter("courier.envelope.recovered", "Unowned envelopes claimed by recovery"),
		Released:       counter("courier.scheduled.released", "Scheduled envelopes released for execution"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func messageType(env *envelope.Envelope) metric.AddOption {
	return metric.WithAttributes(attribute.String("message_type", env.MessageType))
}

func destination(dest string) metric.AddOption {
	return metric.WithAttributes(attribute.String("destination", dest))
}

// ── Incoming ────────────────────────────────────────

// OnEnvelopeReceived implements ext.EnvelopeReceived.
func (m *MetricsExtension) OnEnvelopeReceived(ctx context.Context, env *envelope.Envelope) error {
	m.Received.Add(ctx, 1, messageType(env))
	return nil
}

// OnEnvelopeSucceeded implements ext.EnvelopeSucceeded.
func (m *MetricsExtension) OnEnvelopeSucceeded(ctx context.Context, env *envelope.Envelope, _ time.Duration) error {
	m.Succeeded.Add(ctx, 1, messageType(env))
	return nil
}

// OnEnvelopeRetrying implements ext.EnvelopeRetrying.
func (m *MetricsExtension) OnEnvelopeRetrying(ctx context.Context, env *envelope.Envelope, _ int) error {
	m.Retried.Add(ctx, 1, messageType(env))
	return nil
}

// OnEnvelopeScheduled implements ext.EnvelopeScheduled.
func (m *MetricsExtension) OnEnvelopeScheduled(ctx context.Context, env *envelope.Envelope, _ time.Time) error {
	m.Scheduled.Add(ctx, 1, messageType(env))
	return nil
}

// OnEnvelopeDeadLettered implements ext.EnvelopeDeadLettered.
func (m *MetricsExtension) OnEnvelopeDeadLettered(ctx context.Context, env *envelope.Envelope, _ string) error {
	m.DeadLettered.Add(ctx, 1, messageType(env))
	return nil
}

// ── Outgoing ────────────────────────────────────────

// OnEnvelopeSent implements ext.EnvelopeSent.
func (m *MetricsExtension) OnEnvelopeSent(ctx context.Context, env *envelope.Envelope) error {
	m.Sent.Add(ctx, 1, destination(env.Destination))
	return nil
}

// OnSendFailed implements ext.SendFailed.
func (m *MetricsExtension) OnSendFailed(ctx context.Context, env *envelope.Envelope, _ error) error {
	m.SendFailures.Add(ctx, 1, destination(env.Destination))
	return nil
}

// OnCircuitBroken implements ext.CircuitBroken.
func (m *MetricsExtension) OnCircuitBroken(ctx context.Context, dest string) error {
	m.CircuitBroken.Add(ctx, 1, destination(dest))
	return nil
}

// OnCircuitResumed implements ext.CircuitResumed.
func (m *MetricsExtension) OnCircuitResumed(ctx context.Context, dest string) error {
	m.CircuitResumed.Add(ctx, 1, destination(dest))
	return nil
}

// ── Durability ──────────────────────────────────────

// OnNodeReassigned implements ext.NodeReassigned.
func (m *MetricsExtension) OnNodeReassigned(ctx context.Context, _ envelope.NodeID) error {
	m.Reassigned.Add(ctx, 1)
	return nil
}

// OnEnvelopesRecovered implements ext.EnvelopesRecovered.
func (m *MetricsExtension) OnEnvelopesRecovered(ctx context.Context, kind string, count int) error {
	m.Recovered.Add(ctx, int64(count), metric.WithAttributes(attribute.String("kind", kind)))
	return nil
}

// OnScheduledReleased implements ext.ScheduledReleased.
func (m *MetricsExtension) OnScheduledReleased(ctx context.Context, env *envelope.Envelope) error {
	m.Released.Add(ctx, 1, messageType(env))
	return nil
}
