package ext

import (
	"context"
	"time"

	"github.com/xraph/courier/envelope"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Incoming pipeline hooks
// ──────────────────────────────────────────────────

// EnvelopeReceived is called after an incoming envelope is persisted.
type EnvelopeReceived interface {
	OnEnvelopeReceived(ctx context.Context, env *envelope.Envelope) error
}

// EnvelopeSucceeded is called after a handler completes and the envelope
// is deleted from the incoming table.
type EnvelopeSucceeded interface {
	OnEnvelopeSucceeded(ctx context.Context, env *envelope.Envelope, elapsed time.Duration) error
}

// EnvelopeRetrying is called when a failed envelope is requeued locally.
type EnvelopeRetrying interface {
	OnEnvelopeRetrying(ctx context.Context, env *envelope.Envelope, attempt int) error
}

// EnvelopeScheduled is called when a failed envelope is scheduled for a
// later attempt.
type EnvelopeScheduled interface {
	OnEnvelopeScheduled(ctx context.Context, env *envelope.Envelope, at time.Time) error
}

// EnvelopeDeadLettered is called when an incoming or outgoing envelope is
// moved to dead letter storage.
type EnvelopeDeadLettered interface {
	OnEnvelopeDeadLettered(ctx context.Context, env *envelope.Envelope, reason string) error
}

// ──────────────────────────────────────────────────
// Outgoing pipeline hooks
// ──────────────────────────────────────────────────

// EnvelopeSent is called after a transport acknowledged an envelope.
type EnvelopeSent interface {
	OnEnvelopeSent(ctx context.Context, env *envelope.Envelope) error
}

// SendFailed is called for every failed transmission attempt.
type SendFailed interface {
	OnSendFailed(ctx context.Context, env *envelope.Envelope, err error) error
}

// CircuitBroken is called when a sending agent latches.
type CircuitBroken interface {
	OnCircuitBroken(ctx context.Context, destination string) error
}

// CircuitResumed is called when a latched sending agent resumes.
type CircuitResumed interface {
	OnCircuitResumed(ctx context.Context, destination string) error
}

// ──────────────────────────────────────────────────
// Durability hooks
// ──────────────────────────────────────────────────

// NodeReassigned is called after a dormant node's work was released to
// any node.
type NodeReassigned interface {
	OnNodeReassigned(ctx context.Context, owner envelope.NodeID) error
}

// EnvelopesRecovered is called after a recovery pass claimed unowned
// envelopes. Kind is "incoming" or "outgoing".
type EnvelopesRecovered interface {
	OnEnvelopesRecovered(ctx context.Context, kind string, count int) error
}

// ScheduledReleased is called when a due scheduled envelope is handed to
// the incoming pipeline.
type ScheduledReleased interface {
	OnScheduledReleased(ctx context.Context, env *envelope.Envelope) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
