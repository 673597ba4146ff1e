package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*Extension)(nil)
	_ ext.EnvelopeReceived     = (*Extension)(nil)
	_ ext.EnvelopeSucceeded    = (*Extension)(nil)
	_ ext.EnvelopeRetrying     = (*Extension)(nil)
	_ ext.EnvelopeScheduled    = (*Extension)(nil)
	_ ext.EnvelopeDeadLettered = (*Extension)(nil)
	_ ext.EnvelopeSent         = (*Extension)(nil)
	_ ext.SendFailed           = (*Extension)(nil)
	_ ext.CircuitBroken        = (*Extension)(nil)
	_ ext.CircuitResumed       = (*Extension)(nil)
	_ ext.NodeReassigned       = (*Extension)(nil)
	_ ext.EnvelopesRecovered   = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc adapts a plain function to Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension records courier lifecycle events through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that records through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Incoming pipeline ───────────────────────────────

// OnEnvelopeReceived implements ext.EnvelopeReceived.
func (e *Extension) OnEnvelopeReceived(ctx context.Context, env *envelope.Envelope) error {
	return e.recordEnvelope(ctx, ActionEnvelopeReceived, SeverityInfo, OutcomeSuccess, CategoryIncoming, env, nil,
		"status", string(env.Status),
		"owner_id", int(env.OwnerID),
	)
}

// OnEnvelopeSucceeded implements ext.EnvelopeSucceeded.
func (e *Extension) OnEnvelopeSucceeded(ctx context.Context, env *envelope.Envelope, elapsed time.Duration) error {
	return e.recordEnvelope(ctx, ActionEnvelopeSucceeded, SeverityInfo, OutcomeSuccess, CategoryIncoming, env, nil,
		"elapsed_ms", elapsed.Milliseconds(),
		"attempts", env.Attempts,
	)
}

// OnEnvelopeRetrying implements ext.EnvelopeRetrying.
func (e *Extension) OnEnvelopeRetrying(ctx context.Context, env *envelope.Envelope, attempt int) error {
	return e.recordEnvelope(ctx, ActionEnvelopeRetrying, SeverityWarning, OutcomeFailure, CategoryIncoming, env, nil,
		"attempt", attempt,
	)
}

// OnEnvelopeScheduled implements ext.EnvelopeScheduled.
func (e *Extension) OnEnvelopeScheduled(ctx context.Context, env *envelope.Envelope, at time.Time) error {
	return e.recordEnvelope(ctx, ActionEnvelopeScheduled, SeverityInfo, OutcomeSuccess, CategoryIncoming, env, nil,
		"execution_time", at.Format(time.RFC3339),
		"attempts", env.Attempts,
	)
}

// OnEnvelopeDeadLettered implements ext.EnvelopeDeadLettered.
func (e *Extension) OnEnvelopeDeadLettered(ctx context.Context, env *envelope.Envelope, reason string) error {
	return e.recordEnvelope(ctx, ActionEnvelopeDeadLettered, SeverityCritical, OutcomeFailure, CategoryIncoming, env, nil,
		"reason", reason,
		"attempts", env.Attempts,
	)
}

// ── Outgoing pipeline ───────────────────────────────

// OnEnvelopeSent implements ext.EnvelopeSent.
func (e *Extension) OnEnvelopeSent(ctx context.Context, env *envelope.Envelope) error {
	return e.recordEnvelope(ctx, ActionEnvelopeSent, SeverityInfo, OutcomeSuccess, CategoryOutgoing, env, nil,
		"destination", env.Destination,
	)
}

// OnSendFailed implements ext.SendFailed.
func (e *Extension) OnSendFailed(ctx context.Context, env *envelope.Envelope, sendErr error) error {
	return e.recordEnvelope(ctx, ActionSendFailed, SeverityWarning, OutcomeFailure, CategoryOutgoing, env, sendErr,
		"destination", env.Destination,
	)
}

// OnCircuitBroken implements ext.CircuitBroken.
func (e *Extension) OnCircuitBroken(ctx context.Context, destination string) error {
	return e.record(ctx, ActionCircuitBroken, SeverityCritical, OutcomeFailure,
		ResourceDestination, destination, CategoryOutgoing, nil)
}

// OnCircuitResumed implements ext.CircuitResumed.
func (e *Extension) OnCircuitResumed(ctx context.Context, destination string) error {
	return e.record(ctx, ActionCircuitResumed, SeverityInfo, OutcomeSuccess,
		ResourceDestination, destination, CategoryOutgoing, nil)
}

// ── Durability ──────────────────────────────────────

// OnNodeReassigned implements ext.NodeReassigned.
func (e *Extension) OnNodeReassigned(ctx context.Context, owner envelope.NodeID) error {
	return e.record(ctx, ActionNodeReassigned, SeverityWarning, OutcomeSuccess,
		ResourceNode, strconv.Itoa(int(owner)), CategoryDurability, nil)
}

// OnEnvelopesRecovered implements ext.EnvelopesRecovered.
func (e *Extension) OnEnvelopesRecovered(ctx context.Context, kind string, count int) error {
	return e.record(ctx, ActionEnvelopesRecovered, SeverityInfo, OutcomeSuccess,
		ResourceNode, kind, CategoryDurability, nil,
		"count", count,
	)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) recordEnvelope(
	ctx context.Context,
	action, severity, outcome, category string,
	env *envelope.Envelope,
	err error,
	kvPairs ...any,
) error {
	kvPairs = append(kvPairs, "message_type", env.MessageType)
	if env.CorrelationID != "" {
		kvPairs = append(kvPairs, "correlation_id", env.CorrelationID)
	}
	return e.record(ctx, action, severity, outcome, ResourceEnvelope, env.ID.String(), category, err, kvPairs...)
}

// record builds and sends an audit event if the action is enabled. Recorder
// failures are logged and never fail the lifecycle step.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
