package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/envelope"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// collect appends e to list when it implements H.
func collect[H any](list []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name, h})
	}
	return list
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. Extensions are type-cached at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register is not safe to call concurrently with the emit methods; all
// extensions are registered while the engine is being built.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	received     []entry[EnvelopeReceived]
	succeeded    []entry[EnvelopeSucceeded]
	retrying     []entry[EnvelopeRetrying]
	scheduled    []entry[EnvelopeScheduled]
	deadLettered []entry[EnvelopeDeadLettered]
	sent         []entry[EnvelopeSent]
	sendFailed   []entry[SendFailed]
	broken       []entry[CircuitBroken]
	resumed      []entry[CircuitResumed]
	reassigned   []entry[NodeReassigned]
	recovered    []entry[EnvelopesRecovered]
	released     []entry[ScheduledReleased]
	shutdown     []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.received = collect(r.received, name, e)
	r.succeeded = collect(r.succeeded, name, e)
	r.retrying = collect(r.retrying, name, e)
	r.scheduled = collect(r.scheduled, name, e)
	r.deadLettered = collect(r.deadLettered, name, e)
	r.sent = collect(r.sent, name, e)
	r.sendFailed = collect(r.sendFailed, name, e)
	r.broken = collect(r.broken, name, e)
	r.resumed = collect(r.resumed, name, e)
	r.reassigned = collect(r.reassigned, name, e)
	r.recovered = collect(r.recovered, name, e)
	r.released = collect(r.released, name, e)
	r.shutdown = collect(r.shutdown, name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Incoming emitters
// ──────────────────────────────────────────────────

// EmitEnvelopeReceived notifies all extensions that implement EnvelopeReceived.
func (r *Registry) EmitEnvelopeReceived(ctx context.Context, env *envelope.Envelope) {
	for _, e := range r.received {
		if err := e.hook.OnEnvelopeReceived(ctx, env); err != nil {
			r.logHookError("OnEnvelopeReceived", e.name, err)
		}
	}
}

// EmitEnvelopeSucceeded notifies all extensions that implement EnvelopeSucceeded.
func (r *Registry) EmitEnvelopeSucceeded(ctx context.Context, env *envelope.Envelope, elapsed time.Duration) {
	for _, e := range r.succeeded {
		if err := e.hook.OnEnvelopeSucceeded(ctx, env, elapsed); err != nil {
			r.logHookError("OnEnvelopeSucceeded", e.name, err)
		}
	}
}

// EmitEnvelopeRetrying notifies all extensions that implement EnvelopeRetrying.
func (r *Registry) EmitEnvelopeRetrying(ctx context.Context, env *envelope.Envelope, attempt int) {
	for _, e := range r.retrying {
		if err := e.hook.OnEnvelopeRetrying(ctx, env, attempt); err != nil {
			r.logHookError("OnEnvelopeRetrying", e.name, err)
		}
	}
}

// EmitEnvelopeScheduled notifies all extensions that implement EnvelopeScheduled.
func (r *Registry) EmitEnvelopeScheduled(ctx context.Context, env *envelope.Envelope, at time.Time) {
	for _, e := range r.scheduled {
		if err := e.hook.OnEnvelopeScheduled(ctx, env, at); err != nil {
			r.logHookError("OnEnvelopeScheduled", e.name, err)
		}
	}
}

// EmitEnvelopeDeadLettered notifies all extensions that implement EnvelopeDeadLettered.
func (r *Registry) EmitEnvelopeDeadLettered(ctx context.Context, env *envelope.Envelope, reason string) {
	for _, e := range r.deadLettered {
		if err := e.hook.OnEnvelopeDeadLettered(ctx, env, reason); err != nil {
			r.logHookError("OnEnvelopeDeadLettered", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Outgoing emitters
// ──────────────────────────────────────────────────

// EmitEnvelopeSent notifies all extensions that implement EnvelopeSent.
func (r *Registry) EmitEnvelopeSent(ctx context.Context, env *envelope.Envelope) {
	for _, e := range r.sent {
		if err := e.hook.OnEnvelopeSent(ctx, env); err != nil {
			r.logHookError("OnEnvelopeSent", e.name, err)
		}
	}
}

// EmitSendFailed notifies all extensions that implement SendFailed.
func (r *Registry) EmitSendFailed(ctx context.Context, env *envelope.Envelope, sendErr error) {
	for _, e := range r.sendFailed {
		if err := e.hook.OnSendFailed(ctx, env, sendErr); err != nil {
			r.logHookError("OnSendFailed", e.name, err)
		}
	}
}

// EmitCircuitBroken notifies all extensions that implement CircuitBroken.
func (r *Registry) EmitCircuitBroken(ctx context.Context, destination string) {
	for _, e := range r.broken {
		if err := e.hook.OnCircuitBroken(ctx, destination); err != nil {
			r.logHookError("OnCircuitBroken", e.name, err)
		}
	}
}

// EmitCircuitResumed notifies all extensions that implement CircuitResumed.
func (r *Registry) EmitCircuitResumed(ctx context.Context, destination string) {
	for _, e := range r.resumed {
		if err := e.hook.OnCircuitResumed(ctx, destination); err != nil {
			r.logHookError("OnCircuitResumed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Durability emitters
// ──────────────────────────────────────────────────

// EmitNodeReassigned notifies all extensions that implement NodeReassigned.
func (r *Registry) EmitNodeReassigned(ctx context.Context, owner envelope.NodeID) {
	for _, e := range r.reassigned {
		if err := e.hook.OnNodeReassigned(ctx, owner); err != nil {
			r.logHookError("OnNodeReassigned", e.name, err)
		}
	}
}

// EmitEnvelopesRecovered notifies all extensions that implement EnvelopesRecovered.
func (r *Registry) EmitEnvelopesRecovered(ctx context.Context, kind string, count int) {
	for _, e := range r.recovered {
		if err := e.hook.OnEnvelopesRecovered(ctx, kind, count); err != nil {
			r.logHookError("OnEnvelopesRecovered", e.name, err)
		}
	}
}

// EmitScheduledReleased notifies all extensions that implement ScheduledReleased.
func (r *Registry) EmitScheduledReleased(ctx context.Context, env *envelope.Envelope) {
	for _, e := range r.released {
		if err := e.hook.OnScheduledReleased(ctx, env); err != nil {
			r.logHookError("OnScheduledReleased", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
