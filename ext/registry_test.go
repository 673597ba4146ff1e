package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/courier/durability"
	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/scheduled"
	"github.com/xraph/courier/sending"
)

// The registry is the emitter every subsystem is wired with.
var (
	_ durability.Emitter = (*ext.Registry)(nil)
	_ scheduled.Emitter  = (*ext.Registry)(nil)
	_ sending.Emitter    = (*ext.Registry)(nil)
	_ sending.Observer   = (*ext.Registry)(nil)
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnEnvelopeReceived(context.Context, *envelope.Envelope) error {
	return e.record("OnEnvelopeReceived")
}

func (e *allHooksExt) OnEnvelopeSucceeded(context.Context, *envelope.Envelope, time.Duration) error {
	return e.record("OnEnvelopeSucceeded")
}

func (e *allHooksExt) OnEnvelopeRetrying(context.Context, *envelope.Envelope, int) error {
	return e.record("OnEnvelopeRetrying")
}

func (e *allHooksExt) OnEnvelopeScheduled(context.Context, *envelope.Envelope, time.Time) error {
	return e.record("OnEnvelopeScheduled")
}

func (e *allHooksExt) OnEnvelopeDeadLettered(context.Context, *envelope.Envelope, string) error {
	return e.record("OnEnvelopeDeadLettered")
}

func (e *allHooksExt) OnEnvelopeSent(context.Context, *envelope.Envelope) error {
	return e.record("OnEnvelopeSent")
}

func (e *allHooksExt) OnSendFailed(context.Context, *envelope.Envelope, error) error {
	return e.record("OnSendFailed")
}

func (e *allHooksExt) OnCircuitBroken(context.Context, string) error {
	return e.record("OnCircuitBroken")
}

func (e *allHooksExt) OnCircuitResumed(context.Context, string) error {
	return e.record("OnCircuitResumed")
}

func (e *allHooksExt) OnNodeReassigned(context.Context, envelope.NodeID) error {
	return e.record("OnNodeReassigned")
}

func (e *allHooksExt) OnEnvelopesRecovered(context.Context, string, int) error {
	return e.record("OnEnvelopesRecovered")
}

func (e *allHooksExt) OnScheduledReleased(context.Context, *envelope.Envelope) error {
	return e.record("OnScheduledReleased")
}

func (e *allHooksExt) OnShutdown(context.Context) error {
	return e.record("OnShutdown")
}

// sentOnlyExt only implements the outgoing success hook.
type sentOnlyExt struct {
	calls int
}

func (e *sentOnlyExt) Name() string { return "sent-only" }

func (e *sentOnlyExt) OnEnvelopeSent(context.Context, *envelope.Envelope) error {
	e.calls++
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnEnvelopeSent(context.Context, *envelope.Envelope) error {
	return errors.New("boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	sent := &sentOnlyExt{}
	r.Register(all)
	r.Register(sent)

	ctx := context.Background()
	env := envelope.New("OrderPlaced", nil)

	r.EmitEnvelopeSent(ctx, env)
	r.EmitSendFailed(ctx, env, errors.New("refused"))

	if len(all.calls) != 2 {
		t.Fatalf("all: expected 2 calls, got %v", all.calls)
	}
	if sent.calls != 1 {
		t.Fatalf("sent-only: expected 1 call, got %d", sent.calls)
	}
	if got := len(r.Extensions()); got != 2 {
		t.Fatalf("expected 2 extensions, got %d", got)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	env := envelope.New("OrderPlaced", nil)

	r.EmitEnvelopeReceived(ctx, env)
	r.EmitEnvelopeSucceeded(ctx, env, time.Second)
	r.EmitEnvelopeRetrying(ctx, env, 1)
	r.EmitEnvelopeScheduled(ctx, env, time.Now())
	r.EmitEnvelopeDeadLettered(ctx, env, "exhausted")
	r.EmitEnvelopeSent(ctx, env)
	r.EmitSendFailed(ctx, env, errors.New("x"))
	r.EmitCircuitBroken(ctx, "local://orders")
	r.EmitCircuitResumed(ctx, "local://orders")
	r.EmitNodeReassigned(ctx, 3)
	r.EmitEnvelopesRecovered(ctx, "incoming", 4)
	r.EmitScheduledReleased(ctx, env)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnEnvelopeReceived", "OnEnvelopeSucceeded", "OnEnvelopeRetrying",
		"OnEnvelopeScheduled", "OnEnvelopeDeadLettered", "OnEnvelopeSent",
		"OnSendFailed", "OnCircuitBroken", "OnCircuitResumed",
		"OnNodeReassigned", "OnEnvelopesRecovered", "OnScheduledReleased",
		"OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(&failingExt{})
	r.Register(all)

	r.EmitEnvelopeSent(context.Background(), envelope.New("OrderPlaced", nil))

	if len(all.calls) != 1 || all.calls[0] != "OnEnvelopeSent" {
		t.Fatalf("all: expected [OnEnvelopeSent] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()
	env := envelope.New("OrderPlaced", nil)

	r.EmitEnvelopeReceived(ctx, env)
	r.EmitEnvelopeDeadLettered(ctx, env, "x")
	r.EmitCircuitBroken(ctx, "x")
	r.EmitNodeReassigned(ctx, 1)
	r.EmitShutdown(ctx)
}
