package sending_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/xraph/courier/deadletter"
	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/retry"
	"github.com/xraph/courier/sending"
	"github.com/xraph/courier/store/memory"
)

func newDurable(t *testing.T, s *memory.Store, sender *fakeSender, maxAttempts int) (*sending.Agent, *sending.DurableCallback) {
	t.Helper()
	agent := sending.NewAgent(sender)
	cb := sending.NewDurableCallback(agent, s, deadletter.NewService(s, "node-1"), sending.CallbackConfig{
		FailuresBeforeCircuitBreaks: 3,
		PingInterval:                10 * time.Millisecond,
		Policies:                    retry.NewPolicies(retry.Policy{MaxAttempts: maxAttempts}),
	})
	t.Cleanup(func() {
		_ = cb.Close()
		_ = agent.Close(context.Background())
	})
	return agent, cb
}

func TestDurableCallback_DeletesTransmitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	sender := newFakeSender("local://orders")
	agent, cb := newDurable(t, s, sender, 3)

	env := newOutgoing("local://orders")
	_ = s.StoreOutgoing(ctx, 1, env)
	if err := agent.Start(ctx, cb); err != nil {
		t.Fatalf("Start: %v", err)
	}
	agent.Enqueue(env)

	waitFor(t, "outbox delete", func() bool {
		out, _ := s.AllOutgoingEnvelopes(ctx)
		return len(out) == 0
	})
}

func TestDurableCallback_LatchesAndRecovers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	sender := newFakeSender("local://orders")
	agent, cb := newDurable(t, s, sender, 100)

	if err := agent.Start(ctx, cb); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sender.setFailure(errors.New("broker down"), errors.New("broker down"))
	var envs []*envelope.Envelope
	for range 3 {
		env := newOutgoing("local://orders")
		envs = append(envs, env)
	}
	_ = s.StoreOutgoing(ctx, 1, envs...)
	for _, env := range envs {
		agent.Enqueue(env)
	}

	waitFor(t, "circuit to open", agent.Latched)
	if cb.State() != gobreaker.StateOpen && cb.State() != gobreaker.StateHalfOpen {
		t.Fatalf("breaker state = %v, want open", cb.State())
	}

	// Destination recovers: the ping loop unlatches and the queue drains.
	sender.setFailure(nil, nil)
	waitFor(t, "unlatch", func() bool { return !agent.Latched() })
	waitFor(t, "outbox drained", func() bool {
		out, _ := s.AllOutgoingEnvelopes(ctx)
		return len(out) == 0
	})
	if sender.pings() == 0 {
		t.Error("destination was never pinged")
	}
}

func TestDurableCallback_DeadLettersExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	sender := newFakeSender("local://orders")
	agent, cb := newDurable(t, s, sender, 2)

	env := newOutgoing("local://orders")
	env.Attempts = 1
	_ = s.StoreOutgoing(ctx, 1, env)

	if err := cb.ProcessingFailure(ctx, env, errors.New("rejected")); err != nil {
		t.Fatalf("ProcessingFailure: %v", err)
	}

	if out, _ := s.AllOutgoingEnvelopes(ctx); len(out) != 0 {
		t.Fatalf("outbox still has %d rows", len(out))
	}
	report, err := s.LoadDeadLetterEnvelope(ctx, env.ID)
	if err != nil {
		t.Fatalf("LoadDeadLetterEnvelope: %v", err)
	}
	if report.ExceptionMessage != "rejected" {
		t.Errorf("ExceptionMessage = %q", report.ExceptionMessage)
	}
	if agent.QueuedCount() != 0 {
		t.Error("dead-lettered envelope was requeued")
	}
}

func TestDurableCallback_RetryRequeues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	agent, cb := newDurable(t, s, newFakeSender("local://orders"), 5)

	env := newOutgoing("local://orders")
	if err := cb.ProcessingFailure(ctx, env, errors.New("timeout")); err != nil {
		t.Fatalf("ProcessingFailure: %v", err)
	}
	if env.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", env.Attempts)
	}
	if agent.QueuedCount() != 1 {
		t.Errorf("QueuedCount = %d, want 1", agent.QueuedCount())
	}
}

func TestDurableCallback_IgnoresPings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	agent, cb := newDurable(t, s, newFakeSender("local://orders"), 1)

	ping := envelope.ForPing("local://orders")
	if err := cb.ProcessingFailure(ctx, ping, errors.New("down")); err != nil {
		t.Fatalf("ProcessingFailure: %v", err)
	}
	if _, err := s.LoadDeadLetterEnvelope(ctx, ping.ID); err == nil {
		t.Fatal("ping was dead-lettered")
	}
	if agent.QueuedCount() != 0 {
		t.Fatal("ping was requeued")
	}
}
