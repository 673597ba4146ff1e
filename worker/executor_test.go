package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/courier/deadletter"
	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/handler"
	"github.com/xraph/courier/middleware"
	"github.com/xraph/courier/retry"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/worker"
)

const testNode envelope.NodeID = 1

type fixture struct {
	store    *memory.Store
	handlers *handler.Registry
	policies *retry.Policies
	hooks    *hookRecorder
	executor *worker.Executor
}

func newFixture(t *testing.T, def retry.Policy) *fixture {
	t.Helper()
	s := memory.New()
	f := &fixture{
		store:    s,
		handlers: handler.NewRegistry(),
		policies: retry.NewPolicies(def),
		hooks:    &hookRecorder{},
	}
	extensions := ext.NewRegistry(slog.Default())
	extensions.Register(f.hooks)
	f.executor = worker.NewExecutor(
		f.handlers, f.policies, s, deadletter.NewService(s, "test"),
		extensions, slog.Default(),
		middleware.Recover(slog.Default()),
	)
	return f
}

// persist stores env as received by the test node.
func (f *fixture) persist(t *testing.T, env *envelope.Envelope) {
	t.Helper()
	env.MarkReceived(time.Now().UTC(), testNode)
	if err := f.store.StoreIncoming(context.Background(), env); err != nil {
		t.Fatalf("StoreIncoming: %v", err)
	}
}

type hookRecorder struct {
	events []string
}

func (h *hookRecorder) Name() string { return "recorder" }

func (h *hookRecorder) OnEnvelopeSucceeded(context.Context, *envelope.Envelope, time.Duration) error {
	h.events = append(h.events, "succeeded")
	return nil
}

func (h *hookRecorder) OnEnvelopeRetrying(context.Context, *envelope.Envelope, int) error {
	h.events = append(h.events, "retrying")
	return nil
}

func (h *hookRecorder) OnEnvelopeScheduled(context.Context, *envelope.Envelope, time.Time) error {
	h.events = append(h.events, "scheduled")
	return nil
}

func (h *hookRecorder) OnEnvelopeDeadLettered(context.Context, *envelope.Envelope, string) error {
	h.events = append(h.events, "dead-lettered")
	return nil
}

func TestExecutor_SuccessDeletesEnvelope(t *testing.T) {
	f := newFixture(t, retry.Policy{MaxAttempts: 3})
	f.handlers.Handle("OrderPlaced", func(context.Context, *envelope.Envelope) error { return nil })

	env := envelope.New("OrderPlaced", nil)
	f.persist(t, env)

	outcome, err := f.executor.Execute(context.Background(), env)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != worker.OutcomeSucceeded {
		t.Fatalf("outcome = %v, want succeeded", outcome)
	}

	counts, _ := f.store.GetPersistedCounts(context.Background())
	if counts.Incoming != 0 {
		t.Errorf("incoming = %d, want 0", counts.Incoming)
	}
	if len(f.hooks.events) != 1 || f.hooks.events[0] != "succeeded" {
		t.Errorf("events = %v", f.hooks.events)
	}
}

func TestExecutor_FailureOutcomes(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	tests := []struct {
		name         string
		policy       retry.Policy
		attempts     int
		handlerErr   error
		want         worker.Outcome
		wantIncoming int
		wantSched    int
		wantDead     int
		wantEvent    string
	}{
		{
			name:         "immediate retry",
			policy:       retry.Policy{MaxAttempts: 3},
			handlerErr:   errBoom,
			want:         worker.OutcomeRetry,
			wantIncoming: 1,
			wantEvent:    "retrying",
		},
		{
			name:       "scheduled retry",
			policy:     retry.Policy{MaxAttempts: 3, Backoff: retry.NewConstant(time.Hour)},
			handlerErr: errBoom,
			want:       worker.OutcomeScheduled,
			wantSched:  1,
			wantEvent:  "scheduled",
		},
		{
			name:       "exhausted",
			policy:     retry.Policy{MaxAttempts: 3},
			attempts:   2,
			handlerErr: errBoom,
			want:       worker.OutcomeDeadLettered,
			wantDead:   1,
			wantEvent:  "dead-lettered",
		},
		{
			name:       "non retryable",
			policy:     retry.Policy{MaxAttempts: 10},
			handlerErr: retry.NonRetryable(errBoom),
			want:       worker.OutcomeDeadLettered,
			wantDead:   1,
			wantEvent:  "dead-lettered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.policy)
			f.handlers.Handle("OrderPlaced", func(context.Context, *envelope.Envelope) error {
				return tt.handlerErr
			})

			env := envelope.New("OrderPlaced", nil)
			env.Attempts = tt.attempts
			f.persist(t, env)

			outcome, err := f.executor.Execute(context.Background(), env)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if outcome != tt.want {
				t.Fatalf("outcome = %v, want %v", outcome, tt.want)
			}
			if env.Attempts != tt.attempts+1 {
				t.Errorf("attempts = %d, want %d", env.Attempts, tt.attempts+1)
			}

			counts, err := f.store.GetPersistedCounts(context.Background())
			if err != nil {
				t.Fatalf("GetPersistedCounts: %v", err)
			}
			if counts.Incoming != tt.wantIncoming || counts.Scheduled != tt.wantSched || counts.DeadLetters != tt.wantDead {
				t.Errorf("counts = %+v", counts)
			}
			if len(f.hooks.events) != 1 || f.hooks.events[0] != tt.wantEvent {
				t.Errorf("events = %v, want [%s]", f.hooks.events, tt.wantEvent)
			}
		})
	}
}

func TestExecutor_RetryPersistsAttempts(t *testing.T) {
	f := newFixture(t, retry.Policy{MaxAttempts: 5})
	f.handlers.Handle("OrderPlaced", func(context.Context, *envelope.Envelope) error {
		return errors.New("boom")
	})

	env := envelope.New("OrderPlaced", nil)
	f.persist(t, env)

	if _, err := f.executor.Execute(context.Background(), env); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	all, _ := f.store.AllIncomingEnvelopes(context.Background())
	if len(all) != 1 || all[0].Attempts != 1 {
		t.Fatalf("persisted = %+v, want one envelope with 1 attempt", all)
	}
}

func TestExecutor_MissingHandlerDeadLetters(t *testing.T) {
	f := newFixture(t, retry.Policy{MaxAttempts: 5})

	env := envelope.New("Unknown", nil)
	f.persist(t, env)

	outcome, err := f.executor.Execute(context.Background(), env)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != worker.OutcomeDeadLettered {
		t.Fatalf("outcome = %v, want dead-lettered", outcome)
	}

	reports, _ := f.store.ListDeadLetters(context.Background(), deadletter.ListOpts{})
	if len(reports) != 1 || reports[0].MessageType != "Unknown" {
		t.Fatalf("reports = %+v", reports)
	}
}

func TestExecutor_PanicIsRetried(t *testing.T) {
	f := newFixture(t, retry.Policy{MaxAttempts: 3})
	f.handlers.Handle("OrderPlaced", func(context.Context, *envelope.Envelope) error {
		panic("nil map")
	})

	env := envelope.New("OrderPlaced", nil)
	f.persist(t, env)

	outcome, err := f.executor.Execute(context.Background(), env)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != worker.OutcomeRetry {
		t.Fatalf("outcome = %v, want retry", outcome)
	}
}

func TestExecutor_PerTypePolicy(t *testing.T) {
	f := newFixture(t, retry.Policy{MaxAttempts: 10})
	f.policies.Set("Fragile", retry.Policy{MaxAttempts: 1})
	f.handlers.Handle("Fragile", func(context.Context, *envelope.Envelope) error {
		return errors.New("boom")
	})

	env := envelope.New("Fragile", nil)
	f.persist(t, env)

	outcome, _ := f.executor.Execute(context.Background(), env)
	if outcome != worker.OutcomeDeadLettered {
		t.Fatalf("outcome = %v, want dead-lettered", outcome)
	}
}
