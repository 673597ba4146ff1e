// Package worker executes incoming envelopes. An Executor runs one
// envelope through middleware and the handler registry and applies the
// retry policy to the outcome; a Pool feeds a bounded local queue to a
// fixed set of worker goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/deadletter"
	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/handler"
	"github.com/xraph/courier/middleware"
	"github.com/xraph/courier/retry"
)

// Store is the part of the incoming store the executor updates.
type Store interface {
	IncrementIncomingAttempts(ctx context.Context, env *envelope.Envelope) error
	DeleteIncomingEnvelopes(ctx context.Context, envs ...*envelope.Envelope) error
	ScheduleExecution(ctx context.Context, envs ...*envelope.Envelope) error
}

// Outcome is what the executor did with an envelope.
type Outcome int

const (
	// OutcomeSucceeded means the handler completed and the row was deleted.
	OutcomeSucceeded Outcome = iota
	// OutcomeRetry means the envelope should be requeued locally now.
	OutcomeRetry
	// OutcomeScheduled means the envelope was persisted for a later attempt.
	OutcomeScheduled
	// OutcomeDeadLettered means the envelope was moved to dead letter storage.
	OutcomeDeadLettered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRetry:
		return "retry"
	case OutcomeScheduled:
		return "scheduled"
	case OutcomeDeadLettered:
		return "dead-lettered"
	default:
		return "unknown"
	}
}

// Executor runs a single envelope through middleware and the dispatcher,
// then applies the retry policy, updates the store and emits lifecycle
// events.
type Executor struct {
	dispatcher handler.Dispatcher
	policies   *retry.Policies
	store      Store
	dead       *deadletter.Service
	extensions *ext.Registry
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	dispatcher handler.Dispatcher,
	policies *retry.Policies,
	store Store,
	dead *deadletter.Service,
	extensions *ext.Registry,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Executor{
		dispatcher: dispatcher,
		policies:   policies,
		store:      store,
		dead:       dead,
		extensions: extensions,
		mw:         middleware.Chain(mws...),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs env through the middleware chain and the dispatcher.
//
// On success the envelope is deleted from the incoming table. On failure
// the attempt counter is incremented and the message type's policy
// decides between an immediate local retry, a scheduled retry, and dead
// lettering. The returned error is only non-nil when the store could not
// record the outcome; the envelope then stays persisted and owned, and is
// picked up again after this node's ownership is released.
func (e *Executor) Execute(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
	start := time.Now()

	terminal := func(ctx context.Context) error {
		return e.dispatcher.Dispatch(ctx, env)
	}
	err := e.mw(ctx, env, terminal)
	elapsed := time.Since(start)

	// The outcome is recorded even when the handler was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		return e.handleFailure(ctx, env, err)
	}
	return e.handleSuccess(ctx, env, elapsed)
}

func (e *Executor) handleSuccess(ctx context.Context, env *envelope.Envelope, elapsed time.Duration) (Outcome, error) {
	if err := e.store.DeleteIncomingEnvelopes(ctx, env); err != nil {
		e.logger.Error("failed to delete handled envelope",
			slog.String("envelope_id", env.ID.String()),
			slog.String("message_type", env.MessageType),
			slog.String("error", err.Error()),
		)
		return OutcomeSucceeded, err
	}

	e.extensions.EmitEnvelopeSucceeded(ctx, env, elapsed)
	return OutcomeSucceeded, nil
}

func (e *Executor) handleFailure(ctx context.Context, env *envelope.Envelope, cause error) (Outcome, error) {
	env.Attempts++
	now := e.now()
	decision := e.policies.For(env.MessageType).Decide(env, cause, now)

	switch decision.Action {
	case retry.ActionDeadLetter:
		return e.deadLetter(ctx, env, cause, decision.Reason)
	case retry.ActionSchedule:
		return e.schedule(ctx, env, now.Add(decision.Delay))
	default:
		return e.retryNow(ctx, env)
	}
}

func (e *Executor) retryNow(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
	if err := e.store.IncrementIncomingAttempts(ctx, env); err != nil {
		e.logger.Error("failed to record envelope attempt",
			slog.String("envelope_id", env.ID.String()),
			slog.String("error", err.Error()),
		)
		return OutcomeRetry, err
	}

	e.extensions.EmitEnvelopeRetrying(ctx, env, env.Attempts)
	e.logger.Debug("envelope requeued",
		slog.String("envelope_id", env.ID.String()),
		slog.String("message_type", env.MessageType),
		slog.Int("attempts", env.Attempts),
	)
	return OutcomeRetry, nil
}

func (e *Executor) schedule(ctx context.Context, env *envelope.Envelope, at time.Time) (Outcome, error) {
	env.ScheduleAt(at)
	if err := e.store.ScheduleExecution(ctx, env); err != nil {
		e.logger.Error("failed to schedule envelope retry",
			slog.String("envelope_id", env.ID.String()),
			slog.String("error", err.Error()),
		)
		return OutcomeScheduled, err
	}

	e.extensions.EmitEnvelopeScheduled(ctx, env, at)
	e.logger.Info("envelope scheduled for retry",
		slog.String("envelope_id", env.ID.String()),
		slog.String("message_type", env.MessageType),
		slog.Int("attempts", env.Attempts),
		slog.Time("execution_time", at),
	)
	return OutcomeScheduled, nil
}

func (e *Executor) deadLetter(ctx context.Context, env *envelope.Envelope, cause error, reason string) (Outcome, error) {
	if e.dead == nil {
		return OutcomeDeadLettered, errors.New("worker: no dead letter service")
	}
	if _, err := e.dead.Push(ctx, env, cause, reason); err != nil {
		e.logger.Error("failed to dead-letter envelope",
			slog.String("envelope_id", env.ID.String()),
			slog.String("error", err.Error()),
		)
		return OutcomeDeadLettered, fmt.Errorf("worker: dead letter %s: %w", env.ID, err)
	}

	e.extensions.EmitEnvelopeDeadLettered(ctx, env, reason)
	e.logger.Warn("envelope dead-lettered",
		slog.String("envelope_id", env.ID.String()),
		slog.String("message_type", env.MessageType),
		slog.Int("attempts", env.Attempts),
		slog.String("reason", reason),
		slog.String("error", cause.Error()),
	)
	return OutcomeDeadLettered, nil
}
