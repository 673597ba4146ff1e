package durability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/courier"
	"github.com/xraph/courier/envelope"
)

// Action is one recurring durability task.
type Action interface {
	Name() string
	Execute(ctx context.Context) error
}

// Agent runs the durability actions of one node and holds the node's
// liveness lock while it runs.
type Agent struct {
	store  Store
	node   envelope.NodeID
	logger *slog.Logger

	mu        sync.Mutex
	schedules []schedule
	session   Session
	cron      *cronlib.Cron
	runCtx    context.Context
	cancel    context.CancelFunc
}

type schedule struct {
	action Action
	first  time.Duration
	every  time.Duration
}

// NewAgent creates a durability agent for node.
func NewAgent(store Store, node envelope.NodeID, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{store: store, node: node, logger: logger}
}

// Add schedules action to run first after the agent starts and then every
// interval. It must be called before Start.
func (a *Agent) Add(action Action, first, every time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.schedules = append(a.schedules, schedule{action: action, first: first, every: every})
}

// Start opens the agent's session, takes the node lock and starts the
// schedules. It fails if another live process holds the same node id.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cron != nil {
		return courier.ErrAlreadyStarted
	}

	sess, err := a.store.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("durability: open session: %w", err)
	}
	ok, err := sess.TryGetGlobalLock(ctx, int64(a.node))
	if err != nil {
		return errors.Join(fmt.Errorf("durability: node lock: %w", err), sess.Close(ctx))
	}
	if !ok {
		return errors.Join(
			fmt.Errorf("%w: node %d is held by another live session", courier.ErrInvalidNodeID, a.node),
			sess.Close(ctx),
		)
	}
	a.session = sess

	a.runCtx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))

	logger := cronLogger{a.logger}
	c := cronlib.New(
		cronlib.WithLocation(time.UTC),
		cronlib.WithLogger(logger),
		cronlib.WithChain(cronlib.Recover(logger), cronlib.SkipIfStillRunning(logger)),
	)
	for _, s := range a.schedules {
		action := s.action
		c.Schedule(&delaySchedule{first: s.first, every: s.every}, cronlib.FuncJob(func() {
			a.run(action)
		}))
	}
	c.Start()
	a.cron = c

	a.logger.Info("durability agent started",
		slog.Int("node_id", int(a.node)),
		slog.Int("actions", len(a.schedules)),
	)
	return nil
}

// Execute runs action immediately on the caller's goroutine.
func (a *Agent) Execute(ctx context.Context, action Action) error {
	return action.Execute(ctx)
}

func (a *Agent) run(action Action) {
	start := time.Now()
	err := action.Execute(a.runCtx)
	switch {
	case err == nil:
		a.logger.Debug("durability action completed",
			slog.String("action", action.Name()),
			slog.Duration("elapsed", time.Since(start)),
		)
	case a.runCtx.Err() != nil:
	default:
		a.logger.Error("durability action failed",
			slog.String("action", action.Name()),
			slog.String("error", err.Error()),
		)
	}
}

// Stop cancels in-flight actions, waits for them, hands this node's rows
// to AnyNode and releases the node lock.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cron == nil {
		return courier.ErrNotStarted
	}

	a.cancel()
	done := a.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	a.cron = nil

	var errs []error
	if err := a.store.ReleaseAllOwnership(ctx, a.node); err != nil {
		errs = append(errs, fmt.Errorf("durability: release ownership: %w", err))
	}
	if err := a.session.ReleaseGlobalLock(ctx, int64(a.node)); err != nil {
		errs = append(errs, fmt.Errorf("durability: release node lock: %w", err))
	}
	if err := a.session.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("durability: close session: %w", err))
	}
	a.session = nil

	a.logger.Info("durability agent stopped", slog.Int("node_id", int(a.node)))
	return errors.Join(errs...)
}

// delaySchedule fires first after the initial delay, then at a fixed
// interval after each run. Only the cron run goroutine calls Next.
type delaySchedule struct {
	first   time.Duration
	every   time.Duration
	started bool
}

func (s *delaySchedule) Next(t time.Time) time.Time {
	if !s.started {
		s.started = true
		return t.Add(s.first)
	}
	return t.Add(s.every)
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
