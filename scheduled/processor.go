// Package scheduled releases delayed envelopes when they come due.
//
// Scheduled envelopes live in the incoming table with status Scheduled and
// no owner. Each tick, the node holding the scheduled-job lock loads the
// envelopes due by now, claims them as Incoming for itself and feeds them
// to the local pipeline exactly as if they had just been received.
package scheduled

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/advisory"
	"github.com/xraph/courier/durability"
	"github.com/xraph/courier/envelope"
)

// Store is the persistence the processor needs.
type Store interface {
	durability.SessionOpener
	LoadScheduledToExecute(ctx context.Context, now time.Time) ([]*envelope.Envelope, error)
	ReassignIncoming(ctx context.Context, owner envelope.NodeID, envs ...*envelope.Envelope) error
}

// Emitter receives scheduled lifecycle events. ext.Registry satisfies it.
type Emitter interface {
	EmitScheduledReleased(ctx context.Context, env *envelope.Envelope)
}

// Option configures a Processor.
type Option func(*Processor)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(p *Processor) { p.interval = d }
}

// WithFirstExecution sets the delay before the first tick.
func WithFirstExecution(d time.Duration) Option {
	return func(p *Processor) { p.first = d }
}

// WithLocker coordinates ticks through locker instead of a store session.
func WithLocker(l advisory.Locker) Option {
	return func(p *Processor) { p.locker = l }
}

// WithEmitter sets the lifecycle event receiver.
func WithEmitter(e Emitter) Option {
	return func(p *Processor) { p.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// Processor polls for due scheduled envelopes.
type Processor struct {
	store    Store
	node     envelope.NodeID
	enqueuer durability.Enqueuer
	locker   advisory.Locker
	emitter  Emitter
	logger   *slog.Logger
	now      func() time.Time

	first    time.Duration
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewProcessor creates a Processor for node that injects due envelopes
// into enqueuer.
func NewProcessor(store Store, node envelope.NodeID, enqueuer durability.Enqueuer, opts ...Option) *Processor {
	p := &Processor{
		store:    store,
		node:     node,
		enqueuer: enqueuer,
		logger:   slog.Default(),
		now:      time.Now,
		first:    time.Second,
		interval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the polling goroutine.
func (p *Processor) Start(ctx context.Context) error {
	if p.stopCh != nil {
		return courier.ErrAlreadyStarted
	}
	p.stopCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	stopCh := p.stopCh
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.loop(runCtx, stopCh)
	}()

	// Abandon an in-flight tick on Stop.
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	p.logger.Info("scheduled processor started",
		slog.Int("node_id", int(p.node)),
		slog.Duration("interval", p.interval),
	)
	return nil
}

// Stop signals the polling goroutine to stop and waits for it.
func (p *Processor) Stop(_ context.Context) error {
	if p.stopCh == nil {
		return courier.ErrNotStarted
	}
	close(p.stopCh)
	p.wg.Wait()
	p.stopCh = nil
	p.logger.Info("scheduled processor stopped")
	return nil
}

func (p *Processor) loop(ctx context.Context, stopCh <-chan struct{}) {
	timer := time.NewTimer(p.first)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
			if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("scheduled tick failed", slog.String("error", err.Error()))
			}
			timer.Reset(p.interval)
		}
	}
}

// Tick releases every envelope due by now. It returns how many envelopes
// were handed to the pipeline; zero when another node holds the lock.
func (p *Processor) Tick(ctx context.Context) (int, error) {
	var released int
	_, err := durability.RunExclusive(ctx, p.store, p.locker, courier.ScheduledJobLockID, func(ctx context.Context) error {
		n, err := p.release(ctx)
		released = n
		return err
	})
	return released, err
}

func (p *Processor) release(ctx context.Context) (int, error) {
	due, err := p.store.LoadScheduledToExecute(ctx, p.now())
	if err != nil {
		return 0, fmt.Errorf("scheduled: load: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	if err := p.store.ReassignIncoming(ctx, p.node, due...); err != nil {
		return 0, fmt.Errorf("scheduled: claim: %w", err)
	}

	for i, env := range due {
		env.Status = envelope.StatusIncoming
		env.OwnerID = p.node
		if err := p.enqueuer.Enqueue(ctx, env); err != nil {
			// Unqueued envelopes go back to AnyNode for incoming recovery.
			rest := due[i:]
			if rerr := p.store.ReassignIncoming(context.WithoutCancel(ctx), envelope.AnyNode, rest...); rerr != nil {
				p.logger.Error("scheduled: release unqueued envelopes",
					slog.Int("count", len(rest)),
					slog.String("error", rerr.Error()),
				)
			}
			return i, fmt.Errorf("scheduled: enqueue %s: %w", env.ID, err)
		}
		if p.emitter != nil {
			p.emitter.EmitScheduledReleased(ctx, env)
		}
	}

	p.logger.Debug("released scheduled envelopes", slog.Int("count", len(due)))
	return len(due), nil
}
