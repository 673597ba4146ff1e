package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xraph/courier"
	"github.com/xraph/courier/envelope"
)

// Pool manages a set of worker goroutines that take envelopes from a
// bounded local queue and execute them through the Executor.
//
// Every envelope handed to the pool is already persisted and owned by
// this node, so the queue may be dropped at any time: whatever is not
// executed is released with the node's ownership and recovered elsewhere.
type Pool struct {
	executor    *Executor
	store       Store
	concurrency int
	queueSize   int
	logger      *slog.Logger

	queue  chan *envelope.Envelope
	closed atomic.Bool

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithQueueSize bounds the local queue.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool. Store is used to hand a retry back to
// the scheduler when the local queue is full.
func NewPool(executor *Executor, store Store, opts ...PoolOption) *Pool {
	p := &Pool{
		executor:    executor,
		store:       store,
		concurrency: 10,
		queueSize:   1000,
		logger:      slog.Default(),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan *envelope.Envelope, p.queueSize)
	return p
}

// Enqueue hands a persisted envelope to the local queue without blocking.
// It returns courier.ErrQueueFull when the queue has no room and
// courier.ErrNotStarted once the pool is stopped.
func (p *Pool) Enqueue(_ context.Context, env *envelope.Envelope) error {
	if p.closed.Load() {
		return courier.ErrNotStarted
	}
	select {
	case p.queue <- env:
		return nil
	default:
		return courier.ErrQueueFull
	}
}

// Len returns the number of envelopes waiting in the local queue.
func (p *Pool) Len() int { return len(p.queue) }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.closed.Load() {
		return courier.ErrAlreadyStarted
	}
	p.running = true
	p.runCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Int("queue_size", p.queueSize),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.workLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for in-flight executions.
// If ctx expires first, in-flight handlers are cancelled. Envelopes still
// queued are left to ownership release and recovery.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return courier.ErrNotStarted
	}
	p.running = false
	p.closed.Store(true)
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.Int("queued", len(p.queue)))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active handlers")
		p.cancel()
		<-done
	}
	p.cancel()
	return nil
}

// workLoop is run by each worker goroutine.
func (p *Pool) workLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case env := <-p.queue:
			p.execute(env)
		}
	}
}

func (p *Pool) execute(env *envelope.Envelope) {
	outcome, err := p.executor.Execute(p.runCtx, env)
	if err != nil {
		p.logger.Error("envelope outcome not recorded",
			slog.String("envelope_id", env.ID.String()),
			slog.String("outcome", outcome.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if outcome != OutcomeRetry {
		return
	}

	if err := p.Enqueue(p.runCtx, env); err == nil {
		return
	}
	// No room locally: let the scheduler release it to whichever node
	// polls next.
	env.ScheduleAt(p.executor.now())
	if err := p.store.ScheduleExecution(context.WithoutCancel(p.runCtx), env); err != nil {
		p.logger.Error("failed to hand retry to scheduler",
			slog.String("envelope_id", env.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
