package sending

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/xraph/courier"
	"github.com/xraph/courier/envelope"
)

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// WithRateLimit caps transmissions per second. A zero limit disables it.
func WithRateLimit(limit float64, burst int) AgentOption {
	return func(a *Agent) {
		if limit > 0 {
			if burst < 1 {
				burst = 1
			}
			a.limiter = rate.NewLimiter(rate.Limit(limit), burst)
		}
	}
}

// WithObserver registers an observer for latch and resume events.
func WithObserver(o Observer) AgentOption {
	return func(a *Agent) { a.observers = append(a.observers, o) }
}

type outbound struct {
	env     *envelope.Envelope
	payload []byte
}

// Agent delivers envelopes to one destination through two stages:
// serialize, then transmit. Each stage has its own goroutine and unbounded
// FIFO, so enqueue order is transmission order.
//
// Latching stops the transmit stage and closes the connection. Enqueue
// keeps accepting work while latched; serialization continues and the
// transmit queue holds it until Unlatch.
type Agent struct {
	sender    Sender
	logger    *slog.Logger
	limiter   *rate.Limiter
	observers []Observer

	serializeQ *fifo[*envelope.Envelope]
	sendQ      *fifo[outbound]
	queued     atomic.Int64
	closed     atomic.Bool

	// transition serializes Start, Unlatch, Ping and Close. LatchAndDrain
	// does not take it because it runs from inside callbacks.
	transition sync.Mutex

	mu         sync.Mutex
	callback   Callback
	started    bool
	latched    bool
	runCtx     context.Context
	stopAll    context.CancelFunc
	sendCancel context.CancelFunc

	serializeWg sync.WaitGroup
	sendWg      sync.WaitGroup
}

// NewAgent creates an agent for sender's destination.
func NewAgent(sender Sender, opts ...AgentOption) *Agent {
	a := &Agent{
		sender:     sender,
		logger:     slog.Default(),
		serializeQ: newFIFO[*envelope.Envelope](),
		sendQ:      newFIFO[outbound](),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Destination returns the destination URI.
func (a *Agent) Destination() string { return a.sender.Destination() }

// Enqueue hands env to the serialize stage. It never blocks. Envelopes
// enqueued after Close are dropped; they remain in the outbox.
func (a *Agent) Enqueue(env *envelope.Envelope) {
	if a.closed.Load() {
		a.logger.Warn("enqueue on closed sending agent",
			slog.String("destination", a.Destination()),
			slog.String("envelope_id", env.ID.String()),
		)
		return
	}
	a.queued.Add(1)
	a.serializeQ.push(env)
}

// QueuedCount returns the number of envelopes not yet transmitted.
func (a *Agent) QueuedCount() int64 { return a.queued.Load() }

// Latched reports whether transmission is stopped.
func (a *Agent) Latched() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latched
}

// Start connects and begins consuming the queue. When the first Connect
// fails the agent starts latched and the error is returned; envelopes keep
// queueing until Unlatch succeeds.
func (a *Agent) Start(ctx context.Context, cb Callback) error {
	a.transition.Lock()
	defer a.transition.Unlock()

	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return courier.ErrAlreadyStarted
	}
	if a.closed.Load() {
		a.mu.Unlock()
		return courier.ErrAgentClosed
	}
	a.started = true
	a.callback = cb
	a.runCtx, a.stopAll = context.WithCancel(context.WithoutCancel(ctx))
	a.mu.Unlock()

	a.serializeWg.Add(1)
	go a.serializeLoop(a.runCtx)

	if err := a.sender.Connect(ctx); err != nil {
		a.mu.Lock()
		a.latched = true
		a.mu.Unlock()
		a.notify(ctx, true)
		return fmt.Errorf("sending: connect %s: %w", a.Destination(), err)
	}

	a.mu.Lock()
	a.startSendLocked()
	a.mu.Unlock()
	return nil
}

func (a *Agent) startSendLocked() {
	sendCtx, cancel := context.WithCancel(a.runCtx)
	a.sendCancel = cancel
	a.sendWg.Add(1)
	go a.sendLoop(sendCtx, a.callback)
}

// LatchAndDrain stops transmission and closes the connection once the
// in-flight send returns. Queued envelopes are kept. It does not wait, so
// callbacks may call it.
func (a *Agent) LatchAndDrain(ctx context.Context) error {
	a.mu.Lock()
	if a.latched || !a.started {
		a.mu.Unlock()
		return nil
	}
	a.latched = true
	if a.sendCancel != nil {
		a.sendCancel()
	}
	a.mu.Unlock()

	a.logger.Warn("sending agent latched",
		slog.String("destination", a.Destination()),
		slog.Int64("queued", a.QueuedCount()),
	)
	a.notify(ctx, true)
	return nil
}

// Unlatch reconnects and resumes transmission.
func (a *Agent) Unlatch(ctx context.Context) error {
	a.transition.Lock()
	defer a.transition.Unlock()

	if !a.Latched() {
		return nil
	}
	if a.closed.Load() {
		return courier.ErrAgentClosed
	}

	a.sendWg.Wait()
	if err := a.sender.Connect(ctx); err != nil {
		return fmt.Errorf("sending: reconnect %s: %w", a.Destination(), err)
	}

	a.mu.Lock()
	a.latched = false
	a.startSendLocked()
	a.mu.Unlock()

	a.logger.Info("sending agent resumed",
		slog.String("destination", a.Destination()),
		slog.Int64("queued", a.QueuedCount()),
	)
	a.notify(ctx, false)
	return nil
}

// Ping transmits a probe envelope outside the queue. On a latched agent it
// opens a connection for the probe only.
func (a *Agent) Ping(ctx context.Context) error {
	a.transition.Lock()
	defer a.transition.Unlock()

	if a.closed.Load() {
		return courier.ErrAgentClosed
	}

	env := envelope.ForPing(a.Destination())
	payload, err := envelope.Serialize(env)
	if err != nil {
		return err
	}

	if !a.Latched() {
		return a.sender.Send(ctx, env, payload)
	}

	a.sendWg.Wait()
	if err := a.sender.Connect(ctx); err != nil {
		return fmt.Errorf("sending: ping connect %s: %w", a.Destination(), err)
	}
	sendErr := a.sender.Send(ctx, env, payload)
	closeErr := a.sender.Close()
	if sendErr != nil {
		return fmt.Errorf("sending: ping %s: %w", a.Destination(), sendErr)
	}
	return closeErr
}

// Close stops both stages and closes the connection. Queued envelopes are
// abandoned; they remain in the outbox.
func (a *Agent) Close(_ context.Context) error {
	a.transition.Lock()
	defer a.transition.Unlock()

	if a.closed.Swap(true) {
		return nil
	}

	a.mu.Lock()
	started, stop := a.started, a.stopAll
	a.mu.Unlock()

	if !started {
		return nil
	}
	// The send loop closes the connection on exit; a latched agent has
	// already closed it.
	stop()
	a.serializeWg.Wait()
	a.sendWg.Wait()
	return nil
}

func (a *Agent) serializeLoop(ctx context.Context) {
	defer a.serializeWg.Done()
	for {
		env, ok := a.serializeQ.pop(ctx)
		if !ok {
			return
		}
		payload, err := envelope.Serialize(env)
		if err != nil {
			a.queued.Add(-1)
			a.logger.Error("dropping envelope that failed to serialize",
				slog.String("destination", a.Destination()),
				slog.String("envelope_id", env.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.sendQ.push(outbound{env: env, payload: payload})
	}
}

// sendLoop owns the connection while it runs and closes it on exit.
func (a *Agent) sendLoop(ctx context.Context, cb Callback) {
	defer a.sendWg.Done()
	defer func() {
		if err := a.sender.Close(); err != nil {
			a.logger.Warn("close sender",
				slog.String("destination", a.Destination()),
				slog.String("error", err.Error()),
			)
		}
	}()

	for {
		item, ok := a.sendQ.pop(ctx)
		if !ok {
			return
		}
		if ctx.Err() != nil {
			a.sendQ.pushFront(item)
			return
		}
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				a.sendQ.pushFront(item)
				return
			}
		}

		err := a.sender.Send(ctx, item.env, item.payload)
		if err != nil && ctx.Err() != nil {
			// Interrupted by latch or close; transmit again later.
			a.sendQ.pushFront(item)
			return
		}
		a.queued.Add(-1)

		cbCtx := context.WithoutCancel(ctx)
		if err != nil {
			if cerr := cb.ProcessingFailure(cbCtx, item.env, err); cerr != nil {
				a.logCallbackError("failure", item.env, cerr)
			}
			continue
		}
		if cerr := cb.Successful(cbCtx, item.env); cerr != nil {
			a.logCallbackError("success", item.env, cerr)
		}
	}
}

func (a *Agent) logCallbackError(kind string, env *envelope.Envelope, err error) {
	a.logger.Error("sending callback failed",
		slog.String("callback", kind),
		slog.String("destination", a.Destination()),
		slog.String("envelope_id", env.ID.String()),
		slog.String("error", err.Error()),
	)
}

func (a *Agent) notify(ctx context.Context, broken bool) {
	for _, o := range a.observers {
		if broken {
			o.EmitCircuitBroken(ctx, a.Destination())
		} else {
			o.EmitCircuitResumed(ctx, a.Destination())
		}
	}
}
