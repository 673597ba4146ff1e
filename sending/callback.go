package sending

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/xraph/courier/deadletter"
	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/retry"
)

// OutboxStore is the persistence a DurableCallback needs.
type OutboxStore interface {
	DeleteOutgoing(ctx context.Context, envs ...*envelope.Envelope) error
}

// DeadLetterer moves envelopes to dead-letter storage. *deadletter.Service
// satisfies it.
type DeadLetterer interface {
	Push(ctx context.Context, env *envelope.Envelope, cause error, explanation string) (*deadletter.Report, error)
}

// Emitter receives outbound lifecycle events. ext.Registry satisfies it.
type Emitter interface {
	EmitEnvelopeSent(ctx context.Context, env *envelope.Envelope)
	EmitSendFailed(ctx context.Context, env *envelope.Envelope, err error)
	EmitEnvelopeDeadLettered(ctx context.Context, env *envelope.Envelope, reason string)
}

// CallbackConfig configures a DurableCallback.
type CallbackConfig struct {
	// FailuresBeforeCircuitBreaks is the number of consecutive transport
	// failures that latch the agent.
	FailuresBeforeCircuitBreaks uint32
	// PingInterval is the delay between probes of a latched destination.
	PingInterval time.Duration
	Policies     *retry.Policies
	Emitter      Emitter
	Logger       *slog.Logger
}

// DurableCallback is the outbox callback: transmitted envelopes are
// deleted, failed ones are retried or dead-lettered, and repeated failures
// latch the agent until a ping succeeds.
type DurableCallback struct {
	agent   *Agent
	store   OutboxStore
	dead    DeadLetterer
	cfg     CallbackConfig
	breaker *gobreaker.TwoStepCircuitBreaker
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pinging bool
	timers  map[*time.Timer]struct{}
	wg      sync.WaitGroup
}

// NewDurableCallback creates the callback for agent.
func NewDurableCallback(agent *Agent, store OutboxStore, dead DeadLetterer, cfg CallbackConfig) *DurableCallback {
	if cfg.FailuresBeforeCircuitBreaks == 0 {
		cfg.FailuresBeforeCircuitBreaks = 3
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = time.Second
	}
	if cfg.Policies == nil {
		cfg.Policies = retry.NewPolicies(retry.Policy{MaxAttempts: 3})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &DurableCallback{
		agent:  agent,
		store:  store,
		dead:   dead,
		cfg:    cfg,
		logger: logger,
		timers: make(map[*time.Timer]struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	threshold := cfg.FailuresBeforeCircuitBreaks
	c.breaker = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        agent.Destination(),
		MaxRequests: 1,
		Timeout:     cfg.PingInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Runs under the breaker's lock: no breaker calls from here.
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				c.trip()
			}
		},
	})
	return c
}

// Successful deletes a transmitted envelope from the outbox.
func (c *DurableCallback) Successful(ctx context.Context, env *envelope.Envelope) error {
	if env.IsPing() {
		return nil
	}
	c.record(true)

	if err := c.store.DeleteOutgoing(ctx, env); err != nil {
		return fmt.Errorf("sending: delete transmitted %s: %w", env.ID, err)
	}
	if c.cfg.Emitter != nil {
		c.cfg.Emitter.EmitEnvelopeSent(ctx, env)
	}
	return nil
}

// ProcessingFailure counts the failure against the circuit and then
// retries, schedules or dead-letters the envelope according to its policy.
func (c *DurableCallback) ProcessingFailure(ctx context.Context, env *envelope.Envelope, cause error) error {
	if env.IsPing() {
		return nil
	}
	c.record(false)

	env.Attempts++
	if c.cfg.Emitter != nil {
		c.cfg.Emitter.EmitSendFailed(ctx, env, cause)
	}

	decision := c.cfg.Policies.For(env.MessageType).Decide(env, cause, time.Now())
	switch decision.Action {
	case retry.ActionDeadLetter:
		if _, err := c.dead.Push(ctx, env, cause, decision.Reason); err != nil {
			return fmt.Errorf("sending: dead-letter %s: %w", env.ID, err)
		}
		c.logger.Warn("outgoing envelope dead-lettered",
			slog.String("envelope_id", env.ID.String()),
			slog.String("destination", env.Destination),
			slog.String("reason", decision.Reason),
		)
		if c.cfg.Emitter != nil {
			c.cfg.Emitter.EmitEnvelopeDeadLettered(ctx, env, decision.Reason)
		}
	case retry.ActionSchedule:
		c.enqueueAfter(env, decision.Delay)
	default:
		c.agent.Enqueue(env)
	}
	return nil
}

func (c *DurableCallback) record(success bool) {
	done, err := c.breaker.Allow()
	if err != nil {
		// Open or half-open with the probe slot taken.
		return
	}
	done(success)
}

func (c *DurableCallback) enqueueAfter(env *envelope.Envelope, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, t)
		c.mu.Unlock()
		c.agent.Enqueue(env)
	})
	c.timers[t] = struct{}{}
}

// trip latches the agent and starts probing the destination.
func (c *DurableCallback) trip() {
	if err := c.agent.LatchAndDrain(c.ctx); err != nil {
		c.logger.Error("latch sending agent",
			slog.String("destination", c.agent.Destination()),
			slog.String("error", err.Error()),
		)
	}
	c.StartPinging()
}

// StartPinging probes the destination every PingInterval until a ping
// succeeds, then unlatches the agent. Calls while probing are no-ops.
func (c *DurableCallback) StartPinging() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinging || c.ctx.Err() != nil {
		return
	}
	c.pinging = true

	c.wg.Add(1)
	go c.pingLoop()
}

func (c *DurableCallback) pingLoop() {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.pinging = false
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		if err := c.agent.Ping(c.ctx); err != nil {
			c.logger.Debug("destination still unreachable",
				slog.String("destination", c.agent.Destination()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := c.agent.Unlatch(c.ctx); err != nil {
			c.logger.Warn("unlatch after successful ping",
				slog.String("destination", c.agent.Destination()),
				slog.String("error", err.Error()),
			)
			continue
		}
		return
	}
}

// Close stops probing and cancels pending delayed retries. The delayed
// envelopes stay in the outbox.
func (c *DurableCallback) Close() error {
	c.mu.Lock()
	c.cancel()
	for t := range c.timers {
		t.Stop()
	}
	c.timers = make(map[*time.Timer]struct{})
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

// State returns the circuit state.
func (c *DurableCallback) State() gobreaker.State { return c.breaker.State() }

var _ Callback = (*DurableCallback)(nil)
