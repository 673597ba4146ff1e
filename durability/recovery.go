package durability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/courier"
	"github.com/xraph/courier/advisory"
	"github.com/xraph/courier/envelope"
)

// Enqueuer accepts envelopes into the local incoming pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, env *envelope.Envelope) error
}

// OutgoingAgent is the part of a sending agent recovery drives.
type OutgoingAgent interface {
	Latched() bool
	Enqueue(env *envelope.Envelope)
}

// AgentFunc returns the sending agent for a destination.
type AgentFunc func(ctx context.Context, destination string) (OutgoingAgent, error)

// RecoveryOption configures the recovery actions.
type RecoveryOption func(*recoveryConfig)

type recoveryConfig struct {
	batchSize int
	locker    advisory.Locker
	emitter   Emitter
	logger    *slog.Logger
	now       func() time.Time
}

// WithBatchSize sets how many rows one pass claims.
func WithBatchSize(n int) RecoveryOption {
	return func(c *recoveryConfig) { c.batchSize = n }
}

// WithLocker coordinates recovery through locker instead of a store
// session.
func WithLocker(l advisory.Locker) RecoveryOption {
	return func(c *recoveryConfig) { c.locker = l }
}

// WithEmitter sets the lifecycle event receiver.
func WithEmitter(e Emitter) RecoveryOption {
	return func(c *recoveryConfig) { c.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RecoveryOption {
	return func(c *recoveryConfig) { c.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RecoveryOption {
	return func(c *recoveryConfig) { c.now = now }
}

func newRecoveryConfig(opts []RecoveryOption) recoveryConfig {
	c := recoveryConfig{
		batchSize: 100,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ──────────────────────────────────────────────────
// Incoming
// ──────────────────────────────────────────────────

// IncomingRecovery claims unowned incoming envelopes for this node and
// hands them to the local pipeline.
type IncomingRecovery struct {
	store    Store
	node     envelope.NodeID
	enqueuer Enqueuer
	cfg      recoveryConfig
}

// NewIncomingRecovery creates the incoming recovery action.
func NewIncomingRecovery(store Store, node envelope.NodeID, enqueuer Enqueuer, opts ...RecoveryOption) *IncomingRecovery {
	return &IncomingRecovery{store: store, node: node, enqueuer: enqueuer, cfg: newRecoveryConfig(opts)}
}

// Name implements Action.
func (r *IncomingRecovery) Name() string { return "incoming-recovery" }

// Execute claims one page of unowned incoming envelopes.
func (r *IncomingRecovery) Execute(ctx context.Context) error {
	_, err := RunExclusive(ctx, r.store, r.cfg.locker, courier.IncomingRecoveryLockID, r.recover)
	return err
}

func (r *IncomingRecovery) recover(ctx context.Context) error {
	envs, err := r.store.LoadPageOfGloballyOwnedIncoming(ctx, r.cfg.batchSize)
	if err != nil {
		return fmt.Errorf("incoming recovery: load: %w", err)
	}
	if len(envs) == 0 {
		return nil
	}

	if err := r.store.ReassignIncoming(ctx, r.node, envs...); err != nil {
		return fmt.Errorf("incoming recovery: claim: %w", err)
	}

	for i, env := range envs {
		env.Status = envelope.StatusIncoming
		env.OwnerID = r.node
		if err := r.enqueuer.Enqueue(ctx, env); err != nil {
			// Hand back what the local queue could not take.
			rest := envs[i:]
			if rerr := r.store.ReassignIncoming(context.WithoutCancel(ctx), envelope.AnyNode, rest...); rerr != nil {
				r.cfg.logger.Error("incoming recovery: release unqueued envelopes",
					slog.Int("count", len(rest)),
					slog.String("error", rerr.Error()),
				)
			}
			return fmt.Errorf("incoming recovery: enqueue: %w", err)
		}
	}

	r.cfg.logger.Info("recovered incoming envelopes",
		slog.Int("count", len(envs)),
		slog.Int("node_id", int(r.node)),
	)
	if r.cfg.emitter != nil {
		r.cfg.emitter.EmitEnvelopesRecovered(ctx, "incoming", len(envs))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Outgoing
// ──────────────────────────────────────────────────

// OutgoingRecovery claims unowned outbox rows for destinations whose
// sending agent is healthy. Expired rows are discarded.
type OutgoingRecovery struct {
	store  Store
	node   envelope.NodeID
	agents AgentFunc
	cfg    recoveryConfig
}

// NewOutgoingRecovery creates the outgoing recovery action.
func NewOutgoingRecovery(store Store, node envelope.NodeID, agents AgentFunc, opts ...RecoveryOption) *OutgoingRecovery {
	return &OutgoingRecovery{store: store, node: node, agents: agents, cfg: newRecoveryConfig(opts)}
}

// Name implements Action.
func (r *OutgoingRecovery) Name() string { return "outgoing-recovery" }

// Execute recovers one page per destination.
func (r *OutgoingRecovery) Execute(ctx context.Context) error {
	_, err := RunExclusive(ctx, r.store, r.cfg.locker, courier.OutgoingRecoveryLockID, r.recover)
	return err
}

func (r *OutgoingRecovery) recover(ctx context.Context) error {
	destinations, err := r.store.FindAllDestinations(ctx)
	if err != nil {
		return fmt.Errorf("outgoing recovery: find destinations: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(4)
	for _, dest := range destinations {
		g.Go(func() error { return r.recoverDestination(ctx, dest) })
	}
	return g.Wait()
}

func (r *OutgoingRecovery) recoverDestination(ctx context.Context, dest string) error {
	agent, err := r.agents(ctx, dest)
	if err != nil {
		r.cfg.logger.Warn("outgoing recovery: no agent for destination",
			slog.String("destination", dest),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if agent.Latched() {
		return nil
	}

	envs, err := r.store.LoadGloballyOwnedOutgoing(ctx, dest, r.cfg.batchSize)
	if err != nil {
		return fmt.Errorf("outgoing recovery: load %s: %w", dest, err)
	}
	if len(envs) == 0 {
		return nil
	}

	now := r.cfg.now()
	var expired, good []*envelope.Envelope
	for _, env := range envs {
		if env.IsExpired(now) {
			expired = append(expired, env)
		} else {
			good = append(good, env)
		}
	}

	if err := r.store.DiscardAndReassignOutgoing(ctx, expired, good, r.node); err != nil {
		return fmt.Errorf("outgoing recovery: claim %s: %w", dest, err)
	}

	for _, env := range expired {
		r.cfg.logger.Warn("discarded expired outgoing envelope",
			slog.String("envelope_id", env.ID.String()),
			slog.String("destination", dest),
		)
	}
	for _, env := range good {
		env.OwnerID = r.node
		agent.Enqueue(env)
	}

	r.cfg.logger.Info("recovered outgoing envelopes",
		slog.String("destination", dest),
		slog.Int("count", len(good)),
		slog.Int("discarded", len(expired)),
	)
	if r.cfg.emitter != nil && len(good) > 0 {
		r.cfg.emitter.EmitEnvelopesRecovered(ctx, "outgoing", len(good))
	}
	return nil
}
