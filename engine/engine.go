package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/courier"
	"github.com/xraph/courier/admin"
	"github.com/xraph/courier/advisory"
	"github.com/xraph/courier/deadletter"
	"github.com/xraph/courier/durability"
	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/handler"
	mw "github.com/xraph/courier/middleware"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/retry"
	"github.com/xraph/courier/scheduled"
	"github.com/xraph/courier/sending"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/transport"
	"github.com/xraph/courier/worker"
)

const instrumentationName = "github.com/xraph/courier"

// Engine is one courier node.
type Engine struct {
	cfg    courier.Config
	node   envelope.NodeID
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	extensions *ext.Registry
	handlers   *handler.Registry
	policies   *retry.Policies
	dead       *deadletter.Service
	pool       *worker.Pool
	senders    *sending.Registry
	scheduler  *scheduled.Processor
	durability *durability.Agent

	factory        sending.SenderFactory
	pendingExts    []ext.Extension
	locker         advisory.Locker
	mws            []mw.Middleware
	backoff        retry.Strategy
	typePolicies   map[string]retry.Policy
	handlerTimeout time.Duration

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	started bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pendingExts = append(eng.pendingExts, e) }
}

// WithMiddleware adds middleware to the end of the execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithTransport sets the factory that builds senders for destinations.
// Defaults to an empty transport.Mux, which rejects every destination.
func WithTransport(f sending.SenderFactory) Option {
	return func(eng *Engine) { eng.factory = f }
}

// WithLocker coordinates scheduled polling and recovery through locker
// instead of store sessions. The node lock always uses a store session.
func WithLocker(l advisory.Locker) Option {
	return func(eng *Engine) { eng.locker = l }
}

// WithBackoff sets the default policy's backoff. Without one, failed
// envelopes are retried immediately on the local queue.
func WithBackoff(b retry.Strategy) Option {
	return func(eng *Engine) { eng.backoff = b }
}

// WithPolicy sets the failure policy of one message type.
func WithPolicy(messageType string, p retry.Policy) Option {
	return func(eng *Engine) { eng.typePolicies[messageType] = p }
}

// WithHandlerTimeout bounds every handler execution.
func WithHandlerTimeout(d time.Duration) Option {
	return func(eng *Engine) { eng.handlerTimeout = d }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) { eng.now = now }
}

// Build validates cfg and wires a node over st.
func Build(cfg courier.Config, st store.Store, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, courier.ErrNoStore
	}

	eng := &Engine{
		cfg:          cfg,
		node:         envelope.NodeID(cfg.NodeID),
		store:        st,
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		handlers:     handler.NewRegistry(),
		typePolicies: make(map[string]retry.Policy),
	}
	for _, opt := range opts {
		opt(eng)
	}
	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}
	logger := eng.logger.With(slog.Int("node_id", int(eng.node)))

	if eng.factory == nil {
		eng.factory = transport.NewMux()
	}

	eng.policies = retry.NewPolicies(retry.Policy{MaxAttempts: cfg.MaxAttempts, Backoff: eng.backoff})
	for messageType, p := range eng.typePolicies {
		eng.policies.Set(messageType, p)
	}
	eng.dead = deadletter.NewService(st, cfg.ServiceName)

	// Register the observability metrics extension.
	if eng.meterProvider != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter(instrumentationName + "/observability"),
		))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}

	var tracingMw, metricsMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → deadline → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Deadline(),
		mw.Timeout(eng.handlerTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.handlers, eng.policies, st, eng.dead, eng.extensions, logger, allMws...)
	eng.pool = worker.NewPool(executor, st,
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithQueueSize(cfg.LocalQueueSize),
		worker.WithPoolLogger(logger),
	)

	agentOpts := []sending.AgentOption{sending.WithObserver(eng.extensions)}
	if cfg.SendRateLimit > 0 {
		agentOpts = append(agentOpts, sending.WithRateLimit(cfg.SendRateLimit, cfg.SendRateBurst))
	}
	eng.senders = sending.NewRegistry(eng.factory, func(agent *sending.Agent) sending.Callback {
		return sending.NewDurableCallback(agent, st, eng.dead, sending.CallbackConfig{
			FailuresBeforeCircuitBreaks: cfg.FailuresBeforeCircuitBreaks,
			PingInterval:                cfg.PingInterval,
			Policies:                    eng.policies,
			Emitter:                     eng.extensions,
			Logger:                      logger,
		})
	}, logger, agentOpts...)

	schedOpts := []scheduled.Option{
		scheduled.WithFirstExecution(cfg.ScheduledJobFirstExecution),
		scheduled.WithInterval(cfg.ScheduledJobPollingInterval),
		scheduled.WithEmitter(eng.extensions),
		scheduled.WithLogger(logger),
		scheduled.WithClock(eng.now),
	}
	recOpts := []durability.RecoveryOption{
		durability.WithBatchSize(cfg.RecoveryBatchSize),
		durability.WithEmitter(eng.extensions),
		durability.WithLogger(logger),
		durability.WithClock(eng.now),
	}
	if eng.locker != nil {
		schedOpts = append(schedOpts, scheduled.WithLocker(eng.locker))
		recOpts = append(recOpts, durability.WithLocker(eng.locker))
	}
	eng.scheduler = scheduled.NewProcessor(st, eng.node, eng.pool, schedOpts...)

	eng.durability = durability.NewAgent(st, eng.node, logger)
	eng.durability.Add(
		durability.NewNodeReassignment(st, eng.node, eng.extensions, logger),
		cfg.FirstNodeReassignmentExecution, cfg.NodeReassignmentPollingInterval,
	)
	eng.durability.Add(
		durability.NewIncomingRecovery(st, eng.node, eng.pool, recOpts...),
		cfg.RecoveryFirstExecution, cfg.RecoveryPollingInterval,
	)
	eng.durability.Add(
		durability.NewOutgoingRecovery(st, eng.node, eng.outgoingAgent, recOpts...),
		cfg.RecoveryFirstExecution, cfg.RecoveryPollingInterval,
	)

	return eng, nil
}

func (eng *Engine) outgoingAgent(ctx context.Context, destination string) (durability.OutgoingAgent, error) {
	a, err := eng.senders.AgentFor(ctx, destination)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Register registers a typed handler for messageType.
func Register[T any](eng *Engine, messageType string, fn func(ctx context.Context, env *envelope.Envelope, msg T) error) {
	handler.Register(eng.handlers, messageType, fn)
}

// Start takes the node lock, hands any rows left by an earlier process
// with this node id back to the cluster, and starts the worker pool, the
// scheduled-job poller and the durability actions. It fails with
// courier.ErrInvalidNodeID when another live process holds the node id.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.started {
		return courier.ErrAlreadyStarted
	}

	if err := eng.durability.Start(ctx); err != nil {
		return fmt.Errorf("start durability agent: %w", err)
	}
	if err := eng.store.ReleaseAllOwnership(ctx, eng.node); err != nil {
		return errors.Join(fmt.Errorf("release previous ownership: %w", err), eng.durability.Stop(ctx))
	}
	if err := eng.pool.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("start worker pool: %w", err), eng.durability.Stop(ctx))
	}
	if err := eng.scheduler.Start(ctx); err != nil {
		return errors.Join(
			fmt.Errorf("start scheduled processor: %w", err),
			eng.pool.Stop(ctx),
			eng.durability.Stop(ctx),
		)
	}

	eng.started = true
	eng.logger.Info("courier node started",
		slog.Int("node_id", int(eng.node)),
		slog.Int("concurrency", eng.cfg.Concurrency),
	)
	return nil
}

// Stop stops intake, drains the worker pool and the sending agents, then
// releases this node's ownership and lock so other nodes recover what is
// left. Without a deadline on ctx, cfg.ShutdownTimeout bounds the drain.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if !eng.started {
		return courier.ErrNotStarted
	}
	eng.started = false

	if _, ok := ctx.Deadline(); !ok && eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	var g errgroup.Group
	g.Go(func() error { return eng.scheduler.Stop(ctx) })
	g.Go(func() error { return eng.pool.Stop(ctx) })
	g.Go(func() error { return eng.senders.Close(ctx) })
	drainErr := g.Wait()
	if drainErr != nil {
		eng.logger.Error("drain error", slog.String("error", drainErr.Error()))
	}

	// Ownership is released after the drain so no other node picks up an
	// envelope still executing here.
	stopErr := eng.durability.Stop(context.WithoutCancel(ctx))
	eng.extensions.EmitShutdown(ctx)

	eng.logger.Info("courier node stopped", slog.Int("node_id", int(eng.node)))
	return errors.Join(drainErr, stopErr)
}

// Send stores envs in the outbox owned by this node and hands them to the
// sending agents of their destinations. Every destination is resolved
// before anything is stored, so an unroutable envelope fails the call
// without persisting the batch.
func (eng *Engine) Send(ctx context.Context, envs ...*envelope.Envelope) error {
	if len(envs) == 0 {
		return nil
	}

	agents := make([]*sending.Agent, len(envs))
	for i, env := range envs {
		if env.Destination == "" {
			return fmt.Errorf("%w: %s", courier.ErrMissingDestination, env.ID)
		}
		a, err := eng.senders.AgentFor(ctx, env.Destination)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", env.Destination, err)
		}
		agents[i] = a
		if env.Source == "" {
			env.Source = eng.cfg.ServiceName
		}
	}

	if err := eng.store.StoreOutgoing(ctx, eng.node, envs...); err != nil {
		return err
	}
	for i, env := range envs {
		agents[i].Enqueue(env)
	}
	return nil
}

// Receive persists arriving envelopes and queues the ready ones for local
// execution. Envelopes already stored are skipped, so redelivery by a
// transport is idempotent. Delayed envelopes are stored as scheduled jobs.
func (eng *Engine) Receive(ctx context.Context, envs ...*envelope.Envelope) error {
	now := eng.now()
	var batch []*envelope.Envelope
	for _, env := range envs {
		if env.IsPing() {
			continue
		}
		env.MarkReceived(now, eng.node)
		batch = append(batch, env)
	}
	if len(batch) == 0 {
		return nil
	}

	stored, err := eng.storeIncoming(ctx, batch)
	if err != nil {
		return err
	}

	for i, env := range stored {
		eng.extensions.EmitEnvelopeReceived(ctx, env)
		if env.Status != envelope.StatusIncoming {
			continue
		}
		if err := eng.pool.Enqueue(ctx, env); err != nil {
			eng.releaseUnqueued(ctx, stored[i:], err)
			return nil
		}
	}
	return nil
}

// storeIncoming stores batch in one transaction, falling back to one
// envelope at a time when the batch hits a duplicate.
func (eng *Engine) storeIncoming(ctx context.Context, batch []*envelope.Envelope) ([]*envelope.Envelope, error) {
	err := eng.store.StoreIncoming(ctx, batch...)
	if err == nil {
		return batch, nil
	}
	if !errors.Is(err, courier.ErrEnvelopeAlreadyExists) {
		return nil, err
	}

	stored := make([]*envelope.Envelope, 0, len(batch))
	for _, env := range batch {
		err := eng.store.StoreIncoming(ctx, env)
		switch {
		case err == nil:
			stored = append(stored, env)
		case errors.Is(err, courier.ErrEnvelopeAlreadyExists):
			eng.logger.Debug("duplicate envelope ignored", slog.String("envelope_id", env.ID.String()))
		default:
			return nil, err
		}
	}
	return stored, nil
}

// releaseUnqueued hands incoming envelopes the local queue refused to
// AnyNode so recovery picks them up.
func (eng *Engine) releaseUnqueued(ctx context.Context, envs []*envelope.Envelope, cause error) {
	var rest []*envelope.Envelope
	for _, env := range envs {
		if env.Status == envelope.StatusIncoming {
			rest = append(rest, env)
		}
	}
	eng.logger.Warn("local queue refused envelopes, releasing to recovery",
		slog.Int("count", len(rest)),
		slog.String("error", cause.Error()),
	)
	if err := eng.store.ReassignIncoming(context.WithoutCancel(ctx), envelope.AnyNode, rest...); err != nil {
		eng.logger.Error("release unqueued envelopes",
			slog.Int("count", len(rest)),
			slog.String("error", err.Error()),
		)
	}
}

// Schedule stores env as a job due at at.
func (eng *Engine) Schedule(ctx context.Context, env *envelope.Envelope, at time.Time) error {
	env.ScheduleAt(at)
	if err := eng.store.ScheduleJob(ctx, env); err != nil {
		return err
	}
	eng.extensions.EmitEnvelopeScheduled(ctx, env, *env.ExecutionTime)
	return nil
}

// Respond sends a reply to parent. The reply goes to parent's reply
// address when parent requested this message type; otherwise destination
// must be set on the returned envelope by the caller before calling Send,
// and Respond fails with courier.ErrMissingDestination.
func (eng *Engine) Respond(ctx context.Context, parent *envelope.Envelope, messageType string, data []byte) (*envelope.Envelope, error) {
	reply := parent.ForResponse(messageType, data)
	if reply.Destination == "" {
		return reply, courier.ErrMissingDestination
	}
	return reply, eng.Send(ctx, reply)
}

// RemoveDestination retires a destination for good: its sending agent on
// this node is closed and the unowned outbox backlog addressed to it is
// deleted. Rows still owned by a live node go when that node releases them
// and calls RemoveDestination itself.
func (eng *Engine) RemoveDestination(ctx context.Context, destination string) error {
	if destination == "" {
		return courier.ErrMissingDestination
	}
	if err := eng.senders.Remove(ctx, destination); err != nil {
		return fmt.Errorf("courier: close agent %s: %w", destination, err)
	}
	if err := eng.store.DeleteByDestination(ctx, destination); err != nil {
		return fmt.Errorf("courier: delete backlog %s: %w", destination, err)
	}
	eng.logger.Info("destination removed", slog.String("destination", destination))
	return nil
}

// Counts returns the persisted depth of each envelope table.
func (eng *Engine) Counts(ctx context.Context) (admin.Counts, error) {
	return eng.store.GetPersistedCounts(ctx)
}

// Node returns this node's id.
func (eng *Engine) Node() envelope.NodeID { return eng.node }

// Store returns the envelope store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Handlers returns the handler registry.
func (eng *Engine) Handlers() *handler.Registry { return eng.handlers }

// Policies returns the failure policy table.
func (eng *Engine) Policies() *retry.Policies { return eng.policies }

// DeadLetters returns the dead-letter service for inspection and replay.
func (eng *Engine) DeadLetters() *deadletter.Service { return eng.dead }

// Agents returns the current sending agents keyed by destination.
func (eng *Engine) Agents() map[string]*sending.Agent { return eng.senders.Agents() }

// Pool returns the local worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Scheduler returns the scheduled-job processor.
func (eng *Engine) Scheduler() *scheduled.Processor { return eng.scheduler }

// Durability returns the durability agent.
func (eng *Engine) Durability() *durability.Agent { return eng.durability }
