// Package engine wires the courier subsystems of one node together and
// provides the application-level API for sending, receiving and scheduling
// envelopes.
//
// The engine package sits above every subsystem package (handler, retry,
// worker, sending, scheduled, durability, deadletter) and below the
// application layer, so the subsystems never import each other's concrete
// types.
//
// # Building an Engine
//
//	cfg := courier.DefaultConfig()
//	cfg.NodeID = 3
//
//	mux := transport.NewMux()
//	loop := local.New()
//	mux.Register("local", loop)
//
//	eng, err := engine.Build(cfg, pgStore,
//	    engine.WithTransport(mux),
//	    engine.WithBackoff(retry.DefaultStrategy()),
//	    engine.WithLogger(logger),
//	)
//	loop.Bind(eng.Receive)
//
// # Handling Messages
//
//	engine.Register(eng, "order.placed", func(ctx context.Context, env *envelope.Envelope, msg OrderPlaced) error {
//	    return ship(ctx, msg)
//	})
//
// # Lifecycle
//
// Start takes the node lock through a store session, hands rows left by a
// crashed process with the same node id back to the cluster, and starts
// the worker pool, the scheduled-job poller and the durability actions
// (dormant-node reassignment plus incoming and outgoing recovery).
//
// Stop drains local work and the sending agents, then releases ownership
// of every row this node still holds so live nodes recover it.
//
// # Default Middleware
//
// Every execution runs through, outermost first: Recover, Tracing,
// Metrics, Logging, Deadline and Timeout, followed by any middleware
// added with WithMiddleware.
package engine
