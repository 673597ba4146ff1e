// Package courier is a durable envelope delivery engine. Accepted messages
// ("envelopes") are persisted before they are processed or transmitted, so
// they survive process restarts, transport outages, and the loss of a node
// in a multi-node deployment.
//
// # Quick Start
//
//	cfg := courier.DefaultConfig()
//	cfg.NodeID = 7
//
//	pg, err := postgres.New(ctx, connString)
//	eng, err := engine.Build(cfg, pg, engine.WithTransport(mux))
//	err = eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (envelope, deadletter, admin, durability) defines its own
// store interface and a single backend implements all of them. Nodes share
// one store and coordinate only through it: every node holds a session
// advisory lock on its own id, and the durability agent reassigns the work
// of any owner whose lock can be taken, because that owner's session is
// gone.
//
// Subsystems:
//
//   - envelope: the message record and the incoming/outgoing store contracts
//   - advisory: session and transaction scoped lock primitives
//   - durability: node reassignment and recovery of unowned work
//   - scheduled: promotion of delayed envelopes
//   - sending: per-destination outbound agents with latching
//   - retry: failure classification and backoff
//   - worker: local execution of incoming envelopes
//   - transport: URI scheme routing to local, RabbitMQ and Redis stream senders
//   - engine: wiring of one node and the application-level API
//   - api: operational HTTP endpoints for counts and dead letters
package courier
