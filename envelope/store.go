package envelope

import (
	"context"
	"time"
)

// IncomingStore defines the persistence contract for envelopes received by
// this node. Every multi-envelope call runs in a single transaction.
type IncomingStore interface {
	// StoreIncoming inserts envelopes with their current status, owner and
	// attempts. A duplicate id fails with courier.ErrEnvelopeAlreadyExists
	// and nothing from the batch is stored.
	StoreIncoming(ctx context.Context, envs ...*Envelope) error

	// ScheduleExecution marks envelopes Scheduled and unowned, persisting
	// ExecutionTime and Attempts.
	ScheduleExecution(ctx context.Context, envs ...*Envelope) error

	// ScheduleJob stores a new envelope as a Scheduled job owned by AnyNode.
	ScheduleJob(ctx context.Context, env *Envelope) error

	// IncrementIncomingAttempts persists the envelope's attempt counter.
	IncrementIncomingAttempts(ctx context.Context, env *Envelope) error

	// DeleteIncomingEnvelopes removes processed envelopes.
	DeleteIncomingEnvelopes(ctx context.Context, envs ...*Envelope) error

	// LoadScheduledToExecute returns Scheduled envelopes whose
	// ExecutionTime is at or before now.
	LoadScheduledToExecute(ctx context.Context, now time.Time) ([]*Envelope, error)

	// LoadPageOfGloballyOwnedIncoming returns up to limit Incoming
	// envelopes owned by AnyNode.
	LoadPageOfGloballyOwnedIncoming(ctx context.Context, limit int) ([]*Envelope, error)

	// ReassignIncoming marks envelopes Incoming and owned by owner.
	ReassignIncoming(ctx context.Context, owner NodeID, envs ...*Envelope) error
}

// OutgoingStore defines the persistence contract for the outbox.
type OutgoingStore interface {
	// StoreOutgoing inserts envelopes into the outbox owned by owner.
	StoreOutgoing(ctx context.Context, owner NodeID, envs ...*Envelope) error

	// LoadOutgoing returns every outgoing envelope addressed to destination.
	LoadOutgoing(ctx context.Context, destination string) ([]*Envelope, error)

	// LoadGloballyOwnedOutgoing returns up to limit outgoing envelopes for
	// destination owned by AnyNode.
	LoadGloballyOwnedOutgoing(ctx context.Context, destination string, limit int) ([]*Envelope, error)

	// FindAllDestinations returns the distinct destinations with pending
	// outgoing work.
	FindAllDestinations(ctx context.Context) ([]string, error)

	// DeleteByDestination removes the unowned backlog of a destination.
	DeleteByDestination(ctx context.Context, destination string) error

	// DeleteOutgoing removes transmitted or discarded envelopes.
	DeleteOutgoing(ctx context.Context, envs ...*Envelope) error

	// ReassignOutgoing changes the owner of outgoing envelopes.
	ReassignOutgoing(ctx context.Context, owner NodeID, envs ...*Envelope) error

	// DiscardAndReassignOutgoing deletes discards and reassigns reassigned
	// to owner in one transaction.
	DiscardAndReassignOutgoing(ctx context.Context, discards, reassigned []*Envelope, owner NodeID) error
}
