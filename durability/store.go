package durability

import (
	"context"

	"github.com/xraph/courier/advisory"
	"github.com/xraph/courier/envelope"
)

// Session is a dedicated store connection. Session locks taken through it
// are held until released or until Close.
type Session interface {
	advisory.Locker

	// Begin starts a transaction on this session.
	Begin(ctx context.Context) (Tx, error)

	// Close releases every lock still held and returns the connection.
	Close(ctx context.Context) error
}

// Tx is a transaction on a Session. Transaction locks are released on
// Commit or Rollback.
type Tx interface {
	advisory.TxLocker

	// FindUniqueOwners returns the distinct owners of incoming and outgoing
	// rows, excluding the given node and AnyNode.
	FindUniqueOwners(ctx context.Context, excluding envelope.NodeID) ([]envelope.NodeID, error)

	// ReassignDormantNodeToAnyNode hands every incoming and outgoing row
	// owned by owner to AnyNode.
	ReassignDormantNodeToAnyNode(ctx context.Context, owner envelope.NodeID) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SessionOpener opens dedicated sessions.
type SessionOpener interface {
	OpenSession(ctx context.Context) (Session, error)
}

// Store is the persistence contract of the durability actions.
type Store interface {
	envelope.IncomingStore
	envelope.OutgoingStore
	SessionOpener

	// ReleaseAllOwnership hands every row owned by owner to AnyNode. It is
	// called on graceful shutdown so the remaining work is recovered by
	// other nodes without waiting for reassignment.
	ReleaseAllOwnership(ctx context.Context, owner envelope.NodeID) error
}

// Emitter receives durability lifecycle events. ext.Registry satisfies it.
type Emitter interface {
	EmitNodeReassigned(ctx context.Context, owner envelope.NodeID)
	EmitEnvelopesRecovered(ctx context.Context, kind string, count int)
}
