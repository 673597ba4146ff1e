// Package advisory defines the cooperative lock primitives nodes use to
// coordinate through the shared store, without a separate coordination
// service.
//
// A lock is a named int64. Session-scoped locks are held until released
// or until the owning session (connection) ends. Transaction-scoped locks
// are released automatically when the transaction commits or rolls back.
// Both kinds share one keyspace: a transaction lock on k fails while
// another session holds a session lock on k.
//
// Acquisition is not fair. When several sessions race for the same id the
// first successful acquirer wins, and the protocols built on these locks
// only ever use the non-blocking Try variants for contended ids.
package advisory

import "context"

// Locker is a session-scoped advisory lock.
type Locker interface {
	// TryGetGlobalLock acquires id without blocking. It reports false when
	// another session holds it.
	TryGetGlobalLock(ctx context.Context, id int64) (bool, error)

	// GetGlobalLock blocks until id is acquired or ctx is done.
	GetGlobalLock(ctx context.Context, id int64) error

	// ReleaseGlobalLock releases one hold on id.
	ReleaseGlobalLock(ctx context.Context, id int64) error
}

// TxLocker is a transaction-scoped advisory lock.
type TxLocker interface {
	// TryGetGlobalTxLock acquires id for the rest of the transaction
	// without blocking.
	TryGetGlobalTxLock(ctx context.Context, id int64) (bool, error)

	// GetGlobalTxLock blocks until id is acquired for the rest of the
	// transaction or ctx is done.
	GetGlobalTxLock(ctx context.Context, id int64) error
}
