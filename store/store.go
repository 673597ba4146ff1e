// Package store defines the aggregate persistence interface. Each subsystem
// (envelope, durability, deadletter, admin) defines its own store
// interface. The composite Store composes them all. Backends: Postgres and
// Memory.
package store

import (
	"context"

	"github.com/xraph/courier/admin"
	"github.com/xraph/courier/deadletter"
	"github.com/xraph/courier/durability"
)

// Store is the aggregate persistence interface.
// A single backend implements every subsystem store over one database.
type Store interface {
	durability.Store // incoming, outgoing, sessions and ownership
	deadletter.Store
	admin.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
