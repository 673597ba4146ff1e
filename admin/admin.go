// Package admin defines schema management and operational queries over
// the envelope tables.
package admin

import (
	"context"

	"github.com/xraph/courier/envelope"
)

// Counts is the persisted depth of each envelope table.
type Counts struct {
	Incoming    int `json:"incoming"`
	Scheduled   int `json:"scheduled"`
	Outgoing    int `json:"outgoing"`
	DeadLetters int `json:"dead_letters"`
}

// Store defines schema management and inspection operations.
type Store interface {
	// CreateAll creates the envelope tables if they do not exist.
	CreateAll(ctx context.Context) error

	// DropAll drops the envelope tables.
	DropAll(ctx context.Context) error

	// RecreateAll drops and recreates the envelope tables.
	RecreateAll(ctx context.Context) error

	// ClearAllStoredMessages empties every envelope table. Implementations
	// retry once after a short pause before surfacing an error.
	ClearAllStoredMessages(ctx context.Context) error

	// GetPersistedCounts returns the current depth of each table. Incoming
	// and Scheduled are split by status.
	GetPersistedCounts(ctx context.Context) (Counts, error)

	// AllIncomingEnvelopes returns every row of the incoming table.
	AllIncomingEnvelopes(ctx context.Context) ([]*envelope.Envelope, error)

	// AllOutgoingEnvelopes returns every row of the outgoing table.
	AllOutgoingEnvelopes(ctx context.Context) ([]*envelope.Envelope, error)
}
