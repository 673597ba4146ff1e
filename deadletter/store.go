package deadletter

import (
	"context"

	"github.com/google/uuid"

	"github.com/xraph/courier/envelope"
)

// ListOpts controls pagination and filtering for dead letter queries.
type ListOpts struct {
	// Limit is the maximum number of reports to return. Zero means no limit.
	Limit int
	// Offset is the number of reports to skip.
	Offset int
	// MessageType filters by message type. Empty means all types.
	MessageType string
}

// Store defines the persistence contract for dead-letter storage.
type Store interface {
	// MoveToDeadLetterStorage inserts the reports and deletes the matching
	// envelopes from the incoming and outgoing tables in one transaction.
	MoveToDeadLetterStorage(ctx context.Context, reports ...*Report) error

	// LoadDeadLetterEnvelope returns the report for an envelope id, or
	// courier.ErrDeadLetterNotFound.
	LoadDeadLetterEnvelope(ctx context.Context, id uuid.UUID) (*Report, error)

	// ListDeadLetters returns reports ordered by failure time.
	ListDeadLetters(ctx context.Context, opts ListOpts) ([]*Report, error)

	// DeleteDeadLetter removes a report.
	DeleteDeadLetter(ctx context.Context, id uuid.UUID) error

	// ReplayDeadLetter stores env as incoming and deletes its report in
	// one transaction.
	ReplayDeadLetter(ctx context.Context, env *envelope.Envelope) error
}
