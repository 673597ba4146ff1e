package deadletter

import (
	"context"

	"github.com/google/uuid"

	"github.com/xraph/courier/envelope"
)

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store  Store
	source string
}

// NewService creates a dead letter service. Source is recorded on every
// report as the node or service that gave up on the envelope.
func NewService(store Store, source string) *Service {
	return &Service{store: store, source: source}
}

// Push builds a report for env and moves env into dead-letter storage.
func (s *Service) Push(ctx context.Context, env *envelope.Envelope, cause error, explanation string) (*Report, error) {
	report, err := NewReport(env, cause, s.source, explanation)
	if err != nil {
		return nil, err
	}
	if err := s.store.MoveToDeadLetterStorage(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// Get returns the report for an envelope id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	return s.store.LoadDeadLetterEnvelope(ctx, id)
}

// List returns reports matching opts.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Report, error) {
	return s.store.ListDeadLetters(ctx, opts)
}

// Replay moves a dead letter back into the incoming table as a fresh,
// unowned envelope with its attempt counter reset. Any node's recovery
// pass may pick it up.
func (s *Service) Replay(ctx context.Context, id uuid.UUID) (*envelope.Envelope, error) {
	report, err := s.store.LoadDeadLetterEnvelope(ctx, id)
	if err != nil {
		return nil, err
	}

	env, err := report.Envelope()
	if err != nil {
		return nil, err
	}
	env.Attempts = 0
	env.ExecutionTime = nil
	env.Status = envelope.StatusIncoming
	env.OwnerID = envelope.AnyNode

	if err := s.store.ReplayDeadLetter(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }
