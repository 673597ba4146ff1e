package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/courier"
	"github.com/xraph/courier/envelope"
)

// StoreIncoming inserts envelopes. A duplicate id rejects the whole batch.
func (m *Store) StoreIncoming(_ context.Context, envs ...*envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertIncomingLocked(envs...)
}

func (m *Store) insertIncomingLocked(envs ...*envelope.Envelope) error {
	seen := make(map[uuid.UUID]struct{}, len(envs))
	for _, env := range envs {
		if _, ok := m.incoming[env.ID]; ok {
			return courier.ErrEnvelopeAlreadyExists
		}
		if _, ok := seen[env.ID]; ok {
			return courier.ErrEnvelopeAlreadyExists
		}
		seen[env.ID] = struct{}{}
	}
	for _, env := range envs {
		m.incoming[env.ID] = &row{env: env.Clone(), seq: m.nextSeq()}
	}
	return nil
}

// ScheduleExecution marks envelopes Scheduled and unowned.
func (m *Store) ScheduleExecution(_ context.Context, envs ...*envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, env := range envs {
		r, ok := m.incoming[env.ID]
		if !ok {
			continue
		}
		r.env.Status = envelope.StatusScheduled
		r.env.OwnerID = envelope.AnyNode
		r.env.Attempts = env.Attempts
		if env.ExecutionTime != nil {
			t := *env.ExecutionTime
			r.env.ExecutionTime = &t
		} else {
			r.env.ExecutionTime = nil
		}
	}
	return nil
}

// ScheduleJob stores env as a Scheduled job owned by AnyNode.
func (m *Store) ScheduleJob(_ context.Context, env *envelope.Envelope) error {
	env.Status = envelope.StatusScheduled
	env.OwnerID = envelope.AnyNode

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertIncomingLocked(env)
}

// IncrementIncomingAttempts persists env.Attempts.
func (m *Store) IncrementIncomingAttempts(_ context.Context, env *envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.incoming[env.ID]; ok {
		r.env.Attempts = env.Attempts
	}
	return nil
}

// DeleteIncomingEnvelopes removes envelopes. Missing ids are ignored.
func (m *Store) DeleteIncomingEnvelopes(_ context.Context, envs ...*envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, env := range envs {
		delete(m.incoming, env.ID)
	}
	return nil
}

// LoadScheduledToExecute returns Scheduled envelopes due at or before now.
func (m *Store) LoadScheduledToExecute(_ context.Context, now time.Time) ([]*envelope.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return collect(m.incoming, func(e *envelope.Envelope) bool {
		return e.Status == envelope.StatusScheduled &&
			e.ExecutionTime != nil && !e.ExecutionTime.After(now)
	}, 0), nil
}

// LoadPageOfGloballyOwnedIncoming returns up to limit unowned Incoming
// envelopes.
func (m *Store) LoadPageOfGloballyOwnedIncoming(_ context.Context, limit int) ([]*envelope.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return collect(m.incoming, func(e *envelope.Envelope) bool {
		return e.Status == envelope.StatusIncoming && e.OwnerID == envelope.AnyNode
	}, limit), nil
}

// ReassignIncoming marks envelopes Incoming and owned by owner.
func (m *Store) ReassignIncoming(_ context.Context, owner envelope.NodeID, envs ...*envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, env := range envs {
		if r, ok := m.incoming[env.ID]; ok {
			r.env.Status = envelope.StatusIncoming
			r.env.OwnerID = owner
		}
	}
	return nil
}
