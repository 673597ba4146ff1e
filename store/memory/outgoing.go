package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/xraph/courier"
	"github.com/xraph/courier/envelope"
)

// StoreOutgoing inserts envelopes into the outbox owned by owner.
func (m *Store) StoreOutgoing(_ context.Context, owner envelope.NodeID, envs ...*envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(envs))
	for _, env := range envs {
		if _, ok := m.outgoing[env.ID]; ok {
			return courier.ErrEnvelopeAlreadyExists
		}
		if _, ok := seen[env.ID]; ok {
			return courier.ErrEnvelopeAlreadyExists
		}
		seen[env.ID] = struct{}{}
	}
	for _, env := range envs {
		cp := env.Clone()
		cp.Status = envelope.StatusOutgoing
		cp.OwnerID = owner
		m.outgoing[env.ID] = &row{env: cp, seq: m.nextSeq()}
	}
	return nil
}

// LoadOutgoing returns every outgoing envelope for destination.
func (m *Store) LoadOutgoing(_ context.Context, destination string) ([]*envelope.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return collect(m.outgoing, func(e *envelope.Envelope) bool {
		return e.Destination == destination
	}, 0), nil
}

// LoadGloballyOwnedOutgoing returns up to limit unowned envelopes for
// destination.
func (m *Store) LoadGloballyOwnedOutgoing(_ context.Context, destination string, limit int) ([]*envelope.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return collect(m.outgoing, func(e *envelope.Envelope) bool {
		return e.Destination == destination && e.OwnerID == envelope.AnyNode
	}, limit), nil
}

// FindAllDestinations returns the distinct outgoing destinations, sorted.
func (m *Store) FindAllDestinations(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[string]struct{})
	for _, r := range m.outgoing {
		set[r.env.Destination] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

// DeleteByDestination removes the unowned rows of destination.
func (m *Store) DeleteByDestination(_ context.Context, destination string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, r := range m.outgoing {
		if r.env.Destination == destination && r.env.OwnerID == envelope.AnyNode {
			delete(m.outgoing, id)
		}
	}
	return nil
}

// DeleteOutgoing removes envelopes. Missing ids are ignored.
func (m *Store) DeleteOutgoing(_ context.Context, envs ...*envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, env := range envs {
		delete(m.outgoing, env.ID)
	}
	return nil
}

// ReassignOutgoing changes the owner of envelopes.
func (m *Store) ReassignOutgoing(_ context.Context, owner envelope.NodeID, envs ...*envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reassignOutgoingLocked(owner, envs)
	return nil
}

func (m *Store) reassignOutgoingLocked(owner envelope.NodeID, envs []*envelope.Envelope) {
	for _, env := range envs {
		if r, ok := m.outgoing[env.ID]; ok {
			r.env.OwnerID = owner
		}
	}
}

// DiscardAndReassignOutgoing deletes discards and reassigns reassigned
// atomically.
func (m *Store) DiscardAndReassignOutgoing(_ context.Context, discards, reassigned []*envelope.Envelope, owner envelope.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, env := range discards {
		delete(m.outgoing, env.ID)
	}
	m.reassignOutgoingLocked(owner, reassigned)
	return nil
}
