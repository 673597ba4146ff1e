package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/xraph/courier/admin"
	"github.com/xraph/courier/envelope"
)

// CreateAll is a no-op; the maps always exist.
func (m *Store) CreateAll(_ context.Context) error { return nil }

// DropAll empties every table.
func (m *Store) DropAll(ctx context.Context) error { return m.ClearAllStoredMessages(ctx) }

// RecreateAll empties every table.
func (m *Store) RecreateAll(ctx context.Context) error { return m.ClearAllStoredMessages(ctx) }

// ClearAllStoredMessages empties every table.
func (m *Store) ClearAllStoredMessages(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.incoming = make(map[uuid.UUID]*row)
	m.outgoing = make(map[uuid.UUID]*row)
	m.deadLetters = make(map[uuid.UUID]*letter)
	return nil
}

// GetPersistedCounts returns the depth of each table.
func (m *Store) GetPersistedCounts(_ context.Context) (admin.Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var c admin.Counts
	for _, r := range m.incoming {
		switch r.env.Status {
		case envelope.StatusScheduled:
			c.Scheduled++
		case envelope.StatusIncoming:
			c.Incoming++
		}
	}
	c.Outgoing = len(m.outgoing)
	c.DeadLetters = len(m.deadLetters)
	return c, nil
}

// AllIncomingEnvelopes returns every incoming row.
func (m *Store) AllIncomingEnvelopes(_ context.Context) ([]*envelope.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return collect(m.incoming, func(*envelope.Envelope) bool { return true }, 0), nil
}

// AllOutgoingEnvelopes returns every outgoing row.
func (m *Store) AllOutgoingEnvelopes(_ context.Context) ([]*envelope.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return collect(m.outgoing, func(*envelope.Envelope) bool { return true }, 0), nil
}
