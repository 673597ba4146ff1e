package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/xraph/courier"
	"github.com/xraph/courier/deadletter"
	"github.com/xraph/courier/envelope"
)

// MoveToDeadLetterStorage inserts the reports and removes the envelopes
// from both envelope tables atomically.
func (m *Store) MoveToDeadLetterStorage(_ context.Context, reports ...*deadletter.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range reports {
		if _, ok := m.deadLetters[r.ID]; ok {
			return courier.ErrEnvelopeAlreadyExists
		}
	}
	for _, r := range reports {
		cp := *r
		cp.Body = append([]byte(nil), r.Body...)
		m.deadLetters[r.ID] = &letter{report: &cp, seq: m.nextSeq()}
		delete(m.incoming, r.ID)
		delete(m.outgoing, r.ID)
	}
	return nil
}

// LoadDeadLetterEnvelope returns the report for id.
func (m *Store) LoadDeadLetterEnvelope(_ context.Context, id uuid.UUID) (*deadletter.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.deadLetters[id]
	if !ok {
		return nil, courier.ErrDeadLetterNotFound
	}
	cp := *l.report
	return &cp, nil
}

// ListDeadLetters returns reports ordered by failure time.
func (m *Store) ListDeadLetters(_ context.Context, opts deadletter.ListOpts) ([]*deadletter.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*letter, 0, len(m.deadLetters))
	for _, l := range m.deadLetters {
		if opts.MessageType != "" && l.report.MessageType != opts.MessageType {
			continue
		}
		matched = append(matched, l)
	}
	sort.Slice(matched, func(i, k int) bool {
		a, b := matched[i].report.FailedAt, matched[k].report.FailedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return matched[i].seq < matched[k].seq
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*deadletter.Report, len(matched))
	for i, l := range matched {
		cp := *l.report
		out[i] = &cp
	}
	return out, nil
}

// DeleteDeadLetter removes a report.
func (m *Store) DeleteDeadLetter(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deadLetters[id]; !ok {
		return courier.ErrDeadLetterNotFound
	}
	delete(m.deadLetters, id)
	return nil
}

// ReplayDeadLetter stores env as incoming and deletes its report
// atomically.
func (m *Store) ReplayDeadLetter(_ context.Context, env *envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deadLetters[env.ID]; !ok {
		return courier.ErrDeadLetterNotFound
	}
	if err := m.insertIncomingLocked(env); err != nil {
		return err
	}
	delete(m.deadLetters, env.ID)
	return nil
}
