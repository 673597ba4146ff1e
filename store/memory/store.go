// Package memory is a fully in-memory store.Store. Advisory locks are
// served by an in-process advisory.Table with the same session and
// transaction semantics as the Postgres backend. Intended for unit testing
// and development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/xraph/courier/admin"
	"github.com/xraph/courier/advisory"
	"github.com/xraph/courier/deadletter"
	"github.com/xraph/courier/durability"
	"github.com/xraph/courier/envelope"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ durability.Store = (*Store)(nil)
	_ deadletter.Store = (*Store)(nil)
	_ admin.Store      = (*Store)(nil)
)

// Store is safe for concurrent access.
type Store struct {
	mu sync.RWMutex

	incoming    map[uuid.UUID]*row
	outgoing    map[uuid.UUID]*row
	deadLetters map[uuid.UUID]*letter
	seq         uint64

	locks *advisory.Table
}

// row keeps insertion order so loads are deterministic.
type row struct {
	env *envelope.Envelope
	seq uint64
}

type letter struct {
	report *deadletter.Report
	seq    uint64
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		incoming:    make(map[uuid.UUID]*row),
		outgoing:    make(map[uuid.UUID]*row),
		deadLetters: make(map[uuid.UUID]*letter),
		locks:       advisory.NewTable(),
	}
}

// Locks exposes the advisory lock table shared by every session.
func (m *Store) Locks() *advisory.Table { return m.locks }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// helpers (callers hold m.mu)
// ──────────────────────────────────────────────────

func (m *Store) nextSeq() uint64 {
	m.seq++
	return m.seq
}

func collect(rows map[uuid.UUID]*row, match func(*envelope.Envelope) bool, limit int) []*envelope.Envelope {
	matched := make([]*row, 0, len(rows))
	for _, r := range rows {
		if match(r.env) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].seq < matched[k].seq })

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*envelope.Envelope, len(matched))
	for i, r := range matched {
		out[i] = r.env.Clone()
	}
	return out
}

func reassignOwner(rows map[uuid.UUID]*row, from, to envelope.NodeID) {
	for _, r := range rows {
		if r.env.OwnerID == from {
			r.env.OwnerID = to
		}
	}
}
