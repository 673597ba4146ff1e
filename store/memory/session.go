package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/xraph/courier/advisory"
	"github.com/xraph/courier/durability"
	"github.com/xraph/courier/envelope"
)

var errTxDone = errors.New("memory: transaction already committed or rolled back")

// OpenSession opens a session with its own lock holder.
func (m *Store) OpenSession(_ context.Context) (durability.Session, error) {
	return &session{store: m, holder: m.locks.Holder()}, nil
}

// ReleaseAllOwnership hands every row owned by owner to AnyNode.
func (m *Store) ReleaseAllOwnership(_ context.Context, owner envelope.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reassignOwner(m.incoming, owner, envelope.AnyNode)
	reassignOwner(m.outgoing, owner, envelope.AnyNode)
	return nil
}

type session struct {
	store  *Store
	holder *advisory.Holder
}

func (s *session) TryGetGlobalLock(ctx context.Context, id int64) (bool, error) {
	return s.holder.TryGetGlobalLock(ctx, id)
}

func (s *session) GetGlobalLock(ctx context.Context, id int64) error {
	return s.holder.GetGlobalLock(ctx, id)
}

func (s *session) ReleaseGlobalLock(ctx context.Context, id int64) error {
	return s.holder.ReleaseGlobalLock(ctx, id)
}

func (s *session) Begin(_ context.Context) (durability.Tx, error) {
	return &tx{session: s}, nil
}

func (s *session) Close(_ context.Context) error {
	s.holder.Close()
	return nil
}

// tx buffers reassignments and applies them under the store lock on
// Commit.
type tx struct {
	session *session

	mu      sync.Mutex
	dormant []envelope.NodeID
	done    bool
}

func (t *tx) TryGetGlobalTxLock(ctx context.Context, id int64) (bool, error) {
	return t.session.holder.TryGetGlobalTxLock(ctx, id)
}

func (t *tx) GetGlobalTxLock(ctx context.Context, id int64) error {
	return t.session.holder.GetGlobalTxLock(ctx, id)
}

func (t *tx) FindUniqueOwners(_ context.Context, excluding envelope.NodeID) ([]envelope.NodeID, error) {
	m := t.session.store
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[envelope.NodeID]struct{})
	for _, rows := range []map[uuid.UUID]*row{m.incoming, m.outgoing} {
		for _, r := range rows {
			if r.env.OwnerID != envelope.AnyNode && r.env.OwnerID != excluding {
				set[r.env.OwnerID] = struct{}{}
			}
		}
	}

	owners := make([]envelope.NodeID, 0, len(set))
	for o := range set {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, k int) bool { return owners[i] < owners[k] })
	return owners, nil
}

func (t *tx) ReassignDormantNodeToAnyNode(_ context.Context, owner envelope.NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	t.dormant = append(t.dormant, owner)
	return nil
}

func (t *tx) Commit(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	t.done = true

	m := t.session.store
	m.mu.Lock()
	for _, owner := range t.dormant {
		reassignOwner(m.incoming, owner, envelope.AnyNode)
		reassignOwner(m.outgoing, owner, envelope.AnyNode)
	}
	m.mu.Unlock()

	t.session.holder.EndTx()
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.dormant = nil
	t.session.holder.EndTx()
	return nil
}
