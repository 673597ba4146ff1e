package advisory

import (
	"context"
	"sync"
)

// Table is an in-process advisory lock table with the same semantics as a
// database's: locks are reentrant per holder, transaction holds end with
// the transaction, and closing a holder drops everything it held.
type Table struct {
	mu       sync.Mutex
	entries  map[int64]*entry
	released chan struct{}
	next     uint64
}

type entry struct {
	holder   uint64
	sessions int
	txs      int
}

// NewTable returns an empty lock table.
func NewTable() *Table {
	return &Table{
		entries:  make(map[int64]*entry),
		released: make(chan struct{}),
	}
}

// Holder returns a new lock holder, the in-process analog of a database
// session.
func (t *Table) Holder() *Holder {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	return &Holder{table: t, id: t.next}
}

// Held reports whether any holder has id locked.
func (t *Table) Held(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

func (t *Table) tryLocked(holder uint64, id int64, tx bool) bool {
	e, ok := t.entries[id]
	if ok && e.holder != holder {
		return false
	}
	if !ok {
		e = &entry{holder: holder}
		t.entries[id] = e
	}
	if tx {
		e.txs++
	} else {
		e.sessions++
	}
	return true
}

func (t *Table) try(holder uint64, id int64, tx bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tryLocked(holder, id, tx)
}

func (t *Table) acquire(ctx context.Context, holder uint64, id int64, tx bool) error {
	for {
		t.mu.Lock()
		if t.tryLocked(holder, id, tx) {
			t.mu.Unlock()
			return nil
		}
		wait := t.released
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// broadcastLocked wakes blocked acquirers. Callers hold t.mu.
func (t *Table) broadcastLocked() {
	close(t.released)
	t.released = make(chan struct{})
}

func (t *Table) release(holder uint64, id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok || e.holder != holder || e.sessions == 0 {
		return false
	}
	e.sessions--
	if e.sessions == 0 && e.txs == 0 {
		delete(t.entries, id)
		t.broadcastLocked()
	}
	return true
}

func (t *Table) endTx(holder uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	freed := false
	for id, e := range t.entries {
		if e.holder != holder || e.txs == 0 {
			continue
		}
		e.txs = 0
		if e.sessions == 0 {
			delete(t.entries, id)
			freed = true
		}
	}
	if freed {
		t.broadcastLocked()
	}
}

func (t *Table) drop(holder uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	freed := false
	for id, e := range t.entries {
		if e.holder == holder {
			delete(t.entries, id)
			freed = true
		}
	}
	if freed {
		t.broadcastLocked()
	}
}

// Holder owns advisory locks in a Table. It implements Locker for session
// scope and TxLocker for the holder's current transaction. A Holder is not
// safe for concurrent use, like the session it stands in for.
type Holder struct {
	table *Table
	id    uint64
}

var (
	_ Locker   = (*Holder)(nil)
	_ TxLocker = (*Holder)(nil)
)

// TryGetGlobalLock implements Locker.
func (h *Holder) TryGetGlobalLock(_ context.Context, id int64) (bool, error) {
	return h.table.try(h.id, id, false), nil
}

// GetGlobalLock implements Locker.
func (h *Holder) GetGlobalLock(ctx context.Context, id int64) error {
	return h.table.acquire(ctx, h.id, id, false)
}

// ReleaseGlobalLock implements Locker. Releasing a lock that is not held
// is a no-op.
func (h *Holder) ReleaseGlobalLock(_ context.Context, id int64) error {
	h.table.release(h.id, id)
	return nil
}

// TryGetGlobalTxLock implements TxLocker.
func (h *Holder) TryGetGlobalTxLock(_ context.Context, id int64) (bool, error) {
	return h.table.try(h.id, id, true), nil
}

// GetGlobalTxLock implements TxLocker.
func (h *Holder) GetGlobalTxLock(ctx context.Context, id int64) error {
	return h.table.acquire(ctx, h.id, id, true)
}

// EndTx releases every transaction-scoped lock of the holder.
func (h *Holder) EndTx() { h.table.endTx(h.id) }

// Close releases everything the holder has, as a closed connection would.
func (h *Holder) Close() { h.table.drop(h.id) }
