package advisory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier/advisory"
)

func TestTable_SessionMutualExclusion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	table := advisory.NewTable()

	holders := []*advisory.Holder{table.Holder(), table.Holder()}
	results := make([]bool, len(holders))

	var wg sync.WaitGroup
	for i, h := range holders {
		wg.Add(1)
		go func(i int, h *advisory.Holder) {
			defer wg.Done()
			ok, err := h.TryGetGlobalLock(ctx, 42)
			if err != nil {
				t.Errorf("TryGetGlobalLock: %v", err)
			}
			results[i] = ok
		}(i, h)
	}
	wg.Wait()

	if results[0] == results[1] {
		t.Fatalf("expected exactly one winner, got %v", results)
	}

	winner, loser := holders[0], holders[1]
	if results[1] {
		winner, loser = holders[1], holders[0]
	}

	if ok, _ := loser.TryGetGlobalLock(ctx, 42); ok {
		t.Fatal("loser must not acquire while held")
	}

	_ = winner.ReleaseGlobalLock(ctx, 42)
	ok, err := loser.TryGetGlobalLock(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release, got %v, %v", ok, err)
	}
}

func TestTable_TxLockConflictsWithSessionLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	table := advisory.NewTable()

	node := table.Holder()
	other := table.Holder()

	if ok, _ := node.TryGetGlobalLock(ctx, 7); !ok {
		t.Fatal("node must acquire its own lock")
	}
	if ok, _ := other.TryGetGlobalTxLock(ctx, 7); ok {
		t.Fatal("tx lock must fail while the node session holds the id")
	}

	node.Close()

	if ok, _ := other.TryGetGlobalTxLock(ctx, 7); !ok {
		t.Fatal("tx lock must succeed once the node session is gone")
	}
	other.EndTx()
	if table.Held(7) {
		t.Fatal("tx lock must be released when the transaction ends")
	}
}

func TestTable_Reentrant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	table := advisory.NewTable()
	h := table.Holder()

	_, _ = h.TryGetGlobalLock(ctx, 1)
	_, _ = h.TryGetGlobalLock(ctx, 1)
	_ = h.ReleaseGlobalLock(ctx, 1)
	if !table.Held(1) {
		t.Fatal("one release must not free a lock acquired twice")
	}
	_ = h.ReleaseGlobalLock(ctx, 1)
	if table.Held(1) {
		t.Fatal("lock must be free after matching releases")
	}
}

func TestTable_GetGlobalLockBlocksUntilRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	table := advisory.NewTable()
	a, b := table.Holder(), table.Holder()

	if err := a.GetGlobalLock(ctx, 5); err != nil {
		t.Fatalf("GetGlobalLock: %v", err)
	}

	acquired := make(chan error, 1)
	go func() { acquired <- b.GetGlobalLock(ctx, 5) }()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	_ = a.ReleaseGlobalLock(ctx, 5)

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("GetGlobalLock: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for blocked acquire")
	}
}

func TestTable_GetGlobalLockHonorsContext(t *testing.T) {
	t.Parallel()
	table := advisory.NewTable()
	a, b := table.Holder(), table.Holder()
	_ = a.GetGlobalLock(context.Background(), 9)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.GetGlobalLock(ctx, 9); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
