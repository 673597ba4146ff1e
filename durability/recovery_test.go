package durability_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/durability"
	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/store/memory"
)

type queue struct {
	mu   sync.Mutex
	envs []*envelope.Envelope
	max  int
}

func (q *queue) Enqueue(_ context.Context, env *envelope.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.max > 0 && len(q.envs) >= q.max {
		return errors.New("queue full")
	}
	q.envs = append(q.envs, env)
	return nil
}

type fakeAgent struct {
	latched bool
	queue
}

func (a *fakeAgent) Latched() bool { return a.latched }

func (a *fakeAgent) Enqueue(env *envelope.Envelope) {
	_ = a.queue.Enqueue(context.Background(), env)
}

func TestIncomingRecovery_ClaimsUnownedRows(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	var free []*envelope.Envelope
	for range 3 {
		env := envelope.New("order.placed", nil)
		env.Status = envelope.StatusIncoming
		free = append(free, env)
	}
	owned := envelope.New("order.placed", nil)
	owned.Status = envelope.StatusIncoming
	owned.OwnerID = 4
	_ = s.StoreIncoming(ctx, append(free, owned)...)

	q := &queue{}
	em := &recordingEmitter{}
	r := durability.NewIncomingRecovery(s, 2, q, durability.WithBatchSize(10), durability.WithEmitter(em))
	if err := r.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(q.envs) != 3 {
		t.Fatalf("enqueued %d, want 3", len(q.envs))
	}
	for _, env := range q.envs {
		if env.OwnerID != 2 || env.Status != envelope.StatusIncoming {
			t.Errorf("enqueued envelope owner=%d status=%s", env.OwnerID, env.Status)
		}
	}
	if got := owners(t, s); got[2] != 3 || got[4] != 1 {
		t.Fatalf("owners = %v", got)
	}
	if em.recovered["incoming"] != 3 {
		t.Errorf("recovered event count = %d", em.recovered["incoming"])
	}
	if s.Locks().Held(courier.IncomingRecoveryLockID) {
		t.Error("recovery lock still held")
	}
}

func TestIncomingRecovery_ReleasesWhatCouldNotBeQueued(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	for range 3 {
		env := envelope.New("order.placed", nil)
		env.Status = envelope.StatusIncoming
		_ = s.StoreIncoming(ctx, env)
	}

	q := &queue{max: 1}
	err := durability.NewIncomingRecovery(s, 2, q).Execute(ctx)
	if err == nil {
		t.Fatal("expected enqueue error")
	}
	if got := owners(t, s); got[2] != 1 || got[envelope.AnyNode] != 2 {
		t.Fatalf("owners = %v, want 1 claimed and 2 released", got)
	}
}

func TestIncomingRecovery_SkipsWhenLockHeld(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	env := envelope.New("order.placed", nil)
	env.Status = envelope.StatusIncoming
	_ = s.StoreIncoming(ctx, env)

	other, _ := s.OpenSession(ctx)
	defer other.Close(ctx)
	_, _ = other.TryGetGlobalLock(ctx, courier.IncomingRecoveryLockID)

	q := &queue{}
	if err := durability.NewIncomingRecovery(s, 2, q).Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(q.envs) != 0 {
		t.Fatal("recovered while another node held the recovery lock")
	}
}

func TestOutgoingRecovery_DiscardsExpiredAndRequeuesRest(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	live := envelope.New("order.shipped", nil)
	live.Destination = "local://shipping"
	expired := envelope.New("order.shipped", nil)
	expired.Destination = "local://shipping"
	expired.DeliverBy = &past
	latchedEnv := envelope.New("order.shipped", nil)
	latchedEnv.Destination = "local://down"
	_ = s.StoreOutgoing(ctx, envelope.AnyNode, live, expired, latchedEnv)

	agents := map[string]*fakeAgent{
		"local://shipping": {},
		"local://down":     {latched: true},
	}
	lookup := func(_ context.Context, dest string) (durability.OutgoingAgent, error) {
		return agents[dest], nil
	}

	r := durability.NewOutgoingRecovery(s, 3, lookup, durability.WithClock(func() time.Time { return now }))
	if err := r.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	sent := agents["local://shipping"].envs
	if len(sent) != 1 || sent[0].ID != live.ID || sent[0].OwnerID != 3 {
		t.Fatalf("shipping agent got %+v", sent)
	}
	if len(agents["local://down"].envs) != 0 {
		t.Fatal("latched agent was fed recovered envelopes")
	}

	rows, _ := s.LoadOutgoing(ctx, "local://shipping")
	if len(rows) != 1 || rows[0].ID != live.ID || rows[0].OwnerID != 3 {
		t.Fatalf("shipping rows = %+v", rows)
	}
	down, _ := s.LoadOutgoing(ctx, "local://down")
	if len(down) != 1 || down[0].OwnerID != envelope.AnyNode {
		t.Fatalf("latched destination rows changed: %+v", down)
	}
}
