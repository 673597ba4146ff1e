//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/courier"
	"github.com/xraph/courier/admin"
	"github.com/xraph/courier/deadletter"
	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/store/postgres"
)

// setupTestStore starts a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("courier_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr,
		postgres.WithLogger(slog.Default()),
		postgres.WithSchema("courier"),
	)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return store
}

// ──────────────────────────────────────────────────
// Incoming
// ──────────────────────────────────────────────────

func TestIncomingLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	env := envelope.New("OrderPlaced", []byte(`{"id":1}`))
	env.MarkReceived(time.Now(), 1)

	if err := s.StoreIncoming(ctx, env); err != nil {
		t.Fatalf("StoreIncoming: %v", err)
	}
	if err := s.StoreIncoming(ctx, env); !errors.Is(err, courier.ErrEnvelopeAlreadyExists) {
		t.Fatalf("duplicate StoreIncoming = %v", err)
	}

	env.Attempts = 2
	if err := s.IncrementIncomingAttempts(ctx, env); err != nil {
		t.Fatalf("IncrementIncomingAttempts: %v", err)
	}

	all, err := s.AllIncomingEnvelopes(ctx)
	if err != nil {
		t.Fatalf("AllIncomingEnvelopes: %v", err)
	}
	if len(all) != 1 || all[0].Attempts != 2 || all[0].OwnerID != 1 {
		t.Fatalf("unexpected rows: %+v", all)
	}

	if err := s.DeleteIncomingEnvelopes(ctx, env); err != nil {
		t.Fatalf("DeleteIncomingEnvelopes: %v", err)
	}
	counts, err := s.GetPersistedCounts(ctx)
	if err != nil {
		t.Fatalf("GetPersistedCounts: %v", err)
	}
	if counts.Incoming != 0 {
		t.Errorf("Incoming = %d, want 0", counts.Incoming)
	}
}

func TestScheduledJobsBecomeDue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := envelope.New("Reminder", nil)
	due.ScheduleAt(now.Add(-time.Minute))
	later := envelope.New("Reminder", nil)
	later.ScheduleAt(now.Add(time.Hour))

	for _, env := range []*envelope.Envelope{due, later} {
		if err := s.ScheduleJob(ctx, env); err != nil {
			t.Fatalf("ScheduleJob: %v", err)
		}
	}

	got, err := s.LoadScheduledToExecute(ctx, now)
	if err != nil {
		t.Fatalf("LoadScheduledToExecute: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("got %d due envelopes, want only %s", len(got), due.ID)
	}

	if err := s.ReassignIncoming(ctx, 3, got...); err != nil {
		t.Fatalf("ReassignIncoming: %v", err)
	}
	counts, err := s.GetPersistedCounts(ctx)
	if err != nil {
		t.Fatalf("GetPersistedCounts: %v", err)
	}
	if counts.Incoming != 1 || counts.Scheduled != 1 {
		t.Errorf("counts = %+v, want 1 incoming and 1 scheduled", counts)
	}
}

// ──────────────────────────────────────────────────
// Outgoing
// ──────────────────────────────────────────────────

func TestOutgoingOwnership(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	dest := "rabbitmq://broker/orders/created"

	mine := envelope.New("OrderPlaced", nil)
	mine.Destination = dest
	orphan := envelope.New("OrderPlaced", nil)
	orphan.Destination = dest

	if err := s.StoreOutgoing(ctx, 1, mine); err != nil {
		t.Fatalf("StoreOutgoing: %v", err)
	}
	if err := s.StoreOutgoing(ctx, envelope.AnyNode, orphan); err != nil {
		t.Fatalf("StoreOutgoing: %v", err)
	}

	dests, err := s.FindAllDestinations(ctx)
	if err != nil || len(dests) != 1 || dests[0] != dest {
		t.Fatalf("FindAllDestinations = %v, %v", dests, err)
	}

	page, err := s.LoadGloballyOwnedOutgoing(ctx, dest, 10)
	if err != nil {
		t.Fatalf("LoadGloballyOwnedOutgoing: %v", err)
	}
	if len(page) != 1 || page[0].ID != orphan.ID {
		t.Fatalf("globally owned page = %d envelopes", len(page))
	}

	if err := s.DeleteByDestination(ctx, dest); err != nil {
		t.Fatalf("DeleteByDestination: %v", err)
	}
	left, err := s.LoadOutgoing(ctx, dest)
	if err != nil {
		t.Fatalf("LoadOutgoing: %v", err)
	}
	if len(left) != 1 || left[0].ID != mine.ID {
		t.Fatalf("owned envelope should survive DeleteByDestination, got %d", len(left))
	}
}

// ──────────────────────────────────────────────────
// Dead letters
// ──────────────────────────────────────────────────

func TestDeadLetterReplay(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	env := envelope.New("OrderPlaced", []byte("payload"))
	env.MarkReceived(time.Now(), 1)
	if err := s.StoreIncoming(ctx, env); err != nil {
		t.Fatalf("StoreIncoming: %v", err)
	}

	report, err := deadletter.NewReport(env, errors.New("boom"), "node-1", "exhausted")
	if err != nil {
		t.Fatalf("NewReport: %v", err)
	}
	if err := s.MoveToDeadLetterStorage(ctx, report); err != nil {
		t.Fatalf("MoveToDeadLetterStorage: %v", err)
	}

	loaded, err := s.LoadDeadLetterEnvelope(ctx, env.ID)
	if err != nil {
		t.Fatalf("LoadDeadLetterEnvelope: %v", err)
	}
	if loaded.ExceptionMessage != "boom" {
		t.Errorf("ExceptionMessage = %q", loaded.ExceptionMessage)
	}

	list, err := s.ListDeadLetters(ctx, deadletter.ListOpts{MessageType: "OrderPlaced"})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListDeadLetters = %d, %v", len(list), err)
	}

	if err := s.ReplayDeadLetter(ctx, env); err != nil {
		t.Fatalf("ReplayDeadLetter: %v", err)
	}
	if _, err := s.LoadDeadLetterEnvelope(ctx, env.ID); !errors.Is(err, courier.ErrDeadLetterNotFound) {
		t.Fatalf("report should be gone, got %v", err)
	}
	if err := s.ReplayDeadLetter(ctx, env); !errors.Is(err, courier.ErrDeadLetterNotFound) {
		t.Fatalf("second replay = %v", err)
	}
}

// ──────────────────────────────────────────────────
// Sessions and advisory locks
// ──────────────────────────────────────────────────

func TestSessionLockExcludesOtherSessions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a, err := s.OpenSession(ctx)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer a.Close(ctx)
	b, err := s.OpenSession(ctx)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer b.Close(ctx)

	if ok, err := a.TryGetGlobalLock(ctx, 42); err != nil || !ok {
		t.Fatalf("a.TryGetGlobalLock = %v, %v", ok, err)
	}
	if ok, _ := b.TryGetGlobalLock(ctx, 42); ok {
		t.Fatal("b acquired a lock held by a")
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if ok, _ := tx.TryGetGlobalTxLock(ctx, 42); ok {
		t.Fatal("tx lock succeeded while a session holds the id")
	}
	_ = tx.Rollback(ctx)

	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ok, _ := b.TryGetGlobalLock(ctx, 42); !ok {
		t.Fatal("lock should be free after the holder closed")
	}
}

func TestReassignDormantNode(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	dormant := envelope.New("OrderPlaced", nil)
	dormant.MarkReceived(time.Now(), 5)
	if err := s.StoreIncoming(ctx, dormant); err != nil {
		t.Fatalf("StoreIncoming: %v", err)
	}
	out := envelope.New("OrderPlaced", nil)
	out.Destination = "local://billing"
	if err := s.StoreOutgoing(ctx, 5, out); err != nil {
		t.Fatalf("StoreOutgoing: %v", err)
	}

	sess, err := s.OpenSession(ctx)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer sess.Close(ctx)

	tx, err := sess.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	owners, err := tx.FindUniqueOwners(ctx, 1)
	if err != nil {
		t.Fatalf("FindUniqueOwners: %v", err)
	}
	if len(owners) != 1 || owners[0] != 5 {
		t.Fatalf("owners = %v, want [5]", owners)
	}
	if ok, err := tx.TryGetGlobalTxLock(ctx, 5); err != nil || !ok {
		t.Fatalf("node 5 lock should be free: %v, %v", ok, err)
	}
	if err := tx.ReassignDormantNodeToAnyNode(ctx, 5); err != nil {
		t.Fatalf("ReassignDormantNodeToAnyNode: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	page, err := s.LoadPageOfGloballyOwnedIncoming(ctx, 10)
	if err != nil || len(page) != 1 {
		t.Fatalf("globally owned incoming = %d, %v", len(page), err)
	}
	outs, err := s.LoadGloballyOwnedOutgoing(ctx, "local://billing", 10)
	if err != nil || len(outs) != 1 {
		t.Fatalf("globally owned outgoing = %d, %v", len(outs), err)
	}
}

// ──────────────────────────────────────────────────
// Admin
// ──────────────────────────────────────────────────

func TestRecreateAndClear(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	env := envelope.New("OrderPlaced", nil)
	env.MarkReceived(time.Now(), 1)
	if err := s.StoreIncoming(ctx, env); err != nil {
		t.Fatalf("StoreIncoming: %v", err)
	}
	if err := s.ClearAllStoredMessages(ctx); err != nil {
		t.Fatalf("ClearAllStoredMessages: %v", err)
	}
	if err := s.RecreateAll(ctx); err != nil {
		t.Fatalf("RecreateAll: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	counts, err := s.GetPersistedCounts(ctx)
	if err != nil {
		t.Fatalf("GetPersistedCounts: %v", err)
	}
	if counts != (admin.Counts{}) {
		t.Errorf("counts = %+v, want zero", counts)
	}
}
