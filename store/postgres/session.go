package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier/durability"
	"github.com/xraph/courier/envelope"
)

var errNoDedicatedConn = errors.New("courier/postgres: pool cannot hand out dedicated connections")

// OpenSession acquires a dedicated pool connection. Advisory locks taken
// through the session live on that connection until released or Close.
func (s *Store) OpenSession(ctx context.Context) (durability.Session, error) {
	a, ok := s.db.(acquirer)
	if !ok {
		return nil, errNoDedicatedConn
	}
	conn, err := a.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: acquire session: %w", err)
	}
	return newSession(s, conn, conn.Release, func(ctx context.Context) error {
		return conn.Hijack().Close(ctx)
	}), nil
}

// ReleaseAllOwnership hands every row owned by owner to AnyNode.
func (s *Store) ReleaseAllOwnership(ctx context.Context, owner envelope.NodeID) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		return s.reassignOwner(ctx, tx, owner, envelope.AnyNode)
	})
	if err != nil {
		return fmt.Errorf("courier/postgres: release ownership of node %d: %w", owner, err)
	}
	return nil
}

func (s *Store) reassignOwner(ctx context.Context, q querier, from, to envelope.NodeID) error {
	if _, err := q.Exec(ctx,
		`UPDATE `+s.incoming+` SET owner_id = $1 WHERE owner_id = $2`,
		int32(to), int32(from),
	); err != nil {
		return err
	}
	_, err := q.Exec(ctx,
		`UPDATE `+s.outgoing+` SET owner_id = $1 WHERE owner_id = $2`,
		int32(to), int32(from),
	)
	return err
}

// session pins one connection. release returns it to the pool; destroy
// closes it outright when its lock state cannot be trusted.
type session struct {
	store   *Store
	conn    querier
	release func()
	destroy func(ctx context.Context) error
	closed  bool
}

func newSession(s *Store, conn querier, release func(), destroy func(ctx context.Context) error) *session {
	return &session{store: s, conn: conn, release: release, destroy: destroy}
}

func (s *session) TryGetGlobalLock(ctx context.Context, id int64) (bool, error) {
	return tryLock(ctx, s.conn, `SELECT pg_try_advisory_lock($1)`, id)
}

func (s *session) GetGlobalLock(ctx context.Context, id int64) error {
	if _, err := s.conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, id); err != nil {
		return fmt.Errorf("courier/postgres: lock %d: %w", id, err)
	}
	return nil
}

func (s *session) ReleaseGlobalLock(ctx context.Context, id int64) error {
	var released bool
	if err := s.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, id).Scan(&released); err != nil {
		return fmt.Errorf("courier/postgres: unlock %d: %w", id, err)
	}
	if !released {
		s.store.logger.Warn("advisory lock was not held", "lock_id", id)
	}
	return nil
}

func (s *session) Begin(ctx context.Context) (durability.Tx, error) {
	t, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: begin: %w", err)
	}
	return &tx{store: s.store, tx: t}, nil
}

// Close drops every session lock and returns the connection. If the
// unlock fails the connection is closed instead so no lock outlives it.
func (s *session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if _, err := s.conn.Exec(ctx, `SELECT pg_advisory_unlock_all()`); err != nil {
		if derr := s.destroy(ctx); derr != nil {
			s.store.logger.Error("failed to close session connection", "error", derr)
		}
		return fmt.Errorf("courier/postgres: unlock all: %w", err)
	}
	s.release()
	return nil
}

type tx struct {
	store *Store
	tx    pgx.Tx
}

func (t *tx) TryGetGlobalTxLock(ctx context.Context, id int64) (bool, error) {
	return tryLock(ctx, t.tx, `SELECT pg_try_advisory_xact_lock($1)`, id)
}

func (t *tx) GetGlobalTxLock(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, id); err != nil {
		return fmt.Errorf("courier/postgres: tx lock %d: %w", id, err)
	}
	return nil
}

func (t *tx) FindUniqueOwners(ctx context.Context, excluding envelope.NodeID) ([]envelope.NodeID, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT owner_id FROM (
			SELECT owner_id FROM `+t.store.incoming+`
			UNION
			SELECT owner_id FROM `+t.store.outgoing+`
		) owners
		WHERE owner_id <> $1 AND owner_id <> $2
		ORDER BY owner_id`,
		int32(envelope.AnyNode), int32(excluding),
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: find owners: %w", err)
	}
	defer rows.Close()

	raw, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: scan owners: %w", err)
	}
	owners := make([]envelope.NodeID, len(raw))
	for i, o := range raw {
		owners[i] = envelope.NodeID(o)
	}
	return owners, nil
}

func (t *tx) ReassignDormantNodeToAnyNode(ctx context.Context, owner envelope.NodeID) error {
	if err := t.store.reassignOwner(ctx, t.tx, owner, envelope.AnyNode); err != nil {
		return fmt.Errorf("courier/postgres: reassign node %d: %w", owner, err)
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("courier/postgres: commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("courier/postgres: rollback: %w", err)
	}
	return nil
}

func tryLock(ctx context.Context, q querier, sql string, id int64) (bool, error) {
	var ok bool
	if err := q.QueryRow(ctx, sql, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("courier/postgres: try lock %d: %w", id, err)
	}
	return ok, nil
}
