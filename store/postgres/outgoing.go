package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/envelope"
)

const outgoingColumns = `body, owner_id`

// StoreOutgoing inserts envelopes into the outbox owned by owner, in one
// transaction.
func (s *Store) StoreOutgoing(ctx context.Context, owner envelope.NodeID, envs ...*envelope.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, env := range envs {
			env.Status = envelope.StatusOutgoing
			env.OwnerID = owner

			body, err := envelope.Serialize(env)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO `+s.outgoing+` (id, owner_id, destination, deliver_by, message_type, body)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				env.ID, int32(owner), env.Destination, env.DeliverBy, env.MessageType, body,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrEnvelopeAlreadyExists
		}
		return fmt.Errorf("courier/postgres: store outgoing: %w", err)
	}
	return nil
}

// LoadOutgoing returns every outgoing envelope for destination.
func (s *Store) LoadOutgoing(ctx context.Context, destination string) ([]*envelope.Envelope, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+outgoingColumns+` FROM `+s.outgoing+` WHERE destination = $1`,
		destination,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: load outgoing: %w", err)
	}
	defer rows.Close()

	return collectOutgoing(rows)
}

// LoadGloballyOwnedOutgoing returns up to limit unowned envelopes for
// destination.
func (s *Store) LoadGloballyOwnedOutgoing(ctx context.Context, destination string, limit int) ([]*envelope.Envelope, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+outgoingColumns+`
		FROM `+s.outgoing+`
		WHERE owner_id = $1 AND destination = $2
		LIMIT $3`,
		int32(envelope.AnyNode), destination, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: load globally owned outgoing: %w", err)
	}
	defer rows.Close()

	return collectOutgoing(rows)
}

// FindAllDestinations returns the distinct destinations in the outbox.
func (s *Store) FindAllDestinations(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT destination FROM `+s.outgoing+` ORDER BY destination`,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: find destinations: %w", err)
	}
	defer rows.Close()

	dests, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: scan destinations: %w", err)
	}
	return dests, nil
}

// DeleteByDestination removes the unowned backlog of destination.
func (s *Store) DeleteByDestination(ctx context.Context, destination string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM `+s.outgoing+` WHERE owner_id = $1 AND destination = $2`,
		int32(envelope.AnyNode), destination,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: delete by destination: %w", err)
	}
	return nil
}

// DeleteOutgoing removes envelopes from the outbox.
func (s *Store) DeleteOutgoing(ctx context.Context, envs ...*envelope.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`DELETE FROM `+s.outgoing+` WHERE id = ANY($1)`,
		ids(envs),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: delete outgoing: %w", err)
	}
	return nil
}

// ReassignOutgoing changes the owner of envelopes.
func (s *Store) ReassignOutgoing(ctx context.Context, owner envelope.NodeID, envs ...*envelope.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	if err := s.reassignOutgoing(ctx, s.db, owner, envs); err != nil {
		return fmt.Errorf("courier/postgres: reassign outgoing: %w", err)
	}
	return nil
}

func (s *Store) reassignOutgoing(ctx context.Context, q querier, owner envelope.NodeID, envs []*envelope.Envelope) error {
	_, err := q.Exec(ctx,
		`UPDATE `+s.outgoing+` SET owner_id = $1 WHERE id = ANY($2)`,
		int32(owner), ids(envs),
	)
	return err
}

// DiscardAndReassignOutgoing deletes discards and hands reassigned to
// owner in one transaction.
func (s *Store) DiscardAndReassignOutgoing(ctx context.Context, discards, reassigned []*envelope.Envelope, owner envelope.NodeID) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if len(discards) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM `+s.outgoing+` WHERE id = ANY($1)`, ids(discards)); err != nil {
				return err
			}
		}
		if len(reassigned) > 0 {
			return s.reassignOutgoing(ctx, tx, owner, reassigned)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("courier/postgres: discard and reassign outgoing: %w", err)
	}
	return nil
}

func scanOutgoing(row pgx.Row) (*envelope.Envelope, error) {
	var (
		body  []byte
		owner int32
	)
	if err := row.Scan(&body, &owner); err != nil {
		return nil, err
	}
	env, err := envelope.Deserialize(body)
	if err != nil {
		return nil, err
	}
	env.Status = envelope.StatusOutgoing
	env.OwnerID = envelope.NodeID(owner)
	return env, nil
}

func collectOutgoing(rows pgx.Rows) ([]*envelope.Envelope, error) {
	var envs []*envelope.Envelope
	for rows.Next() {
		env, err := scanOutgoing(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/postgres: scan outgoing row: %w", err)
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate outgoing rows: %w", err)
	}
	return envs, nil
}
