package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/envelope"
)

const incomingColumns = `body, status, owner_id, execution_time, attempts`

// StoreIncoming inserts envelopes in one transaction. A duplicate id
// rejects the whole batch.
func (s *Store) StoreIncoming(ctx context.Context, envs ...*envelope.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, env := range envs {
			if err := s.insertIncoming(ctx, tx, env); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrEnvelopeAlreadyExists
		}
		return fmt.Errorf("courier/postgres: store incoming: %w", err)
	}
	return nil
}

func (s *Store) insertIncoming(ctx context.Context, q querier, env *envelope.Envelope) error {
	body, err := envelope.Serialize(env)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO `+s.incoming+` (id, status, owner_id, execution_time, attempts, message_type, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		env.ID, string(env.Status), int32(env.OwnerID), env.ExecutionTime, env.Attempts, env.MessageType, body,
	)
	return err
}

// ScheduleExecution marks envelopes Scheduled and unowned.
func (s *Store) ScheduleExecution(ctx context.Context, envs ...*envelope.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, env := range envs {
			_, err := tx.Exec(ctx, `
				UPDATE `+s.incoming+`
				SET execution_time = $2, status = $3, attempts = $4, owner_id = $5
				WHERE id = $1`,
				env.ID, env.ExecutionTime, string(envelope.StatusScheduled), env.Attempts, int32(envelope.AnyNode),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("courier/postgres: schedule execution: %w", err)
	}
	return nil
}

// ScheduleJob stores env as a Scheduled job owned by AnyNode.
func (s *Store) ScheduleJob(ctx context.Context, env *envelope.Envelope) error {
	env.Status = envelope.StatusScheduled
	env.OwnerID = envelope.AnyNode

	if err := s.insertIncoming(ctx, s.db, env); err != nil {
		if isDuplicateKey(err) {
			return courier.ErrEnvelopeAlreadyExists
		}
		return fmt.Errorf("courier/postgres: schedule job: %w", err)
	}
	return nil
}

// IncrementIncomingAttempts persists env.Attempts.
func (s *Store) IncrementIncomingAttempts(ctx context.Context, env *envelope.Envelope) error {
	_, err := s.db.Exec(ctx,
		`UPDATE `+s.incoming+` SET attempts = $2 WHERE id = $1`,
		env.ID, env.Attempts,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: increment attempts: %w", err)
	}
	return nil
}

// DeleteIncomingEnvelopes removes envelopes.
func (s *Store) DeleteIncomingEnvelopes(ctx context.Context, envs ...*envelope.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`DELETE FROM `+s.incoming+` WHERE id = ANY($1)`,
		ids(envs),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: delete incoming: %w", err)
	}
	return nil
}

// LoadScheduledToExecute returns Scheduled envelopes due at or before now.
func (s *Store) LoadScheduledToExecute(ctx context.Context, now time.Time) ([]*envelope.Envelope, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+incomingColumns+`
		FROM `+s.incoming+`
		WHERE status = $1 AND execution_time <= $2
		ORDER BY execution_time`,
		string(envelope.StatusScheduled), now,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: load scheduled: %w", err)
	}
	defer rows.Close()

	return collectIncoming(rows)
}

// LoadPageOfGloballyOwnedIncoming returns up to limit unowned Incoming
// envelopes.
func (s *Store) LoadPageOfGloballyOwnedIncoming(ctx context.Context, limit int) ([]*envelope.Envelope, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+incomingColumns+`
		FROM `+s.incoming+`
		WHERE owner_id = $1 AND status = $2
		ORDER BY received_at
		LIMIT $3`,
		int32(envelope.AnyNode), string(envelope.StatusIncoming), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: load globally owned incoming: %w", err)
	}
	defer rows.Close()

	return collectIncoming(rows)
}

// ReassignIncoming marks envelopes Incoming and owned by owner.
func (s *Store) ReassignIncoming(ctx context.Context, owner envelope.NodeID, envs ...*envelope.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		UPDATE `+s.incoming+`
		SET owner_id = $1, status = $2
		WHERE id = ANY($3)`,
		int32(owner), string(envelope.StatusIncoming), ids(envs),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: reassign incoming: %w", err)
	}
	return nil
}

// scanIncoming decodes the body and overlays the row's mutable columns,
// which are authoritative over the serialized snapshot.
func scanIncoming(row pgx.Row) (*envelope.Envelope, error) {
	var (
		body          []byte
		status        string
		owner         int32
		executionTime *time.Time
		attempts      int
	)
	if err := row.Scan(&body, &status, &owner, &executionTime, &attempts); err != nil {
		return nil, err
	}

	env, err := envelope.Deserialize(body)
	if err != nil {
		return nil, err
	}
	env.Status = envelope.Status(status)
	env.OwnerID = envelope.NodeID(owner)
	env.Attempts = attempts
	if executionTime != nil {
		t := executionTime.UTC()
		env.ExecutionTime = &t
	} else {
		env.ExecutionTime = nil
	}
	return env, nil
}

func collectIncoming(rows pgx.Rows) ([]*envelope.Envelope, error) {
	var envs []*envelope.Envelope
	for rows.Next() {
		env, err := scanIncoming(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/postgres: scan incoming row: %w", err)
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate incoming rows: %w", err)
	}
	return envs, nil
}
