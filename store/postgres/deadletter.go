package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/deadletter"
	"github.com/xraph/courier/envelope"
)

const deadLetterColumns = `id, source, message_type, explanation, exception_text,
	exception_type, exception_message, body, failed_at`

// MoveToDeadLetterStorage inserts the reports and removes the matching
// envelopes from both envelope tables in one transaction.
func (s *Store) MoveToDeadLetterStorage(ctx context.Context, reports ...*deadletter.Report) error {
	if len(reports) == 0 {
		return nil
	}
	keys := make([]uuid.UUID, len(reports))
	for i, r := range reports {
		keys[i] = r.ID
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, r := range reports {
			_, err := tx.Exec(ctx, `
				INSERT INTO `+s.deadLetters+` (`+deadLetterColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				r.ID, r.Source, r.MessageType, r.Explanation, r.ExceptionText,
				r.ExceptionType, r.ExceptionMessage, r.Body, r.FailedAt,
			)
			if err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM `+s.incoming+` WHERE id = ANY($1)`, keys); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM `+s.outgoing+` WHERE id = ANY($1)`, keys)
		return err
	})
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrEnvelopeAlreadyExists
		}
		return fmt.Errorf("courier/postgres: move to dead letters: %w", err)
	}
	return nil
}

// LoadDeadLetterEnvelope returns the report for id.
func (s *Store) LoadDeadLetterEnvelope(ctx context.Context, id uuid.UUID) (*deadletter.Report, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM `+s.deadLetters+` WHERE id = $1`,
		id,
	)
	r, err := scanReport(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("courier/postgres: load dead letter: %w", err)
	}
	return r, nil
}

// ListDeadLetters returns reports ordered by failure time.
func (s *Store) ListDeadLetters(ctx context.Context, opts deadletter.ListOpts) ([]*deadletter.Report, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+deadLetterColumns+`
		FROM `+s.deadLetters+`
		WHERE ($1 = '' OR message_type = $1)
		ORDER BY failed_at, id
		LIMIT NULLIF($2::int, 0) OFFSET $3`,
		opts.MessageType, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list dead letters: %w", err)
	}
	defer rows.Close()

	var reports []*deadletter.Report
	for rows.Next() {
		r, scanErr := scanReport(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("courier/postgres: scan dead letter: %w", scanErr)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate dead letters: %w", err)
	}
	return reports, nil
}

// DeleteDeadLetter removes a report.
func (s *Store) DeleteDeadLetter(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+s.deadLetters+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("courier/postgres: delete dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrDeadLetterNotFound
	}
	return nil
}

// ReplayDeadLetter stores env as incoming and deletes its report.
func (s *Store) ReplayDeadLetter(ctx context.Context, env *envelope.Envelope) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM `+s.deadLetters+` WHERE id = $1`, env.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return courier.ErrDeadLetterNotFound
		}
		return s.insertIncoming(ctx, tx, env)
	})
	switch {
	case err == nil:
		return nil
	case isDuplicateKey(err):
		return courier.ErrEnvelopeAlreadyExists
	case errors.Is(err, courier.ErrDeadLetterNotFound):
		return err
	default:
		return fmt.Errorf("courier/postgres: replay dead letter: %w", err)
	}
}

func scanReport(row pgx.Row) (*deadletter.Report, error) {
	var (
		r                                      deadletter.Report
		source, messageType                    *string
		explanation, text, excType, excMessage *string
	)
	err := row.Scan(
		&r.ID, &source, &messageType, &explanation, &text,
		&excType, &excMessage, &r.Body, &r.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Source = deref(source)
	r.MessageType = deref(messageType)
	r.Explanation = deref(explanation)
	r.ExceptionText = deref(text)
	r.ExceptionType = deref(excType)
	r.ExceptionMessage = deref(excMessage)
	r.FailedAt = r.FailedAt.UTC()
	return &r, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
