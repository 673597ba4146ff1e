package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/courier/admin"
	"github.com/xraph/courier/envelope"
)

const clearRetryPause = 250 * time.Millisecond

// CreateAll runs the migrations.
func (s *Store) CreateAll(ctx context.Context) error {
	return s.Migrate(ctx)
}

// DropAll drops the envelope tables and the migration history.
func (s *Store) DropAll(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS `+
		s.incoming+`, `+s.outgoing+`, `+s.deadLetters+`, `+s.migrations)
	if err != nil {
		return fmt.Errorf("courier/postgres: drop tables: %w", err)
	}
	return nil
}

// RecreateAll drops and recreates the envelope tables.
func (s *Store) RecreateAll(ctx context.Context) error {
	if err := s.DropAll(ctx); err != nil {
		return err
	}
	return s.CreateAll(ctx)
}

// ClearAllStoredMessages truncates every envelope table, retrying once
// after a short pause.
func (s *Store) ClearAllStoredMessages(ctx context.Context) error {
	truncate := `TRUNCATE TABLE ` + s.incoming + `, ` + s.outgoing + `, ` + s.deadLetters

	_, err := s.db.Exec(ctx, truncate)
	if err == nil {
		return nil
	}
	s.logger.Warn("truncate failed, retrying", "error", err)

	if err := sleep(ctx, clearRetryPause); err != nil {
		return fmt.Errorf("courier/postgres: clear messages: %w", err)
	}
	if _, err := s.db.Exec(ctx, truncate); err != nil {
		return fmt.Errorf("courier/postgres: clear messages: %w", err)
	}
	return nil
}

// GetPersistedCounts returns the depth of each table.
func (s *Store) GetPersistedCounts(ctx context.Context) (admin.Counts, error) {
	var counts admin.Counts

	rows, err := s.db.Query(ctx,
		`SELECT status, COUNT(*) FROM `+s.incoming+` GROUP BY status`,
	)
	if err != nil {
		return counts, fmt.Errorf("courier/postgres: count incoming: %w", err)
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return counts, fmt.Errorf("courier/postgres: scan incoming count: %w", err)
		}
		switch envelope.Status(status) {
		case envelope.StatusIncoming:
			counts.Incoming = n
		case envelope.StatusScheduled:
			counts.Scheduled = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("courier/postgres: count incoming: %w", err)
	}

	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM `+s.outgoing).Scan(&counts.Outgoing); err != nil {
		return counts, fmt.Errorf("courier/postgres: count outgoing: %w", err)
	}
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM `+s.deadLetters).Scan(&counts.DeadLetters); err != nil {
		return counts, fmt.Errorf("courier/postgres: count dead letters: %w", err)
	}
	return counts, nil
}

// AllIncomingEnvelopes returns every incoming row.
func (s *Store) AllIncomingEnvelopes(ctx context.Context) ([]*envelope.Envelope, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+incomingColumns+` FROM `+s.incoming+` ORDER BY received_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: all incoming: %w", err)
	}
	defer rows.Close()

	return collectIncoming(rows)
}

// AllOutgoingEnvelopes returns every outgoing row.
func (s *Store) AllOutgoingEnvelopes(ctx context.Context) ([]*envelope.Envelope, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+outgoingColumns+` FROM `+s.outgoing+` ORDER BY destination`,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: all outgoing: %w", err)
	}
	defer rows.Close()

	return collectOutgoing(rows)
}
