package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/util"
)

var _ OutboxRepo = (*PostgresStore)(nil)

// Enqueue relies on the partial unique index over pending dedupe keys, so
// two instances enqueueing the same event race safely.
func (s *PostgresStore) Enqueue(ctx context.Context, e OutboxEntry) (string, error) {
	id := util.GenerateRandomID("outbox_", 32)
	now := s.clock.Now().UTC()
	var got string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO outbox_messages (id, record_id, kind, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $6)
		 ON CONFLICT (dedupe_key) WHERE status IN ('queued', 'sending') DO NOTHING
		 RETURNING id`,
		id, e.RecordID, e.Kind, e.Payload, nilIfEmpty(e.DedupKey), now,
	).Scan(&got)
	if err == nil {
		return got, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM outbox_messages WHERE dedupe_key = $1 AND status IN ('queued', 'sending')`,
		e.DedupKey,
	).Scan(&got)
	if err != nil {
		return "", fmt.Errorf("outbox dedupe lookup failed: %w", err)
	}
	return got, nil
}

// ClaimDue uses SKIP LOCKED so concurrent instances split the queue.
func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE outbox_messages SET status = 'sending', locked_at = $1, updated_at = $1
		 WHERE id IN (
		   SELECT id FROM outbox_messages
		   WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		   ORDER BY created_at ASC LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+outboxColumns,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	return scanOutboxMessages(rows)
}

func (s *PostgresStore) MarkSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = 'sent', attempts = attempts + 1, locked_at = NULL, updated_at = $1 WHERE id = $2`,
		s.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, id, errMsg string, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = 'queued', attempts = attempts + 1, last_error = $1, next_attempt_at = $2, locked_at = NULL, updated_at = $3
		 WHERE id = $4`,
		errMsg, next.UTC(), s.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("reschedule outbox message failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Abandon(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = 'failed', attempts = attempts + 1, last_error = $1, locked_at = NULL, updated_at = $2 WHERE id = $3`,
		errMsg, s.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("abandon outbox message failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequeueStale(ctx context.Context, staleBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = $1 WHERE status = 'sending' AND locked_at < $2`,
		s.clock.Now().UTC(), staleBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
