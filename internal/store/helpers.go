package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/BookingRelay/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanNotification scans a NotificationRecord from a single sql.Row.
func scanNotification(row *sql.Row) (*models.NotificationRecord, error) {
	var rec models.NotificationRecord
	var dedupKey, outcome sql.NullString
	var state string
	err := row.Scan(
		&rec.Handle.ChatID, &rec.Handle.MessageID, &rec.RecordID, &dedupKey,
		&state, &outcome, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.DedupKey = dedupKey.String
	rec.State = models.ControlsState(state)
	rec.Outcome = models.Outcome(outcome.String)
	return &rec, nil
}

// scanOutboxMessages drains rows in outboxColumns order and closes them.
func scanOutboxMessages(rows *sql.Rows) ([]OutboxMessage, error) {
	defer rows.Close()
	var msgs []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var payloadJSON, dedupKey, lastError sql.NullString
		var nextAttemptAt, lockedAt sql.NullTime
		if err := rows.Scan(
			&m.ID, &m.RecordID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
			&nextAttemptAt, &dedupKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message failed: %w", err)
		}
		m.PayloadJSON = payloadJSON.String
		m.DedupKey = dedupKey.String
		m.LastError = lastError.String
		if nextAttemptAt.Valid {
			m.NextAttemptAt = &nextAttemptAt.Time
		}
		if lockedAt.Valid {
			m.LockedAt = &lockedAt.Time
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox iteration failed: %w", err)
	}
	return msgs, nil
}
