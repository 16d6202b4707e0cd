package store

import (
	"context"
	"time"
)

// OutboxStatus is where a queued notification is in its resend lifecycle.
type OutboxStatus string

const (
	OutboxStatusQueued  OutboxStatus = "queued"
	OutboxStatusSending OutboxStatus = "sending"
	OutboxStatusSent    OutboxStatus = "sent"
	// OutboxStatusFailed is terminal: the sender gave up.
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxKindNotification is a booking notification whose first send failed.
const OutboxKindNotification = "notification"

// OutboxEntry is what the relay hands to the outbox when a send fails.
type OutboxEntry struct {
	RecordID string
	Kind     string
	Payload  string
	// DedupKey collapses repeated enqueues of the same event while one is pending.
	DedupKey string
}

// OutboxMessage is a queued entry as stored, with its delivery bookkeeping.
type OutboxMessage struct {
	ID            string       `json:"id"`
	RecordID      string       `json:"record_id"`
	Kind          string       `json:"kind"`
	PayloadJSON   string       `json:"payload_json"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	DedupKey      string       `json:"dedup_key"`
	LockedAt      *time.Time   `json:"locked_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo persists notifications waiting to be resent.
type OutboxRepo interface {
	// Enqueue stores e. While a non-terminal message with the same DedupKey
	// exists its id is returned instead of inserting a second row.
	Enqueue(ctx context.Context, e OutboxEntry) (string, error)

	// ClaimDue moves up to limit queued messages due at now to sending.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)

	MarkSent(ctx context.Context, id string) error

	// Reschedule records a failed attempt and makes the message due again at next.
	Reschedule(ctx context.Context, id, errMsg string, next time.Time) error

	// Abandon records a final failed attempt.
	Abandon(ctx context.Context, id, errMsg string) error

	// RequeueStale returns messages left in sending since before staleBefore
	// to the queue, for a sender that crashed mid-send.
	RequeueStale(ctx context.Context, staleBefore time.Time) (int, error)
}
