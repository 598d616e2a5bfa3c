package store

import (
	"context"
	"time"
)

// OutboxStatus is where a queued facilitator alert is in its delivery.
type OutboxStatus string

const (
	OutboxStatusQueued  OutboxStatus = "queued"
	OutboxStatusSending OutboxStatus = "sending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxMessage is one durable outbound notification. Kind selects how the
// payload is rendered when it is delivered; DedupeKey makes enqueueing idempotent.
type OutboxMessage struct {
	ID            string
	RecipientID   string
	Kind          string
	PayloadJSON   string
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt *time.Time
	DedupeKey     string
	LockedAt      *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OutboxRepo persists notifications that must survive a restart. The SQL
// stores implement it; the in-memory store does not, and alerts then go out
// directly.
type OutboxRepo interface {
	// EnqueueOutboxMessage queues a notification. A repeated non-empty
	// dedupeKey returns the id of the existing row instead of queueing again.
	EnqueueOutboxMessage(ctx context.Context, recipientID, kind, payloadJSON, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages moves up to limit queued rows that are due at now
	// into sending and returns them.
	ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)

	MarkOutboxMessageSent(ctx context.Context, id string) error

	// FailOutboxMessage records a failed attempt and requeues the row for
	// nextAttemptAt, or parks it as failed once maxAttempts is reached.
	FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time, maxAttempts int) error

	// RequeueStaleSendingMessages returns rows claimed before staleBefore to the
	// queue; a crash between claim and send leaves them in sending.
	RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error)
}
