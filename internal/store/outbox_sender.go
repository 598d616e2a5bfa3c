package store

import (
	"context"
	"log/slog"
	"time"
)

// OutboxSendFunc delivers one claimed message. A non-nil error schedules a retry.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// Outbox delivery tuning. Alerts are time-sensitive, so the first retry comes
// quickly and the backoff is capped.
const (
	DefaultOutboxPollInterval = 5 * time.Second
	DefaultOutboxMaxAttempts  = 8
	outboxBaseBackoff         = 10 * time.Second
	outboxMaxBackoff          = 10 * time.Minute
	outboxStaleThreshold      = 5 * time.Minute
	outboxClaimLimit          = 10
)

// OutboxSender drains an OutboxRepo in the background.
type OutboxSender struct {
	repo         OutboxRepo
	send         OutboxSendFunc
	pollInterval time.Duration
	maxAttempts  int
	now          func() time.Time
}

// NewOutboxSender creates a sender polling repo every pollInterval
// (DefaultOutboxPollInterval when non-positive).
func NewOutboxSender(repo OutboxRepo, send OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = DefaultOutboxPollInterval
	}
	return &OutboxSender{
		repo:         repo,
		send:         send,
		pollInterval: pollInterval,
		maxAttempts:  DefaultOutboxMaxAttempts,
		now:          time.Now,
	}
}

// RecoverStaleMessages requeues rows left in sending by a previous process.
// Call it once before Run.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	n, err := s.repo.RequeueStaleSendingMessages(ctx, s.now().Add(-outboxStaleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale alerts", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: started", "poll_interval", s.pollInterval)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims one batch of due messages and tries each once. It returns how
// many were delivered.
func (s *OutboxSender) Poll(ctx context.Context) int {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(ctx, now, outboxClaimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return 0
	}

	delivered := 0
	for _, msg := range msgs {
		if err := s.send(ctx, msg); err != nil {
			retryAt := now.Add(outboxBackoff(msg.Attempts))
			slog.Warn("OutboxSender.Poll: delivery failed", "id", msg.ID, "recipient_id", msg.RecipientID, "kind", msg.Kind, "attempt", msg.Attempts+1, "retry_at", retryAt, "error", err)
			if err := s.repo.FailOutboxMessage(ctx, msg.ID, err.Error(), retryAt, s.maxAttempts); err != nil {
				slog.Error("OutboxSender.Poll: failed to record failure", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
			slog.Error("OutboxSender.Poll: failed to mark sent", "id", msg.ID, "error", err)
		}
		delivered++
		slog.Debug("OutboxSender.Poll: delivered", "id", msg.ID, "recipient_id", msg.RecipientID, "kind", msg.Kind)
	}
	return delivered
}

// outboxBackoff doubles from outboxBaseBackoff per prior attempt, capped at outboxMaxBackoff.
func outboxBackoff(attempts int) time.Duration {
	d := outboxBaseBackoff
	for i := 0; i < attempts && d < outboxMaxBackoff; i++ {
		d *= 2
	}
	if d > outboxMaxBackoff {
		d = outboxMaxBackoff
	}
	return d
}
