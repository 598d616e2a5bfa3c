package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOutboxEnqueueDedupe(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := s.EnqueueOutboxMessage(ctx, "f1", "alert", `{"body":"x"}`, "alert:m1:f1")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	id2, err := s.EnqueueOutboxMessage(ctx, "f1", "alert", `{"body":"x"}`, "alert:m1:f1")
	if err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected dedupe to return %s, got %s", id1, id2)
	}
}

func TestOutboxSenderDeliversAndRetries(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueOutboxMessage(ctx, "f1", "alert", `{"body":"ok"}`, ""); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := s.EnqueueOutboxMessage(ctx, "f2", "alert", `{"body":"boom"}`, ""); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	var delivered []string
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		if msg.RecipientID == "f2" {
			return errors.New("transport down")
		}
		delivered = append(delivered, msg.RecipientID)
		return nil
	}, time.Second)
	sender.Poll(ctx)

	if len(delivered) != 1 || delivered[0] != "f1" {
		t.Fatalf("delivered = %v, want [f1]", delivered)
	}

	// The failed message is rescheduled with backoff, so it is not due yet.
	due, err := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected no due messages right after failure, got %d", len(due))
	}
	due, err = s.ClaimDueOutboxMessages(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(due) != 1 || due[0].RecipientID != "f2" || due[0].Attempts != 1 {
		t.Errorf("expected f2 retry with one attempt, got %+v", due)
	}
}

func TestOutboxRequeueStale(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	if _, err := s.EnqueueOutboxMessage(ctx, "f1", "alert", `{}`, ""); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := s.ClaimDueOutboxMessages(ctx, time.Now(), 10); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	n, err := s.RequeueStaleSendingMessages(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("RequeueStaleSendingMessages = %d, %v; want 1", n, err)
	}
}

func TestInboundDedup(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := s.RecordInbound(ctx, "wamid-1", "u1")
	if err != nil || !first {
		t.Fatalf("first RecordInbound = %v, %v; want true", first, err)
	}
	again, err := s.RecordInbound(ctx, "wamid-1", "u1")
	if err != nil || again {
		t.Fatalf("second RecordInbound = %v, %v; want false", again, err)
	}
	if err := s.MarkProcessed(ctx, "wamid-1"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
}

func TestOutboxBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{3, 80 * time.Second},
		{6, 10 * time.Minute},
		{40, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := outboxBackoff(tt.attempts); got != tt.want {
			t.Errorf("outboxBackoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
