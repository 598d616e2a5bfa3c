package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/AutiConnect/internal/store"
)

// Alert is one escalation to a facilitator.
type Alert struct {
	FacilitatorID string
	Body          string
	// SourceMessageID identifies the message that raised the alert. A facilitator
	// is alerted at most once per source message.
	SourceMessageID string
}

// DedupeKey identifies the alert across retries.
func (a Alert) DedupeKey() string {
	return "alert:" + a.SourceMessageID + ":" + a.FacilitatorID
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Sender is the outbound surface used for replies and alerts.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// DirectNotifier sends alerts immediately through the transport.
type DirectNotifier struct {
	sender Sender
}

func NewDirectNotifier(sender Sender) *DirectNotifier {
	return &DirectNotifier{sender: sender}
}

func (n *DirectNotifier) Notify(ctx context.Context, a Alert) error {
	return n.sender.SendMessage(ctx, a.FacilitatorID, a.Body)
}

// OutboxKindAlert is the outbox kind of facilitator alerts.
const OutboxKindAlert = "alert"

type alertPayload struct {
	Body string `json:"body"`
}

// OutboxNotifier enqueues alerts for the outbox sender, so alerts survive
// transport outages and restarts.
type OutboxNotifier struct {
	repo store.OutboxRepo
}

func NewOutboxNotifier(repo store.OutboxRepo) *OutboxNotifier {
	return &OutboxNotifier{repo: repo}
}

func (n *OutboxNotifier) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(alertPayload{Body: a.Body})
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}
	id, err := n.repo.EnqueueOutboxMessage(ctx, a.FacilitatorID, OutboxKindAlert, string(payload), a.DedupeKey())
	if err != nil {
		return fmt.Errorf("enqueue alert for %s: %w", a.FacilitatorID, err)
	}
	slog.Debug("OutboxNotifier.Notify: alert enqueued", "outbox_id", id, "facilitator_id", a.FacilitatorID)
	return nil
}

// DeliverOutbox returns the send function the outbox sender uses for alert rows.
func DeliverOutbox(sender Sender) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != OutboxKindAlert {
			return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
		}
		var p alertPayload
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
			return fmt.Errorf("decode alert payload %s: %w", msg.ID, err)
		}
		return sender.SendMessage(ctx, msg.RecipientID, p.Body)
	}
}
