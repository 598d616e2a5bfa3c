package models

import "time"

// AssistantSenderID is the sender recorded for automated replies.
const AssistantSenderID = "assistant"

// MessageType distinguishes user text from automated replies in the log.
type MessageType string

const (
	MessageText      MessageType = "text"
	MessageAssistant MessageType = "assistant"
)

// Message is an append-only log entry. An empty GroupID marks a private message;
// RecipientID is set on private assistant replies.
type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender_id"`
	RecipientID string      `json:"recipient_id,omitempty"`
	GroupID     string      `json:"group_id,omitempty"`
	Text        string      `json:"text"`
	Type        MessageType `json:"type"`
	Timestamp   time.Time   `json:"timestamp"`
}

// IsAssistant reports whether the message was produced by the mediator.
func (m Message) IsAssistant() bool { return m.Type == MessageAssistant }

// MessageQuery selects recent messages either by group or by private conversation.
type MessageQuery struct {
	GroupID string
	UserID  string
	Limit   int
}

// AIInteractionKind names the moderation path that consulted the oracle.
type AIInteractionKind string

const (
	InteractionGroupMediation    AIInteractionKind = "group_mediation"
	InteractionIndividualSupport AIInteractionKind = "individual_support"
)

// AIInteraction is the audit record of one oracle consultation.
type AIInteraction struct {
	ID           string            `json:"id"`
	Kind         AIInteractionKind `json:"kind"`
	GroupID      string            `json:"group_id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	Prompt       string            `json:"prompt"`
	Input        string            `json:"input,omitempty"`
	Reply        string            `json:"reply"`
	AlertNeeded  bool              `json:"alert_needed"`
	OracleFailed bool              `json:"oracle_failed"`
	CreatedAt    time.Time         `json:"created_at"`
}
