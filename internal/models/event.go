package models

import (
	"regexp"
	"strings"
	"time"
)

// CommandPrefix marks a text message as a command.
const CommandPrefix = "/"

// EventKind is the shape of an inbound event.
type EventKind string

const (
	EventText     EventKind = "text"
	EventCommand  EventKind = "command"
	EventCallback EventKind = "callback"
)

// Event is an inbound message, command or button selection as seen by the dispatcher.
type Event struct {
	ID         string    `json:"id,omitempty"`
	From       string    `json:"from"`
	SenderName string    `json:"sender_name,omitempty"`
	ChatID     string    `json:"chat_id"`
	IsGroup    bool      `json:"is_group"`
	Kind       EventKind `json:"kind"`
	Text       string    `json:"text,omitempty"`
	Command    string    `json:"command,omitempty"`
	Args       string    `json:"args,omitempty"`
	Callback   string    `json:"callback,omitempty"`
	Time       time.Time `json:"time"`
}

// NewTextEvent classifies raw text as a command or a plain message.
func NewTextEvent(from, chatID string, isGroup bool, text string, at time.Time) Event {
	ev := Event{From: from, ChatID: chatID, IsGroup: isGroup, Text: text, Kind: EventText, Time: at}
	if cmd, args, ok := ParseCommand(text); ok {
		ev.Kind = EventCommand
		ev.Command = cmd
		ev.Args = args
	}
	return ev
}

// NewCallbackEvent builds a button-selection event.
func NewCallbackEvent(from, chatID string, isGroup bool, payload string, at time.Time) Event {
	return Event{From: from, ChatID: chatID, IsGroup: isGroup, Kind: EventCallback, Callback: payload, Time: at}
}

// ParseCommand splits "/name args" into a lower-cased command name and its arguments.
func ParseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, CommandPrefix) || len(text) == len(CommandPrefix) {
		return "", "", false
	}
	body := strings.TrimPrefix(text, CommandPrefix)
	name, args, _ := strings.Cut(body, " ")
	// Drop a "@botname" suffix.
	name, _, _ = strings.Cut(name, "@")
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), strings.TrimSpace(args), true
}

// Button is a selectable option attached to an outbound prompt.
type Button struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

// CallbackKind names a button payload family.
type CallbackKind string

const (
	CallbackJoin           CallbackKind = "join"
	CallbackMediatorToggle CallbackKind = "mediator_toggle"
	CallbackGuidanceToggle CallbackKind = "guidance_toggle"
	CallbackGroupSelect    CallbackKind = "group_select"
	CallbackTypeSelect     CallbackKind = "type_select"
)

// Callback is a decoded button payload: the family, the referenced entity and
// for toggles the requested state.
type Callback struct {
	Kind   CallbackKind
	Ref    string
	Enable bool
}

var callbackPatterns = []struct {
	kind    CallbackKind
	pattern *regexp.Regexp
}{
	{CallbackJoin, regexp.MustCompile(`^join_(.+)$`)},
	{CallbackGuidanceToggle, regexp.MustCompile(`^ai_guide_(on|off)_(.+)$`)},
	{CallbackMediatorToggle, regexp.MustCompile(`^ai_(on|off)_(.+)$`)},
	{CallbackGroupSelect, regexp.MustCompile(`^group_(.+)$`)},
	{CallbackTypeSelect, regexp.MustCompile(`^type_(.+)$`)},
}

// ParseCallback matches payload against the declared callback families.
func ParseCallback(payload string) (Callback, bool) {
	for _, cp := range callbackPatterns {
		m := cp.pattern.FindStringSubmatch(payload)
		if m == nil {
			continue
		}
		if len(m) == 3 {
			return Callback{Kind: cp.kind, Enable: m[1] == "on", Ref: m[2]}, true
		}
		return Callback{Kind: cp.kind, Ref: m[1]}, true
	}
	return Callback{}, false
}

func JoinPayload(groupID string) string        { return "join_" + groupID }
func GroupSelectPayload(groupID string) string { return "group_" + groupID }
func TypeSelectPayload(t ActivityType) string  { return "type_" + string(t) }

// MediatorTogglePayload encodes the enable/disable choice for a group's mediator.
func MediatorTogglePayload(groupID string, enable bool) string {
	return "ai_" + onOff(enable) + "_" + groupID
}

// GuidanceTogglePayload encodes the enable/disable choice for an activity's guidance.
func GuidanceTogglePayload(activityID string, enable bool) string {
	return "ai_guide_" + onOff(enable) + "_" + activityID
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
