// Package testutil provides fakes shared by AutiConnect package tests.
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

// Outbound is one message captured by RecordingService.
type Outbound struct {
	To      string
	Body    string
	Buttons []models.Button
}

// IsMenu reports whether the message carried buttons.
func (o Outbound) IsMenu() bool { return len(o.Buttons) > 0 }

// RecordingService is an in-memory messaging transport that records every send.
type RecordingService struct {
	mu      sync.Mutex
	sent    []Outbound
	events  chan models.Event
	SendErr error
}

// NewRecordingService creates a transport whose event channel holds buffer events.
func NewRecordingService(buffer int) *RecordingService {
	return &RecordingService{events: make(chan models.Event, buffer)}
}

// ValidateAndCanonicalizeRecipient accepts any non-empty recipient.
func (r *RecordingService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	return recipient, nil
}

func (r *RecordingService) SendMessage(ctx context.Context, to, body string) error {
	return r.record(Outbound{To: to, Body: body})
}

func (r *RecordingService) SendMenu(ctx context.Context, to, body string, buttons []models.Button) error {
	return r.record(Outbound{To: to, Body: body, Buttons: append([]models.Button(nil), buttons...)})
}

func (r *RecordingService) record(o Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return r.SendErr
	}
	r.sent = append(r.sent, o)
	return nil
}

func (r *RecordingService) Start(ctx context.Context) error { return nil }

func (r *RecordingService) Stop() error { return nil }

func (r *RecordingService) Events() <-chan models.Event { return r.events }

// Emit queues an inbound event as if the transport had received it.
func (r *RecordingService) Emit(ev models.Event) { r.events <- ev }

// Sent returns a copy of everything sent so far.
func (r *RecordingService) Sent() []Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outbound(nil), r.sent...)
}

// SentTo returns the messages addressed to recipient.
func (r *RecordingService) SentTo(recipient string) []Outbound {
	var out []Outbound
	for _, o := range r.Sent() {
		if o.To == recipient {
			out = append(out, o)
		}
	}
	return out
}

// Last returns the most recent message addressed to recipient.
func (r *RecordingService) Last(recipient string) (Outbound, bool) {
	msgs := r.SentTo(recipient)
	if len(msgs) == 0 {
		return Outbound{}, false
	}
	return msgs[len(msgs)-1], true
}

// Reset forgets the recorded messages.
func (r *RecordingService) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// ErrScriptExhausted is returned by ScriptedOracle once its replies run out and
// no fallback is set.
var ErrScriptExhausted = errors.New("scripted oracle has no more replies")

// OracleCall captures the prompts passed to ScriptedOracle.
type OracleCall struct {
	System string
	User   string
}

// ScriptedOracle answers GeneratePrompt from a queue of replies or errors.
type ScriptedOracle struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    []OracleCall
	Fallback string
	// Block, when set, makes calls wait for the context to end.
	Block bool
}

// NewScriptedOracle returns an oracle that always answers fallback.
func NewScriptedOracle(fallback string) *ScriptedOracle {
	return &ScriptedOracle{Fallback: fallback}
}

// Reply queues a successful answer.
func (o *ScriptedOracle) Reply(text string) *ScriptedOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies = append(o.replies, text)
	o.errs = append(o.errs, nil)
	return o
}

// Fail queues a failure.
func (o *ScriptedOracle) Fail(err error) *ScriptedOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies = append(o.replies, "")
	o.errs = append(o.errs, err)
	return o
}

func (o *ScriptedOracle) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	o.mu.Lock()
	o.calls = append(o.calls, OracleCall{System: systemPrompt, User: userPrompt})
	block := o.Block
	var reply string
	var err error
	switch {
	case len(o.replies) > 0:
		reply, err = o.replies[0], o.errs[0]
		o.replies, o.errs = o.replies[1:], o.errs[1:]
	case o.Fallback != "":
		reply = o.Fallback
	default:
		err = ErrScriptExhausted
	}
	o.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return reply, err
}

// Calls returns the prompts received so far.
func (o *ScriptedOracle) Calls() []OracleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]OracleCall(nil), o.calls...)
}
