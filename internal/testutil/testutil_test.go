package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

func TestRecordingServiceRecordsSends(t *testing.T) {
	ctx := context.Background()
	svc := NewRecordingService(1)

	if err := svc.SendMessage(ctx, "a", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := svc.SendMenu(ctx, "b", "pick", []models.Button{{Label: "One", Payload: "p1"}}); err != nil {
		t.Fatalf("SendMenu: %v", err)
	}

	if got := len(svc.Sent()); got != 2 {
		t.Fatalf("expected 2 sent messages, got %d", got)
	}
	last, ok := svc.Last("b")
	if !ok || !last.IsMenu() || last.Buttons[0].Payload != "p1" {
		t.Errorf("unexpected last message to b: %+v", last)
	}
	if len(svc.SentTo("c")) != 0 {
		t.Error("expected nothing sent to c")
	}

	svc.SendErr = errors.New("down")
	if err := svc.SendMessage(ctx, "a", "again"); err == nil {
		t.Error("expected SendErr to be returned")
	}
	svc.Reset()
	if len(svc.Sent()) != 0 {
		t.Error("expected Reset to clear messages")
	}
}

func TestRecordingServiceRejectsEmptyRecipient(t *testing.T) {
	svc := NewRecordingService(0)
	if _, err := svc.ValidateAndCanonicalizeRecipient("  "); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if got, err := svc.ValidateAndCanonicalizeRecipient(" 123 "); err != nil || got != "123" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestScriptedOracleOrder(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	o := NewScriptedOracle("").Reply("first").Fail(boom)

	if got, err := o.GeneratePrompt(ctx, "s", "u1"); err != nil || got != "first" {
		t.Errorf("call 1: got %q, %v", got, err)
	}
	if _, err := o.GeneratePrompt(ctx, "s", "u2"); !errors.Is(err, boom) {
		t.Errorf("call 2: expected boom, got %v", err)
	}
	if _, err := o.GeneratePrompt(ctx, "s", "u3"); !errors.Is(err, ErrScriptExhausted) {
		t.Errorf("call 3: expected ErrScriptExhausted, got %v", err)
	}
	if calls := o.Calls(); len(calls) != 3 || calls[1].User != "u2" {
		t.Errorf("unexpected calls: %+v", calls)
	}
}

func TestScriptedOracleBlockHonorsContext(t *testing.T) {
	o := NewScriptedOracle("never")
	o.Block = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.GeneratePrompt(ctx, "s", "u"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
