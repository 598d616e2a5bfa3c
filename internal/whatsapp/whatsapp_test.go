package whatsapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestOptions(t *testing.T) {
	opts := &Opts{}
	WithDBDSN("/tmp/test.db")(opts)
	WithQRCodeOutput("/tmp/qr.txt")(opts)
	WithNumericCode()(opts)
	WithLogLevel("debug")(opts)

	if opts.DBDSN != "/tmp/test.db" || opts.QRPath != "/tmp/qr.txt" || !opts.NumericCode || opts.LogLevel != "DEBUG" {
		t.Errorf("options not applied: %+v", opts)
	}
}

func TestParseRecipient(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"5511999998888", "5511999998888@s.whatsapp.net", false},
		{"+5511999998888", "5511999998888@s.whatsapp.net", false},
		{"120363025246125486@g.us", "120363025246125486@g.us", false},
		{"5511999998888@s.whatsapp.net", "5511999998888@s.whatsapp.net", false},
		{"  ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			jid, err := ParseRecipient(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", jid)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if jid.String() != tt.want {
				t.Errorf("got %q, want %q", jid.String(), tt.want)
			}
		})
	}
}

func TestUserID(t *testing.T) {
	if got := UserID(types.NewJID("5511999998888", types.DefaultUserServer)); got != "5511999998888" {
		t.Errorf("phone JID: got %q", got)
	}
	if got := UserID(types.NewJID("123456", types.HiddenUserServer)); got != "123456@lid" {
		t.Errorf("hidden JID: got %q", got)
	}
}

func newMessageEvent(sender, chat types.JID, isGroup bool, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: sender, IsGroup: isGroup},
			ID:            "MSG1",
			PushName:      "Ana",
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: msg,
	}
}

func TestInboundFromEvent(t *testing.T) {
	ana := types.NewJID("5511999998888", types.DefaultUserServer)
	group := types.NewJID("120363025246125486", types.GroupServer)

	t.Run("private conversation", func(t *testing.T) {
		in, ok := InboundFromEvent(newMessageEvent(ana, ana, false, &waE2E.Message{Conversation: proto.String("oi")}))
		if !ok {
			t.Fatal("expected text message")
		}
		if in.From != "5511999998888" || in.ChatID != "5511999998888" || in.IsGroup || in.Text != "oi" || in.ID != "MSG1" || in.SenderName != "Ana" {
			t.Errorf("unexpected inbound: %+v", in)
		}
	})
	t.Run("group extended text", func(t *testing.T) {
		msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hello all")}}
		in, ok := InboundFromEvent(newMessageEvent(ana, group, true, msg))
		if !ok || !in.IsGroup || in.ChatID != "120363025246125486@g.us" || in.Text != "hello all" {
			t.Errorf("unexpected inbound: %+v, %v", in, ok)
		}
	})
	t.Run("non-text skipped", func(t *testing.T) {
		msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}
		if _, ok := InboundFromEvent(newMessageEvent(ana, ana, false, msg)); ok {
			t.Error("image message should be skipped")
		}
	})
	t.Run("own message skipped", func(t *testing.T) {
		evt := newMessageEvent(ana, ana, false, &waE2E.Message{Conversation: proto.String("echo")})
		evt.Info.IsFromMe = true
		if _, ok := InboundFromEvent(evt); ok {
			t.Error("own message should be skipped")
		}
	})
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "123", "hi"); err != nil {
		t.Fatal(err)
	}
	if msgs := m.Messages(); len(msgs) != 1 || msgs[0].To != "123" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
	m.Err = errors.New("offline")
	if err := m.SendMessage(context.Background(), "123", "hi"); err == nil {
		t.Error("expected configured error")
	}
}

func TestClientRejectsUninitialized(t *testing.T) {
	var c Client
	if err := c.SendMessage(context.Background(), "123", "hi"); err == nil {
		t.Error("expected error from uninitialized client")
	}
}
