package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/models"
	"github.com/BTreeMap/AutiConnect/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// Ensure WhatsAppService implements Service interface
func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

var (
	anaJID   = types.NewJID("5511999998888", types.DefaultUserServer)
	groupJID = types.NewJID("120363025246125888", types.GroupServer)
)

func textEvent(chat, sender types.JID, isGroup bool, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: sender, IsGroup: isGroup},
			ID:            "MSG1",
			PushName:      "Ana",
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func nextEvent(t *testing.T, ch <-chan models.Event) models.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
	return models.Event{}
}

func TestWhatsAppService_Recipients(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+55 11 99999-8888", "5511999998888", false},
		{"120363025246125888@g.us", "120363025246125888@g.us", false},
		{"5511999998888@s.whatsapp.net", "5511999998888@s.whatsapp.net", false},
		{"", "", true},
		{"12", "", true},
	}
	for _, tt := range tests {
		got, err := svc.ValidateAndCanonicalizeRecipient(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWhatsAppService_SendMessage(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()

	if err := svc.SendMessage(ctx, "+55 11 99999-8888", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	msgs := mock.Messages()
	if len(msgs) != 1 || msgs[0].To != "5511999998888" || msgs[0].Body != "hello" {
		t.Fatalf("unexpected sends: %+v", msgs)
	}

	mock.Err = errors.New("boom")
	if err := svc.SendMessage(ctx, "5511999998888", "again"); err == nil {
		t.Error("expected client error")
	}
}

func TestWhatsAppService_MenuRoundTrip(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()
	buttons := []models.Button{{Label: "Member", Payload: "role_member"}, {Label: "Facilitator", Payload: "role_facilitator"}}

	if err := svc.SendMenu(ctx, "5511999998888", "Choose your role:", buttons); err != nil {
		t.Fatalf("SendMenu: %v", err)
	}
	if got := mock.Messages()[0].Body; got != RenderMenu("Choose your role:", buttons) {
		t.Errorf("unexpected menu text %q", got)
	}

	svc.handleEvent(textEvent(anaJID, anaJID, false, "2"))
	ev := nextEvent(t, svc.Events())
	if ev.Kind != models.EventCallback || ev.Callback != "role_facilitator" {
		t.Fatalf("expected callback role_facilitator, got %+v", ev)
	}
	if ev.From != "5511999998888" || ev.ChatID != "5511999998888" || ev.ID != "MSG1" || ev.SenderName != "Ana" {
		t.Errorf("unexpected event identity %+v", ev)
	}

	// The menu answered once; the same digit is now plain text.
	svc.handleEvent(textEvent(anaJID, anaJID, false, "2"))
	ev = nextEvent(t, svc.Events())
	if ev.Kind != models.EventText || ev.Text != "2" {
		t.Errorf("expected text event, got %+v", ev)
	}
}

func TestWhatsAppService_SendMenuFailureClearsMenu(t *testing.T) {
	mock := whatsapp.NewMockClient()
	mock.Err = errors.New("offline")
	svc := NewWhatsAppService(mock)

	err := svc.SendMenu(context.Background(), "5511999998888", "pick", []models.Button{{Label: "A", Payload: "a"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if svc.Menus().Pending("5511999998888") {
		t.Error("failed menu should not stay pending")
	}
}

func TestWhatsAppService_GroupAndCommandEvents(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	svc.handleEvent(textEvent(groupJID, anaJID, true, "hello everyone"))
	ev := nextEvent(t, svc.Events())
	if !ev.IsGroup || ev.ChatID != groupJID.String() || ev.From != "5511999998888" {
		t.Errorf("unexpected group event %+v", ev)
	}

	svc.handleEvent(textEvent(anaJID, anaJID, false, "/start"))
	ev = nextEvent(t, svc.Events())
	if ev.Kind != models.EventCommand || ev.Command != "start" {
		t.Errorf("expected /start command, got %+v", ev)
	}
}

func TestWhatsAppService_IgnoresOwnMessages(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	evt := textEvent(anaJID, anaJID, false, "echo")
	evt.Info.IsFromMe = true
	svc.handleEvent(evt)
	svc.handleEvent(&events.Connected{})

	select {
	case ev := <-svc.Events():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if ev, ok := <-svc.Events(); ok {
		t.Errorf("expected events channel closed, got value %v", ev)
	}
	if err := svc.SendMessage(context.Background(), "5511999998888", "late"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Inbound after stop is dropped rather than panicking on the closed channel.
	svc.handleEvent(textEvent(anaJID, anaJID, false, "late"))
}
