package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/models"
	"github.com/BTreeMap/AutiConnect/internal/twiliowhatsapp"
)

func TestTwilioService_ImplementsService(t *testing.T) {
	var _ Service = (*TwilioService)(nil)
}

func webhookRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func twilioSignature(token, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := u
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "whatsapp:+5511999998888", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	msgs := mock.Messages()
	if len(msgs) != 1 || msgs[0].To != "5511999998888" {
		t.Fatalf("unexpected sends %+v", msgs)
	}
}

func TestTwilioService_Webhook(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithClock(func() time.Time { return fixed }))

	form := url.Values{"From": {"whatsapp:+5511999998888"}, "Body": {"hello"}, "MessageSid": {"SM1"}, "ProfileName": {"Ana"}}
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, webhookRequest(form))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	ev := nextEvent(t, svc.Events())
	if ev.From != "5511999998888" || ev.ChatID != "5511999998888" || ev.Text != "hello" || ev.ID != "SM1" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.IsGroup || !ev.Time.Equal(fixed) || ev.SenderName != "Ana" {
		t.Errorf("unexpected event metadata %+v", ev)
	}
}

func TestTwilioService_WebhookMenuReply(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	buttons := []models.Button{{Label: "Join", Payload: "join_g1"}}
	if err := svc.SendMenu(context.Background(), "5511999998888", "Groups:", buttons); err != nil {
		t.Fatalf("SendMenu: %v", err)
	}

	form := url.Values{"From": {"whatsapp:+5511999998888"}, "Body": {"1"}}
	svc.WebhookHandler(httptest.NewRecorder(), webhookRequest(form))
	ev := nextEvent(t, svc.Events())
	if ev.Kind != models.EventCallback || ev.Callback != "join_g1" {
		t.Errorf("expected join callback, got %+v", ev)
	}
}

func TestTwilioService_WebhookRejects(t *testing.T) {
	tests := []struct {
		name   string
		method string
		form   url.Values
		want   int
	}{
		{"missing body", http.MethodPost, url.Values{"From": {"whatsapp:+5511999998888"}}, http.StatusBadRequest},
		{"missing from", http.MethodPost, url.Values{"Body": {"hi"}}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewTwilioService(twiliowhatsapp.NewMockClient())
			req := webhookRequest(tt.form)
			req.Method = tt.method
			rec := httptest.NewRecorder()
			svc.WebhookHandler(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestTwilioService_WebhookSignature(t *testing.T) {
	const token = "secret"
	const public = "https://bot.example.com"
	form := url.Values{"From": {"whatsapp:+5511999998888"}, "Body": {"hello"}, "MessageSid": {"SM2"}}

	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	svc.RequireSignature(twiliowhatsapp.NewWebhookValidator(token), public)

	bad := webhookRequest(form)
	bad.Header.Set(TwilioSignatureHeader, "forged")
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, bad)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("forged signature: status = %d", rec.Code)
	}

	good := webhookRequest(form)
	good.Header.Set(TwilioSignatureHeader, twilioSignature(token, public+"/twilio/webhook", form))
	rec = httptest.NewRecorder()
	svc.WebhookHandler(rec, good)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid signature: status = %d", rec.Code)
	}
	if ev := nextEvent(t, svc.Events()); ev.ID != "SM2" {
		t.Errorf("unexpected event %+v", ev)
	}
}
