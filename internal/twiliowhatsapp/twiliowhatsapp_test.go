package twiliowhatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	if err := mock.SendMessage(ctx, "12345", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs := mock.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", msgs[0].Body)
	}
}

func TestAddressAndNumber(t *testing.T) {
	tests := []struct {
		in, address, number string
	}{
		{"5511999998888", "whatsapp:+5511999998888", "5511999998888"},
		{"+5511999998888", "whatsapp:+5511999998888", "5511999998888"},
		{"whatsapp:+5511999998888", "whatsapp:+5511999998888", "5511999998888"},
	}
	for _, tt := range tests {
		if got := Address(tt.in); got != tt.address {
			t.Errorf("Address(%q) = %q, want %q", tt.in, got, tt.address)
		}
		if got := Number(tt.in); got != tt.number {
			t.Errorf("Number(%q) = %q, want %q", tt.in, got, tt.number)
		}
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token")); err == nil {
		t.Error("expected error without sender number")
	}
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token"), WithFromWhats("+14155238886"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.fromWhats != "whatsapp:+14155238886" {
		t.Errorf("unexpected sender %q", c.fromWhats)
	}
}

func TestNewClientFallsBackToEnv(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "ACenv")
	t.Setenv("TWILIO_AUTH_TOKEN", "envtoken")
	t.Setenv("TWILIO_FROM_NUMBER", "whatsapp:+14155238886")

	cfg := resolve()
	if cfg.AccountSID != "ACenv" || cfg.AuthToken != "envtoken" {
		t.Errorf("environment not used: %+v", cfg)
	}
	if cfg = resolve(WithAccountSID("ACopt")); cfg.AccountSID != "ACopt" {
		t.Errorf("option should win over environment: %+v", cfg)
	}
}

func sign(token, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := url
	for _, k := range keys {
		data += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhookValidator(t *testing.T) {
	url := "https://example.com/twilio/webhook"
	params := map[string]string{"From": "whatsapp:+5511999998888", "Body": "oi", "MessageSid": "SM1"}
	v := NewWebhookValidator("secret")

	if !v.Validate(url, params, sign("secret", url, params)) {
		t.Error("valid signature rejected")
	}
	if v.Validate(url, params, sign("other", url, params)) {
		t.Error("signature with the wrong token accepted")
	}

	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("secret"), WithFromWhats("+14155238886"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if !c.Validator().Validate(url, params, sign("secret", url, params)) {
		t.Error("client validator should use the client's auth token")
	}
}
