package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/AutiConnect/internal/models"
	"github.com/BTreeMap/AutiConnect/internal/twiliowhatsapp"
	"github.com/BTreeMap/AutiConnect/internal/whatsapp"
)

// TwilioSignatureHeader carries the webhook signature.
const TwilioSignatureHeader = "X-Twilio-Signature"

// emptyTwiML acknowledges a webhook without replying inline.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements Service using the Twilio API. Inbound messages
// arrive through WebhookHandler; Twilio only serves private chats.
type TwilioService struct {
	*transport
	client    twiliowhatsapp.Sender
	validator *twiliowhatsapp.WebhookValidator
	publicURL string
}

// NewTwilioService creates a new TwilioService around a Twilio client or mock.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...Option) *TwilioService {
	return &TwilioService{
		transport: newTransport("TwilioService", resolveOpts(opts...)),
		client:    client,
	}
}

// RequireSignature makes the webhook reject requests whose signature does not
// match publicURL, the address Twilio is configured to call.
func (s *TwilioService) RequireSignature(v *twiliowhatsapp.WebhookValidator, publicURL string) {
	s.validator = v
	s.publicURL = publicURL
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(twiliowhatsapp.Number(recipient))
}

// Start is a no-op; inbound traffic arrives through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channel.
func (s *TwilioService) Stop() error {
	s.stop()
	return nil
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.beforeSend(ctx); err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("TwilioService.SendMessage: send failed", "error", err, "to", canonical)
		return err
	}
	return nil
}

// SendMenu sends body with numbered options and remembers them for the next reply.
func (s *TwilioService) SendMenu(ctx context.Context, to string, body string, buttons []models.Button) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	s.menus.Register(canonical, buttons)
	if err := s.SendMessage(ctx, canonical, RenderMenu(body, buttons)); err != nil {
		s.menus.Clear(canonical)
		return err
	}
	return nil
}

// WebhookHandler handles inbound Twilio webhook requests and emits them on Events.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		url := strings.TrimSuffix(s.publicURL, "/") + r.URL.RequestURI()
		if !s.validator.Validate(url, params, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("TwilioService.WebhookHandler: invalid signature", "url", url)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := twiliowhatsapp.Number(r.PostFormValue("From"))
	body := r.PostFormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService.WebhookHandler: missing fields", "from", from, "body_length", len(body))
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	s.receive(whatsapp.Inbound{
		ID:         r.PostFormValue("MessageSid"),
		From:       from,
		SenderName: r.PostFormValue("ProfileName"),
		ChatID:     from,
		Text:       body,
	})

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}
