package messaging

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/AutiConnect/internal/models"
	"github.com/BTreeMap/AutiConnect/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// eventSource is implemented by *whatsapp.Client; mocks only send.
type eventSource interface {
	AddEventHandler(h func(evt interface{})) uint32
	RemoveEventHandler(id uint32) bool
}

// WhatsAppService implements Service using the whatsmeow-based whatsapp client.
// It serves private chats and group chats.
type WhatsAppService struct {
	*transport
	client    whatsapp.Sender
	source    eventSource
	handlerID uint32
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender, opts ...Option) *WhatsAppService {
	s := &WhatsAppService{
		transport: newTransport("WhatsAppService", resolveOpts(opts...)),
		client:    client,
	}
	if src, ok := client.(eventSource); ok {
		s.source = src
		slog.Debug("NewWhatsAppService: created with full client for event handling")
	} else {
		slog.Debug("NewWhatsAppService: created with send-only client (likely mock)")
	}
	return s
}

// ValidateAndCanonicalizeRecipient accepts a phone number or a full JID
// (groups are addressed by JID).
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if strings.Contains(recipient, "@") {
		jid, err := whatsapp.ParseRecipient(recipient)
		if err != nil {
			return "", err
		}
		return jid.ToNonAD().String(), nil
	}
	return canonicalPhone(recipient)
}

// Start registers the inbound message handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.source == nil {
		slog.Debug("WhatsAppService.Start: no event source, skipping event handling")
		return nil
	}
	s.handlerID = s.source.AddEventHandler(s.handleEvent)
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop unregisters the event handler and closes the event channel.
func (s *WhatsAppService) Stop() error {
	if s.source != nil && s.handlerID != 0 {
		s.source.RemoveEventHandler(s.handlerID)
	}
	s.stop()
	return nil
}

// SendMessage sends a text message to a user or group.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.beforeSend(ctx); err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonical)
		return err
	}
	slog.Debug("WhatsAppService.SendMessage: sent", "to", canonical, "body_length", len(body))
	return nil
}

// SendMenu sends body with numbered options and remembers them for the next reply.
func (s *WhatsAppService) SendMenu(ctx context.Context, to string, body string, buttons []models.Button) error {
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

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		in, ok := whatsapp.InboundFromEvent(v)
		if !ok {
			slog.Debug("WhatsAppService.handleEvent: ignoring message", "id", v.Info.ID, "from_me", v.Info.IsFromMe)
			return
		}
		s.receive(in)
	case *events.Connected:
		slog.Info("WhatsAppService.handleEvent: connected")
	case *events.Disconnected:
		slog.Warn("WhatsAppService.handleEvent: disconnected")
	}
}
