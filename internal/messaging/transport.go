package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/models"
	"github.com/BTreeMap/AutiConnect/internal/whatsapp"
)

// transport holds what WhatsAppService and TwilioService share: the event
// channel, the menu registry and outbound pacing.
type transport struct {
	name    string
	events  chan models.Event
	menus   *MenuRegistry
	pacer   *Pacer
	now     func() time.Time
	mu      sync.RWMutex
	stopped bool
}

func newTransport(name string, cfg Opts) *transport {
	return &transport{
		name:   name,
		events: make(chan models.Event, cfg.BufferSize),
		menus:  NewMenuRegistry(),
		pacer:  cfg.Pacer,
		now:    cfg.Now,
	}
}

// Events returns the channel of inbound events.
func (t *transport) Events() <-chan models.Event {
	return t.events
}

// Menus exposes the pending menus.
func (t *transport) Menus() *MenuRegistry {
	return t.menus
}

// beforeSend fails once the transport is stopped and otherwise waits for the pacer.
func (t *transport) beforeSend(ctx context.Context) error {
	t.mu.RLock()
	stopped := t.stopped
	t.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	return t.pacer.Wait(ctx)
}

func (t *transport) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.events)
	slog.Info(t.name+".Stop: stopped and event channel closed")
}

// toEvent classifies an inbound text. A reply to a pending menu becomes a
// callback event; any other text is a message or a command.
func (t *transport) toEvent(in whatsapp.Inbound) models.Event {
	if payload, ok := t.menus.Resolve(in.ChatID, in.Text); ok {
		ev := models.NewCallbackEvent(in.From, in.ChatID, in.IsGroup, payload, in.Time)
		ev.ID = in.ID
		ev.SenderName = in.SenderName
		ev.Text = in.Text
		return ev
	}
	ev := models.NewTextEvent(in.From, in.ChatID, in.IsGroup, in.Text, in.Time)
	ev.ID = in.ID
	ev.SenderName = in.SenderName
	return ev
}

// receive converts and queues an inbound message, dropping it when the
// channel stays full for DefaultChannelTimeout.
func (t *transport) receive(in whatsapp.Inbound) {
	if in.Time.IsZero() {
		in.Time = t.now()
	}
	ev := t.toEvent(in)

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stopped {
		slog.Warn(t.name+".receive: dropping inbound event (service stopped)", "from", ev.From)
		return
	}
	select {
	case t.events <- ev:
		slog.Debug(t.name+".receive: event forwarded", "from", ev.From, "chat_id", ev.ChatID, "kind", ev.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(t.name+".receive: event channel blocked, dropping message", "from", ev.From, "timeout", DefaultChannelTimeout)
	}
}
