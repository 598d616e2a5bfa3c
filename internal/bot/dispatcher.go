// Package bot routes inbound events to the conversation flows, the command and
// callback handlers, and the moderation engine.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/flow"
	"github.com/BTreeMap/AutiConnect/internal/models"
	"github.com/BTreeMap/AutiConnect/internal/moderation"
	"github.com/BTreeMap/AutiConnect/internal/store"
)

// Sender is the outbound surface of the dispatcher.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
	SendMenu(ctx context.Context, to, body string, buttons []models.Button) error
}

// Opts configures a Dispatcher.
type Opts struct {
	Dedup store.DedupRepo
	Now   func() time.Time
}

// Option defines a configuration option for the Dispatcher.
type Option func(*Opts)

// WithDedup drops events whose transport id was already recorded.
func WithDedup(repo store.DedupRepo) Option {
	return func(o *Opts) { o.Dedup = repo }
}

func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Dispatcher owns the routing of every inbound event. Events are handled one
// at a time in arrival order.
type Dispatcher struct {
	store      store.Store
	flows      *flow.Engine
	moderation *moderation.Engine
	sender     Sender
	dedup      store.DedupRepo
	now        func() time.Time
	commands   map[string]commandHandler
}

// NewDispatcher wires the dispatcher to its collaborators.
func NewDispatcher(st store.Store, flows *flow.Engine, mod *moderation.Engine, sender Sender, opts ...Option) *Dispatcher {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	d := &Dispatcher{
		store:      st,
		flows:      flows,
		moderation: mod,
		sender:     sender,
		dedup:      cfg.Dedup,
		now:        cfg.Now,
	}
	d.commands = d.commandTable()
	return d
}

// Run handles events until ctx ends or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, events <-chan models.Event) {
	slog.Info("Dispatcher.Run: started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher.Run: stopping", "reason", ctx.Err())
			return
		case ev, ok := <-events:
			if !ok {
				slog.Info("Dispatcher.Run: event channel closed")
				return
			}
			if err := d.Dispatch(ctx, ev); err != nil {
				slog.Error("Dispatcher.Run: event failed", "from", ev.From, "chat_id", ev.ChatID, "kind", ev.Kind, "error", err)
			}
		}
	}
}

// Dispatch routes one event. Flow answers take precedence over everything but
// commands; what no flow, command or callback claims goes to moderation.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) error {
	if ev.From == "" {
		return errors.New("event without sender")
	}
	if ev.ChatID == "" {
		ev.ChatID = ev.From
	}
	if d.dedup != nil && ev.ID != "" {
		fresh, err := d.dedup.RecordInbound(ctx, ev.ID, ev.From)
		if err != nil {
			slog.Warn("Dispatcher.Dispatch: dedup check failed", "id", ev.ID, "error", err)
		} else if !fresh {
			slog.Debug("Dispatcher.Dispatch: duplicate event dropped", "id", ev.ID, "from", ev.From)
			return nil
		}
		defer func() {
			if err := d.dedup.MarkProcessed(ctx, ev.ID); err != nil {
				slog.Warn("Dispatcher.Dispatch: mark processed failed", "id", ev.ID, "error", err)
			}
		}()
	}

	slog.Debug("Dispatcher.Dispatch: routing", "from", ev.From, "chat_id", ev.ChatID, "group", ev.IsGroup, "kind", ev.Kind)
	if ev.IsGroup {
		return d.dispatchGroup(ctx, ev)
	}

	switch ev.Kind {
	case models.EventCommand:
		return d.handleCommand(ctx, ev)
	case models.EventCallback:
		if handled, err := d.flows.Handle(ctx, ev); handled {
			return err
		}
		return d.handleCallback(ctx, ev)
	default:
		if handled, err := d.flows.Handle(ctx, ev); handled {
			return err
		}
		_, err := d.moderation.HandlePrivateMessage(ctx, ev)
		return err
	}
}

func (d *Dispatcher) dispatchGroup(ctx context.Context, ev models.Event) error {
	switch ev.Kind {
	case models.EventCommand:
		switch ev.Command {
		case "link":
			return d.link(ctx, ev)
		case "help", "ajuda":
			return d.reply(ctx, ev, helpGroupChat)
		default:
			return d.reply(ctx, ev, GroupCommandsOnlyMessage)
		}
	case models.EventCallback:
		slog.Debug("Dispatcher.dispatchGroup: ignoring group callback", "chat_id", ev.ChatID, "payload", ev.Callback)
		return nil
	default:
		_, err := d.moderation.HandleGroupMessage(ctx, ev)
		return err
	}
}

// reply answers in the chat the event came from.
func (d *Dispatcher) reply(ctx context.Context, ev models.Event, body string) error {
	return d.sender.SendMessage(ctx, ev.ChatID, body)
}

// touch records activity for registered callers; unknown users are ignored by the store.
func (d *Dispatcher) touch(ctx context.Context, userID string) {
	if err := d.store.TouchLastActive(ctx, userID, d.now()); err != nil {
		slog.Warn("Dispatcher.touch: last active not updated", "user_id", userID, "error", err)
	}
}
