package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/AutiConnect/internal/flow"
	"github.com/BTreeMap/AutiConnect/internal/models"
)

// handleCallback serves button selections that no active flow claimed.
func (d *Dispatcher) handleCallback(ctx context.Context, ev models.Event) error {
	cb, ok := models.ParseCallback(ev.Callback)
	if !ok {
		slog.Debug("Dispatcher.handleCallback: stale or unknown payload", "from", ev.From, "payload", ev.Callback)
		return d.reply(ctx, ev, ExpiredMenuMessage)
	}
	switch cb.Kind {
	case models.CallbackJoin:
		return d.join(ctx, ev, cb.Ref)
	case models.CallbackMediatorToggle:
		return d.toggleMediator(ctx, ev, cb.Ref, cb.Enable)
	case models.CallbackGuidanceToggle:
		return d.toggleGuidance(ctx, ev, cb.Ref, cb.Enable)
	default:
		// Group and type selections only mean something inside an activity flow.
		slog.Debug("Dispatcher.handleCallback: selection outside a flow", "from", ev.From, "payload", ev.Callback)
		return d.reply(ctx, ev, ExpiredMenuMessage)
	}
}

func (d *Dispatcher) join(ctx context.Context, ev models.Event, groupID string) error {
	u, err := d.store.GetUser(ctx, ev.From)
	if err != nil {
		return d.apologize(ctx, ev, fmt.Errorf("load user: %w", err))
	}
	if u == nil {
		return d.reply(ctx, ev, flow.NotRegisteredMessage)
	}
	g, err := d.store.GetGroup(ctx, groupID)
	if err != nil {
		return d.apologize(ctx, ev, fmt.Errorf("load group %s: %w", groupID, err))
	}
	if g == nil {
		return d.reply(ctx, ev, GroupNotFoundMessage)
	}
	if g.HasMember(u.ID) {
		return d.reply(ctx, ev, fmt.Sprintf("You are already a member of %q.", g.Name))
	}
	if err := d.store.AddMemberToGroup(ctx, g.ID, u.ID); err != nil {
		if errors.Is(err, models.ErrGroupFull) {
			slog.Info("Dispatcher.join: group full", "group_id", g.ID, "user_id", u.ID)
			return d.reply(ctx, ev, GroupFullMessage)
		}
		return d.apologize(ctx, ev, fmt.Errorf("join group %s: %w", g.ID, err))
	}
	d.touch(ctx, u.ID)
	slog.Info("Dispatcher.join: member added", "group_id", g.ID, "user_id", u.ID)
	return d.reply(ctx, ev, fmt.Sprintf("You joined the group %q!\n\nSend /activities to see its scheduled activities.", g.Name))
}

// toggleMediator applies the post-creation mediator choice. The group already
// exists with the mediator on, so this is an independent update.
func (d *Dispatcher) toggleMediator(ctx context.Context, ev models.Event, groupID string, enable bool) error {
	g, err := d.store.GetGroup(ctx, groupID)
	if err != nil {
		return d.apologize(ctx, ev, fmt.Errorf("load group %s: %w", groupID, err))
	}
	if g == nil {
		return d.reply(ctx, ev, GroupNotFoundMessage)
	}
	if g.CreatorID != ev.From {
		slog.Warn("Dispatcher.toggleMediator: caller is not the creator", "group_id", g.ID, "user_id", ev.From)
		return d.reply(ctx, ev, NotCreatorMessage)
	}
	if err := d.store.UpdateGroupMediator(ctx, g.ID, enable, g.Mediator); err != nil {
		return d.apologize(ctx, ev, fmt.Errorf("update mediator of %s: %w", g.ID, err))
	}
	slog.Info("Dispatcher.toggleMediator: mediator updated", "group_id", g.ID, "enabled", enable)
	return d.reply(ctx, ev, fmt.Sprintf("AI mediator %s for the group %q.\n\nSend /startactivity to begin an activity in this group.", onOff(enable), g.Name))
}

func (d *Dispatcher) toggleGuidance(ctx context.Context, ev models.Event, activityID string, enable bool) error {
	a, err := d.store.GetActivity(ctx, activityID)
	if err != nil {
		return d.apologize(ctx, ev, fmt.Errorf("load activity %s: %w", activityID, err))
	}
	if a == nil {
		return d.reply(ctx, ev, ExpiredMenuMessage)
	}
	if a.CreatorID != ev.From {
		slog.Warn("Dispatcher.toggleGuidance: caller is not the creator", "activity_id", a.ID, "user_id", ev.From)
		return d.reply(ctx, ev, NotCreatorMessage)
	}
	if err := d.store.UpdateActivityGuidance(ctx, a.ID, enable); err != nil {
		return d.apologize(ctx, ev, fmt.Errorf("update guidance of %s: %w", a.ID, err))
	}
	slog.Info("Dispatcher.toggleGuidance: guidance updated", "activity_id", a.ID, "enabled", enable)
	return d.reply(ctx, ev, fmt.Sprintf("AI guide %s for %q.\n\nSend /activities to see every scheduled activity.", onOff(enable), a.Title))
}

func onOff(enable bool) string {
	if enable {
		return "enabled"
	}
	return "disabled"
}
