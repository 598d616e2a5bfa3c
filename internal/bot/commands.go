package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/AutiConnect/internal/flow"
	"github.com/BTreeMap/AutiConnect/internal/models"
)

type commandHandler func(ctx context.Context, ev models.Event) error

// commandTable maps command names, including the Portuguese aliases, to handlers.
func (d *Dispatcher) commandTable() map[string]commandHandler {
	startFlow := func(kind models.FlowKind) commandHandler {
		return func(ctx context.Context, ev models.Event) error {
			_, err := d.flows.Start(ctx, ev.From, kind)
			return err
		}
	}
	table := map[string]commandHandler{}
	register := func(h commandHandler, names ...string) {
		for _, n := range names {
			table[n] = h
		}
	}
	register(startFlow(models.FlowRegistration), "start")
	register(startFlow(models.FlowGroupCreation), "creategroup", "create_group", "criar_grupo")
	register(startFlow(models.FlowActivityCreation), "startactivity", "start_activity", "iniciar_atividade")
	register(startFlow(models.FlowProfileUpdate), "profile", "perfil")
	register(d.cancel, "cancel", "cancelar")
	register(d.help, "help", "ajuda")
	register(d.listGroups, "groups", "grupos")
	register(d.listActivities, "activities", "atividades")
	register(func(ctx context.Context, ev models.Event) error {
		return d.reply(ctx, ev, LinkPrivateMessage)
	}, "link")
	return table
}

func (d *Dispatcher) handleCommand(ctx context.Context, ev models.Event) error {
	h, ok := d.commands[ev.Command]
	if !ok {
		slog.Debug("Dispatcher.handleCommand: unknown command", "from", ev.From, "command", ev.Command)
		return d.reply(ctx, ev, UnknownCommandMessage)
	}
	slog.Debug("Dispatcher.handleCommand: command", "from", ev.From, "command", ev.Command)
	return h(ctx, ev)
}

func (d *Dispatcher) cancel(ctx context.Context, ev models.Event) error {
	d.flows.Cancel(ev.From)
	return d.reply(ctx, ev, CancelMessage)
}

func (d *Dispatcher) help(ctx context.Context, ev models.Event) error {
	d.touch(ctx, ev.From)
	u, err := d.store.GetUser(ctx, ev.From)
	if err != nil {
		return err
	}
	switch {
	case u == nil:
		return d.reply(ctx, ev, helpUnregistered)
	case u.IsFacilitator():
		return d.reply(ctx, ev, helpFacilitator)
	default:
		return d.reply(ctx, ev, helpMember)
	}
}

// listGroups shows every group and offers join options for the ones the
// caller could still join.
func (d *Dispatcher) listGroups(ctx context.Context, ev models.Event) error {
	d.touch(ctx, ev.From)
	groups, err := d.store.ListGroups(ctx)
	if err != nil {
		return d.apologize(ctx, ev, fmt.Errorf("list groups: %w", err))
	}
	if len(groups) == 0 {
		return d.reply(ctx, ev, NoGroupsListedMessage)
	}
	caller, err := d.store.GetUser(ctx, ev.From)
	if err != nil {
		return d.apologize(ctx, ev, fmt.Errorf("load caller: %w", err))
	}

	var b strings.Builder
	b.WriteString("📋 Available groups:\n")
	var buttons []models.Button
	for i := range groups {
		g := &groups[i]
		facilitator := "Unknown"
		if creator, err := d.store.GetUser(ctx, g.CreatorID); err == nil && creator != nil {
			facilitator = creator.Name
		}
		mediator := "❌ Off"
		if g.MediatorEnabled {
			mediator = "✅ On"
		}
		fmt.Fprintf(&b, "\n%s\n📝 Theme: %s\n👥 Members: %d/%d\n👨‍⚕️ Facilitator: %s\n🤖 AI mediator: %s\nℹ️ %s\n",
			g.Name, g.Theme, len(g.Members), g.MaxMembers, facilitator, mediator, g.Description)
		if caller != nil && !g.IsFull() && !g.HasMember(caller.ID) {
			buttons = append(buttons, models.Button{Label: "Join: " + g.Name, Payload: models.JoinPayload(g.ID)})
		}
	}
	if len(buttons) == 0 {
		if caller == nil {
			b.WriteString("\nSend /start to register before joining a group.")
		}
		return d.reply(ctx, ev, b.String())
	}
	return d.sender.SendMenu(ctx, ev.ChatID, b.String(), buttons)
}

// listActivities shows the scheduled activities of every group the caller belongs to.
func (d *Dispatcher) listActivities(ctx context.Context, ev models.Event) error {
	d.touch(ctx, ev.From)
	activities, err := d.store.ListActivitiesForUserGroups(ctx, ev.From, models.ActivityScheduled)
	if err != nil {
		return d.apologize(ctx, ev, fmt.Errorf("list activities: %w", err))
	}
	if len(activities) == 0 {
		return d.reply(ctx, ev, NoActivitiesMessage)
	}

	names := make(map[string]string)
	var b strings.Builder
	b.WriteString("📅 Scheduled activities:\n")
	for _, a := range activities {
		name, ok := names[a.GroupID]
		if !ok {
			name = "Unknown"
			if g, err := d.store.GetGroup(ctx, a.GroupID); err == nil && g != nil {
				name = g.Name
			}
			names[a.GroupID] = name
		}
		guidance := "❌ Off"
		if a.GuidanceEnabled {
			guidance = "✅ On"
		}
		fmt.Fprintf(&b, "\n%s\n📝 Type: %s\n👥 Group: %s\n⏱️ Duration: %d minutes\n🤖 AI guide: %s\nℹ️ %s\n",
			a.Title, flow.ActivityTypeLabel(a.Type), name, a.DurationMinutes, guidance, a.Description)
	}
	return d.reply(ctx, ev, b.String())
}

// link binds the group chat the command was sent from to one of the caller's groups.
func (d *Dispatcher) link(ctx context.Context, ev models.Event) error {
	groupID := strings.TrimSpace(ev.Args)
	if groupID == "" {
		return d.reply(ctx, ev, LinkUsageMessage)
	}
	g, err := d.store.GetGroup(ctx, groupID)
	if err != nil {
		return d.apologize(ctx, ev, fmt.Errorf("load group %s: %w", groupID, err))
	}
	if g == nil {
		return d.reply(ctx, ev, GroupNotFoundMessage)
	}
	if g.CreatorID != ev.From {
		slog.Warn("Dispatcher.link: caller is not the creator", "group_id", g.ID, "user_id", ev.From)
		return d.reply(ctx, ev, NotCreatorMessage)
	}
	if err := d.store.LinkGroupChat(ctx, g.ID, ev.ChatID); err != nil {
		return d.apologize(ctx, ev, fmt.Errorf("link group %s: %w", g.ID, err))
	}
	slog.Info("Dispatcher.link: group chat linked", "group_id", g.ID, "chat_id", ev.ChatID)
	return d.reply(ctx, ev, fmt.Sprintf("This chat is now connected to the group %q.", g.Name))
}

// apologize logs a storage failure and tells the caller something went wrong.
func (d *Dispatcher) apologize(ctx context.Context, ev models.Event, err error) error {
	slog.Error("Dispatcher: request failed", "from", ev.From, "chat_id", ev.ChatID, "error", err)
	if sendErr := d.reply(ctx, ev, flow.Apology); sendErr != nil {
		return errors.Join(err, sendErr)
	}
	return nil
}
