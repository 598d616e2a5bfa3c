package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

// Messages for facilitator-only entry points.
const (
	NotRegisteredMessage  = "You are not registered yet. Send /start to register first."
	NotFacilitatorMessage = "Only facilitators can do that."
)

// requireFacilitator refuses unregistered callers and non-facilitators.
func requireFacilitator(ctx context.Context, deps Deps, userID string) (*models.User, error) {
	user, err := deps.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &Notice{Message: NotRegisteredMessage}
	}
	if !user.IsFacilitator() {
		return nil, &Notice{Message: NotFacilitatorMessage, Err: models.ErrNotFacilitator}
	}
	return user, nil
}

// GroupCreation collects the details of a new group. The creator becomes its
// first member and is then offered the mediator toggle.
func GroupCreation(deps Deps) *Definition {
	deps = deps.withDefaults()
	return &Definition{
		Kind: models.FlowGroupCreation,
		Steps: []Step{
			{State: models.StateGroupName, Field: models.FieldGroupName, Input: InputText,
				Prompt: static("Let's create a group. What is its name?")},
			{State: models.StateGroupTheme, Field: models.FieldTheme, Input: InputText,
				Prompt: static("What is the group's theme?")},
			{State: models.StateGroupDesc, Field: models.FieldDescription, Input: InputText,
				Prompt: static("Describe the group in a few words.")},
			{State: models.StateGroupMax, Field: models.FieldMaxMembers, Input: InputNumber,
				Min: models.MinGroupMembers, Max: models.MaxGroupMembers,
				Prompt: static(fmt.Sprintf("How many members at most, yourself included? (%d-%d)",
					models.MinGroupMembers, models.MaxGroupMembers))},
		},
		Begin: func(ctx context.Context, userID string) (Plan, error) {
			_, err := requireFacilitator(ctx, deps, userID)
			return Plan{}, err
		},
		Complete: func(ctx context.Context, s *Session) error {
			maxMembers, err := strconv.Atoi(s.Value(models.FieldMaxMembers))
			if err != nil {
				return fmt.Errorf("stored max members %q: %w", s.Value(models.FieldMaxMembers), err)
			}
			group := models.NewGroup(deps.NewID(), s.Value(models.FieldGroupName), s.Value(models.FieldTheme),
				s.Value(models.FieldDescription), s.UserID, maxMembers, deps.Now())
			if err := deps.Store.UpsertGroup(ctx, group); err != nil {
				return fmt.Errorf("create group: %w", err)
			}
			// Membership is a second write; a failure here leaves a group without
			// its creator on the member list until the creator joins it.
			if err := deps.Store.AddMemberToGroup(ctx, group.ID, s.UserID); err != nil {
				slog.Warn("flow.GroupCreation: creator membership not recorded", "group_id", group.ID, "user_id", s.UserID, "error", err)
			}
			slog.Info("flow.GroupCreation: group created", "group_id", group.ID, "creator_id", s.UserID, "max_members", maxMembers)

			body := fmt.Sprintf("Group %q created (id %s).\nSend /link %s inside the group chat so I can follow the conversation.\n\nShould the AI mediator take part in this group?",
				group.Name, group.ID, group.ID)
			return deps.Sender.SendMenu(ctx, s.UserID, body, []models.Button{
				{Label: "Enable AI mediator", Payload: models.MediatorTogglePayload(group.ID, true)},
				{Label: "Disable AI mediator", Payload: models.MediatorTogglePayload(group.ID, false)},
			})
		},
	}
}
