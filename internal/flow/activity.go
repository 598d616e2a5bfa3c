package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

// NoGroupsMessage refuses activity creation to facilitators without groups.
const NoGroupsMessage = "You haven't created any group yet. Create a group first with /creategroup."

var activityTypeLabels = map[models.ActivityType]string{
	models.ActivityDiscussion:      "Discussion",
	models.ActivityProject:         "Project",
	models.ActivitySocialGame:      "Social game",
	models.ActivityInterestSharing: "Interest sharing",
}

// ActivityTypeLabel returns the display name of t.
func ActivityTypeLabel(t models.ActivityType) string {
	if l, ok := activityTypeLabels[t]; ok {
		return l
	}
	return string(t)
}

func activityTypeChoices() []Choice {
	out := make([]Choice, len(models.ActivityTypes))
	for i, t := range models.ActivityTypes {
		out[i] = Choice{Label: ActivityTypeLabel(t), Value: string(t)}
	}
	return out
}

// ownedGroups returns the groups created by userID.
func ownedGroups(ctx context.Context, deps Deps, userID string) ([]models.Group, error) {
	groups, err := deps.Store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Group
	for _, g := range groups {
		if g.CreatorID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

// ActivityCreation schedules an activity in one of the caller's own groups.
func ActivityCreation(deps Deps) *Definition {
	deps = deps.withDefaults()
	return &Definition{
		Kind: models.FlowActivityCreation,
		Steps: []Step{
			{State: models.StateActivityGroup, Field: models.FieldGroupID, Input: InputChoice, Prefix: "group_",
				Prompt: static("Which group is the activity for?"),
				Next: func(ctx context.Context, s *Session) (models.StateType, error) {
					g, err := deps.Store.GetGroup(ctx, s.Value(models.FieldGroupID))
					if err != nil {
						return "", err
					}
					if g == nil || g.CreatorID != s.UserID {
						return "", &Notice{Message: "You can only create activities in groups you created.", Err: models.ErrNotGroupOwner}
					}
					return models.StateActivityType, nil
				}},
			{State: models.StateActivityType, Field: models.FieldActivityType, Input: InputChoice, Prefix: "type_",
				Options: activityTypeChoices(),
				Prompt:  static("What kind of activity is it?")},
			{State: models.StateActivityTitle, Field: models.FieldTitle, Input: InputText,
				Prompt: static("Give the activity a title.")},
			{State: models.StateActivityDesc, Field: models.FieldDescription, Input: InputText,
				Prompt: static("Describe what the group will do.")},
			{State: models.StateActivityDuration, Field: models.FieldDuration, Input: InputNumber,
				Min: models.MinActivityDuration, Max: models.MaxActivityDuration,
				Prompt: static(fmt.Sprintf("How long will it last, in minutes? (%d-%d)",
					models.MinActivityDuration, models.MaxActivityDuration))},
		},
		Begin: func(ctx context.Context, userID string) (Plan, error) {
			if _, err := requireFacilitator(ctx, deps, userID); err != nil {
				return Plan{}, err
			}
			groups, err := ownedGroups(ctx, deps, userID)
			if err != nil {
				return Plan{}, err
			}
			if len(groups) == 0 {
				return Plan{}, &Notice{Message: NoGroupsMessage}
			}
			choices := make([]Choice, len(groups))
			for i, g := range groups {
				choices[i] = Choice{Label: g.Name, Value: g.ID}
			}
			return Plan{Choices: map[models.StateType][]Choice{models.StateActivityGroup: choices}}, nil
		},
		Complete: func(ctx context.Context, s *Session) error {
			duration, err := strconv.Atoi(s.Value(models.FieldDuration))
			if err != nil {
				return fmt.Errorf("stored duration %q: %w", s.Value(models.FieldDuration), err)
			}
			now := deps.Now()
			activity := &models.Activity{
				ID:              deps.NewID(),
				GroupID:         s.Value(models.FieldGroupID),
				Type:            models.ActivityType(s.Value(models.FieldActivityType)),
				Title:           s.Value(models.FieldTitle),
				Description:     s.Value(models.FieldDescription),
				CreatorID:       s.UserID,
				Participants:    []string{},
				Status:          models.ActivityScheduled,
				ScheduledTime:   now,
				DurationMinutes: duration,
				GuidanceEnabled: true,
				CreatedAt:       now,
			}
			if err := deps.Store.CreateActivity(ctx, activity); err != nil {
				return fmt.Errorf("create activity: %w", err)
			}
			slog.Info("flow.ActivityCreation: activity created", "activity_id", activity.ID, "group_id", activity.GroupID, "type", activity.Type)

			body := fmt.Sprintf("Activity %q scheduled (%s, %d min).\n\nShould the AI assistant guide this activity?",
				activity.Title, ActivityTypeLabel(activity.Type), activity.DurationMinutes)
			return deps.Sender.SendMenu(ctx, s.UserID, body, []models.Button{
				{Label: "Enable AI guidance", Payload: models.GuidanceTogglePayload(activity.ID, true)},
				{Label: "Disable AI guidance", Payload: models.GuidanceTogglePayload(activity.ID, false)},
			})
		},
	}
}
