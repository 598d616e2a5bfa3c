package flow

import (
	"context"
	"fmt"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

// NothingToUpdateMessage answers facilitators asking to edit a profile.
const NothingToUpdateMessage = "Facilitators have no extended profile, so there is nothing to update."

// profileSections maps each editable section to the registration question that
// re-collects it.
var profileSections = []struct {
	choice Choice
	state  models.StateType
}{
	{Choice{Label: "Interests", Value: "interests"}, models.StateProfileInterests},
	{Choice{Label: "Anxiety triggers", Value: "triggers"}, models.StateProfileTriggers},
	{Choice{Label: "Communication style", Value: "communication"}, models.StateProfileStyle},
	{Choice{Label: "Emergency contacts", Value: "contacts"}, models.StateProfileContacts},
}

// ProfileUpdate lets an autistic member re-answer one section of their profile.
func ProfileUpdate(deps Deps) *Definition {
	deps = deps.withDefaults()

	sections := make([]Choice, len(profileSections))
	for i, ps := range profileSections {
		sections[i] = ps.choice
	}
	steps := []Step{{
		State: models.StateUpdateSection, Field: models.FieldSection, Input: InputChoice, Prefix: "section_",
		Options: sections,
		Prompt:  static("Which part of your profile would you like to update?"),
		Next: func(_ context.Context, s *Session) (models.StateType, error) {
			for _, ps := range profileSections {
				if ps.choice.Value == s.Value(models.FieldSection) {
					return ps.state, nil
				}
			}
			return "", fmt.Errorf("unknown profile section %q", s.Value(models.FieldSection))
		},
	}}
	for _, st := range profileSteps() {
		for _, ps := range profileSections {
			if st.State == ps.state {
				st.Next = done
				steps = append(steps, st)
			}
		}
	}

	return &Definition{
		Kind:  models.FlowProfileUpdate,
		Steps: steps,
		Begin: func(ctx context.Context, userID string) (Plan, error) {
			user, err := deps.Store.GetUser(ctx, userID)
			if err != nil {
				return Plan{}, err
			}
			if user == nil {
				return Plan{}, &Notice{Message: NotRegisteredMessage}
			}
			if !user.IsAutisticMember() {
				return Plan{}, &Notice{Message: NothingToUpdateMessage}
			}
			return Plan{}, nil
		},
		Complete: func(ctx context.Context, s *Session) error {
			patch, err := patchFromSession(s)
			if err != nil {
				return err
			}
			if err := deps.Store.UpdateUserProfile(ctx, s.UserID, patch); err != nil {
				return fmt.Errorf("update profile of %s: %w", s.UserID, err)
			}
			return deps.Sender.SendMessage(ctx, s.UserID, "Your profile has been updated.")
		},
	}
}
