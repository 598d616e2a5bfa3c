package flow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

var (
	roleChoices = []Choice{
		{Label: "Autistic member", Value: string(models.RoleAutisticMember)},
		{Label: "Facilitator", Value: string(models.RoleFacilitator)},
	}
	genderChoices = []Choice{
		{Label: "Male", Value: string(models.GenderMale)},
		{Label: "Female", Value: string(models.GenderFemale)},
		{Label: "Non-binary", Value: string(models.GenderNonBinary)},
		{Label: "Prefer not to say", Value: string(models.GenderUndisclosed)},
	}
	styleChoices = []Choice{
		{Label: "Direct", Value: string(models.StyleDirect)},
		{Label: "Detailed", Value: string(models.StyleDetailed)},
	}
)

// profileSteps are the extended-profile questions, in registration order.
func profileSteps() []Step {
	return []Step{
		{State: models.StateProfileAge, Field: models.FieldAge, Input: InputNumber, Min: models.MinAge, Max: models.MaxAge,
			Prompt: static("How old are you?")},
		{State: models.StateProfileGender, Field: models.FieldGender, Input: InputChoice, Prefix: "gender_", Options: genderChoices,
			Prompt: static("What is your gender?")},
		{State: models.StateProfileContacts, Field: models.FieldContacts, Input: InputText,
			Prompt: static("Who should we contact in an emergency? Send one contact per line (name and phone).")},
		{State: models.StateProfileAcademic, Field: models.FieldAcademic, Input: InputText,
			Prompt: static("Tell us briefly about your school or academic history.")},
		{State: models.StateProfileProfs, Field: models.FieldProfessionals, Input: InputText,
			Prompt: static("Which professionals support you (therapists, doctors, tutors)? One per line.")},
		{State: models.StateProfileInterests, Field: models.FieldInterests, Input: InputText,
			Prompt: static("What are your interests? Separate them with commas.")},
		{State: models.StateProfileTriggers, Field: models.FieldTriggers, Input: InputText,
			Prompt: static("Is there anything that usually makes you anxious? Separate items with commas.")},
		{State: models.StateProfileStyle, Field: models.FieldStyle, Input: InputChoice, Prefix: "style_", Options: styleChoices,
			Prompt: static("How do you prefer people talk to you?")},
	}
}

// Registration collects a name and role, then the extended profile for autistic members.
func Registration(deps Deps) *Definition {
	deps = deps.withDefaults()
	steps := []Step{
		{State: models.StateRegName, Field: models.FieldName, Input: InputText,
			Prompt: static("Welcome to AutiConnect! What should we call you?")},
		{State: models.StateRegRole, Field: models.FieldRole, Input: InputChoice, Prefix: "role_", Options: roleChoices,
			Prompt: func(s *Session) string {
				return fmt.Sprintf("Nice to meet you, %s. How will you take part?", s.Value(models.FieldName))
			},
			Next: func(ctx context.Context, s *Session) (models.StateType, error) {
				role := models.Role(s.Value(models.FieldRole))
				user := models.NewUser(s.UserID, s.Value(models.FieldName), role, deps.Now())
				if err := deps.Store.UpsertUser(ctx, user); err != nil {
					return "", fmt.Errorf("create user %s: %w", s.UserID, err)
				}
				if role == models.RoleFacilitator {
					return models.StateDone, nil
				}
				return models.StateProfileAge, nil
			}},
	}
	steps = append(steps, profileSteps()...)

	return &Definition{
		Kind:  models.FlowRegistration,
		Steps: steps,
		Begin: func(ctx context.Context, userID string) (Plan, error) {
			user, err := deps.Store.GetUser(ctx, userID)
			if err != nil {
				return Plan{}, err
			}
			if user != nil {
				return Plan{}, &Notice{Message: fmt.Sprintf("Welcome back, %s! Send /help to see what you can do.", user.Name)}
			}
			return Plan{}, nil
		},
		Complete: func(ctx context.Context, s *Session) error {
			if models.Role(s.Value(models.FieldRole)) == models.RoleFacilitator {
				return deps.Sender.SendMessage(ctx, s.UserID,
					"You are registered as a facilitator. Use /creategroup to start a group and /startactivity to plan activities.")
			}
			patch, err := patchFromSession(s)
			if err != nil {
				return err
			}
			if err := deps.Store.UpdateUserProfile(ctx, s.UserID, patch); err != nil {
				return fmt.Errorf("save profile of %s: %w", s.UserID, err)
			}
			return deps.Sender.SendMessage(ctx, s.UserID,
				"Your profile is ready. Use /groups to find a group to join, or just write to me whenever you need support.")
		},
	}
}

// patchFromSession turns the collected profile fields into a ProfilePatch.
// Fields that were not collected stay untouched.
func patchFromSession(s *Session) (models.ProfilePatch, error) {
	var patch models.ProfilePatch
	if v, ok := s.Get(models.FieldAge); ok {
		age, err := strconv.Atoi(v)
		if err != nil {
			return patch, fmt.Errorf("stored age %q: %w", v, err)
		}
		patch.Age = &age
	}
	if v, ok := s.Get(models.FieldGender); ok {
		g := models.Gender(v)
		patch.Gender = &g
	}
	if v, ok := s.Get(models.FieldContacts); ok {
		patch.EmergencyContacts = nonNil(SplitList(v, "\n"))
	}
	if v, ok := s.Get(models.FieldAcademic); ok {
		patch.AcademicHistory = &v
	}
	if v, ok := s.Get(models.FieldProfessionals); ok {
		patch.Professionals = nonNil(SplitList(v, "\n"))
	}
	if v, ok := s.Get(models.FieldInterests); ok {
		patch.Interests = nonNil(SplitList(v, ","))
	}
	if v, ok := s.Get(models.FieldTriggers); ok {
		patch.AnxietyTriggers = nonNil(SplitList(v, ","))
	}
	if v, ok := s.Get(models.FieldStyle); ok {
		style := models.CommunicationStyle(v)
		patch.Style = &style
	}
	return patch, nil
}

// nonNil keeps an empty answer distinguishable from an absent one.
func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
