package moderation

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

// UserPrompt is the fixed user turn sent with every context prompt.
const UserPrompt = "Please respond as the AI mediator/assistant."

const (
	groupPreamble   = "You are an AI mediator for a group of autistic people. Your goal is to facilitate respectful, inclusive conversation and support every participant."
	supportPreamble = "You are an AI assistant for autistic people. Offer emotional support and practical regulation strategies in a calm, clear and respectful tone."
)

var frequencyInstructions = map[models.InterventionFrequency]string{
	models.FrequencyLow:    "Intervene only when necessary and stay in the background most of the time.",
	models.FrequencyMedium: "Balance stepping in when needed with letting the conversation flow naturally.",
	models.FrequencyHigh:   "Intervene proactively to keep the conversation flowing and make sure everyone takes part.",
}

// FrequencyInstruction returns the behaviour line for an intervention frequency.
func FrequencyInstruction(f models.InterventionFrequency) string {
	if s, ok := frequencyInstructions[f]; ok {
		return s
	}
	return frequencyInstructions[models.FrequencyMedium]
}

// GroupPrompt assembles the mediator context for a group conversation. history is
// oldest-first; participants maps sender ids to their records, absent for
// unknown senders.
func GroupPrompt(g *models.Group, participants map[string]*models.User, history []models.Message) string {
	var b strings.Builder
	b.WriteString(groupPreamble)
	fmt.Fprintf(&b, "\n\nGroup: %s\nTheme: %s\nDescription: %s\n", g.Name, g.Theme, g.Description)

	b.WriteString("\nParticipants:\n")
	listed := make(map[string]bool)
	for _, m := range history {
		if m.IsAssistant() || listed[m.SenderID] {
			continue
		}
		listed[m.SenderID] = true
		b.WriteString("- ")
		b.WriteString(describeParticipant(participants[m.SenderID]))
		b.WriteString("\n")
	}

	b.WriteString("\nRecent conversation:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", speakerName(m, participants), m.Text)
	}

	b.WriteString("\nInstructions:\n")
	lines := []string{
		"Facilitate the conversation respectfully and inclusively.",
		"Keep the focus on the group's theme when appropriate.",
		"Help include participants who have been quiet.",
		"Offer support if someone seems confused or anxious.",
	}
	if g.Mediator.ActivitySuggestions {
		lines = append(lines, "Suggest activities related to the theme when appropriate.")
	}
	if g.Mediator.ConflictMediation {
		lines = append(lines, "Mediate conflicts or misunderstandings constructively.")
	}
	for i, l := range lines {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l)
	}
	b.WriteString("\n")
	b.WriteString(FrequencyInstruction(g.Mediator.Frequency))
	return b.String()
}

func describeParticipant(u *models.User) string {
	switch {
	case u == nil:
		return "Unknown: role unknown."
	case u.IsFacilitator():
		return u.Name + ": facilitator."
	case u.IsAutisticMember():
		var b strings.Builder
		b.WriteString(u.Name + ": autistic member.")
		if p := u.Profile; p != nil {
			if len(p.Interests) > 0 {
				b.WriteString(" Interests: " + strings.Join(p.Interests, ", ") + ".")
			}
			if len(p.AnxietyTriggers) > 0 {
				b.WriteString(" Triggers: " + strings.Join(p.AnxietyTriggers, ", ") + ".")
			}
			b.WriteString(" Prefers " + string(styleOf(p)) + " communication.")
		}
		return b.String()
	default:
		return u.Name + ": role unknown."
	}
}

func speakerName(m models.Message, participants map[string]*models.User) string {
	if m.IsAssistant() {
		return "Assistant"
	}
	if u := participants[m.SenderID]; u != nil {
		return u.Name
	}
	return "Unknown"
}

func styleOf(p *models.Profile) models.CommunicationStyle {
	if p.Communication.Style == "" {
		return models.StyleDirect
	}
	return p.Communication.Style
}

// SupportPrompt assembles the private support context for u. history is
// oldest-first and holds the user's messages and the assistant's replies.
func SupportPrompt(u *models.User, history []models.Message) string {
	var b strings.Builder
	b.WriteString(supportPreamble)
	fmt.Fprintf(&b, "\n\nUser: %s\n", u.Name)

	p := u.Profile
	if p == nil {
		p = &models.Profile{}
	}
	if p.Age > 0 {
		fmt.Fprintf(&b, "Age: %d\n", p.Age)
	} else {
		b.WriteString("Age: not provided\n")
	}
	if p.Gender != "" {
		fmt.Fprintf(&b, "Gender: %s\n", p.Gender)
	} else {
		b.WriteString("Gender: not provided\n")
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(&b, "Interests: %s\n", strings.Join(p.Interests, ", "))
	}
	if len(p.AnxietyTriggers) > 0 {
		fmt.Fprintf(&b, "Anxiety triggers: %s\n", strings.Join(p.AnxietyTriggers, ", "))
	}
	fmt.Fprintf(&b, "Communication preference: %s\n", styleOf(p))

	b.WriteString("\nRecent conversation:\n")
	for _, m := range history {
		role := "user"
		if m.IsAssistant() {
			role = "assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Text)
	}

	b.WriteString("\nInstructions:\n")
	b.WriteString("1. Offer emotional support and help with regulation strategies.\n")
	b.WriteString("2. Adapt your communication to the user's preferred style.\n")
	b.WriteString("3. Avoid topics that may trigger anxiety.\n")
	b.WriteString("4. Connect with the user's interests when appropriate.\n")
	b.WriteString("5. Be clear, patient and respectful.\n")
	return b.String()
}
