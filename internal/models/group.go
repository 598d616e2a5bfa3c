package models

import (
	"fmt"
	"strings"
	"time"
)

// Group capacity bounds.
const (
	MinGroupMembers = 2
	MaxGroupMembers = 50
)

// InterventionFrequency modulates how proactive the mediator is.
type InterventionFrequency string

const (
	FrequencyLow    InterventionFrequency = "low"
	FrequencyMedium InterventionFrequency = "medium"
	FrequencyHigh   InterventionFrequency = "high"
)

// MediatorSettings configures the automated group mediator.
type MediatorSettings struct {
	Frequency           InterventionFrequency `json:"intervention_frequency"`
	ActivitySuggestions bool                  `json:"activity_suggestions"`
	ConflictMediation   bool                  `json:"conflict_mediation"`
	SupportPrivateChats bool                  `json:"support_private_chats"`
}

// DefaultMediatorSettings returns the settings new groups are created with.
func DefaultMediatorSettings() MediatorSettings {
	return MediatorSettings{
		Frequency:           FrequencyMedium,
		ActivitySuggestions: true,
		ConflictMediation:   true,
		SupportPrivateChats: true,
	}
}

// Group is a facilitator-run community group.
type Group struct {
	ID              string           `json:"id"`
	ChatID          string           `json:"chat_id,omitempty"`
	Name            string           `json:"name"`
	Theme           string           `json:"theme"`
	Description     string           `json:"description"`
	CreatorID       string           `json:"creator_id"`
	Members         []string         `json:"members"`
	MaxMembers      int              `json:"max_members"`
	MediatorEnabled bool             `json:"mediator_enabled"`
	Mediator        MediatorSettings `json:"mediator_settings"`
	CreatedAt       time.Time        `json:"created_at"`
	LastActive      time.Time        `json:"last_active"`
}

// NewGroup builds a group with the creator as its first member and the mediator enabled.
func NewGroup(id, name, theme, description, creatorID string, maxMembers int, now time.Time) *Group {
	return &Group{
		ID:              id,
		Name:            name,
		Theme:           theme,
		Description:     description,
		CreatorID:       creatorID,
		Members:         []string{creatorID},
		MaxMembers:      maxMembers,
		MediatorEnabled: true,
		Mediator:        DefaultMediatorSettings(),
		CreatedAt:       now,
		LastActive:      now,
	}
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// IsFull reports whether the group reached its capacity.
func (g *Group) IsFull() bool { return len(g.Members) >= g.MaxMembers }

// Validate checks the group invariants enforced at the storage boundary.
func (g *Group) Validate() error {
	switch {
	case strings.TrimSpace(g.ID) == "":
		return fmt.Errorf("%w: empty id", ErrInvalidGroup)
	case strings.TrimSpace(g.Name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidGroup)
	case g.CreatorID == "":
		return fmt.Errorf("%w: missing creator", ErrInvalidGroup)
	case g.MaxMembers < MinGroupMembers || g.MaxMembers > MaxGroupMembers:
		return fmt.Errorf("%w: max members %d out of range", ErrInvalidGroup, g.MaxMembers)
	case len(g.Members) == 0 || g.Members[0] != g.CreatorID:
		return fmt.Errorf("%w: creator must be the first member", ErrInvalidGroup)
	case len(g.Members) > g.MaxMembers:
		return fmt.Errorf("%w: %d members exceed capacity %d", ErrInvalidGroup, len(g.Members), g.MaxMembers)
	}
	switch g.Mediator.Frequency {
	case FrequencyLow, FrequencyMedium, FrequencyHigh:
	default:
		return fmt.Errorf("%w: intervention frequency %q", ErrInvalidGroup, g.Mediator.Frequency)
	}
	return nil
}
