// Package models defines the core data structures for AutiConnect.
//
// It includes the durable community records (users, groups, activities, messages),
// the inbound event shape produced by transports, and the enums shared by the
// flow and moderation packages.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Role discriminates the two kinds of registered users.
type Role string

const (
	// RoleAutisticMember is the supported end-user role.
	RoleAutisticMember Role = "autistic_member"
	// RoleFacilitator is the supervising human role.
	RoleFacilitator Role = "facilitator"
)

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	switch r {
	case RoleAutisticMember, RoleFacilitator:
		return true
	default:
		return false
	}
}

// Gender values offered in the registration menu.
type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderNonBinary   Gender = "non_binary"
	GenderUndisclosed Gender = "undisclosed"
)

// CommunicationStyle is the user's preferred reply style.
type CommunicationStyle string

const (
	StyleDirect   CommunicationStyle = "direct"
	StyleDetailed CommunicationStyle = "detailed"
)

// Profile bounds.
const (
	MinAge = 5
	MaxAge = 100
)

// CommunicationPreference groups the communication-related profile fields.
type CommunicationPreference struct {
	Style           CommunicationStyle `json:"style"`
	PreferredTopics []string           `json:"preferred_topics,omitempty"`
	AvoidTopics     []string           `json:"avoid_topics,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}

// Profile is the extended profile carried only by autistic members.
type Profile struct {
	Age               int                     `json:"age,omitempty"`
	Gender            Gender                  `json:"gender,omitempty"`
	EmergencyContacts []string                `json:"emergency_contacts,omitempty"`
	AcademicHistory   string                  `json:"academic_history,omitempty"`
	Professionals     []string                `json:"professionals,omitempty"`
	Interests         []string                `json:"interests,omitempty"`
	AnxietyTriggers   []string                `json:"anxiety_triggers,omitempty"`
	Communication     CommunicationPreference `json:"communication"`
}

// ProfilePatch carries the profile fields to merge into a stored profile.
// Nil fields are left untouched.
type ProfilePatch struct {
	Age               *int
	Gender            *Gender
	EmergencyContacts []string
	AcademicHistory   *string
	Professionals     []string
	Interests         []string
	AnxietyTriggers   []string
	Style             *CommunicationStyle
}

// IsEmpty reports whether the patch changes nothing.
func (p ProfilePatch) IsEmpty() bool {
	return p.Age == nil && p.Gender == nil && p.EmergencyContacts == nil && p.AcademicHistory == nil &&
		p.Professionals == nil && p.Interests == nil && p.AnxietyTriggers == nil && p.Style == nil
}

// Apply merges the patch into profile.
func (p ProfilePatch) Apply(profile *Profile) {
	if p.Age != nil {
		profile.Age = *p.Age
	}
	if p.Gender != nil {
		profile.Gender = *p.Gender
	}
	if p.EmergencyContacts != nil {
		profile.EmergencyContacts = p.EmergencyContacts
	}
	if p.AcademicHistory != nil {
		profile.AcademicHistory = *p.AcademicHistory
	}
	if p.Professionals != nil {
		profile.Professionals = p.Professionals
	}
	if p.Interests != nil {
		profile.Interests = p.Interests
	}
	if p.AnxietyTriggers != nil {
		profile.AnxietyTriggers = p.AnxietyTriggers
	}
	if p.Style != nil {
		profile.Communication.Style = *p.Style
	}
}

// Interaction is one entry of a member's append-only interaction history.
type Interaction struct {
	Kind      string    `json:"kind"`
	Summary   string    `json:"summary,omitempty"`
	Alert     bool      `json:"alert"`
	Timestamp time.Time `json:"timestamp"`
}

// User is a registered participant.
type User struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Role       Role          `json:"role"`
	Groups     []string      `json:"groups,omitempty"`
	Profile    *Profile      `json:"profile,omitempty"`
	History    []Interaction `json:"history,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	LastActive time.Time     `json:"last_active"`
}

// IsFacilitator reports whether the user holds the facilitator role.
func (u *User) IsFacilitator() bool { return u != nil && u.Role == RoleFacilitator }

// IsAutisticMember reports whether the user holds the autistic member role.
func (u *User) IsAutisticMember() bool { return u != nil && u.Role == RoleAutisticMember }

// InGroup reports whether the user lists groupID among its memberships.
func (u *User) InGroup(groupID string) bool {
	for _, g := range u.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}

// Validate checks the role-discriminated shape of a user record.
func (u *User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidUser)
	}
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidUser)
	}
	switch u.Role {
	case RoleFacilitator:
		if u.Profile != nil {
			return fmt.Errorf("%w: facilitators carry no extended profile", ErrInvalidUser)
		}
	case RoleAutisticMember:
		if u.Profile != nil && u.Profile.Age != 0 && (u.Profile.Age < MinAge || u.Profile.Age > MaxAge) {
			return fmt.Errorf("%w: age %d out of range", ErrInvalidUser, u.Profile.Age)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, u.Role)
	}
	return nil
}

// NewUser builds a user with the role-appropriate profile shape.
func NewUser(id, name string, role Role, now time.Time) *User {
	u := &User{ID: id, Name: name, Role: role, CreatedAt: now, LastActive: now}
	if role == RoleAutisticMember {
		u.Profile = &Profile{Communication: CommunicationPreference{Style: StyleDirect}}
	}
	return u
}
