package models

import (
	"fmt"
	"strings"
	"time"
)

// Activity duration bounds in minutes.
const (
	MinActivityDuration = 5
	MaxActivityDuration = 180
)

// ActivityType enumerates the structured activity formats.
type ActivityType string

const (
	ActivityDiscussion      ActivityType = "discussion"
	ActivityProject         ActivityType = "project"
	ActivitySocialGame      ActivityType = "social_game"
	ActivityInterestSharing ActivityType = "interest_sharing"
)

// ActivityTypes lists the types in menu order.
var ActivityTypes = []ActivityType{ActivityDiscussion, ActivityProject, ActivitySocialGame, ActivityInterestSharing}

// IsValidActivityType reports whether t is a known activity type.
func IsValidActivityType(t ActivityType) bool {
	for _, known := range ActivityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ActivityStatus is the lifecycle stage of an activity.
type ActivityStatus string

const (
	ActivityScheduled  ActivityStatus = "scheduled"
	ActivityInProgress ActivityStatus = "in_progress"
	ActivityCompleted  ActivityStatus = "completed"
)

// Activity is a structured session attached to a group.
type Activity struct {
	ID              string         `json:"id"`
	GroupID         string         `json:"group_id"`
	Type            ActivityType   `json:"type"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	CreatorID       string         `json:"creator_id"`
	Participants    []string       `json:"participants,omitempty"`
	Status          ActivityStatus `json:"status"`
	ScheduledTime   time.Time      `json:"scheduled_time"`
	DurationMinutes int            `json:"duration_minutes"`
	GuidanceEnabled bool           `json:"guidance_enabled"`
	GuidanceNotes   string         `json:"guidance_notes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Validate checks the activity invariants enforced at the storage boundary.
func (a *Activity) Validate() error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return fmt.Errorf("%w: empty id", ErrInvalidActivity)
	case a.GroupID == "":
		return fmt.Errorf("%w: missing group", ErrInvalidActivity)
	case strings.TrimSpace(a.Title) == "":
		return fmt.Errorf("%w: empty title", ErrInvalidActivity)
	case !IsValidActivityType(a.Type):
		return fmt.Errorf("%w: type %q", ErrInvalidActivity, a.Type)
	case a.DurationMinutes < MinActivityDuration || a.DurationMinutes > MaxActivityDuration:
		return fmt.Errorf("%w: duration %d out of range", ErrInvalidActivity, a.DurationMinutes)
	}
	switch a.Status {
	case ActivityScheduled, ActivityInProgress, ActivityCompleted:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidActivity, a.Status)
	}
	return nil
}
