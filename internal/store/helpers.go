package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %T: %w", v, err)
	}
	return string(b), nil
}

// encodeProfile maps a nil profile to SQL NULL.
func encodeProfile(p *models.Profile) (interface{}, error) {
	if p == nil {
		return nil, nil
	}
	return encodeJSON(p)
}

func decodeProfile(raw sql.NullString) (*models.Profile, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var p models.Profile
	if err := json.Unmarshal([]byte(raw.String), &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// scanGroup scans a group row selected with groupColumns. Members are loaded separately.
func scanGroup(row rowScanner) (*models.Group, error) {
	var g models.Group
	var chatID sql.NullString
	var settings string
	err := row.Scan(&g.ID, &chatID, &g.Name, &g.Theme, &g.Description, &g.CreatorID, &g.MaxMembers,
		&g.MediatorEnabled, &settings, &g.CreatedAt, &g.LastActive)
	if err != nil {
		return nil, err
	}
	g.ChatID = chatID.String
	g.Mediator = models.DefaultMediatorSettings()
	if settings != "" {
		if err := json.Unmarshal([]byte(settings), &g.Mediator); err != nil {
			return nil, fmt.Errorf("decode mediator settings of %s: %w", g.ID, err)
		}
	}
	return &g, nil
}

// scanActivity scans an activity row selected with activityColumns.
func scanActivity(row rowScanner) (*models.Activity, error) {
	var a models.Activity
	var typ, status, participants string
	err := row.Scan(&a.ID, &a.GroupID, &typ, &a.Title, &a.Description, &a.CreatorID, &participants, &status,
		&a.ScheduledTime, &a.DurationMinutes, &a.GuidanceEnabled, &a.GuidanceNotes, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Type = models.ActivityType(typ)
	a.Status = models.ActivityStatus(status)
	if participants != "" && participants != "null" {
		if err := json.Unmarshal([]byte(participants), &a.Participants); err != nil {
			return nil, fmt.Errorf("decode participants of %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

// expectOneRow turns a zero-row update into models.ErrNotFound.
func expectOneRow(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

// scanOutboxMessage scans an OutboxMessage from sql.Rows.
func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var m OutboxMessage
	var status string
	var dedupeKey, lastError sql.NullString
	var nextAttempt, lockedAt sql.NullTime
	err := rows.Scan(&m.ID, &m.RecipientID, &m.Kind, &m.PayloadJSON, &status, &m.Attempts,
		&nextAttempt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.Status = OutboxStatus(status)
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttempt.Valid {
		m.NextAttemptAt = &nextAttempt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
