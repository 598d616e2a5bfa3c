package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

// sqlStore implements Store over database/sql. Queries are written with "?"
// placeholders and rebound for drivers that use numbered parameters.
type sqlStore struct {
	db       *sql.DB
	name     string
	numbered bool
	// lockRows is appended to SELECTs that must hold row locks inside a transaction.
	lockRows string
}

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) Close() error {
	slog.Debug(s.name + ".Close: closing database connection")
	return s.db.Close()
}

// UpsertUser creates the user or refreshes its name and profile. The stored role
// never changes.
func (s *sqlStore) UpsertUser(ctx context.Context, u *models.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	var existingRole string
	err := s.queryRow(ctx, `SELECT role FROM users WHERE id = ?`, u.ID).Scan(&existingRole)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("lookup user %s: %w", u.ID, err)
	case models.Role(existingRole) != u.Role:
		return fmt.Errorf("%w: user %s is already a %s", models.ErrInvalidRole, u.ID, existingRole)
	}

	profile, err := encodeProfile(u.Profile)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	created, active := u.CreatedAt, u.LastActive
	if created.IsZero() {
		created = now
	}
	if active.IsZero() {
		active = now
	}
	_, err = s.exec(ctx, `INSERT INTO users (id, name, role, profile, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name,
			profile = COALESCE(excluded.profile, users.profile),
			last_active = excluded.last_active`,
		u.ID, u.Name, string(u.Role), profile, created.UTC(), active.UTC())
	if err != nil {
		slog.Error(s.name+".UpsertUser failed", "error", err, "user_id", u.ID)
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	slog.Debug(s.name+".UpsertUser succeeded", "user_id", u.ID, "role", u.Role)
	return nil
}

func (s *sqlStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	var role string
	var profile sql.NullString
	err := s.queryRow(ctx, `SELECT id, name, role, profile, created_at, last_active FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &role, &profile, &u.CreatedAt, &u.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.Role = models.Role(role)
	if u.Profile, err = decodeProfile(profile); err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	if u.Groups, err = s.userGroups(ctx, id); err != nil {
		return nil, err
	}
	if u.History, err = s.userHistory(ctx, id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *sqlStore) userGroups(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.query(ctx, `SELECT group_id FROM group_members WHERE user_id = ? ORDER BY joined_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups of %s: %w", userID, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group of %s: %w", userID, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqlStore) userHistory(ctx context.Context, userID string) ([]models.Interaction, error) {
	rows, err := s.query(ctx, `SELECT kind, summary, alert, created_at FROM user_interactions WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list history of %s: %w", userID, err)
	}
	defer rows.Close()
	var out []models.Interaction
	for rows.Next() {
		var it models.Interaction
		if err := rows.Scan(&it.Kind, &it.Summary, &it.Alert, &it.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history of %s: %w", userID, err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateUserProfile merges the patch into the stored profile inside a transaction.
func (s *sqlStore) UpdateUserProfile(ctx context.Context, userID string, patch models.ProfilePatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin profile update: %w", err)
	}
	defer tx.Rollback()

	var role string
	var raw sql.NullString
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT role, profile FROM users WHERE id = ?`+s.lockRows), userID).Scan(&role, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update profile for %s: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load profile for %s: %w", userID, err)
	}
	if models.Role(role) != models.RoleAutisticMember {
		return fmt.Errorf("update profile for %s: %w", userID, models.ErrInvalidRole)
	}
	profile, err := decodeProfile(raw)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = &models.Profile{}
	}
	patch.Apply(profile)
	encoded, err := encodeProfile(profile)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE users SET profile = ? WHERE id = ?`), encoded, userID); err != nil {
		return fmt.Errorf("save profile for %s: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit profile for %s: %w", userID, err)
	}
	slog.Debug(s.name+".UpdateUserProfile succeeded", "user_id", userID)
	return nil
}

func (s *sqlStore) AppendInteraction(ctx context.Context, userID string, it models.Interaction) error {
	ts := it.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.exec(ctx, `INSERT INTO user_interactions (user_id, kind, summary, alert, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, it.Kind, it.Summary, it.Alert, ts.UTC())
	if err != nil {
		return fmt.Errorf("append interaction for %s: %w", userID, err)
	}
	return nil
}

func (s *sqlStore) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.exec(ctx, `UPDATE users SET last_active = ? WHERE id = ?`, at.UTC(), userID); err != nil {
		return fmt.Errorf("touch last active for %s: %w", userID, err)
	}
	return nil
}

// UpsertGroup writes the group row and its member list in one transaction.
func (s *sqlStore) UpsertGroup(ctx context.Context, g *models.Group) error {
	if err := g.Validate(); err != nil {
		return err
	}
	settings, err := encodeJSON(g.Mediator)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin group upsert: %w", err)
	}
	defer tx.Rollback()

	created := g.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	active := g.LastActive
	if active.IsZero() {
		active = created
	}
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO community_groups (id, chat_id, name, theme, description, creator_id, max_members, mediator_enabled, mediator_settings, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET chat_id = excluded.chat_id, name = excluded.name, theme = excluded.theme,
			description = excluded.description, max_members = excluded.max_members,
			mediator_enabled = excluded.mediator_enabled, mediator_settings = excluded.mediator_settings,
			last_active = excluded.last_active`),
		g.ID, nilIfEmpty(g.ChatID), g.Name, g.Theme, g.Description, g.CreatorID, g.MaxMembers,
		g.MediatorEnabled, settings, created.UTC(), active.UTC())
	if err != nil {
		slog.Error(s.name+".UpsertGroup failed", "error", err, "group_id", g.ID)
		return fmt.Errorf("upsert group %s: %w", g.ID, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM group_members WHERE group_id = ?`), g.ID); err != nil {
		return fmt.Errorf("reset members of %s: %w", g.ID, err)
	}
	base := created.UTC()
	for i, member := range g.Members {
		// joined_at keeps member order stable.
		joined := base.Add(time.Duration(i) * time.Microsecond)
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`),
			g.ID, member, joined); err != nil {
			return fmt.Errorf("insert member %s of %s: %w", member, g.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit group %s: %w", g.ID, err)
	}
	slog.Debug(s.name+".UpsertGroup succeeded", "group_id", g.ID, "members", len(g.Members))
	return nil
}

const groupColumns = `id, chat_id, name, theme, description, creator_id, max_members, mediator_enabled, mediator_settings, created_at, last_active`

func (s *sqlStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	return s.getGroupWhere(ctx, `id = ?`, id)
}

func (s *sqlStore) GetGroupByChatID(ctx context.Context, chatID string) (*models.Group, error) {
	if chatID == "" {
		return nil, nil
	}
	return s.getGroupWhere(ctx, `chat_id = ?`, chatID)
}

func (s *sqlStore) getGroupWhere(ctx context.Context, where string, arg string) (*models.Group, error) {
	g, err := scanGroup(s.queryRow(ctx, `SELECT `+groupColumns+` FROM community_groups WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", arg, err)
	}
	if g.Members, err = s.groupMembers(ctx, g.ID); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *sqlStore) groupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.query(ctx, `SELECT user_id FROM group_members WHERE group_id = ? ORDER BY joined_at ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", groupID, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member of %s: %w", groupID, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := s.query(ctx, `SELECT `+groupColumns+` FROM community_groups ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	var groups []models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	for i := range groups {
		if groups[i].Members, err = s.groupMembers(ctx, groups[i].ID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// AddMemberToGroup inserts the membership unless the user is already a member.
// The capacity check and the insert share one transaction.
func (s *sqlStore) AddMemberToGroup(ctx context.Context, groupID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add member: %w", err)
	}
	defer tx.Rollback()

	var maxMembers int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT max_members FROM community_groups WHERE id = ?`+s.lockRows), groupID).Scan(&maxMembers)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("add member to %s: %w", groupID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load group %s: %w", groupID, err)
	}
	var count, already int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN user_id = ? THEN 1 ELSE 0 END), 0) FROM group_members WHERE group_id = ?`),
		userID, groupID).Scan(&count, &already)
	if err != nil {
		return fmt.Errorf("count members of %s: %w", groupID, err)
	}
	if already > 0 {
		return nil
	}
	if count >= maxMembers {
		return fmt.Errorf("add member to %s: %w", groupID, models.ErrGroupFull)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`),
		groupID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert member %s into %s: %w", userID, groupID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit member %s into %s: %w", userID, groupID, err)
	}
	slog.Debug(s.name+".AddMemberToGroup succeeded", "group_id", groupID, "user_id", userID)
	return nil
}

func (s *sqlStore) UpdateGroupMediator(ctx context.Context, groupID string, enabled bool, settings models.MediatorSettings) error {
	encoded, err := encodeJSON(settings)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE community_groups SET mediator_enabled = ?, mediator_settings = ? WHERE id = ?`, enabled, encoded, groupID)
	return expectOneRow(res, err, "update mediator for "+groupID)
}

func (s *sqlStore) LinkGroupChat(ctx context.Context, groupID, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin link chat: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE community_groups SET chat_id = NULL WHERE chat_id = ? AND id <> ?`), chatID, groupID); err != nil {
		return fmt.Errorf("unlink chat %s: %w", chatID, err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE community_groups SET chat_id = ? WHERE id = ?`), chatID, groupID)
	if err := expectOneRow(res, err, "link chat to "+groupID); err != nil {
		return err
	}
	return tx.Commit()
}

const activityColumns = `id, group_id, type, title, description, creator_id, participants, status, scheduled_time, duration_minutes, guidance_enabled, guidance_notes, created_at`

func (s *sqlStore) CreateActivity(ctx context.Context, a *models.Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	participants, err := encodeJSON(a.Participants)
	if err != nil {
		return err
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.exec(ctx, `INSERT INTO activities (`+activityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.GroupID, string(a.Type), a.Title, a.Description, a.CreatorID, participants, string(a.Status),
		a.ScheduledTime.UTC(), a.DurationMinutes, a.GuidanceEnabled, a.GuidanceNotes, created.UTC())
	if err != nil {
		slog.Error(s.name+".CreateActivity failed", "error", err, "activity_id", a.ID, "group_id", a.GroupID)
		return fmt.Errorf("create activity %s: %w", a.ID, err)
	}
	return nil
}

func (s *sqlStore) GetActivity(ctx context.Context, id string) (*models.Activity, error) {
	a, err := scanActivity(s.queryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get activity %s: %w", id, err)
	}
	return a, nil
}

func (s *sqlStore) ListActivitiesByGroup(ctx context.Context, groupID string, status models.ActivityStatus) ([]models.Activity, error) {
	return s.listActivities(ctx, `SELECT `+activityColumns+` FROM activities WHERE group_id = ? AND status = ? ORDER BY scheduled_time ASC`,
		groupID, string(status))
}

func (s *sqlStore) ListActivitiesForUserGroups(ctx context.Context, userID string, status models.ActivityStatus) ([]models.Activity, error) {
	return s.listActivities(ctx, `SELECT `+activityColumns+` FROM activities
		WHERE status = ? AND group_id IN (SELECT group_id FROM group_members WHERE user_id = ?)
		ORDER BY scheduled_time ASC`, string(status), userID)
}

func (s *sqlStore) listActivities(ctx context.Context, query string, args ...any) ([]models.Activity, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()
	var out []models.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateActivityGuidance(ctx context.Context, activityID string, enabled bool) error {
	res, err := s.exec(ctx, `UPDATE activities SET guidance_enabled = ? WHERE id = ?`, enabled, activityID)
	return expectOneRow(res, err, "update guidance for "+activityID)
}

// AppendMessage logs the message and refreshes the sender's and group's activity
// timestamps. The timestamp refresh is best-effort.
func (s *sqlStore) AppendMessage(ctx context.Context, m *models.Message) error {
	_, err := s.exec(ctx, `INSERT INTO messages (id, sender_id, recipient_id, group_id, text, type, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, nilIfEmpty(m.RecipientID), nilIfEmpty(m.GroupID), m.Text, string(m.Type), m.Timestamp.UTC())
	if err != nil {
		slog.Error(s.name+".AppendMessage failed", "error", err, "sender_id", m.SenderID, "group_id", m.GroupID)
		return fmt.Errorf("append message from %s: %w", m.SenderID, err)
	}
	if _, err := s.exec(ctx, `UPDATE users SET last_active = ? WHERE id = ?`, m.Timestamp.UTC(), m.SenderID); err != nil {
		slog.Warn(s.name+".AppendMessage: touch user failed", "error", err, "sender_id", m.SenderID)
	}
	if m.GroupID != "" {
		if _, err := s.exec(ctx, `UPDATE community_groups SET last_active = ? WHERE id = ?`, m.Timestamp.UTC(), m.GroupID); err != nil {
			slog.Warn(s.name+".AppendMessage: touch group failed", "error", err, "group_id", m.GroupID)
		}
	}
	return nil
}

func (s *sqlStore) ListRecentMessages(ctx context.Context, q models.MessageQuery) ([]models.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	const cols = `SELECT id, sender_id, recipient_id, group_id, text, type, created_at FROM messages `
	var rows *sql.Rows
	var err error
	switch {
	case q.GroupID != "":
		rows, err = s.query(ctx, cols+`WHERE group_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?`, q.GroupID, limit)
	case q.UserID != "":
		rows, err = s.query(ctx, cols+`WHERE group_id IS NULL AND (sender_id = ? OR recipient_id = ?) ORDER BY created_at DESC, seq DESC LIMIT ?`,
			q.UserID, q.UserID, limit)
	default:
		rows, err = s.query(ctx, cols+`ORDER BY created_at DESC, seq DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var m models.Message
		var recipient, group sql.NullString
		var typ string
		if err := rows.Scan(&m.ID, &m.SenderID, &recipient, &group, &m.Text, &typ, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.RecipientID = recipient.String
		m.GroupID = group.String
		m.Type = models.MessageType(typ)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqlStore) AppendAIInteraction(ctx context.Context, r *models.AIInteraction) error {
	_, err := s.exec(ctx, `INSERT INTO ai_interactions (id, kind, group_id, user_id, prompt, input, reply, alert_needed, oracle_failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Kind), nilIfEmpty(r.GroupID), nilIfEmpty(r.UserID), r.Prompt, r.Input, r.Reply,
		r.AlertNeeded, r.OracleFailed, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append ai interaction %s: %w", r.ID, err)
	}
	return nil
}
