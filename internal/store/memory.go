package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

// Compile-time checks that InMemoryStore implements the repositories.
var (
	_ Store     = (*InMemoryStore)(nil)
	_ DedupRepo = (*InMemoryStore)(nil)
)

// InMemoryStore keeps every entity in process memory. Records are copied on the
// way in and out so callers never share state with the store.
type InMemoryStore struct {
	mu             sync.RWMutex
	users          map[string]*models.User
	groups         map[string]*models.Group
	groupOrder     []string
	activities     map[string]*models.Activity
	activityOrder  []string
	messages       []models.Message
	aiInteractions []models.AIInteraction
	inbound        map[string]bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:      make(map[string]*models.User),
		groups:     make(map[string]*models.Group),
		activities: make(map[string]*models.Activity),
		inbound:    make(map[string]bool),
	}
}

func (s *InMemoryStore) UpsertUser(ctx context.Context, u *models.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[u.ID]
	if !ok {
		s.users[u.ID] = copyUser(u)
		slog.Debug("InMemoryStore.UpsertUser: created", "user_id", u.ID, "role", u.Role)
		return nil
	}
	if existing.Role != u.Role {
		return fmt.Errorf("%w: user %s is already a %s", models.ErrInvalidRole, u.ID, existing.Role)
	}
	existing.Name = u.Name
	if u.Profile != nil {
		p := copyProfile(u.Profile)
		existing.Profile = p
	}
	if u.LastActive.After(existing.LastActive) {
		existing.LastActive = u.LastActive
	}
	return nil
}

func (s *InMemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (s *InMemoryStore) UpdateUserProfile(ctx context.Context, userID string, patch models.ProfilePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("update profile for %s: %w", userID, models.ErrNotFound)
	}
	if u.Role != models.RoleAutisticMember {
		return fmt.Errorf("update profile for %s: %w", userID, models.ErrInvalidRole)
	}
	if u.Profile == nil {
		u.Profile = &models.Profile{}
	}
	patch.Apply(u.Profile)
	return nil
}

func (s *InMemoryStore) AppendInteraction(ctx context.Context, userID string, it models.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("append interaction for %s: %w", userID, models.ErrNotFound)
	}
	u.History = append(u.History, it)
	return nil
}

func (s *InMemoryStore) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.LastActive = at
	}
	return nil
}

func (s *InMemoryStore) UpsertGroup(ctx context.Context, g *models.Group) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; !ok {
		s.groupOrder = append(s.groupOrder, g.ID)
	}
	s.groups[g.ID] = copyGroup(g)
	return nil
}

func (s *InMemoryStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, nil
	}
	return copyGroup(g), nil
}

func (s *InMemoryStore) GetGroupByChatID(ctx context.Context, chatID string) (*models.Group, error) {
	if chatID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.groupOrder {
		if g := s.groups[id]; g.ChatID == chatID {
			return copyGroup(g), nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListGroups(ctx context.Context) ([]models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Group, 0, len(s.groupOrder))
	for _, id := range s.groupOrder {
		out = append(out, *copyGroup(s.groups[id]))
	}
	return out, nil
}

// AddMemberToGroup records the membership on both the group and the user.
// Adding an existing member is a no-op on the group side.
func (s *InMemoryStore) AddMemberToGroup(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("add member to %s: %w", groupID, models.ErrNotFound)
	}
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("add member %s: %w", userID, models.ErrNotFound)
	}
	if !g.HasMember(userID) {
		if g.IsFull() {
			return fmt.Errorf("add member to %s: %w", groupID, models.ErrGroupFull)
		}
		g.Members = append(g.Members, userID)
	}
	if !u.InGroup(groupID) {
		u.Groups = append(u.Groups, groupID)
	}
	return nil
}

func (s *InMemoryStore) UpdateGroupMediator(ctx context.Context, groupID string, enabled bool, settings models.MediatorSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("update mediator for %s: %w", groupID, models.ErrNotFound)
	}
	g.MediatorEnabled = enabled
	g.Mediator = settings
	return nil
}

func (s *InMemoryStore) LinkGroupChat(ctx context.Context, groupID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("link chat to %s: %w", groupID, models.ErrNotFound)
	}
	for _, other := range s.groups {
		if other.ID != groupID && other.ChatID == chatID {
			other.ChatID = ""
		}
	}
	g.ChatID = chatID
	return nil
}

func (s *InMemoryStore) CreateActivity(ctx context.Context, a *models.Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[a.GroupID]; !ok {
		return fmt.Errorf("create activity in %s: %w", a.GroupID, models.ErrNotFound)
	}
	if _, ok := s.activities[a.ID]; !ok {
		s.activityOrder = append(s.activityOrder, a.ID)
	}
	s.activities[a.ID] = copyActivity(a)
	return nil
}

func (s *InMemoryStore) GetActivity(ctx context.Context, id string) (*models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	if !ok {
		return nil, nil
	}
	return copyActivity(a), nil
}

func (s *InMemoryStore) ListActivitiesByGroup(ctx context.Context, groupID string, status models.ActivityStatus) ([]models.Activity, error) {
	return s.filterActivities(func(a *models.Activity) bool {
		return a.GroupID == groupID && a.Status == status
	}), nil
}

func (s *InMemoryStore) ListActivitiesForUserGroups(ctx context.Context, userID string, status models.ActivityStatus) ([]models.Activity, error) {
	s.mu.RLock()
	u, ok := s.users[userID]
	var groups []string
	if ok {
		groups = append(groups, u.Groups...)
	}
	s.mu.RUnlock()
	if len(groups) == 0 {
		return nil, nil
	}
	member := make(map[string]bool, len(groups))
	for _, g := range groups {
		member[g] = true
	}
	return s.filterActivities(func(a *models.Activity) bool {
		return member[a.GroupID] && a.Status == status
	}), nil
}

func (s *InMemoryStore) filterActivities(keep func(*models.Activity) bool) []models.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Activity
	for _, id := range s.activityOrder {
		if a := s.activities[id]; keep(a) {
			out = append(out, *copyActivity(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out
}

func (s *InMemoryStore) UpdateActivityGuidance(ctx context.Context, activityID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[activityID]
	if !ok {
		return fmt.Errorf("update guidance for %s: %w", activityID, models.ErrNotFound)
	}
	a.GuidanceEnabled = enabled
	return nil
}

// AppendMessage logs the message and refreshes the sender's and group's activity timestamps.
func (s *InMemoryStore) AppendMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *m)
	if u, ok := s.users[m.SenderID]; ok {
		u.LastActive = m.Timestamp
	}
	if g, ok := s.groups[m.GroupID]; ok {
		g.LastActive = m.Timestamp
	}
	return nil
}

// ListRecentMessages returns up to q.Limit messages newest-first. A group query
// matches the group log; a user query matches the user's private conversation,
// including assistant replies addressed to them.
func (s *InMemoryStore) ListRecentMessages(ctx context.Context, q models.MessageQuery) ([]models.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		switch {
		case q.GroupID != "":
			if m.GroupID != q.GroupID {
				continue
			}
		case q.UserID != "":
			if m.GroupID != "" || (m.SenderID != q.UserID && m.RecipientID != q.UserID) {
				continue
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *InMemoryStore) AppendAIInteraction(ctx context.Context, r *models.AIInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aiInteractions = append(s.aiInteractions, *r)
	return nil
}

// AIInteractions returns a copy of the audit log.
func (s *InMemoryStore) AIInteractions() []models.AIInteraction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AIInteraction(nil), s.aiInteractions...)
}

func (s *InMemoryStore) Close() error { return nil }

func copyUser(u *models.User) *models.User {
	c := *u
	c.Groups = append([]string(nil), u.Groups...)
	c.History = append([]models.Interaction(nil), u.History...)
	c.Profile = copyProfile(u.Profile)
	return &c
}

func copyProfile(p *models.Profile) *models.Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.EmergencyContacts = append([]string(nil), p.EmergencyContacts...)
	c.Professionals = append([]string(nil), p.Professionals...)
	c.Interests = append([]string(nil), p.Interests...)
	c.AnxietyTriggers = append([]string(nil), p.AnxietyTriggers...)
	c.Communication.PreferredTopics = append([]string(nil), p.Communication.PreferredTopics...)
	c.Communication.AvoidTopics = append([]string(nil), p.Communication.AvoidTopics...)
	return &c
}

func copyGroup(g *models.Group) *models.Group {
	c := *g
	c.Members = append([]string(nil), g.Members...)
	return &c
}

func copyActivity(a *models.Activity) *models.Activity {
	c := *a
	c.Participants = append([]string(nil), a.Participants...)
	return &c
}

// RecordInbound remembers messageID and reports false when it was seen before.
func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, senderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[messageID]; seen {
		return false, nil
	}
	s.inbound[messageID] = false
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		s.inbound[messageID] = true
	}
	return nil
}
