// Package flow drives the multi-step data-collection conversations (registration,
// group creation, activity creation and profile updates).
//
// Each flow is a Definition: an ordered list of Steps, each expecting one input
// shape. The Engine keeps one ephemeral Session per user in a SessionStore;
// sessions are never persisted and expire after a period of inactivity.
package flow

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/models"
	"github.com/patrickmn/go-cache"
)

// DefaultSessionTTL is how long an idle flow session survives.
const DefaultSessionTTL = 30 * time.Minute

type field struct {
	key   models.DataKey
	value string
}

// Session is the transient progress of one user through one flow.
type Session struct {
	UserID    string
	Kind      models.FlowKind
	State     models.StateType
	Choices   map[models.StateType][]Choice
	StartedAt time.Time
	UpdatedAt time.Time

	fields []field
}

// Set stores a collected value, keeping first-insertion order.
func (s *Session) Set(key models.DataKey, value string) {
	for i := range s.fields {
		if s.fields[i].key == key {
			s.fields[i].value = value
			return
		}
	}
	s.fields = append(s.fields, field{key: key, value: value})
}

// Get returns a collected value.
func (s *Session) Get(key models.DataKey) (string, bool) {
	for _, f := range s.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return "", false
}

// Value returns a collected value or "".
func (s *Session) Value(key models.DataKey) string {
	v, _ := s.Get(key)
	return v
}

// Keys lists the collected field names in insertion order.
func (s *Session) Keys() []models.DataKey {
	keys := make([]models.DataKey, len(s.fields))
	for i, f := range s.fields {
		keys[i] = f.key
	}
	return keys
}

// SessionStore holds at most one session per user. Writing a session refreshes
// its expiry.
type SessionStore struct {
	cache *cache.Cache
}

// NewSessionStore creates a store whose sessions expire after ttl of inactivity.
// A non-positive ttl disables expiry.
func NewSessionStore(ttl time.Duration) *SessionStore {
	expiration := ttl
	cleanup := ttl
	if ttl <= 0 {
		expiration = cache.NoExpiration
		cleanup = 0
	}
	slog.Debug("flow.NewSessionStore", "ttl", ttl)
	return &SessionStore{cache: cache.New(expiration, cleanup)}
}

// Get returns the user's active session.
func (s *SessionStore) Get(userID string) (*Session, bool) {
	v, ok := s.cache.Get(userID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Put stores the session, replacing any session the user already had.
func (s *SessionStore) Put(sess *Session) {
	s.cache.Set(sess.UserID, sess, cache.DefaultExpiration)
}

// Delete drops the user's session and reports whether one existed.
func (s *SessionStore) Delete(userID string) bool {
	_, ok := s.cache.Get(userID)
	s.cache.Delete(userID)
	return ok
}

// Count returns the number of live sessions.
func (s *SessionStore) Count() int {
	return s.cache.ItemCount()
}
