package moderation

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// SupportSessions remembers which users have an open private support conversation.
type SupportSessions struct {
	cache *cache.Cache
}

// NewSupportSessions creates the tracker. Sessions expire after ttl without an
// automated reply; a non-positive ttl keeps them for the process lifetime.
func NewSupportSessions(ttl time.Duration) *SupportSessions {
	if ttl <= 0 {
		return &SupportSessions{cache: cache.New(cache.NoExpiration, 0)}
	}
	return &SupportSessions{cache: cache.New(ttl, ttl)}
}

// IsOpen reports whether userID has an open session.
func (s *SupportSessions) IsOpen(userID string) bool {
	_, ok := s.cache.Get(userID)
	return ok
}

// Touch opens the session or extends it. It returns when the session was first opened.
func (s *SupportSessions) Touch(userID string, at time.Time) time.Time {
	opened := at
	if v, ok := s.cache.Get(userID); ok {
		opened = v.(time.Time)
	}
	s.cache.Set(userID, opened, cache.DefaultExpiration)
	return opened
}

// Close ends the session.
func (s *SupportSessions) Close(userID string) { s.cache.Delete(userID) }

// Count returns the number of open sessions.
func (s *SupportSessions) Count() int { return s.cache.ItemCount() }
