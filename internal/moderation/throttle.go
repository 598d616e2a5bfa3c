package moderation

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum gap between two automated replies in one group.
const DefaultCooldown = 5 * time.Minute

// Throttle tracks the last automated reply per group. Acquire holds the group
// until the caller releases it, so two concurrent messages cannot both pass.
type Throttle struct {
	mu       sync.Mutex
	cooldown time.Duration
	now      func() time.Time
	last     map[string]time.Time
	inFlight map[string]bool
}

// NewThrottle creates a throttle. A nil clock uses time.Now.
func NewThrottle(cooldown time.Duration, now func() time.Time) *Throttle {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Throttle{
		cooldown: cooldown,
		now:      now,
		last:     make(map[string]time.Time),
		inFlight: make(map[string]bool),
	}
}

// Acquire reports whether the mediator may intervene in groupID now. On success
// the caller must call release exactly once; sent records a reply and closes the
// window.
func (t *Throttle) Acquire(groupID string) (release func(sent bool), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight[groupID] {
		return nil, false
	}
	if last, seen := t.last[groupID]; seen && t.now().Sub(last) <= t.cooldown {
		return nil, false
	}
	t.inFlight[groupID] = true

	var once sync.Once
	return func(sent bool) {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.inFlight, groupID)
			if sent {
				t.last[groupID] = t.now()
			}
		})
	}, true
}

// Last returns the time of the last automated reply in groupID.
func (t *Throttle) Last(groupID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.last[groupID]
	return at, ok
}
