package messaging

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

// MenuFooter closes every rendered menu.
const MenuFooter = "Reply with the number of your choice."

// RenderMenu lists the buttons as numbered options under body.
func RenderMenu(body string, buttons []models.Button) string {
	var b strings.Builder
	b.WriteString(body)
	if len(buttons) == 0 {
		return b.String()
	}
	b.WriteString("\n")
	for i, btn := range buttons {
		fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Label)
	}
	b.WriteString("\n\n")
	b.WriteString(MenuFooter)
	return b.String()
}

// MenuRegistry remembers the last menu sent to each chat so a numeric reply
// can be turned back into the chosen payload. Each menu answers at most one reply.
type MenuRegistry struct {
	mu    sync.Mutex
	menus map[string][]models.Button
}

// NewMenuRegistry creates an empty registry.
func NewMenuRegistry() *MenuRegistry {
	return &MenuRegistry{menus: make(map[string][]models.Button)}
}

// Register replaces the pending menu of chatID.
func (r *MenuRegistry) Register(chatID string, buttons []models.Button) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(buttons) == 0 {
		delete(r.menus, chatID)
		return
	}
	r.menus[chatID] = append([]models.Button(nil), buttons...)
}

// Clear drops the pending menu of chatID.
func (r *MenuRegistry) Clear(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.menus, chatID)
}

// Pending reports whether chatID has a menu waiting for a reply.
func (r *MenuRegistry) Pending(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.menus[chatID]
	return ok
}

// Resolve consumes the pending menu of chatID. It returns the payload of the
// option numbered by text, or false when text is not one of the numbers.
func (r *MenuRegistry) Resolve(chatID, text string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buttons, ok := r.menus[chatID]
	if !ok {
		return "", false
	}
	delete(r.menus, chatID)
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > len(buttons) {
		return "", false
	}
	return buttons[n-1].Payload, true
}
