package flow

import (
	"context"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/models"
	"github.com/BTreeMap/AutiConnect/internal/store"
	"github.com/google/uuid"
)

// Deps are the collaborators the flow definitions persist and reply through.
type Deps struct {
	Store  store.Store
	Sender Sender
	Now    func() time.Time
	NewID  func() string
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return d
}

// Definitions returns every flow, wired to deps.
func Definitions(deps Deps) []*Definition {
	deps = deps.withDefaults()
	return []*Definition{
		Registration(deps),
		GroupCreation(deps),
		ActivityCreation(deps),
		ProfileUpdate(deps),
	}
}

func static(text string) func(*Session) string {
	return func(*Session) string { return text }
}

func done(context.Context, *Session) (models.StateType, error) {
	return models.StateDone, nil
}
