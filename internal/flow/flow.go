package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/models"
)

// Sender is the outbound surface the engine and the flow definitions talk through.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
	SendMenu(ctx context.Context, to, body string, buttons []models.Button) error
}

// InputKind is the shape of answer a step expects.
type InputKind int

const (
	InputText InputKind = iota
	InputNumber
	InputChoice
)

// Choice is one option of a menu step. Its button payload is the step's Prefix
// followed by Value.
type Choice struct {
	Label string
	Value string
}

// Step is one question of a flow.
type Step struct {
	State  models.StateType
	Field  models.DataKey
	Input  InputKind
	Prompt func(s *Session) string

	// Min and Max bound InputNumber answers.
	Min, Max int

	// Prefix and Options describe InputChoice steps. Steps with no static options
	// read them from Session.Choices.
	Prefix  string
	Options []Choice

	// Next returns the state after this step accepted an answer. Nil advances to
	// the following step of the definition, or completes after the last one.
	Next func(ctx context.Context, s *Session) (models.StateType, error)
}

func (st *Step) choices(s *Session) []Choice {
	if len(st.Options) > 0 {
		return st.Options
	}
	return s.Choices[st.State]
}

func (st *Step) buttons(s *Session) []models.Button {
	choices := st.choices(s)
	out := make([]models.Button, len(choices))
	for i, c := range choices {
		out[i] = models.Button{Label: c.Label, Payload: st.Prefix + c.Value}
	}
	return out
}

// Plan seeds a new session.
type Plan struct {
	Fields  map[models.DataKey]string
	Choices map[models.StateType][]Choice
}

// Definition is a complete flow.
type Definition struct {
	Kind  models.FlowKind
	Steps []Step

	// Begin checks eligibility and seeds the session. Returning a *Notice refuses
	// the flow without creating a session.
	Begin func(ctx context.Context, userID string) (Plan, error)

	// Complete persists the collected fields once the last state is answered.
	Complete func(ctx context.Context, s *Session) error
}

func (d *Definition) step(state models.StateType) (*Step, int) {
	for i := range d.Steps {
		if d.Steps[i].State == state {
			return &d.Steps[i], i
		}
	}
	return nil, -1
}

// Notice ends or refuses a flow with a message for the user instead of the
// generic apology.
type Notice struct {
	Message string
	Err     error
}

func (n *Notice) Error() string {
	if n.Err != nil {
		return n.Message + ": " + n.Err.Error()
	}
	return n.Message
}

func (n *Notice) Unwrap() error { return n.Err }

// Apology is sent when a flow fails for reasons the user cannot fix.
const Apology = "Sorry, something went wrong on our side. Please try again later."

// Engine advances sessions through their flow definitions.
type Engine struct {
	sessions *SessionStore
	sender   Sender
	defs     map[models.FlowKind]*Definition
	now      func() time.Time
}

// NewEngine creates an engine serving the given definitions.
func NewEngine(sessions *SessionStore, sender Sender, defs ...*Definition) *Engine {
	e := &Engine{
		sessions: sessions,
		sender:   sender,
		defs:     make(map[models.FlowKind]*Definition, len(defs)),
		now:      time.Now,
	}
	for _, d := range defs {
		e.defs[d.Kind] = d
	}
	return e
}

// Active returns the user's session, if any.
func (e *Engine) Active(userID string) (*Session, bool) {
	return e.sessions.Get(userID)
}

// Sessions exposes the session count for monitoring.
func (e *Engine) Sessions() int { return e.sessions.Count() }

// Start enters a flow for the user. Any session the user already had is discarded,
// even when the new flow is refused. It reports whether a session was created.
func (e *Engine) Start(ctx context.Context, userID string, kind models.FlowKind) (bool, error) {
	def, ok := e.defs[kind]
	if !ok {
		return false, fmt.Errorf("unknown flow kind %q", kind)
	}

	if old, ok := e.sessions.Get(userID); ok {
		slog.Debug("flow.Engine.Start: discarding session", "user_id", userID, "old_flow", old.Kind, "new_flow", kind)
		e.sessions.Delete(userID)
	}

	var plan Plan
	if def.Begin != nil {
		var err error
		plan, err = def.Begin(ctx, userID)
		if err != nil {
			var notice *Notice
			if errors.As(err, &notice) {
				slog.Info("flow.Engine.Start: flow refused", "user_id", userID, "flow", kind, "reason", notice.Message)
				return false, e.sender.SendMessage(ctx, userID, notice.Message)
			}
			slog.Error("flow.Engine.Start: begin failed", "user_id", userID, "flow", kind, "error", err)
			return false, e.sender.SendMessage(ctx, userID, Apology)
		}
	}

	now := e.now()
	sess := &Session{
		UserID:    userID,
		Kind:      kind,
		State:     def.Steps[0].State,
		Choices:   plan.Choices,
		StartedAt: now,
		UpdatedAt: now,
	}
	for k, v := range plan.Fields {
		sess.Set(k, v)
	}
	e.sessions.Put(sess)
	slog.Info("flow.Engine.Start: session created", "user_id", userID, "flow", kind, "state", sess.State)
	return true, e.prompt(ctx, sess, &def.Steps[0], "")
}

// Cancel discards the user's session and reports whether one existed.
func (e *Engine) Cancel(userID string) bool {
	ok := e.sessions.Delete(userID)
	if ok {
		slog.Info("flow.Engine.Cancel: session discarded", "user_id", userID)
	}
	return ok
}

// Handle feeds a private text or button event to the sender's session. It reports
// false when the user has no session or the event does not fit the pending step,
// leaving the event to other handlers.
func (e *Engine) Handle(ctx context.Context, ev models.Event) (bool, error) {
	if ev.IsGroup || ev.Kind == models.EventCommand {
		return false, nil
	}
	sess, ok := e.sessions.Get(ev.From)
	if !ok {
		return false, nil
	}
	def := e.defs[sess.Kind]
	step, idx := def.step(sess.State)
	if step == nil {
		slog.Error("flow.Engine.Handle: session in unknown state", "user_id", ev.From, "flow", sess.Kind, "state", sess.State)
		e.sessions.Delete(ev.From)
		return true, e.sender.SendMessage(ctx, ev.From, Apology)
	}
	if ev.Kind == models.EventCallback && !step.accepts(sess, ev.Callback) {
		return false, nil
	}

	value, err := step.accept(sess, ev)
	if err != nil {
		var inputErr *InputError
		if errors.As(err, &inputErr) {
			slog.Debug("flow.Engine.Handle: input rejected", "user_id", ev.From, "state", sess.State, "reason", inputErr.Reason)
			e.touch(sess)
			return true, e.prompt(ctx, sess, step, inputErr.Correction())
		}
		return true, err
	}
	sess.Set(step.Field, value)

	next := models.StateDone
	if step.Next != nil {
		next, err = step.Next(ctx, sess)
		if err != nil {
			return true, e.fail(ctx, sess, err)
		}
	} else if idx+1 < len(def.Steps) {
		next = def.Steps[idx+1].State
	}

	if next == models.StateDone {
		e.sessions.Delete(sess.UserID)
		if def.Complete != nil {
			if err := def.Complete(ctx, sess); err != nil {
				return true, e.fail(ctx, sess, err)
			}
		}
		slog.Info("flow.Engine.Handle: flow completed", "user_id", sess.UserID, "flow", sess.Kind, "fields", len(sess.Keys()))
		return true, nil
	}

	nextStep, _ := def.step(next)
	if nextStep == nil {
		return true, e.fail(ctx, sess, fmt.Errorf("flow %s has no state %s", sess.Kind, next))
	}
	sess.State = next
	e.touch(sess)
	return true, e.prompt(ctx, sess, nextStep, "")
}

func (e *Engine) touch(sess *Session) {
	sess.UpdatedAt = e.now()
	e.sessions.Put(sess)
}

// fail clears the session and tells the user why the flow ended.
func (e *Engine) fail(ctx context.Context, sess *Session, err error) error {
	e.sessions.Delete(sess.UserID)
	var notice *Notice
	if errors.As(err, &notice) {
		slog.Warn("flow.Engine: flow ended with notice", "user_id", sess.UserID, "flow", sess.Kind, "error", err)
		return e.sender.SendMessage(ctx, sess.UserID, notice.Message)
	}
	slog.Error("flow.Engine: flow failed", "user_id", sess.UserID, "flow", sess.Kind, "state", sess.State, "error", err)
	return e.sender.SendMessage(ctx, sess.UserID, Apology)
}

func (e *Engine) prompt(ctx context.Context, sess *Session, step *Step, correction string) error {
	body := step.Prompt(sess)
	if correction != "" {
		body = correction + "\n\n" + body
	}
	if step.Input == InputChoice {
		return e.sender.SendMenu(ctx, sess.UserID, body, step.buttons(sess))
	}
	return e.sender.SendMessage(ctx, sess.UserID, body)
}

// accepts reports whether payload selects one of the step's options.
func (st *Step) accepts(s *Session, payload string) bool {
	if st.Input != InputChoice || !strings.HasPrefix(payload, st.Prefix) {
		return false
	}
	value := strings.TrimPrefix(payload, st.Prefix)
	for _, c := range st.choices(s) {
		if c.Value == value {
			return true
		}
	}
	return false
}

// accept validates the event against the step and returns the value to store.
func (st *Step) accept(s *Session, ev models.Event) (string, error) {
	if st.Input == InputChoice {
		if ev.Kind == models.EventCallback {
			return strings.TrimPrefix(ev.Callback, st.Prefix), nil
		}
		return st.matchChoice(s, ev.Text)
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return "", &InputError{Reason: ReasonEmpty}
	}
	if st.Input == InputNumber {
		n, err := ParseBoundedInt(text, st.Min, st.Max)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(n), nil
	}
	return text, nil
}

// matchChoice accepts a typed option label or its 1-based position.
func (st *Step) matchChoice(s *Session, text string) (string, error) {
	text = strings.TrimSpace(text)
	choices := st.choices(s)
	for _, c := range choices {
		if strings.EqualFold(c.Label, text) || strings.EqualFold(c.Value, text) {
			return c.Value, nil
		}
	}
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(choices) {
		return choices[n-1].Value, nil
	}
	return "", &InputError{Reason: ReasonChoice}
}
