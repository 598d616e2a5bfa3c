package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/models"
	"github.com/BTreeMap/AutiConnect/internal/store"
	"github.com/google/uuid"
)

// Oracle generates mediator replies.
type Oracle interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Reply prefixes and fallback text.
const (
	GroupReplyPrefix   = "🤖 AI Mediator: "
	PrivateReplyPrefix = "🤖 Assistant: "
	OracleApology      = "Sorry, I'm having trouble answering right now. I'll be here when you write again."
)

// Default engine tuning.
const (
	DefaultContextWindow = 10
	DefaultOracleTimeout = 30 * time.Second
)

// Opts tunes the engine.
type Opts struct {
	Cooldown      time.Duration
	OracleTimeout time.Duration
	SupportTTL    time.Duration
	ContextWindow int
	Now           func() time.Time
	NewID         func() string
}

// Option modifies Opts.
type Option func(*Opts)

func WithCooldown(d time.Duration) Option      { return func(o *Opts) { o.Cooldown = d } }
func WithOracleTimeout(d time.Duration) Option { return func(o *Opts) { o.OracleTimeout = d } }

// WithSupportTTL sets how long a private support session stays open without a
// reply. Zero keeps sessions for the process lifetime.
func WithSupportTTL(d time.Duration) Option { return func(o *Opts) { o.SupportTTL = d } }

func WithContextWindow(n int) Option         { return func(o *Opts) { o.ContextWindow = n } }
func WithClock(now func() time.Time) Option  { return func(o *Opts) { o.Now = now } }
func WithIDGenerator(f func() string) Option { return func(o *Opts) { o.NewID = f } }

// Outcome summarises what the engine did with one message.
type Outcome struct {
	MessageID    string
	Replied      bool
	OracleFailed bool
	Alerted      []string
	Skipped      string
}

// Reasons an outcome carries no reply.
const (
	SkipNoGroup     = "group not linked"
	SkipMediatorOff = "mediator disabled"
	SkipThrottled   = "throttled"
	SkipCommand     = "command"
	SkipNotMember   = "not an autistic member"
	SkipNoSupport   = "no support needed"
	SkipEmptyReply  = "empty reply"
)

// Engine applies the moderation policy to inbound chat messages.
type Engine struct {
	store    store.Store
	oracle   Oracle
	sender   Sender
	notifier Notifier
	policy   *Policy
	throttle *Throttle
	support  *SupportSessions
	opts     Opts
}

// NewEngine wires the engine. A nil oracle makes every consultation fail over
// to the apology; a nil policy uses DefaultPolicy.
func NewEngine(st store.Store, oracle Oracle, sender Sender, notifier Notifier, policy *Policy, opts ...Option) *Engine {
	cfg := Opts{
		Cooldown:      DefaultCooldown,
		OracleTimeout: DefaultOracleTimeout,
		ContextWindow: DefaultContextWindow,
		Now:           time.Now,
		NewID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	if notifier == nil {
		notifier = NewDirectNotifier(sender)
	}
	return &Engine{
		store:    st,
		oracle:   oracle,
		sender:   sender,
		notifier: notifier,
		policy:   policy,
		throttle: NewThrottle(cfg.Cooldown, cfg.Now),
		support:  NewSupportSessions(cfg.SupportTTL),
		opts:     cfg,
	}
}

// Policy returns the keyword policy in use.
func (e *Engine) Policy() *Policy { return e.policy }

// SupportSessions exposes the open support sessions.
func (e *Engine) SupportSessions() *SupportSessions { return e.support }

// Throttle exposes the per-group intervention marks.
func (e *Engine) Throttle() *Throttle { return e.throttle }

// HandleGroupMessage stores a group chat message and lets the mediator reply when
// the linked group has it enabled and the cooldown has passed.
func (e *Engine) HandleGroupMessage(ctx context.Context, ev models.Event) (Outcome, error) {
	g, err := e.store.GetGroupByChatID(ctx, ev.ChatID)
	if err != nil {
		slog.Error("Engine.HandleGroupMessage: group lookup failed", "chat_id", ev.ChatID, "error", err)
		g = nil
	}
	groupRef := ev.ChatID
	if g != nil {
		groupRef = g.ID
	}

	msg, err := e.record(ctx, ev, groupRef)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{MessageID: msg.ID}

	switch {
	case g == nil:
		out.Skipped = SkipNoGroup
		return out, nil
	case !g.MediatorEnabled:
		out.Skipped = SkipMediatorOff
		return out, nil
	}

	release, ok := e.throttle.Acquire(g.ID)
	if !ok {
		slog.Debug("Engine.HandleGroupMessage: throttled", "group_id", g.ID)
		out.Skipped = SkipThrottled
		return out, nil
	}
	sent := false
	defer func() { release(sent) }()

	recent, err := e.recent(ctx, models.MessageQuery{GroupID: g.ID, Limit: e.opts.ContextWindow})
	if err != nil {
		return out, err
	}
	participants := e.participants(ctx, recent)
	prompt := GroupPrompt(g, participants, recent)

	reply, failed := e.consult(ctx, prompt)
	out.OracleFailed = failed

	if reply == "" {
		out.Skipped = SkipEmptyReply
	} else if err := e.sender.SendMessage(ctx, ev.ChatID, GroupReplyPrefix+reply); err != nil {
		slog.Error("Engine.HandleGroupMessage: reply not sent", "group_id", g.ID, "chat_id", ev.ChatID, "error", err)
	} else {
		sent = true
		out.Replied = true
		e.logAssistant(ctx, models.Message{GroupID: g.ID, Text: reply})
	}

	alert := e.policy.Alert(ev.Text) || (!failed && e.policy.Alert(reply))
	if alert {
		body := fmt.Sprintf("⚠️ ALERT: a situation in group %q may need your attention.\n\nPlease check the recent conversation and step in if needed.", g.Name)
		if e.alert(ctx, Alert{FacilitatorID: g.CreatorID, Body: body, SourceMessageID: msg.ID}) {
			out.Alerted = append(out.Alerted, g.CreatorID)
		}
	}

	e.audit(ctx, &models.AIInteraction{
		Kind:         models.InteractionGroupMediation,
		GroupID:      g.ID,
		UserID:       ev.From,
		Prompt:       prompt,
		Input:        ev.Text,
		Reply:        reply,
		AlertNeeded:  alert,
		OracleFailed: failed,
	})
	slog.Info("Engine.HandleGroupMessage: intervention", "group_id", g.ID, "replied", out.Replied, "oracle_failed", failed, "alert", alert)
	return out, nil
}

// HandlePrivateMessage stores a private message and offers support to autistic
// members who have an open support session or whose text suggests they need one.
// Text matching the alert vocabulary always qualifies.
func (e *Engine) HandlePrivateMessage(ctx context.Context, ev models.Event) (Outcome, error) {
	msg, err := e.record(ctx, ev, "")
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{MessageID: msg.ID}

	if strings.HasPrefix(strings.TrimSpace(ev.Text), models.CommandPrefix) {
		out.Skipped = SkipCommand
		return out, nil
	}
	u, err := e.store.GetUser(ctx, ev.From)
	if err != nil {
		return out, err
	}
	if !u.IsAutisticMember() {
		out.Skipped = SkipNotMember
		return out, nil
	}
	alert := e.policy.Alert(ev.Text)
	if !e.support.IsOpen(u.ID) && !alert && !e.policy.NeedsSupport(ev.Text) {
		out.Skipped = SkipNoSupport
		return out, nil
	}

	recent, err := e.recent(ctx, models.MessageQuery{UserID: u.ID, Limit: e.opts.ContextWindow})
	if err != nil {
		return out, err
	}
	prompt := SupportPrompt(u, recent)
	reply, failed := e.consult(ctx, prompt)
	out.OracleFailed = failed

	to := ev.ChatID
	if to == "" {
		to = ev.From
	}
	if reply == "" {
		out.Skipped = SkipEmptyReply
	} else if err := e.sender.SendMessage(ctx, to, PrivateReplyPrefix+reply); err != nil {
		slog.Error("Engine.HandlePrivateMessage: reply not sent", "user_id", u.ID, "error", err)
	} else {
		out.Replied = true
		e.logAssistant(ctx, models.Message{RecipientID: u.ID, Text: reply})
		opened := e.support.Touch(u.ID, e.opts.Now())
		slog.Debug("Engine.HandlePrivateMessage: support session open", "user_id", u.ID, "since", opened)
	}

	// Only the member's own words raise a private alert, never the generated reply.
	if alert {
		out.Alerted = e.alertFacilitators(ctx, u, msg.ID)
	}

	now := e.opts.Now()
	if err := e.store.AppendInteraction(ctx, u.ID, models.Interaction{
		Kind:      string(models.InteractionIndividualSupport),
		Summary:   summarize(ev.Text),
		Alert:     alert,
		Timestamp: now,
	}); err != nil {
		slog.Error("Engine.HandlePrivateMessage: interaction not recorded", "user_id", u.ID, "error", err)
	}
	e.audit(ctx, &models.AIInteraction{
		Kind:         models.InteractionIndividualSupport,
		UserID:       u.ID,
		Prompt:       prompt,
		Input:        ev.Text,
		Reply:        reply,
		AlertNeeded:  alert,
		OracleFailed: failed,
	})
	slog.Info("Engine.HandlePrivateMessage: support reply", "user_id", u.ID, "replied", out.Replied, "oracle_failed", failed, "alerted", len(out.Alerted))
	return out, nil
}

// alertFacilitators notifies the creator of each of the member's groups, once
// per facilitator.
func (e *Engine) alertFacilitators(ctx context.Context, u *models.User, sourceID string) []string {
	body := fmt.Sprintf("⚠️ ALERT: %s may need professional support in a private conversation with the AI assistant.\n\nPlease get in touch with them when possible.", u.Name)
	notified := make(map[string]bool)
	var out []string
	for _, groupID := range u.Groups {
		g, err := e.store.GetGroup(ctx, groupID)
		if err != nil {
			slog.Error("Engine.alertFacilitators: group lookup failed", "group_id", groupID, "error", err)
			continue
		}
		if g == nil || g.CreatorID == "" || notified[g.CreatorID] {
			continue
		}
		notified[g.CreatorID] = true
		if e.alert(ctx, Alert{FacilitatorID: g.CreatorID, Body: body, SourceMessageID: sourceID}) {
			out = append(out, g.CreatorID)
		}
	}
	if len(out) == 0 {
		slog.Warn("Engine.alertFacilitators: no facilitator reachable", "user_id", u.ID, "groups", len(u.Groups))
	}
	return out
}

func (e *Engine) alert(ctx context.Context, a Alert) bool {
	if err := e.notifier.Notify(ctx, a); err != nil {
		slog.Error("Engine.alert: facilitator not notified", "facilitator_id", a.FacilitatorID, "source_message_id", a.SourceMessageID, "error", err)
		return false
	}
	slog.Warn("Engine.alert: facilitator notified", "facilitator_id", a.FacilitatorID, "source_message_id", a.SourceMessageID)
	return true
}

// consult asks the oracle under the configured timeout. Any failure is replaced by
// the apology and reported through failed.
func (e *Engine) consult(ctx context.Context, prompt string) (reply string, failed bool) {
	if e.oracle == nil {
		slog.Warn("Engine.consult: no oracle configured, using apology")
		return OracleApology, true
	}
	cctx, cancel := context.WithTimeout(ctx, e.opts.OracleTimeout)
	defer cancel()
	reply, err := e.oracle.GeneratePrompt(cctx, prompt, UserPrompt)
	if err != nil {
		slog.Warn("Engine.consult: oracle failed, using apology", "error", err)
		return OracleApology, true
	}
	return strings.TrimSpace(reply), false
}

// record appends the inbound message before any decision is taken.
func (e *Engine) record(ctx context.Context, ev models.Event, groupID string) (*models.Message, error) {
	at := ev.Time
	if at.IsZero() {
		at = e.opts.Now()
	}
	msg := &models.Message{
		ID:        e.opts.NewID(),
		SenderID:  ev.From,
		GroupID:   groupID,
		Text:      ev.Text,
		Type:      models.MessageText,
		Timestamp: at,
	}
	if err := e.store.AppendMessage(ctx, msg); err != nil {
		slog.Error("Engine.record: message not stored", "from", ev.From, "group_id", groupID, "error", err)
		return nil, fmt.Errorf("store message from %s: %w", ev.From, err)
	}
	if err := e.store.TouchLastActive(ctx, ev.From, at); err != nil {
		slog.Warn("Engine.record: last active not updated", "user_id", ev.From, "error", err)
	}
	return msg, nil
}

// recent loads the newest messages of a conversation and returns them oldest-first.
func (e *Engine) recent(ctx context.Context, q models.MessageQuery) ([]models.Message, error) {
	msgs, err := e.store.ListRecentMessages(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// participants resolves the senders of msgs. Unknown senders are left out.
func (e *Engine) participants(ctx context.Context, msgs []models.Message) map[string]*models.User {
	out := make(map[string]*models.User)
	for _, m := range msgs {
		if m.IsAssistant() {
			continue
		}
		if _, seen := out[m.SenderID]; seen {
			continue
		}
		u, err := e.store.GetUser(ctx, m.SenderID)
		if err != nil {
			slog.Warn("Engine.participants: user lookup failed", "user_id", m.SenderID, "error", err)
		}
		out[m.SenderID] = u
	}
	return out
}

func (e *Engine) logAssistant(ctx context.Context, m models.Message) {
	m.ID = e.opts.NewID()
	m.SenderID = models.AssistantSenderID
	m.Type = models.MessageAssistant
	m.Timestamp = e.opts.Now()
	if err := e.store.AppendMessage(ctx, &m); err != nil {
		slog.Error("Engine.logAssistant: reply not stored", "group_id", m.GroupID, "recipient_id", m.RecipientID, "error", err)
	}
}

func (e *Engine) audit(ctx context.Context, r *models.AIInteraction) {
	r.ID = e.opts.NewID()
	r.CreatedAt = e.opts.Now()
	if err := e.store.AppendAIInteraction(ctx, r); err != nil {
		slog.Error("Engine.audit: interaction not stored", "kind", r.Kind, "error", err)
	}
}

const summaryLimit = 120

func summarize(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= summaryLimit {
		return text
	}
	return string(runes[:summaryLimit]) + "…"
}
