package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AutiConnect/internal/flow"
	"github.com/BTreeMap/AutiConnect/internal/models"
	"github.com/BTreeMap/AutiConnect/internal/moderation"
	"github.com/BTreeMap/AutiConnect/internal/store"
	"github.com/BTreeMap/AutiConnect/internal/testutil"
)

const groupChat = "120363025246125888@g.us"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type botHarness struct {
	d      *Dispatcher
	store  *store.InMemoryStore
	svc    *testutil.RecordingService
	oracle *testutil.ScriptedOracle
	flows  *flow.Engine
	clock  *clock
}

func newBotHarness(t *testing.T) *botHarness {
	t.Helper()
	h := &botHarness{
		store:  store.NewInMemoryStore(),
		svc:    testutil.NewRecordingService(16),
		oracle: testutil.NewScriptedOracle("Let's stay on the theme together."),
		clock:  &clock{now: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)},
	}
	var mu sync.Mutex
	seq := 0
	nextID := func(prefix string) func() string {
		return func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("%s-%d", prefix, seq)
		}
	}
	deps := flow.Deps{Store: h.store, Sender: h.svc, Now: h.clock.Now, NewID: nextID("id")}
	h.flows = flow.NewEngine(flow.NewSessionStore(flow.DefaultSessionTTL), h.svc, flow.Definitions(deps)...)
	mod := moderation.NewEngine(h.store, h.oracle, h.svc, nil, nil,
		moderation.WithClock(h.clock.Now), moderation.WithIDGenerator(nextID("msg")))
	h.d = NewDispatcher(h.store, h.flows, mod, h.svc, WithDedup(h.store), WithClock(h.clock.Now))
	return h
}

func (h *botHarness) dispatch(t *testing.T, ev models.Event) {
	t.Helper()
	if err := h.d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch(%+v): %v", ev, err)
	}
}

func (h *botHarness) say(t *testing.T, user, text string) {
	t.Helper()
	h.dispatch(t, models.NewTextEvent(user, user, false, text, h.clock.Now()))
}

func (h *botHarness) press(t *testing.T, user, payload string) {
	t.Helper()
	h.dispatch(t, models.NewCallbackEvent(user, user, false, payload, h.clock.Now()))
}

func (h *botHarness) sayInGroup(t *testing.T, user, text string) {
	t.Helper()
	h.dispatch(t, models.NewTextEvent(user, groupChat, true, text, h.clock.Now()))
}

func (h *botHarness) last(t *testing.T, to string) testutil.Outbound {
	t.Helper()
	out, ok := h.svc.Last(to)
	if !ok {
		t.Fatalf("nothing sent to %s", to)
	}
	return out
}

func (h *botHarness) seedUser(t *testing.T, id string, role models.Role) {
	t.Helper()
	if err := h.store.UpsertUser(context.Background(), models.NewUser(id, "User "+id, role, h.clock.Now())); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (h *botHarness) seedGroup(t *testing.T, id, creator string, maxMembers int, members ...string) {
	t.Helper()
	ctx := context.Background()
	if err := h.store.UpsertGroup(ctx, models.NewGroup(id, "Group "+id, "trains", "about trains", creator, maxMembers, h.clock.Now())); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	for _, m := range append([]string{creator}, members...) {
		if err := h.store.AddMemberToGroup(ctx, id, m); err != nil {
			t.Fatalf("seed member %s: %v", m, err)
		}
	}
}

func hasButton(o testutil.Outbound, payload string) bool {
	for _, b := range o.Buttons {
		if b.Payload == payload {
			return true
		}
	}
	return false
}

func TestRegistrationEndToEnd(t *testing.T) {
	h := newBotHarness(t)
	const ana = "5511999990001"

	h.say(t, ana, "/start")
	h.say(t, ana, "Ana")
	if !hasButton(h.last(t, ana), "role_autistic_member") {
		t.Fatalf("expected role menu, got %+v", h.last(t, ana))
	}
	h.press(t, ana, "role_autistic_member")

	h.say(t, ana, "notanumber")
	if sess, ok := h.flows.Active(ana); !ok || sess.State != models.StateProfileAge {
		t.Fatalf("expected session to stay at age, got %+v", sess)
	}
	if body := h.last(t, ana).Body; !strings.Contains(body, "How old are you?") {
		t.Errorf("expected age re-prompt, got %q", body)
	}

	for _, answer := range []string{"19", "Female", "Mom 5511988887777", "High school", "Dr. Silva", "trains, maps", "noise", "Direct"} {
		h.say(t, ana, answer)
	}
	if _, ok := h.flows.Active(ana); ok {
		t.Fatal("session should be closed after registration")
	}
	u, err := h.store.GetUser(context.Background(), ana)
	if err != nil || u == nil {
		t.Fatalf("user not stored: %v", err)
	}
	if u.Role != models.RoleAutisticMember || u.Profile.Age != 19 || len(u.Profile.Interests) != 2 {
		t.Errorf("unexpected user %+v profile %+v", u, u.Profile)
	}

	h.say(t, ana, "/start")
	if body := h.last(t, ana).Body; !strings.Contains(body, "Welcome back, Ana") {
		t.Errorf("expected welcome back, got %q", body)
	}
	if _, ok := h.flows.Active(ana); ok {
		t.Error("welcome back must not open a session")
	}
}

func TestFacilitatorWithoutGroupsCannotStartActivity(t *testing.T) {
	h := newBotHarness(t)
	h.seedUser(t, "f1", models.RoleFacilitator)

	h.say(t, "f1", "/startactivity")
	if body := h.last(t, "f1").Body; body != flow.NoGroupsMessage {
		t.Errorf("got %q, want %q", body, flow.NoGroupsMessage)
	}
	if _, ok := h.flows.Active("f1"); ok {
		t.Error("no session should be created")
	}
}

func TestMemberCannotCreateGroup(t *testing.T) {
	h := newBotHarness(t)
	h.seedUser(t, "m1", models.RoleAutisticMember)

	h.say(t, "m1", "/creategroup")
	if body := h.last(t, "m1").Body; body != flow.NotFacilitatorMessage {
		t.Errorf("got %q", body)
	}
	h.say(t, "stranger", "/create_group")
	if body := h.last(t, "stranger").Body; body != flow.NotRegisteredMessage {
		t.Errorf("got %q", body)
	}
}

func TestGroupCreationJoinAndCapacity(t *testing.T) {
	h := newBotHarness(t)
	ctx := context.Background()
	h.seedUser(t, "f1", models.RoleFacilitator)
	h.seedUser(t, "m1", models.RoleAutisticMember)
	h.seedUser(t, "m2", models.RoleAutisticMember)

	h.say(t, "f1", "/creategroup")
	for _, answer := range []string{"Train Club", "Trains", "We talk about trains", "2"} {
		h.say(t, "f1", answer)
	}
	groups, _ := h.store.ListGroups(ctx)
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %d", len(groups))
	}
	g := groups[0]
	menu := h.last(t, "f1")
	if !hasButton(menu, models.MediatorTogglePayload(g.ID, false)) {
		t.Fatalf("expected mediator toggle menu, got %+v", menu)
	}
	if !g.MediatorEnabled {
		t.Error("group must be visible with the mediator on before the toggle is answered")
	}

	h.press(t, "m1", models.MediatorTogglePayload(g.ID, false))
	if body := h.last(t, "m1").Body; body != NotCreatorMessage {
		t.Errorf("non-creator toggle: got %q", body)
	}
	h.press(t, "f1", models.MediatorTogglePayload(g.ID, false))
	if got, _ := h.store.GetGroup(ctx, g.ID); got.MediatorEnabled {
		t.Error("mediator should be disabled")
	}

	h.say(t, "m1", "/groups")
	listing := h.last(t, "m1")
	if !strings.Contains(listing.Body, "Train Club") || !strings.Contains(listing.Body, "Members: 1/2") {
		t.Errorf("unexpected listing %q", listing.Body)
	}
	if !hasButton(listing, models.JoinPayload(g.ID)) {
		t.Fatalf("expected join option, got %+v", listing.Buttons)
	}

	h.press(t, "m1", models.JoinPayload(g.ID))
	if body := h.last(t, "m1").Body; !strings.Contains(body, "You joined") {
		t.Errorf("join: got %q", body)
	}
	h.press(t, "m1", models.JoinPayload(g.ID))
	if body := h.last(t, "m1").Body; !strings.Contains(body, "already a member") {
		t.Errorf("repeat join: got %q", body)
	}
	if got, _ := h.store.GetGroup(ctx, g.ID); len(got.Members) != 2 {
		t.Errorf("members = %v", got.Members)
	}

	h.say(t, "m2", "/groups")
	if hasButton(h.last(t, "m2"), models.JoinPayload(g.ID)) {
		t.Error("a full group must not be offered")
	}
	h.press(t, "m2", models.JoinPayload(g.ID))
	if body := h.last(t, "m2").Body; body != GroupFullMessage {
		t.Errorf("full group: got %q", body)
	}
}

func TestJoinRequiresRegistration(t *testing.T) {
	h := newBotHarness(t)
	h.seedUser(t, "f1", models.RoleFacilitator)
	h.seedGroup(t, "g1", "f1", 5)

	h.say(t, "stranger", "/groups")
	listing := h.last(t, "stranger")
	if listing.IsMenu() || !strings.Contains(listing.Body, "/start") {
		t.Errorf("unregistered caller should be asked to register, got %+v", listing)
	}
	h.press(t, "stranger", models.JoinPayload("g1"))
	if body := h.last(t, "stranger").Body; body != flow.NotRegisteredMessage {
		t.Errorf("got %q", body)
	}
}

func TestActivityCreationAndListing(t *testing.T) {
	h := newBotHarness(t)
	ctx := context.Background()
	h.seedUser(t, "f1", models.RoleFacilitator)
	h.seedUser(t, "m1", models.RoleAutisticMember)
	h.seedGroup(t, "g1", "f1", 5, "m1")

	h.say(t, "f1", "/start_activity")
	h.press(t, "f1", models.GroupSelectPayload("g1"))
	h.press(t, "f1", models.TypeSelectPayload(models.ActivityDiscussion))
	for _, answer := range []string{"Favourite lines", "Share your favourite train line", "45"} {
		h.say(t, "f1", answer)
	}
	acts, err := h.store.ListActivitiesByGroup(ctx, "g1", models.ActivityScheduled)
	if err != nil || len(acts) != 1 {
		t.Fatalf("activities = %v, %v", acts, err)
	}
	a := acts[0]
	if !a.GuidanceEnabled {
		t.Error("activities start with guidance on")
	}

	h.press(t, "m1", models.GuidanceTogglePayload(a.ID, false))
	if body := h.last(t, "m1").Body; body != NotCreatorMessage {
		t.Errorf("non-creator toggle: got %q", body)
	}
	h.press(t, "f1", models.GuidanceTogglePayload(a.ID, false))
	if got, _ := h.store.GetActivity(ctx, a.ID); got.GuidanceEnabled {
		t.Error("guidance should be off")
	}

	h.say(t, "m1", "/activities")
	body := h.last(t, "m1").Body
	for _, want := range []string{"Favourite lines", "Group g1", "45 minutes", "❌ Off"} {
		if !strings.Contains(body, want) {
			t.Errorf("listing %q misses %q", body, want)
		}
	}

	h.say(t, "m2", "/activities")
	if got := h.last(t, "m2").Body; got != NoActivitiesMessage {
		t.Errorf("got %q", got)
	}
}

func TestCancelClearsSession(t *testing.T) {
	h := newBotHarness(t)
	h.seedUser(t, "f1", models.RoleFacilitator)

	h.say(t, "f1", "/creategroup")
	h.say(t, "f1", "Art")
	h.say(t, "f1", "/cancel")
	if _, ok := h.flows.Active("f1"); ok {
		t.Error("cancel should clear the session")
	}
	if body := h.last(t, "f1").Body; body != CancelMessage {
		t.Errorf("got %q", body)
	}
	groups, _ := h.store.ListGroups(context.Background())
	if len(groups) != 0 {
		t.Error("a cancelled flow must not create anything")
	}
}

func TestFlowAnswersBypassModeration(t *testing.T) {
	h := newBotHarness(t)
	h.seedUser(t, "m1", models.RoleAutisticMember)

	h.say(t, "m1", "/profile")
	h.press(t, "m1", "section_interests")
	// Distress-looking text answering a flow question is not a support request.
	h.say(t, "m1", "help, panic buttons")

	if calls := h.oracle.Calls(); len(calls) != 0 {
		t.Errorf("oracle should not be consulted, got %d calls", len(calls))
	}
	u, _ := h.store.GetUser(context.Background(), "m1")
	if len(u.Profile.Interests) != 2 {
		t.Errorf("interests = %v", u.Profile.Interests)
	}
}

func TestPrivateSupportAndAlerts(t *testing.T) {
	h := newBotHarness(t)
	for _, f := range []string{"f1", "f2"} {
		h.seedUser(t, f, models.RoleFacilitator)
	}
	h.seedUser(t, "m1", models.RoleAutisticMember)
	h.seedGroup(t, "g1", "f1", 5, "m1")
	h.seedGroup(t, "g2", "f1", 5, "m1")
	h.seedGroup(t, "g3", "f2", 5, "m1")

	h.say(t, "m1", "I feel so much panic, I need help")
	reply := h.last(t, "m1")
	if !strings.HasPrefix(reply.Body, moderation.PrivateReplyPrefix) {
		t.Errorf("expected assistant reply, got %q", reply.Body)
	}
	if n := len(h.svc.SentTo("f1")); n != 1 {
		t.Errorf("f1 alerted %d times, want 1", n)
	}
	if n := len(h.svc.SentTo("f2")); n != 1 {
		t.Errorf("f2 alerted %d times, want 1", n)
	}

	msgs, _ := h.store.ListRecentMessages(context.Background(), models.MessageQuery{UserID: "m1", Limit: 10})
	if len(msgs) != 2 {
		t.Errorf("expected the member message and the assistant reply, got %d", len(msgs))
	}
}

func TestGroupLinkAndThrottle(t *testing.T) {
	h := newBotHarness(t)
	h.seedUser(t, "f1", models.RoleFacilitator)
	h.seedUser(t, "m1", models.RoleAutisticMember)
	h.seedGroup(t, "g1", "f1", 5, "m1")

	h.dispatch(t, models.NewTextEvent("m1", groupChat, true, "/link g1", h.clock.Now()))
	if body := h.last(t, groupChat).Body; body != NotCreatorMessage {
		t.Errorf("non-creator link: got %q", body)
	}
	h.dispatch(t, models.NewTextEvent("f1", groupChat, true, "/link g1", h.clock.Now()))
	if body := h.last(t, groupChat).Body; !strings.Contains(body, "connected") {
		t.Errorf("link: got %q", body)
	}

	h.sayInGroup(t, "m1", "hello everyone")
	h.sayInGroup(t, "m1", "anyone there?")
	replies := 0
	for _, o := range h.svc.SentTo(groupChat) {
		if strings.HasPrefix(o.Body, moderation.GroupReplyPrefix) {
			replies++
		}
	}
	if replies != 1 {
		t.Errorf("expected one mediator reply within the cooldown, got %d", replies)
	}

	h.clock.Advance(moderation.DefaultCooldown + time.Second)
	h.sayInGroup(t, "m1", "back again")
	replies = 0
	for _, o := range h.svc.SentTo(groupChat) {
		if strings.HasPrefix(o.Body, moderation.GroupReplyPrefix) {
			replies++
		}
	}
	if replies != 2 {
		t.Errorf("expected a second reply after the cooldown, got %d", replies)
	}

	msgs, _ := h.store.ListRecentMessages(context.Background(), models.MessageQuery{GroupID: "g1", Limit: 10})
	members := 0
	for _, m := range msgs {
		if m.SenderID == "m1" {
			members++
		}
	}
	if members != 3 {
		t.Errorf("every group message must be stored, got %d", members)
	}
}

func TestGroupCommands(t *testing.T) {
	h := newBotHarness(t)

	h.dispatch(t, models.NewTextEvent("m1", groupChat, true, "/groups", h.clock.Now()))
	if body := h.last(t, groupChat).Body; body != GroupCommandsOnlyMessage {
		t.Errorf("got %q", body)
	}
	h.dispatch(t, models.NewTextEvent("m1", groupChat, true, "/link", h.clock.Now()))
	if body := h.last(t, groupChat).Body; body != LinkUsageMessage {
		t.Errorf("got %q", body)
	}
	h.dispatch(t, models.NewTextEvent("m1", groupChat, true, "/link nope", h.clock.Now()))
	if body := h.last(t, groupChat).Body; body != GroupNotFoundMessage {
		t.Errorf("got %q", body)
	}
}

func TestHelpByRole(t *testing.T) {
	h := newBotHarness(t)
	h.seedUser(t, "f1", models.RoleFacilitator)
	h.seedUser(t, "m1", models.RoleAutisticMember)

	tests := []struct {
		user string
		cmd  string
		want string
	}{
		{"stranger", "/help", helpUnregistered},
		{"m1", "/help", helpMember},
		{"f1", "/ajuda", helpFacilitator},
	}
	for _, tt := range tests {
		h.say(t, tt.user, tt.cmd)
		if body := h.last(t, tt.user).Body; body != tt.want {
			t.Errorf("%s %s: got %q", tt.user, tt.cmd, body)
		}
	}
}

func TestUnknownCommandAndStaleCallbacks(t *testing.T) {
	h := newBotHarness(t)

	h.say(t, "u1", "/dance")
	if body := h.last(t, "u1").Body; body != UnknownCommandMessage {
		t.Errorf("got %q", body)
	}
	for _, payload := range []string{"role_facilitator", models.GroupSelectPayload("g1"), "ai_guide_on_missing"} {
		h.press(t, "u1", payload)
		if body := h.last(t, "u1").Body; body != ExpiredMenuMessage {
			t.Errorf("%s: got %q", payload, body)
		}
	}
}

func TestDuplicateEventsAreDropped(t *testing.T) {
	h := newBotHarness(t)
	ev := models.NewTextEvent("u1", "u1", false, "/help", h.clock.Now())
	ev.ID = "wamid-1"

	h.dispatch(t, ev)
	h.dispatch(t, ev)
	if n := len(h.svc.SentTo("u1")); n != 1 {
		t.Errorf("expected one reply, got %d", n)
	}
}

func TestLastActiveTouchedByCommands(t *testing.T) {
	h := newBotHarness(t)
	h.seedUser(t, "m1", models.RoleAutisticMember)
	h.clock.Advance(time.Hour)

	h.say(t, "m1", "/groups")
	u, _ := h.store.GetUser(context.Background(), "m1")
	if !u.LastActive.Equal(h.clock.Now()) {
		t.Errorf("LastActive = %v, want %v", u.LastActive, h.clock.Now())
	}
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	h := newBotHarness(t)
	events := make(chan models.Event, 2)
	events <- models.NewTextEvent("u1", "u1", false, "/help", h.clock.Now())
	close(events)

	done := make(chan struct{})
	go func() {
		h.d.Run(context.Background(), events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	if _, ok := h.svc.Last("u1"); !ok {
		t.Error("queued event was not handled")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := newBotHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.d.Run(ctx, make(chan models.Event))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
