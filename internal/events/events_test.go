package events

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alekspetrov/nova/internal/audio"
	"github.com/alekspetrov/nova/internal/delivery"
	"github.com/alekspetrov/nova/internal/platform"
	"github.com/alekspetrov/nova/internal/reconcile"
	"github.com/alekspetrov/nova/internal/store"
)

type fakeREST struct {
	mu        sync.Mutex
	botPerms  platform.Permissions
	channels  map[string]*platform.Channel
	sent      []platform.MessageSend
	sentTo    []string
	deleted   []string
	roles     []string
	responded []platform.InteractionResponse
	roleErr   error
}

func newFakeREST() *fakeREST {
	return &fakeREST{channels: map[string]*platform.Channel{}}
}

func (f *fakeREST) RespondInteraction(_ context.Context, _, _ string, resp platform.InteractionResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responded = append(f.responded, resp)
	return nil
}

func (f *fakeREST) Followup(context.Context, string, string, platform.MessageSend) (*platform.Message, error) {
	return &platform.Message{ID: "f"}, nil
}

func (f *fakeREST) Send(_ context.Context, channelID string, msg platform.MessageSend) (*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	f.sentTo = append(f.sentTo, channelID)
	return &platform.Message{ID: "m", ChannelID: channelID}, nil
}

func (f *fakeREST) FetchMember(_ context.Context, guildID, userID string) (*platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &platform.Member{ID: userID, Permissions: f.botPerms}, nil
}

func (f *fakeREST) Channel(_ context.Context, id string) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[id]; ok {
		return ch, nil
	}
	return nil, platform.ErrNotFound
}

func (f *fakeREST) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeREST) AddMemberRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roleErr != nil {
		return f.roleErr
	}
	f.roles = append(f.roles, userID+":"+roleID)
	return nil
}

type fakeEngine struct {
	mu        sync.Mutex
	populated [][]string
	purged    int
}

func (e *fakeEngine) Populate(_ context.Context, guildIDs ...string) (reconcile.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.populated = append(e.populated, guildIDs)
	return reconcile.Result{}, nil
}

func (e *fakeEngine) Purge(context.Context) (reconcile.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.purged++
	return reconcile.Result{}, nil
}

type harness struct {
	d        *Dispatcher
	rest     *fakeREST
	engine   *fakeEngine
	repo     *store.SQLiteStore
	sessions *audio.Sessions
}

func newHarness(t *testing.T, cfg Config, router CommandRouter) *harness {
	t.Helper()
	repo, err := store.Open(context.Background(), store.DriverPureGo, filepath.Join(t.TempDir(), "nova.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	h := &harness{rest: newFakeREST(), engine: &fakeEngine{}, repo: repo, sessions: audio.NewSessions(nil)}
	h.d = NewDispatcher(cfg, Deps{
		REST:     h.rest,
		Repo:     repo,
		Engine:   h.engine,
		Sessions: h.sessions,
		Spam:     NewSpamTracker(time.Minute, 2),
		Router:   router,
	})
	return h
}

func event(t *testing.T, typ string, v any) platform.Event {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return platform.Event{Type: typ, Data: data}
}

func (h *harness) ready(t *testing.T, guildIDs ...string) {
	t.Helper()
	r := platform.Ready{User: platform.User{ID: "bot", Username: "nova", Bot: true}}
	for _, id := range guildIDs {
		r.Guilds = append(r.Guilds, platform.GuildStatus{ID: id, Unavailable: true})
	}
	h.d.Handle(context.Background(), event(t, platform.EventReady, r))
}

func (h *harness) seed(t *testing.T, guildID string, userIDs ...string) {
	t.Helper()
	ctx := context.Background()
	if err := h.repo.CreateGuild(ctx, &store.Guild{ID: guildID, Name: "Nova HQ"}); err != nil {
		t.Fatal(err)
	}
	for _, id := range userIDs {
		if err := h.repo.CreateUser(ctx, &store.User{ID: id, UserName: "user-" + id}); err != nil {
			t.Fatal(err)
		}
		if err := h.repo.AddLink(ctx, store.SetMembers, guildID, id); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGuildJoinAndLeave(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	// Before READY nothing counts as a join.
	h.d.Handle(ctx, event(t, platform.EventGuildCreate, platform.GuildCreate{ID: "g0", Name: "early"}))

	h.ready(t, "g1")
	h.d.Handle(ctx, event(t, platform.EventGuildCreate, platform.GuildCreate{ID: "g1", Name: "known"}))
	h.d.Handle(ctx, event(t, platform.EventGuildCreate, platform.GuildCreate{ID: "g2", Name: "new"}))
	h.d.Handle(ctx, event(t, platform.EventGuildCreate, platform.GuildCreate{ID: "g2", Name: "new again"}))

	if len(h.engine.populated) != 1 || len(h.engine.populated[0]) != 1 || h.engine.populated[0][0] != "g2" {
		t.Errorf("populate calls = %v, want one for g2", h.engine.populated)
	}

	h.d.Handle(ctx, event(t, platform.EventGuildDelete, platform.GuildStatus{ID: "g1", Unavailable: true}))
	if h.engine.purged != 0 {
		t.Error("outage triggered purge")
	}
	h.d.Handle(ctx, event(t, platform.EventGuildDelete, platform.GuildStatus{ID: "g1"}))
	if h.engine.purged != 1 {
		t.Errorf("purge calls = %d, want 1", h.engine.purged)
	}
	if len(h.engine.populated) != 1 {
		t.Error("leave triggered populate")
	}
}

func TestMemberJoinWelcomeAndRole(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	h.ready(t, "g1")
	h.seed(t, "g1", "u1")

	cfg, _ := h.repo.GetGuildConfig(ctx, "g1")
	cfg.WelcomeActive = true
	cfg.WelcomeChannelID = "welcome"
	cfg.WelcomeTitle = "Hi <username>"
	cfg.WelcomeDescription = "Welcome <mention> to <guildname>"
	cfg.WelcomeColour = "#2ECC71"
	cfg.WelcomePicture = store.PictureLarge
	cfg.AutoRoleActive = true
	cfg.AutoRoleID = "r1"
	if err := h.repo.UpdateGuildConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	h.rest.channels["welcome"] = &platform.Channel{ID: "welcome", Name: "welcome", Type: platform.ChannelText}
	h.rest.botPerms = platform.PermManageRoles

	h.d.Handle(ctx, event(t, platform.EventGuildMemberAdd, platform.EventMember{
		GuildID: "g1",
		User:    platform.User{ID: "u1", Username: "alice", GlobalName: "Alice", Avatar: "abc"},
	}))

	if len(h.engine.populated) != 1 || h.engine.populated[0][0] != "g1" {
		t.Errorf("populate calls = %v", h.engine.populated)
	}
	if len(h.rest.sent) != 1 {
		t.Fatalf("sent = %d messages, want 1 welcome", len(h.rest.sent))
	}
	embed := h.rest.sent[0].Embeds[0]
	if embed.Title != "Hi Alice" || embed.Description != "Welcome <@u1> to Nova HQ" {
		t.Errorf("embed = %+v", embed)
	}
	if embed.Color != 0x2ECC71 || embed.Image == nil || !strings.Contains(embed.Image.URL, "abc") {
		t.Errorf("embed styling = %+v", embed)
	}
	if len(h.rest.roles) != 1 || h.rest.roles[0] != "u1:r1" {
		t.Errorf("roles = %v", h.rest.roles)
	}
}

func TestAutoRoleSkips(t *testing.T) {
	tests := []struct {
		name    string
		perms   platform.Permissions
		roles   []string
		roleErr error
	}{
		{"already has role", platform.PermManageRoles, []string{"r1"}, nil},
		{"missing permission", 0, nil, nil},
		{"forbidden by hierarchy", platform.PermManageRoles, nil, platform.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, nil)
			h.ready(t)
			h.rest.botPerms = tt.perms
			h.rest.roleErr = tt.roleErr

			cfg := store.DefaultGuildConfig("g1")
			cfg.AutoRoleActive = true
			cfg.AutoRoleID = "r1"
			err := h.d.autoRole(context.Background(), cfg, platform.EventMember{
				GuildID: "g1", User: platform.User{ID: "u1"}, Roles: tt.roles,
			})
			if err != nil {
				t.Errorf("autoRole: %v", err)
			}
			if len(h.rest.roles) != 0 {
				t.Errorf("roles = %v, want none", h.rest.roles)
			}
		})
	}
}

func TestWelcomeRejectsNonTextChannel(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.rest.channels["cat"] = &platform.Channel{ID: "cat", Type: platform.ChannelCategory}

	cfg := store.DefaultGuildConfig("g1")
	cfg.WelcomeActive = true
	cfg.WelcomeChannelID = "cat"
	err := h.d.welcome(context.Background(), &store.Guild{ID: "g1"}, cfg, platform.EventMember{User: platform.User{ID: "u1"}})
	if err == nil {
		t.Fatal("expected error for category channel")
	}
	if len(h.rest.sent) != 0 {
		t.Error("message sent to category")
	}
}

func TestSpamFilterActions(t *testing.T) {
	tests := []struct {
		name      string
		action    int
		message   string
		wantDel   int
		wantSent  []string
		wantWarns int
	}{
		{"disabled", store.SpamActionDisabled, "stop", 0, nil, 0},
		{"delete", store.SpamActionDelete, "<mention> slow down", 1, []string{"<@u1> slow down"}, 0},
		{"warn", store.SpamActionWarn, "", 1, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{SpamFilter: true}, nil)
			ctx := context.Background()
			h.ready(t, "g1")
			h.seed(t, "g1", "u1")
			h.rest.botPerms = platform.PermManageMessages

			cfg, _ := h.repo.GetGuildConfig(ctx, "g1")
			cfg.SpamFilterAction = tt.action
			cfg.SpamFilterMessage = tt.message
			if err := h.repo.UpdateGuildConfig(ctx, cfg); err != nil {
				t.Fatal(err)
			}

			for i := 0; i < 3; i++ {
				h.d.Handle(ctx, event(t, platform.EventMessageCreate, platform.MessageCreate{Message: platform.Message{
					ID: "m" + string(rune('0'+i)), ChannelID: "c1", GuildID: "g1",
					Author: platform.User{ID: "u1", Username: "spammer"}, Content: "buy now",
				}}))
			}

			if len(h.rest.deleted) != tt.wantDel {
				t.Errorf("deleted = %v, want %d", h.rest.deleted, tt.wantDel)
			}
			var sent []string
			for _, m := range h.rest.sent {
				sent = append(sent, m.Content)
			}
			if strings.Join(sent, "|") != strings.Join(tt.wantSent, "|") {
				t.Errorf("sent = %v, want %v", sent, tt.wantSent)
			}
			n, err := h.repo.CountActiveWarns(ctx, "g1", "u1")
			if err != nil {
				t.Fatal(err)
			}
			if n != tt.wantWarns {
				t.Errorf("active warns = %d, want %d", n, tt.wantWarns)
			}
		})
	}
}

func TestMessagesFromBotsIgnored(t *testing.T) {
	h := newHarness(t, Config{SpamFilter: true}, nil)
	h.ready(t)
	for i := 0; i < 5; i++ {
		h.d.Handle(context.Background(), event(t, platform.EventMessageCreate, platform.MessageCreate{Message: platform.Message{
			GuildID: "g1", Author: platform.User{ID: "other-bot", Bot: true},
		}}))
	}
	if h.d.spam.Len() != 0 {
		t.Error("bot messages counted by spam filter")
	}
}

func TestVoiceDisconnectDropsSession(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.ready(t)
	_ = h.sessions.Open(&audio.Session{Kind: audio.KindTTS, GuildID: "g1"})
	_ = h.sessions.Open(&audio.Session{Kind: audio.KindAudio, GuildID: "g2"})
	ctx := context.Background()

	// Another user leaving, and the bot moving channels, change nothing.
	h.d.Handle(ctx, event(t, platform.EventVoiceStateUpdate, platform.VoiceState{GuildID: "g1", UserID: "u1"}))
	h.d.Handle(ctx, event(t, platform.EventVoiceStateUpdate, platform.VoiceState{GuildID: "g1", UserID: "bot", ChannelID: "v2"}))
	if h.sessions.Len(audio.KindTTS) != 1 {
		t.Fatal("session dropped too early")
	}

	h.d.Handle(ctx, event(t, platform.EventVoiceStateUpdate, platform.VoiceState{GuildID: "g1", UserID: "bot"}))
	h.d.Handle(ctx, event(t, platform.EventVoiceStateUpdate, platform.VoiceState{GuildID: "g2", UserID: "bot"}))
	if h.sessions.Len(audio.KindTTS) != 0 || h.sessions.Len(audio.KindAudio) != 0 {
		t.Error("sessions not dropped on disconnect")
	}
}

func TestInteractionRouting(t *testing.T) {
	var got string
	router := RouterFunc(func(ctx context.Context, c *Command) error {
		got = c.Interaction.Data.Name
		if got == "broken" {
			return errors.New("boom")
		}
		c.Reply(ctx, delivery.Success("pong", false))
		return nil
	})
	h := newHarness(t, Config{}, router)
	ctx := context.Background()

	h.d.Handle(ctx, event(t, platform.EventInteractionCreate, platform.Interaction{
		ID: "i1", Token: "t", Type: platform.InteractionApplicationCommand, GuildID: "g1", ChannelID: "c1",
		User: &platform.User{ID: "u1"}, Data: platform.InteractionData{Name: "ping"},
	}))
	if got != "ping" || len(h.rest.responded) != 1 {
		t.Fatalf("router got %q, responses %d", got, len(h.rest.responded))
	}

	h.d.Handle(ctx, event(t, platform.EventInteractionCreate, platform.Interaction{
		ID: "i2", Token: "t", Type: platform.InteractionApplicationCommand, GuildID: "g1", ChannelID: "c1",
		User: &platform.User{ID: "u1"}, Data: platform.InteractionData{Name: "broken"},
	}))
	if len(h.rest.responded) != 2 {
		t.Fatalf("responses = %d, want failure reply", len(h.rest.responded))
	}
	last := h.rest.responded[1].Data
	if last.Flags&platform.MessageFlagEphemeral == 0 || last.Embeds[0].Color != delivery.ColourRed {
		t.Errorf("failure reply = %+v", last)
	}
}

func TestCommandOpensSession(t *testing.T) {
	var openErr error
	router := RouterFunc(func(ctx context.Context, c *Command) error {
		_, openErr = c.OpenSession(audio.KindTTS, "v1")
		if openErr != nil {
			c.Reply(ctx, delivery.Failure(openErr.Error(), true))
			return nil
		}
		c.Reply(ctx, delivery.Success("Joined", true))
		return nil
	})
	h := newHarness(t, Config{}, router)
	h.ready(t)
	ctx := context.Background()

	join := func(id, guildID string) {
		h.d.Handle(ctx, event(t, platform.EventInteractionCreate, platform.Interaction{
			ID: id, Token: "t", Type: platform.InteractionApplicationCommand, GuildID: guildID, ChannelID: "c1",
			User: &platform.User{ID: "u1"}, Data: platform.InteractionData{Name: "tts"},
		}))
	}

	join("i1", "g1")
	if openErr != nil {
		t.Fatalf("OpenSession: %v", openErr)
	}
	s, ok := h.sessions.Get(audio.KindTTS, "g1")
	if !ok || s.TextChannelID != "c1" || s.VoiceChannelID != "v1" {
		t.Fatalf("session = %+v, %v", s, ok)
	}

	join("i2", "g1")
	if !errors.Is(openErr, audio.ErrSessionExists) {
		t.Errorf("second open = %v, want ErrSessionExists", openErr)
	}

	join("i3", "")
	if !errors.Is(openErr, ErrNoGuild) {
		t.Errorf("open outside a guild = %v, want ErrNoGuild", openErr)
	}

	// The bot being disconnected closes what the command opened.
	h.d.Handle(ctx, event(t, platform.EventVoiceStateUpdate, platform.VoiceState{GuildID: "g1", UserID: "bot"}))
	if h.sessions.Len(audio.KindTTS) != 0 {
		t.Error("session survived disconnect")
	}
}

func TestRunInvokesOnReadyAndDrains(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	readyCh := make(chan platform.Ready, 1)
	h.d.OnReady = func(_ context.Context, r platform.Ready) { readyCh <- r }

	events := make(chan platform.Event, 4)
	events <- event(t, platform.EventReady, platform.Ready{User: platform.User{ID: "bot"}})
	events <- event(t, platform.EventGuildCreate, platform.GuildCreate{ID: "g9", Name: "later"})
	close(events)

	h.d.Run(context.Background(), events)

	select {
	case r := <-readyCh:
		if r.User.ID != "bot" {
			t.Errorf("ready user = %+v", r.User)
		}
	default:
		t.Fatal("OnReady not called before Run returned")
	}
	if len(h.engine.populated) != 1 {
		t.Errorf("populate calls = %v", h.engine.populated)
	}
}

func TestSpamTrackerWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	tr := NewSpamTracker(5*time.Second, 2)
	tr.now = func() time.Time { return now }

	if tr.Record("u1") || tr.Record("u1") {
		t.Fatal("flagged within limit")
	}
	if !tr.Record("u1") {
		t.Fatal("third message in window not flagged")
	}

	now = now.Add(6 * time.Second)
	if tr.Record("u1") {
		t.Error("flagged after window passed")
	}

	now = now.Add(10 * time.Second)
	if n := tr.Sweep(); n != 0 {
		t.Errorf("Sweep left %d users", n)
	}
}
