// Package events reacts to gateway dispatches: guild joins and leaves
// trigger reconciliation, new members get the welcome and auto-role
// actions, messages go through the spam filter, and interactions are routed
// to the command layer.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alekspetrov/nova/internal/audio"
	"github.com/alekspetrov/nova/internal/delivery"
	"github.com/alekspetrov/nova/internal/logging"
	"github.com/alekspetrov/nova/internal/platform"
	"github.com/alekspetrov/nova/internal/reconcile"
	"github.com/alekspetrov/nova/internal/store"
)

// REST is the slice of the platform REST client the handlers call.
type REST interface {
	delivery.Transport
	FetchMember(ctx context.Context, guildID, userID string) (*platform.Member, error)
	Channel(ctx context.Context, channelID string) (*platform.Channel, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	AddMemberRole(ctx context.Context, guildID, userID, roleID string) error
}

// Reconciler runs reconciliation passes.
type Reconciler interface {
	Populate(ctx context.Context, guildIDs ...string) (reconcile.Result, error)
	Purge(ctx context.Context) (reconcile.Result, error)
}

// Config holds the dispatcher's feature switches.
type Config struct {
	Debug      bool
	SpamFilter bool
}

// Dispatcher handles gateway events.
type Dispatcher struct {
	cfg       Config
	rest      REST
	repo      store.Repository
	engine    Reconciler
	sessions  *audio.Sessions
	spam      *SpamTracker
	router    CommandRouter
	responder *delivery.Responder
	log       *slog.Logger

	// OnReady runs once per READY in its own goroutine.
	OnReady func(ctx context.Context, r platform.Ready)

	mu     sync.Mutex
	self   platform.User
	known  map[string]bool
	ready  bool
	active sync.WaitGroup
}

// Deps are the dispatcher's collaborators.
type Deps struct {
	REST     REST
	Repo     store.Repository
	Engine   Reconciler
	Sessions *audio.Sessions
	Spam     *SpamTracker
	Router   CommandRouter
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(cfg Config, d Deps) *Dispatcher {
	router := d.Router
	if router == nil {
		router = UnavailableRouter{}
	}
	return &Dispatcher{
		cfg:       cfg,
		rest:      d.REST,
		repo:      d.Repo,
		engine:    d.Engine,
		sessions:  d.Sessions,
		spam:      d.Spam,
		router:    router,
		responder: delivery.NewResponder(d.REST),
		log:       logging.WithComponent("events"),
		known:     make(map[string]bool),
	}
}

// Responder returns the responder used for interaction replies.
func (d *Dispatcher) Responder() *delivery.Responder { return d.responder }

// Self returns the bot user from the last READY.
func (d *Dispatcher) Self() platform.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.self
}

// Run handles events until the channel closes or ctx ends, then waits for
// in-flight handlers.
func (d *Dispatcher) Run(ctx context.Context, events <-chan platform.Event) {
	defer d.active.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == platform.EventReady {
				d.handleReady(ctx, ev)
				continue
			}
			d.active.Add(1)
			go func() {
				defer d.active.Done()
				d.Handle(ctx, ev)
			}()
		}
	}
}

// Handle processes a single event synchronously.
func (d *Dispatcher) Handle(ctx context.Context, ev platform.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Event handler panicked", slog.String("event", ev.Type), slog.Any("panic", r))
		}
	}()

	var err error
	switch ev.Type {
	case platform.EventReady:
		d.handleReady(ctx, ev)
	case platform.EventResumed:
		d.log.Info("Session resumed")
	case platform.EventGuildCreate:
		err = d.onGuildCreate(ctx, ev)
	case platform.EventGuildDelete:
		err = d.onGuildDelete(ctx, ev)
	case platform.EventGuildMemberAdd:
		err = d.onMemberAdd(ctx, ev)
	case platform.EventGuildMemberRemove:
		err = d.onMemberRemove(ev)
	case platform.EventMessageCreate:
		err = d.onMessage(ctx, ev)
	case platform.EventVoiceStateUpdate:
		err = d.onVoiceState(ev)
	case platform.EventInteractionCreate:
		err = d.onInteraction(ctx, ev)
	default:
		return
	}
	if err != nil {
		d.log.Error("Event handling failed", slog.String("event", ev.Type), slog.Any("error", err))
	}
}

func (d *Dispatcher) handleReady(ctx context.Context, ev platform.Event) {
	var r platform.Ready
	if err := ev.Decode(&r); err != nil {
		d.log.Error("Bad READY payload", slog.Any("error", err))
		return
	}

	d.mu.Lock()
	d.self = r.User
	d.ready = true
	for _, g := range r.Guilds {
		d.known[g.ID] = true
	}
	d.mu.Unlock()

	d.log.Info("Session ready", slog.String("user", r.User.Username), slog.Int("guilds", len(r.Guilds)))

	if d.OnReady != nil {
		d.active.Add(1)
		go func() {
			defer d.active.Done()
			d.OnReady(ctx, r)
		}()
	}
}

func (d *Dispatcher) onGuildCreate(ctx context.Context, ev platform.Event) error {
	var g platform.GuildCreate
	if err := ev.Decode(&g); err != nil {
		return err
	}
	if g.Unavailable {
		return nil
	}

	d.mu.Lock()
	joined := d.ready && !d.known[g.ID]
	d.known[g.ID] = true
	d.mu.Unlock()

	if !joined {
		return nil
	}

	d.log.Info("Joined guild", slog.String("guild_id", g.ID), slog.String("name", g.Name))
	_, err := d.engine.Populate(ctx, g.ID)
	return err
}

func (d *Dispatcher) onGuildDelete(ctx context.Context, ev platform.Event) error {
	var g platform.GuildStatus
	if err := ev.Decode(&g); err != nil {
		return err
	}
	// Outages report unavailable; the bot is still in the guild.
	if g.Unavailable {
		d.log.Warn("Guild unavailable", slog.String("guild_id", g.ID))
		return nil
	}

	d.mu.Lock()
	delete(d.known, g.ID)
	d.mu.Unlock()

	d.log.Info("Left guild", slog.String("guild_id", g.ID))
	_, err := d.engine.Purge(ctx)
	return err
}

func (d *Dispatcher) onMemberRemove(ev platform.Event) error {
	var m platform.EventMember
	if err := ev.Decode(&m); err != nil {
		return err
	}
	d.log.Info("Member left",
		slog.String("guild_id", m.GuildID),
		slog.String("user", m.User.DisplayName()),
		slog.String("user_id", m.User.ID),
	)
	return nil
}

func (d *Dispatcher) onVoiceState(ev platform.Event) error {
	var vs platform.VoiceState
	if err := ev.Decode(&vs); err != nil {
		return err
	}

	self := d.Self()
	if self.ID == "" || vs.UserID != self.ID || vs.ChannelID != "" || d.sessions == nil {
		return nil
	}

	kind, ok := d.sessions.DropGuild(vs.GuildID)
	if !ok {
		return nil
	}
	d.log.Warn("Disconnected from voice", slog.String("guild_id", vs.GuildID))
	d.log.Info("Closed a session that was active there", slog.String("guild_id", vs.GuildID), slog.String("kind", kind.String()))
	return nil
}

func (d *Dispatcher) onInteraction(ctx context.Context, ev platform.Event) error {
	var i platform.Interaction
	if err := ev.Decode(&i); err != nil {
		return err
	}

	if i.GuildID != "" {
		ctx = logging.ContextWithGuildID(ctx, i.GuildID)
	}

	start := time.Now()
	author := i.Author()
	err := d.router.Handle(ctx, &Command{Interaction: &i, Responder: d.responder, Sessions: d.sessions})

	attrs := []any{
		slog.String("command", i.Data.Name),
		slog.String("custom_id", i.Data.CustomID),
		slog.String("user", author.Username),
		slog.String("user_id", author.ID),
		slog.String("guild_id", i.GuildID),
		slog.Duration("took", time.Since(start)),
	}
	if err != nil {
		d.log.Error("Command failed", append(attrs, slog.Any("error", err))...)
		d.responder.Deliver(ctx, delivery.TargetFromInteraction(&i),
			delivery.Failure("Something went wrong while running this command.", true))
		return nil
	}
	d.log.Info("Command completed", attrs...)
	return nil
}
