package events

import (
	"context"
	"errors"

	"github.com/alekspetrov/nova/internal/audio"
	"github.com/alekspetrov/nova/internal/delivery"
	"github.com/alekspetrov/nova/internal/platform"
)

// ErrNoGuild is returned when a guild-only action runs outside a guild.
var ErrNoGuild = errors.New("command was not used in a guild")

// Command is one interaction handed to a router, with the services a
// command may act on.
type Command struct {
	Interaction *platform.Interaction
	Responder   *delivery.Responder
	Sessions    *audio.Sessions
}

// Reply delivers r to wherever the interaction came from.
func (c *Command) Reply(ctx context.Context, r delivery.Reply, opts ...delivery.Option) delivery.Receipt {
	return c.Responder.Deliver(ctx, delivery.TargetFromInteraction(c.Interaction), r, opts...)
}

// OpenSession starts a voice session of kind k in the command's guild.
// Text output goes to the channel the command was used in.
func (c *Command) OpenSession(k audio.Kind, voiceChannelID string) (*audio.Session, error) {
	if c.Interaction.GuildID == "" {
		return nil, ErrNoGuild
	}
	if c.Sessions == nil {
		return nil, errors.New("voice sessions are not available")
	}
	s := &audio.Session{
		Kind:           k,
		GuildID:        c.Interaction.GuildID,
		TextChannelID:  c.Interaction.ChannelID,
		VoiceChannelID: voiceChannelID,
	}
	if err := c.Sessions.Open(s); err != nil {
		return nil, err
	}
	return s, nil
}

// CommandRouter runs slash commands and component clicks. Replies go
// through the command's responder so they degrade across delivery tiers.
type CommandRouter interface {
	Handle(ctx context.Context, c *Command) error
}

// RouterFunc adapts a function to CommandRouter.
type RouterFunc func(ctx context.Context, c *Command) error

func (f RouterFunc) Handle(ctx context.Context, c *Command) error {
	return f(ctx, c)
}

// UnavailableRouter answers every interaction with an ephemeral notice.
type UnavailableRouter struct{}

func (UnavailableRouter) Handle(ctx context.Context, c *Command) error {
	if c.Interaction.Type == platform.InteractionPing {
		return nil
	}
	c.Reply(ctx, delivery.Failure("This command is not available right now.", true))
	return nil
}
