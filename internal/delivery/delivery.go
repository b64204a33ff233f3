// Package delivery sends a single logical reply through a fixed order of
// tiers: the interaction reply, the followup webhook, and finally a plain
// message in the originating channel.
//
// A tier that fails because the interaction was already acknowledged or
// has expired hands over to the next tier. Any other failure ends the
// delivery. Deliver never returns an error; callers that care inspect the
// Receipt.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alekspetrov/nova/internal/logging"
	"github.com/alekspetrov/nova/internal/platform"
)

// Tier is one delivery channel in the fallback order.
type Tier int

const (
	TierPrimary Tier = iota
	TierFollowup
	TierChannel
)

func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierFollowup:
		return "followup"
	case TierChannel:
		return "channel"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Outcome is a strategy's verdict on one attempt.
type Outcome int

const (
	Delivered Outcome = iota
	Escalate
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Escalate:
		return "escalate"
	default:
		return "failed"
	}
}

var (
	// ErrUnsupportedChannel is reported for category and forum channels.
	ErrUnsupportedChannel = errors.New("delivery: channel cannot hold messages")
	// ErrNoInteraction is reported by interaction tiers for plain targets.
	ErrNoInteraction = errors.New("delivery: target has no interaction")
	// ErrExhausted is reported when every tier escalated.
	ErrExhausted = errors.New("delivery: all tiers failed")
)

// Transport is the slice of the platform REST API delivery needs.
type Transport interface {
	RespondInteraction(ctx context.Context, interactionID, token string, resp platform.InteractionResponse) error
	Followup(ctx context.Context, applicationID, token string, msg platform.MessageSend) (*platform.Message, error)
	Send(ctx context.Context, channelID string, msg platform.MessageSend) (*platform.Message, error)
}

// Target is where a reply goes.
type Target struct {
	Interaction *platform.Interaction // nil for plain channel messages

	GuildID     string // empty in DMs
	ChannelID   string
	ChannelName string
	ChannelType platform.ChannelType
	Author      platform.User
}

// TargetFromInteraction builds a Target for replying to i.
func TargetFromInteraction(i *platform.Interaction) Target {
	t := Target{
		Interaction: i,
		GuildID:     i.GuildID,
		ChannelID:   i.ChannelID,
		Author:      i.Author(),
	}
	if i.Channel != nil {
		t.ChannelName = i.Channel.Name
		t.ChannelType = i.Channel.Type
		if t.ChannelID == "" {
			t.ChannelID = i.Channel.ID
		}
	} else if i.GuildID == "" {
		t.ChannelType = platform.ChannelDM
	}
	return t
}

// Reply is one logical response.
type Reply struct {
	Content    string
	Embeds     []platform.Embed
	Components []platform.Component
	Ephemeral  bool
}

func (r Reply) message(ephemeral bool) platform.MessageSend {
	msg := platform.MessageSend{Content: r.Content, Embeds: r.Embeds, Components: r.Components}
	if ephemeral {
		msg.Flags = platform.MessageFlagEphemeral
	}
	return msg
}

func (r Reply) kind() string {
	switch {
	case len(r.Embeds) > 0 && len(r.Components) > 0:
		return "Embed+Components"
	case len(r.Embeds) > 0:
		return "Embed"
	case len(r.Components) > 0:
		return "Components"
	default:
		return "Text"
	}
}

func (r Reply) summary() string {
	text := r.Content
	if len(r.Embeds) > 0 {
		if d := r.Embeds[0].Description; d != "" {
			text = d
		} else if r.Embeds[0].Title != "" {
			text = r.Embeds[0].Title
		}
	}
	if text == "" {
		return "[No content]"
	}
	if runes := []rune(text); len(runes) > 100 {
		return string(runes[:100]) + "…"
	}
	return text
}

// Receipt reports what Deliver did.
type Receipt struct {
	Tier      Tier
	Attempts  []Tier
	Message   *platform.Message
	Delivered bool
	Err       error
}

// Option adjusts a single delivery.
type Option func(*options)

type options struct {
	start  Tier
	silent bool
}

// WithTier starts the delivery at tier t instead of the primary tier.
func WithTier(t Tier) Option {
	return func(o *options) { o.start = t }
}

// Silent suppresses the success log line.
func Silent() Option {
	return func(o *options) { o.silent = true }
}

// Responder delivers replies through an ordered list of strategies.
type Responder struct {
	strategies []Strategy
	log        *slog.Logger
}

// NewResponder returns a Responder with the standard tier order.
func NewResponder(t Transport) *Responder {
	return NewResponderWithStrategies(
		primaryStrategy{t},
		followupStrategy{t},
		channelStrategy{t},
	)
}

// NewResponderWithStrategies returns a Responder trying strategies in order.
func NewResponderWithStrategies(strategies ...Strategy) *Responder {
	return &Responder{strategies: strategies, log: logging.WithComponent("responder")}
}

// Deliver attempts each tier at most once, starting at the hinted tier.
func (r *Responder) Deliver(ctx context.Context, target Target, reply Reply, opts ...Option) Receipt {
	o := options{start: TierPrimary}
	for _, opt := range opts {
		opt(&o)
	}

	var rc Receipt
	for _, s := range r.strategies {
		if s.Tier() < o.start {
			continue
		}

		rc.Attempts = append(rc.Attempts, s.Tier())
		rc.Tier = s.Tier()

		outcome, msg, err := s.Attempt(ctx, target, reply)
		switch outcome {
		case Delivered:
			rc.Delivered = true
			rc.Message = msg
			rc.Err = nil
			if !o.silent {
				r.logDelivered(target, reply, s.Tier())
			}
			return rc

		case Escalate:
			rc.Err = err
			if errors.Is(err, ErrNoInteraction) {
				continue
			}
			r.log.Warn("Delivery tier unavailable, escalating",
				slog.String("tier", s.Tier().String()),
				slog.Any("error", err),
			)
			continue

		default:
			rc.Err = err
			r.logFailure(target, s.Tier(), err)
			return rc
		}
	}

	if rc.Err == nil {
		rc.Err = ErrExhausted
	} else {
		rc.Err = fmt.Errorf("%w: %w", ErrExhausted, rc.Err)
	}
	r.log.Error("Failed to send response, all tiers failed",
		slog.String("channel_id", target.ChannelID),
		slog.String("author_id", target.Author.ID),
		slog.Any("error", rc.Err),
	)
	return rc
}

func (r *Responder) logDelivered(target Target, reply Reply, tier Tier) {
	attrs := []any{
		slog.String("tier", tier.String()),
		slog.String("type", reply.kind()),
		slog.String("author", target.Author.Username),
		slog.String("author_id", target.Author.ID),
		slog.String("msg", reply.summary()),
	}
	if target.GuildID == "" || target.ChannelType == platform.ChannelDM {
		attrs = append(attrs, slog.String("destination", "DMs"))
	} else {
		attrs = append(attrs,
			slog.String("guild_id", target.GuildID),
			slog.String("channel", target.ChannelName),
			slog.String("channel_id", target.ChannelID),
		)
	}
	r.log.Info("Response sent", attrs...)
}

func (r *Responder) logFailure(target Target, tier Tier, err error) {
	attrs := []any{
		slog.String("tier", tier.String()),
		slog.String("channel_id", target.ChannelID),
		slog.Any("error", err),
	}
	if apiErr, ok := platform.AsAPIError(err); ok {
		attrs = append(attrs,
			slog.Int("http_status", apiErr.Status),
			slog.Int("code", apiErr.Code),
			slog.String("text", apiErr.Message),
		)
	}
	if errors.Is(err, ErrUnsupportedChannel) {
		attrs = append(attrs, slog.String("channel_type", target.ChannelType.String()))
	}
	r.log.Error("Delivery failed", attrs...)
}

// classify maps a transport error onto an Outcome.
func classify(err error) Outcome {
	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, platform.ErrAlreadyResponded), errors.Is(err, platform.ErrNotFound):
		return Escalate
	default:
		return Failed
	}
}
