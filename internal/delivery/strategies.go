package delivery

import (
	"context"

	"github.com/alekspetrov/nova/internal/platform"
)

// Strategy is one tier of the delivery order.
type Strategy interface {
	Tier() Tier
	Attempt(ctx context.Context, target Target, reply Reply) (Outcome, *platform.Message, error)
}

// primaryStrategy answers the interaction directly.
type primaryStrategy struct{ t Transport }

func (primaryStrategy) Tier() Tier { return TierPrimary }

func (s primaryStrategy) Attempt(ctx context.Context, target Target, reply Reply) (Outcome, *platform.Message, error) {
	i := target.Interaction
	if i == nil {
		return Escalate, nil, ErrNoInteraction
	}

	msg := reply.message(reply.Ephemeral)
	err := s.t.RespondInteraction(ctx, i.ID, i.Token, platform.InteractionResponse{
		Type: platform.CallbackChannelMessage,
		Data: &msg,
	})
	return classify(err), nil, err
}

// followupStrategy posts through the interaction's webhook, which stays
// valid after a deferred or earlier reply.
type followupStrategy struct{ t Transport }

func (followupStrategy) Tier() Tier { return TierFollowup }

func (s followupStrategy) Attempt(ctx context.Context, target Target, reply Reply) (Outcome, *platform.Message, error) {
	i := target.Interaction
	if i == nil {
		return Escalate, nil, ErrNoInteraction
	}

	m, err := s.t.Followup(ctx, i.ApplicationID, i.Token, reply.message(reply.Ephemeral))
	return classify(err), m, err
}

// channelStrategy posts a plain message. Channel messages cannot be
// ephemeral, so the flag is dropped.
type channelStrategy struct{ t Transport }

func (channelStrategy) Tier() Tier { return TierChannel }

func (s channelStrategy) Attempt(ctx context.Context, target Target, reply Reply) (Outcome, *platform.Message, error) {
	if target.ChannelID == "" || !target.ChannelType.AcceptsMessages() {
		return Failed, nil, ErrUnsupportedChannel
	}

	m, err := s.t.Send(ctx, target.ChannelID, reply.message(false))
	return classify(err), m, err
}
