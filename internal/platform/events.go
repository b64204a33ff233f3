package platform

import (
	"encoding/json"
	"fmt"
)

// Dispatch event names consumed by Nova.
const (
	EventReady             = "READY"
	EventResumed           = "RESUMED"
	EventGuildCreate       = "GUILD_CREATE"
	EventGuildDelete       = "GUILD_DELETE"
	EventGuildMemberAdd    = "GUILD_MEMBER_ADD"
	EventGuildMemberRemove = "GUILD_MEMBER_REMOVE"
	EventMessageCreate     = "MESSAGE_CREATE"
	EventVoiceStateUpdate  = "VOICE_STATE_UPDATE"
	EventInteractionCreate = "INTERACTION_CREATE"
)

// Event is one dispatch from the gateway.
type Event struct {
	Type string
	Seq  int
	Data json.RawMessage
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// Ready is the READY payload.
type Ready struct {
	SessionID        string        `json:"session_id"`
	ResumeGatewayURL string        `json:"resume_gateway_url"`
	User             User          `json:"user"`
	Guilds           []GuildStatus `json:"guilds"`
}

// GuildStatus is the GUILD_DELETE payload and the guild stub in READY.
type GuildStatus struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// GuildCreate is the GUILD_CREATE payload.
type GuildCreate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	OwnerID     string `json:"owner_id"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// Guild converts the payload to a Guild.
func (g GuildCreate) Guild() Guild {
	return Guild{ID: g.ID, Name: g.Name, IconURL: iconURL(g.ID, g.Icon), OwnerID: g.OwnerID}
}

// EventMember is a guild member object as sent in events and interactions.
type EventMember struct {
	GuildID     string   `json:"guild_id,omitempty"`
	User        User     `json:"user"`
	Nick        string   `json:"nick,omitempty"`
	Roles       []string `json:"roles"`
	Permissions string   `json:"permissions,omitempty"`
}

// MessageCreate is the MESSAGE_CREATE payload.
type MessageCreate struct {
	Message
	Member *EventMember `json:"member,omitempty"`
}

// VoiceState is the VOICE_STATE_UPDATE payload. ChannelID is empty when
// the user left voice.
type VoiceState struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}
