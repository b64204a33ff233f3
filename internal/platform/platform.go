// Package platform is Nova's view of the remote chat platform (Discord).
//
// Platform covers the request/response side (guild and member lookups,
// message sends) and Session covers the streaming gateway. Both have one
// production adapter in this package, RESTClient and Gateway.
package platform

import (
	"context"
	"encoding/json"
	"time"
)

// Platform is the request/response side of the remote platform.
type Platform interface {
	// FetchGuilds lists the guilds the bot is in. OwnerID may be empty on
	// the returned summaries; use FetchGuild for the full record.
	FetchGuilds(ctx context.Context) ([]Guild, error)
	FetchGuild(ctx context.Context, guildID string) (*Guild, error)
	// FetchMembers returns up to limit members (0 = all) with aggregated
	// guild permissions.
	FetchMembers(ctx context.Context, guildID string, limit int) ([]Member, error)
	// FetchMember returns ErrNotFound when the user is no longer a member.
	FetchMember(ctx context.Context, guildID, userID string) (*Member, error)
	Send(ctx context.Context, channelID string, msg MessageSend) (*Message, error)
	Close() error
}

// Session is a streaming connection to the platform gateway.
type Session interface {
	Open(ctx context.Context) error
	// Events is closed when the session ends for good.
	Events() <-chan Event
	UpdatePresence(ctx context.Context, p Presence) error
	// UpdateVoiceState joins a voice channel, or leaves when channelID is
	// empty.
	UpdateVoiceState(ctx context.Context, guildID, channelID string) error
	Close() error
}

// Permissions is a bitset of guild permissions.
type Permissions uint64

const (
	PermKickMembers    Permissions = 1 << 1
	PermBanMembers     Permissions = 1 << 2
	PermAdministrator  Permissions = 1 << 3
	PermManageChannels Permissions = 1 << 4
	PermManageGuild    Permissions = 1 << 5
	PermManageMessages Permissions = 1 << 13
	PermManageRoles    Permissions = 1 << 28

	PermAll Permissions = ^Permissions(0)
)

// Has reports whether every bit in want is set.
func (p Permissions) Has(want Permissions) bool {
	return p&want == want
}

// Guild is a remote guild.
type Guild struct {
	ID      string
	Name    string
	IconURL string
	OwnerID string
}

// Member is a remote guild member with aggregated permissions.
type Member struct {
	ID          string
	Username    string
	GlobalName  string
	AvatarURL   string
	Bot         bool
	Permissions Permissions
}

// ChannelType is the platform channel kind.
type ChannelType int

const (
	ChannelText         ChannelType = 0
	ChannelDM           ChannelType = 1
	ChannelVoice        ChannelType = 2
	ChannelGroupDM      ChannelType = 3
	ChannelCategory     ChannelType = 4
	ChannelAnnouncement ChannelType = 5
	ChannelStageVoice   ChannelType = 13
	ChannelForum        ChannelType = 15
	ChannelMedia        ChannelType = 16
)

// AcceptsMessages reports whether a plain message can be posted to the channel.
func (t ChannelType) AcceptsMessages() bool {
	switch t {
	case ChannelCategory, ChannelForum, ChannelMedia:
		return false
	}
	return true
}

func (t ChannelType) String() string {
	switch t {
	case ChannelText:
		return "text"
	case ChannelDM:
		return "dm"
	case ChannelVoice:
		return "voice"
	case ChannelGroupDM:
		return "group_dm"
	case ChannelCategory:
		return "category"
	case ChannelAnnouncement:
		return "announcement"
	case ChannelStageVoice:
		return "stage"
	case ChannelForum:
		return "forum"
	case ChannelMedia:
		return "media"
	}
	return "unknown"
}

// Channel is a platform channel.
type Channel struct {
	ID      string      `json:"id"`
	GuildID string      `json:"guild_id,omitempty"`
	Name    string      `json:"name,omitempty"`
	Type    ChannelType `json:"type"`
}

// User is a platform account.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	Bot        bool   `json:"bot,omitempty"`
	System     bool   `json:"system,omitempty"`
}

// Mention returns the user's mention markup.
func (u User) Mention() string {
	return "<@" + u.ID + ">"
}

// DisplayName returns the global name when set, else the username.
func (u User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// AvatarURL returns the CDN URL of the user's avatar, or "" when unset.
func (u User) AvatarURL() string {
	if u.Avatar == "" {
		return ""
	}
	return cdnURL + "/avatars/" + u.ID + "/" + u.Avatar + ".png"
}

// Embed is a rich message embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Thumbnail   *EmbedImage  `json:"thumbnail,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedImage is an embed thumbnail or image.
type EmbedImage struct {
	URL string `json:"url"`
}

// EmbedFooter represents an embed footer.
type EmbedFooter struct {
	Text string `json:"text,omitempty"`
}

// Component represents an action row.
type Component struct {
	Type       int      `json:"type"` // 1=ACTION_ROW
	Components []Button `json:"components,omitempty"`
}

// Button represents a button in a component.
type Button struct {
	Type     int    `json:"type"`  // 2=BUTTON
	Style    int    `json:"style"` // 1=PRIMARY, 4=DANGER
	Label    string `json:"label"`
	CustomID string `json:"custom_id,omitempty"`
	URL      string `json:"url,omitempty"`
}

// MessageFlagEphemeral marks an interaction reply visible to the invoker only.
const MessageFlagEphemeral = 1 << 6

// MessageSend is an outgoing message body.
type MessageSend struct {
	Content    string      `json:"content,omitempty"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []Component `json:"components,omitempty"`
	Flags      int         `json:"flags,omitempty"`
}

// Message is a posted message.
type Message struct {
	ID         string      `json:"id"`
	ChannelID  string      `json:"channel_id"`
	GuildID    string      `json:"guild_id,omitempty"`
	Author     User        `json:"author"`
	Content    string      `json:"content"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []Component `json:"components,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Interaction types.
const (
	InteractionPing               = 1
	InteractionApplicationCommand = 2
	InteractionMessageComponent   = 3
	InteractionAutocomplete       = 4
	InteractionModalSubmit        = 5
)

// Interaction callback types.
const (
	CallbackChannelMessage         = 4
	CallbackDeferredChannelMessage = 5
	CallbackDeferredUpdateMessage  = 6
)

// Interaction is an inbound slash command or component click.
type Interaction struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Token         string          `json:"token"`
	Type          int             `json:"type"`
	GuildID       string          `json:"guild_id,omitempty"`
	ChannelID     string          `json:"channel_id,omitempty"`
	Channel       *Channel        `json:"channel,omitempty"`
	Member        *EventMember    `json:"member,omitempty"`
	User          *User           `json:"user,omitempty"`
	Locale        string          `json:"locale,omitempty"`
	Data          InteractionData `json:"data"`
}

// Author returns the invoking user in guild or DM context.
func (i *Interaction) Author() User {
	if i.Member != nil {
		return i.Member.User
	}
	if i.User != nil {
		return *i.User
	}
	return User{}
}

// InteractionData contains interaction payload data.
type InteractionData struct {
	Name     string          `json:"name,omitempty"`
	CustomID string          `json:"custom_id,omitempty"`
	Options  json.RawMessage `json:"options,omitempty"`
}

// InteractionResponse is the callback body for an interaction.
type InteractionResponse struct {
	Type int          `json:"type"`
	Data *MessageSend `json:"data,omitempty"`
}

// Presence statuses.
const (
	StatusOnline = "online"
	StatusIdle   = "idle"
	StatusDND    = "dnd"
)

// Presence is the bot's displayed status.
type Presence struct {
	Status string
	Text   string
}
