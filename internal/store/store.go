// Package store persists Nova's mirror of guilds, users and their
// membership sets.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("store: not found")

// LinkSet names a guild→user membership set.
type LinkSet string

const (
	SetMembers   LinkSet = "guild_members"
	SetAdmins    LinkSet = "guild_admins"
	SetBlacklist LinkSet = "guild_blacklist"
)

// Valid reports whether s names a known set.
func (s LinkSet) Valid() bool {
	switch s {
	case SetMembers, SetAdmins, SetBlacklist:
		return true
	}
	return false
}

// Repository is the persistence collaborator used by the reconciler, the
// event handlers and the web host.
type Repository interface {
	GetGuild(ctx context.Context, id string) (*Guild, error)
	// CreateGuild inserts the guild with a default GuildConfig.
	CreateGuild(ctx context.Context, g *Guild) error
	UpdateGuild(ctx context.Context, g *Guild) error
	// DeleteGuild removes the guild with its config, links and warns.
	DeleteGuild(ctx context.Context, id string) error
	ListGuilds(ctx context.Context) ([]Guild, error)

	GetGuildConfig(ctx context.Context, guildID string) (*GuildConfig, error)
	UpdateGuildConfig(ctx context.Context, cfg *GuildConfig) error

	GetUser(ctx context.Context, id string) (*User, error)
	// CreateUser inserts the user with a default UserConfig.
	CreateUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]User, error)

	GetUserConfig(ctx context.Context, userID string) (*UserConfig, error)
	UpdateUserConfig(ctx context.Context, cfg *UserConfig) error

	// AddLink is a no-op when the link already exists.
	AddLink(ctx context.Context, set LinkSet, guildID, userID string) error
	RemoveLink(ctx context.Context, set LinkSet, guildID, userID string) error
	LinkExists(ctx context.Context, set LinkSet, guildID, userID string) (bool, error)
	ListLinks(ctx context.Context, set LinkSet, guildID string) ([]string, error)

	CreateOwner(ctx context.Context, o *Owner) error
	GetOwner(ctx context.Context, userID string) (*Owner, error)
	ListOwners(ctx context.Context) ([]Owner, error)

	CreateWarn(ctx context.Context, w *Warn) error
	ListWarns(ctx context.Context, guildID, userID string) ([]Warn, error)
	CountActiveWarns(ctx context.Context, guildID, userID string) (int, error)

	AddFavourite(ctx context.Context, userID string, f *Favourite) error
	RemoveFavourite(ctx context.Context, userID string, kind FavouriteKind, url string) error
	ListFavourites(ctx context.Context, userID string, kind FavouriteKind) ([]Favourite, error)

	Close() error
}

// Guild is a persisted guild.
type Guild struct {
	ID      string
	Name    string
	IconURL string
}

// Spam filter actions.
const (
	SpamActionDisabled = 0
	SpamActionDelete   = 1
	SpamActionWarn     = 2
)

// Warn limit actions.
const (
	WarnActionDisabled = 0
	WarnActionNotify   = 1
	WarnActionKick     = 2
	WarnActionBan      = 3
)

// Welcome picture modes.
const (
	PictureNone  = 0
	PictureSmall = 1
	PictureLarge = 2
)

// GuildConfig is the per-guild feature configuration.
type GuildConfig struct {
	GuildID string

	AutoRoleActive bool
	AutoRoleID     string
	AutoRoleName   string

	SpamFilterAction        int
	SpamFilterMessage       string
	SpamFilterOriginalState int

	WarnLimit               int
	WarnAction              int
	WarnActionOriginalState int

	Translate     bool
	TranslateLang string

	WelcomeActive      bool
	WelcomeChannelID   string
	WelcomeChannelName string
	WelcomeTitle       string
	WelcomeDescription string
	WelcomeColour      string
	WelcomePicture     int
}

// DefaultGuildConfig returns the config created alongside a new guild.
func DefaultGuildConfig(guildID string) *GuildConfig {
	return &GuildConfig{
		GuildID:       guildID,
		WarnLimit:     6,
		TranslateLang: "en",
		WelcomeColour: "#FFFFFF",
	}
}

// User is a persisted user.
type User struct {
	ID         string
	UserName   string
	GlobalName string
	AvatarURL  string
}

// UserConfig holds per-user privacy preferences.
type UserConfig struct {
	UserID           string
	TranslatePrivate bool
	FactCheckPrivate bool
}

// Owner is a bot owner registered through the bootstrap token.
type Owner struct {
	UserID   string
	UserName string
}

// Warn is a moderation warning issued in a guild.
type Warn struct {
	ID          int64
	GuildID     string
	UserID      string
	ModeratorID string // empty for automatic warns
	Reason      string
	Date        time.Time
	Active      bool
}

// FavouriteKind selects the favourites table.
type FavouriteKind string

const (
	FavouriteTrack    FavouriteKind = "track"
	FavouritePlaylist FavouriteKind = "playlist"
)

// Favourite is a saved track or playlist.
type Favourite struct {
	Kind     FavouriteKind
	Title    string
	URL      string
	Uploader string
	Duration string // tracks only
	Count    int    // playlists only
	Created  time.Time
}
