package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alekspetrov/nova/internal/logging"
	"github.com/alekspetrov/nova/internal/platform"
)

// RemoteGuild is one guild as the platform reports it.
type RemoteGuild struct {
	Guild   platform.Guild
	Members []platform.Member

	// Partial is set when the member list could not be fetched. Its
	// membership must not be touched.
	Partial bool
	// Truncated is set when the listing hit the fetch limit.
	Truncated bool
	// Resolved holds individual lookups for users missing from a
	// truncated listing. A nil value means the user is confirmed gone.
	Resolved map[string]*platform.Member
}

// Member finds a member by id in the listing or the resolved lookups.
func (g *RemoteGuild) Member(userID string) (m *platform.Member, known bool) {
	for i := range g.Members {
		if g.Members[i].ID == userID {
			return &g.Members[i], true
		}
	}
	if r, ok := g.Resolved[userID]; ok {
		return r, true
	}
	// A complete listing proves absence.
	return nil, !g.Truncated && !g.Partial
}

// Snapshot is the remote state at one point in time.
type Snapshot struct {
	Guilds []RemoteGuild
	Taken  time.Time
	// Scoped is set when only some guilds were fetched.
	Scoped bool
}

// GuildIDs returns the set of guild ids in the snapshot.
func (s *Snapshot) GuildIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.Guilds))
	for _, g := range s.Guilds {
		ids[g.Guild.ID] = struct{}{}
	}
	return ids
}

// UserIDs returns every user visible in any guild.
func (s *Snapshot) UserIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, g := range s.Guilds {
		for _, m := range g.Members {
			ids[m.ID] = struct{}{}
		}
		for id, m := range g.Resolved {
			if m != nil {
				ids[id] = struct{}{}
			}
		}
	}
	return ids
}

// Complete reports whether the user set is authoritative: every guild was
// fetched and fully listed.
func (s *Snapshot) Complete() bool {
	if s.Scoped {
		return false
	}
	for _, g := range s.Guilds {
		if g.Partial || g.Truncated {
			return false
		}
	}
	return true
}

// Snapshotter reads the remote state.
type Snapshotter struct {
	platform    platform.Platform
	memberLimit int
	log         *slog.Logger
}

// NewSnapshotter fetches up to memberLimit members per guild (0 = all).
func NewSnapshotter(p platform.Platform, memberLimit int) *Snapshotter {
	return &Snapshotter{platform: p, memberLimit: memberLimit, log: logging.WithComponent("reconcile")}
}

// Take fetches every guild, or only guildIDs when given, with members.
// Failing to list guilds fails the snapshot; failing to list a guild's
// members marks that guild partial.
func (s *Snapshotter) Take(ctx context.Context, guildIDs ...string) (*Snapshot, error) {
	snap := &Snapshot{Taken: time.Now(), Scoped: len(guildIDs) > 0}

	var guilds []platform.Guild
	if len(guildIDs) == 0 {
		list, err := s.platform.FetchGuilds(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch guilds: %w", err)
		}
		guilds = list
	} else {
		for _, id := range guildIDs {
			g, err := s.platform.FetchGuild(ctx, id)
			if errors.Is(err, platform.ErrNotFound) {
				s.log.Info("Guild no longer visible", slog.String("guild_id", id))
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("fetch guild %s: %w", id, err)
			}
			guilds = append(guilds, *g)
		}
	}

	for _, g := range guilds {
		rg := RemoteGuild{Guild: g}

		// Guild listings omit the owner; the admin predicate needs it.
		if rg.Guild.OwnerID == "" {
			full, err := s.platform.FetchGuild(ctx, g.ID)
			if err != nil {
				s.log.Warn("Failed to fetch guild details, membership left untouched",
					slog.String("guild_id", g.ID), slog.Any("error", err))
				rg.Partial = true
				snap.Guilds = append(snap.Guilds, rg)
				continue
			}
			rg.Guild.OwnerID = full.OwnerID
		}

		members, err := s.platform.FetchMembers(ctx, g.ID, s.memberLimit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("Failed to fetch members, membership left untouched",
				slog.String("guild_id", g.ID), slog.Any("error", err))
			rg.Partial = true
		} else {
			rg.Members = members
			rg.Truncated = s.memberLimit > 0 && len(members) >= s.memberLimit
		}
		snap.Guilds = append(snap.Guilds, rg)
	}

	return snap, nil
}

// Resolve looks up the given users individually in a truncated guild. Users
// the platform reports as gone are recorded as nil; lookups that fail for
// other reasons stay unresolved.
func (s *Snapshotter) Resolve(ctx context.Context, g *RemoteGuild, userIDs []string) {
	for _, id := range userIDs {
		if _, known := g.Member(id); known {
			continue
		}
		m, err := s.platform.FetchMember(ctx, g.Guild.ID, id)
		switch {
		case err == nil:
			if g.Resolved == nil {
				g.Resolved = make(map[string]*platform.Member)
			}
			g.Resolved[id] = m
		case errors.Is(err, platform.ErrNotFound):
			if g.Resolved == nil {
				g.Resolved = make(map[string]*platform.Member)
			}
			g.Resolved[id] = nil
		default:
			s.log.Warn("Failed to look up member",
				slog.String("guild_id", g.Guild.ID),
				slog.String("user_id", id),
				slog.Any("error", err),
			)
		}
	}
}
