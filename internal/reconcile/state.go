package reconcile

import (
	"context"
	"fmt"

	"github.com/alekspetrov/nova/internal/store"
)

// PersistedGuild is a stored guild with its membership and admin sets.
type PersistedGuild struct {
	store.Guild
	Members map[string]bool
	Admins  map[string]bool
}

// State is the persisted mirror.
type State struct {
	Guilds map[string]*PersistedGuild
	Users  map[string]store.User
}

// LoadState reads every guild with its links and every user.
func LoadState(ctx context.Context, repo store.Repository) (*State, error) {
	guilds, err := repo.ListGuilds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}

	st := &State{
		Guilds: make(map[string]*PersistedGuild, len(guilds)),
		Users:  make(map[string]store.User),
	}
	for _, g := range guilds {
		pg := &PersistedGuild{Guild: g, Members: map[string]bool{}, Admins: map[string]bool{}}

		members, err := repo.ListLinks(ctx, store.SetMembers, g.ID)
		if err != nil {
			return nil, fmt.Errorf("list members of %s: %w", g.ID, err)
		}
		for _, id := range members {
			pg.Members[id] = true
		}

		admins, err := repo.ListLinks(ctx, store.SetAdmins, g.ID)
		if err != nil {
			return nil, fmt.Errorf("list admins of %s: %w", g.ID, err)
		}
		for _, id := range admins {
			pg.Admins[id] = true
		}

		st.Guilds[g.ID] = pg
	}

	users, err := repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		st.Users[u.ID] = u
	}
	return st, nil
}
