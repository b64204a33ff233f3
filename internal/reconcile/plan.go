package reconcile

import (
	"fmt"
	"sort"

	"github.com/alekspetrov/nova/internal/platform"
	"github.com/alekspetrov/nova/internal/store"
)

// OpKind is the kind of a single store mutation.
type OpKind int

const (
	OpCreateGuild OpKind = iota
	OpUpdateGuild
	OpDeleteGuild
	OpCreateUser
	OpUpdateUser
	OpDeleteUser
	OpLinkMember
	OpUnlinkMember
	OpGrantAdmin
	OpRevokeAdmin
)

var opNames = [...]string{
	OpCreateGuild:  "create_guild",
	OpUpdateGuild:  "update_guild",
	OpDeleteGuild:  "delete_guild",
	OpCreateUser:   "create_user",
	OpUpdateUser:   "update_user",
	OpDeleteUser:   "delete_user",
	OpLinkMember:   "link_member",
	OpUnlinkMember: "unlink_member",
	OpGrantAdmin:   "grant_admin",
	OpRevokeAdmin:  "revoke_admin",
}

func (k OpKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// Op is one planned mutation.
type Op struct {
	Kind    OpKind
	GuildID string
	UserID  string
	Guild   *store.Guild // create/update guild
	User    *store.User  // create/update user
}

func (o Op) String() string {
	switch {
	case o.GuildID != "" && o.UserID != "":
		return fmt.Sprintf("%s guild=%s user=%s", o.Kind, o.GuildID, o.UserID)
	case o.GuildID != "":
		return fmt.Sprintf("%s guild=%s", o.Kind, o.GuildID)
	default:
		return fmt.Sprintf("%s user=%s", o.Kind, o.UserID)
	}
}

// IsAdmin reports whether m administers a guild owned by ownerID.
func IsAdmin(m platform.Member, ownerID string) bool {
	return m.Permissions.Has(platform.PermAdministrator) ||
		m.Permissions.Has(platform.PermManageGuild) ||
		(ownerID != "" && m.ID == ownerID)
}

func guildRecord(g platform.Guild) *store.Guild {
	return &store.Guild{ID: g.ID, Name: g.Name, IconURL: g.IconURL}
}

func userRecord(m platform.Member) *store.User {
	return &store.User{ID: m.ID, UserName: m.Username, GlobalName: m.GlobalName, AvatarURL: m.AvatarURL}
}

func userChanged(u store.User, m platform.Member) bool {
	return u.UserName != m.Username || u.GlobalName != m.GlobalName || u.AvatarURL != m.AvatarURL
}

// PlanPopulate returns the ops that bring every snapshot guild, member and
// admin into the store. It never removes anything.
func PlanPopulate(snap *Snapshot, st *State) []Op {
	var ops []Op
	seenUsers := make(map[string]bool)

	for i := range snap.Guilds {
		rg := &snap.Guilds[i]
		g := rg.Guild

		pg, exists := st.Guilds[g.ID]
		switch {
		case !exists:
			ops = append(ops, Op{Kind: OpCreateGuild, GuildID: g.ID, Guild: guildRecord(g)})
		case pg.Name != g.Name || pg.IconURL != g.IconURL:
			ops = append(ops, Op{Kind: OpUpdateGuild, GuildID: g.ID, Guild: guildRecord(g)})
		}

		if rg.Partial {
			continue
		}

		for _, m := range rg.Members {
			if !seenUsers[m.ID] {
				seenUsers[m.ID] = true
				if u, ok := st.Users[m.ID]; !ok {
					ops = append(ops, Op{Kind: OpCreateUser, UserID: m.ID, User: userRecord(m)})
				} else if userChanged(u, m) {
					ops = append(ops, Op{Kind: OpUpdateUser, UserID: m.ID, User: userRecord(m)})
				}
			}

			linked := exists && pg.Members[m.ID]
			if !linked {
				ops = append(ops, Op{Kind: OpLinkMember, GuildID: g.ID, UserID: m.ID})
			}

			isAdmin := exists && pg.Admins[m.ID]
			if IsAdmin(m, g.OwnerID) && !isAdmin {
				ops = append(ops, Op{Kind: OpGrantAdmin, GuildID: g.ID, UserID: m.ID})
			}
		}
	}
	return ops
}

// PlanPurge returns the ops that remove guilds, memberships, admin rights
// and users the snapshot no longer shows. It never adds anything.
func PlanPurge(snap *Snapshot, st *State) []Op {
	var ops []Op

	live := make(map[string]*RemoteGuild, len(snap.Guilds))
	for i := range snap.Guilds {
		live[snap.Guilds[i].Guild.ID] = &snap.Guilds[i]
	}

	guildIDs := make([]string, 0, len(st.Guilds))
	for id := range st.Guilds {
		guildIDs = append(guildIDs, id)
	}
	sort.Strings(guildIDs)

	if !snap.Scoped {
		for _, id := range guildIDs {
			if _, ok := live[id]; !ok {
				ops = append(ops, Op{Kind: OpDeleteGuild, GuildID: id})
			}
		}
	}

	for _, id := range guildIDs {
		rg, ok := live[id]
		if !ok || rg.Partial {
			continue
		}
		ops = append(ops, planGuildPurge(rg, st.Guilds[id])...)
	}

	if snap.Complete() {
		liveUsers := snap.UserIDs()
		userIDs := make([]string, 0, len(st.Users))
		for id := range st.Users {
			if _, ok := liveUsers[id]; !ok {
				userIDs = append(userIDs, id)
			}
		}
		sort.Strings(userIDs)
		for _, id := range userIDs {
			ops = append(ops, Op{Kind: OpDeleteUser, UserID: id})
		}
	}
	return ops
}

func planGuildPurge(rg *RemoteGuild, pg *PersistedGuild) []Op {
	var ops []Op
	revoked := make(map[string]bool)

	for _, uid := range sortedKeys(pg.Admins) {
		m, known := rg.Member(uid)
		if !known {
			continue
		}
		if m == nil || !IsAdmin(*m, rg.Guild.OwnerID) {
			ops = append(ops, Op{Kind: OpRevokeAdmin, GuildID: pg.ID, UserID: uid})
			revoked[uid] = true
		}
	}

	for _, uid := range sortedKeys(pg.Members) {
		m, known := rg.Member(uid)
		if !known || m != nil {
			continue
		}
		if pg.Admins[uid] && !revoked[uid] {
			ops = append(ops, Op{Kind: OpRevokeAdmin, GuildID: pg.ID, UserID: uid})
		}
		ops = append(ops, Op{Kind: OpUnlinkMember, GuildID: pg.ID, UserID: uid})
	}
	return ops
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
