package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alekspetrov/nova/internal/store"
)

// ErrNotMember is returned when an admin grant targets a non-member.
var ErrNotMember = errors.New("user is not a member of the guild")

// Result summarises one applied pass.
type Result struct {
	PassID   string        `json:"pass_id"`
	Kind     string        `json:"kind"`
	Planned  int           `json:"planned"`
	Applied  int           `json:"applied"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
	Errors   []error       `json:"-"`
}

// Apply executes ops in order. A failing op is logged and skipped. A
// cancelled context stops the pass; the rest are counted as skipped.
func Apply(ctx context.Context, repo store.Repository, ops []Op, log *slog.Logger) Result {
	res := Result{Planned: len(ops)}
	start := time.Now()

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			res.Skipped = len(ops) - i
			res.Errors = append(res.Errors, err)
			break
		}

		if err := applyOp(ctx, repo, op); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", op, err))
			log.Error("Reconcile op failed",
				slog.String("op", op.Kind.String()),
				slog.String("guild_id", op.GuildID),
				slog.String("user_id", op.UserID),
				slog.Any("error", err),
			)
			continue
		}
		res.Applied++
		logOp(log, op)
	}

	res.Duration = time.Since(start)
	return res
}

func applyOp(ctx context.Context, repo store.Repository, op Op) error {
	switch op.Kind {
	case OpCreateGuild:
		return repo.CreateGuild(ctx, op.Guild)
	case OpUpdateGuild:
		return repo.UpdateGuild(ctx, op.Guild)
	case OpDeleteGuild:
		return ignoreNotFound(repo.DeleteGuild(ctx, op.GuildID))

	case OpCreateUser:
		return repo.CreateUser(ctx, op.User)
	case OpUpdateUser:
		return repo.UpdateUser(ctx, op.User)
	case OpDeleteUser:
		return ignoreNotFound(repo.DeleteUser(ctx, op.UserID))

	case OpLinkMember:
		return repo.AddLink(ctx, store.SetMembers, op.GuildID, op.UserID)
	case OpUnlinkMember:
		// Admins are a subset of members.
		if err := ignoreNotFound(repo.RemoveLink(ctx, store.SetAdmins, op.GuildID, op.UserID)); err != nil {
			return err
		}
		return ignoreNotFound(repo.RemoveLink(ctx, store.SetMembers, op.GuildID, op.UserID))

	case OpGrantAdmin:
		member, err := repo.LinkExists(ctx, store.SetMembers, op.GuildID, op.UserID)
		if err != nil {
			return err
		}
		if !member {
			return ErrNotMember
		}
		return repo.AddLink(ctx, store.SetAdmins, op.GuildID, op.UserID)
	case OpRevokeAdmin:
		return ignoreNotFound(repo.RemoveLink(ctx, store.SetAdmins, op.GuildID, op.UserID))
	}
	return fmt.Errorf("unknown op kind %d", op.Kind)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func logOp(log *slog.Logger, op Op) {
	switch op.Kind {
	case OpCreateGuild:
		log.Info("Added missing guild", slog.String("guild_id", op.GuildID), slog.String("name", op.Guild.Name))
	case OpCreateUser:
		log.Info("Added missing user", slog.String("user_id", op.UserID), slog.String("name", op.User.UserName))
	case OpDeleteGuild:
		log.Info("Guild no longer exists or bot is no longer in it", slog.String("guild_id", op.GuildID))
	case OpDeleteUser:
		log.Info("User is no longer visible to the bot", slog.String("user_id", op.UserID))
	case OpGrantAdmin, OpRevokeAdmin, OpUnlinkMember:
		log.Info("Membership changed",
			slog.String("op", op.Kind.String()),
			slog.String("guild_id", op.GuildID),
			slog.String("user_id", op.UserID),
		)
	default:
		log.Debug("Applied", slog.String("op", op.String()))
	}
}
