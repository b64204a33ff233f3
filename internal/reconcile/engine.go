// Package reconcile keeps the persisted guild mirror in step with the
// platform.
//
// A pass takes a snapshot of the remote guilds and members, loads the
// persisted state, plans a list of ops with a pure diff and applies them.
// Populate only adds (guilds, users, memberships, admin grants); Purge only
// removes. Re-running either over unchanged state plans nothing.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/alekspetrov/nova/internal/logging"
	"github.com/alekspetrov/nova/internal/platform"
	"github.com/alekspetrov/nova/internal/store"
)

const (
	KindPopulate = "populate"
	KindPurge    = "purge"
)

// Engine runs reconciliation passes. Passes never interleave.
type Engine struct {
	snapshotter *Snapshotter
	repo        store.Repository

	pass sync.Mutex

	mu   sync.Mutex
	last map[string]Result
}

// NewEngine returns an engine reading from p and writing to repo.
func NewEngine(p platform.Platform, repo store.Repository, memberLimit int) *Engine {
	return &Engine{
		snapshotter: NewSnapshotter(p, memberLimit),
		repo:        repo,
		last:        make(map[string]Result),
	}
}

// Populate adds missing guilds, users, memberships and admin grants. With
// guildIDs only those guilds are fetched.
func (e *Engine) Populate(ctx context.Context, guildIDs ...string) (Result, error) {
	e.pass.Lock()
	defer e.pass.Unlock()

	ctx, log, res := e.begin(ctx, KindPopulate)
	log.Info("Populating database", slog.Int("scope", len(guildIDs)))

	snap, err := e.snapshotter.Take(ctx, guildIDs...)
	if err != nil {
		return e.fail(log, res, err)
	}
	st, err := LoadState(ctx, e.repo)
	if err != nil {
		return e.fail(log, res, err)
	}

	return e.finish(ctx, log, res, PlanPopulate(snap, st))
}

// Purge removes guilds, memberships, admin grants and users the platform
// no longer shows. It always works from a full snapshot.
func (e *Engine) Purge(ctx context.Context) (Result, error) {
	e.pass.Lock()
	defer e.pass.Unlock()

	ctx, log, res := e.begin(ctx, KindPurge)
	log.Info("Purging database")

	snap, err := e.snapshotter.Take(ctx)
	if err != nil {
		return e.fail(log, res, err)
	}
	st, err := LoadState(ctx, e.repo)
	if err != nil {
		return e.fail(log, res, err)
	}

	// Stored admins missing from a truncated listing are looked up one by
	// one before deciding.
	for i := range snap.Guilds {
		rg := &snap.Guilds[i]
		pg, ok := st.Guilds[rg.Guild.ID]
		if !ok || !rg.Truncated || rg.Partial {
			continue
		}
		e.snapshotter.Resolve(ctx, rg, sortedKeys(pg.Admins))
	}

	return e.finish(ctx, log, res, PlanPurge(snap, st))
}

// Sync runs Populate then Purge. Purge still runs when Populate fails.
func (e *Engine) Sync(ctx context.Context) error {
	_, perr := e.Populate(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, uerr := e.Purge(ctx)
	return errors.Join(perr, uerr)
}

// Last returns the most recent result of each pass kind.
func (e *Engine) Last() map[string]Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]Result, len(e.last))
	for k, v := range e.last {
		out[k] = v
	}
	return out
}

func (e *Engine) record(res Result) {
	e.mu.Lock()
	e.last[res.Kind] = res
	e.mu.Unlock()
}

// begin tags ctx with a fresh pass id. Loggers derived from the returned
// context carry it.
func (e *Engine) begin(ctx context.Context, kind string) (context.Context, *slog.Logger, Result) {
	id := uuid.NewString()
	ctx = logging.ContextWithPassID(ctx, id)
	log := logging.WithContext(ctx).With(slog.String("component", "reconcile"), slog.String("pass", kind))
	return ctx, log, Result{PassID: id, Kind: kind}
}

func (e *Engine) fail(log *slog.Logger, res Result, err error) (Result, error) {
	err = fmt.Errorf("%s pass: %w", res.Kind, err)
	res.Errors = append(res.Errors, err)
	log.Error("Reconcile pass failed", slog.Any("error", err))
	e.record(res)
	return res, err
}

func (e *Engine) finish(ctx context.Context, log *slog.Logger, res Result, ops []Op) (Result, error) {
	applied := Apply(ctx, e.repo, ops, log)
	applied.PassID, applied.Kind = res.PassID, res.Kind
	e.record(applied)

	log.Info("Reconcile pass complete",
		slog.Int("planned", applied.Planned),
		slog.Int("applied", applied.Applied),
		slog.Int("failed", applied.Failed),
		slog.Duration("took", applied.Duration),
	)
	if applied.Skipped > 0 {
		return applied, fmt.Errorf("%s pass interrupted: %w", res.Kind, ctx.Err())
	}
	return applied, nil
}
