package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/alekspetrov/nova/internal/config"
	"github.com/alekspetrov/nova/internal/platform"
	"github.com/alekspetrov/nova/internal/scheduler"
)

func (r *Runtime) registerTasks(reg *scheduler.Registry) error {
	tasks := map[string]scheduler.Factory{
		config.TaskStatusLoop:      r.statusLoop,
		config.TaskSpamFilterSweep: r.spamFilterSweep,
		config.TaskDatabaseSync:    r.databaseSync,
	}
	for _, name := range config.KnownTasks {
		if err := reg.Register(name, tasks[name]); err != nil {
			return err
		}
	}
	return nil
}

// statusLoop rotates the bot's presence through the configured messages.
func (r *Runtime) statusLoop() (scheduler.Task, error) {
	sc := r.cfg.Status
	if sc == nil || sc.Interval <= 0 {
		return scheduler.Task{}, fmt.Errorf("status interval not configured")
	}
	if len(sc.Messages) == 0 && !r.cfg.Debug {
		return scheduler.Task{}, fmt.Errorf("no status messages configured")
	}

	return scheduler.Task{
		Interval: sc.Interval,
		Run: func(ctx context.Context) error {
			p := r.nextPresence()
			if err := r.session.UpdatePresence(ctx, p); err != nil {
				return fmt.Errorf("update presence: %w", err)
			}
			if sc.Log {
				r.log.Info("Status changed", slog.String("status", p.Status), slog.String("text", p.Text))
			}
			return nil
		},
	}, nil
}

func (r *Runtime) nextPresence() platform.Presence {
	sc := r.cfg.Status
	if r.cfg.Debug {
		return platform.Presence{Status: platform.StatusDND, Text: sc.Maintenance}
	}
	return platform.Presence{
		Status: platform.StatusOnline,
		Text:   sc.Messages[rand.IntN(len(sc.Messages))],
	}
}

func (r *Runtime) spamFilterSweep() (scheduler.Task, error) {
	sf := r.cfg.SpamFilter
	if sf == nil || sf.TimeWindow <= 0 {
		return scheduler.Task{}, fmt.Errorf("spam filter time window not configured")
	}
	return scheduler.Task{
		Interval: sf.TimeWindow,
		Run: func(context.Context) error {
			if n := r.spam.Sweep(); n > 0 {
				r.log.Debug("Spam tracker swept", slog.Int("tracked", n))
			}
			return nil
		},
	}, nil
}

func (r *Runtime) databaseSync() (scheduler.Task, error) {
	db := r.cfg.Database
	if db == nil || db.SyncInterval <= 0 {
		return scheduler.Task{}, fmt.Errorf("database sync interval not configured")
	}
	return scheduler.Task{
		Interval: db.SyncInterval,
		Run:      r.engine.Sync,
	}, nil
}
