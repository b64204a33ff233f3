// Package scheduler runs named periodic background tasks on a cron engine.
//
// Tasks are resolved by name through a Registry when Start runs. Start and
// Stop are idempotent per task. CancelAll is terminal: it removes every
// registered task, configured or not, and stops the engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alekspetrov/nova/internal/logging"
)

// ErrCancelled is returned by Start after CancelAll.
var ErrCancelled = errors.New("scheduler: cancelled")

// State is a task's run state.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// TaskStatus reports one task for status endpoints.
type TaskStatus struct {
	Name      string        `json:"name"`
	State     string        `json:"state"`
	Interval  time.Duration `json:"interval"`
	Runs      int           `json:"runs"`
	LastRun   time.Time     `json:"last_run,omitzero"`
	NextRun   time.Time     `json:"next_run,omitzero"`
	LastError string        `json:"last_error,omitempty"`
}

type entry struct {
	id       cron.EntryID
	interval time.Duration
	runs     int
	lastRun  time.Time
	lastErr  error
}

// Scheduler starts and stops the configured tasks.
type Scheduler struct {
	registry   *Registry
	configured []string
	cron       *cron.Cron
	log        *slog.Logger

	mu        sync.Mutex
	entries   map[string]*entry
	stats     map[string]*entry // survives Stop for status reporting
	engineOn  bool
	cancelled bool
}

// New returns a scheduler for the configured task names.
func New(registry *Registry, configured []string) *Scheduler {
	log := logging.WithComponent("scheduler")
	cl := cronLogger{log}
	return &Scheduler{
		registry:   registry,
		configured: append([]string(nil), configured...),
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		entries: make(map[string]*entry),
		stats:   make(map[string]*entry),
	}
}

// Start schedules every configured task that is not already running.
// Unknown names and failing factories are logged and skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return ErrCancelled
	}

	for _, name := range s.configured {
		if err := s.startLocked(ctx, name); err != nil && !errors.Is(err, errAlreadyRunning) {
			s.log.Error("Skipping task", slog.String("task", name), slog.Any("error", err))
		}
	}

	if !s.engineOn {
		s.cron.Start()
		s.engineOn = true
	}
	return nil
}

// StartTask schedules a single registered task, configured or not.
func (s *Scheduler) StartTask(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return ErrCancelled
	}
	if err := s.startLocked(ctx, name); err != nil && !errors.Is(err, errAlreadyRunning) {
		return err
	}
	if !s.engineOn {
		s.cron.Start()
		s.engineOn = true
	}
	return nil
}

var errAlreadyRunning = errors.New("already running")

func (s *Scheduler) startLocked(ctx context.Context, name string) error {
	if _, ok := s.entries[name]; ok {
		s.log.Info("Task already running", slog.String("task", name))
		return errAlreadyRunning
	}

	factory, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}

	task, err := factory()
	if err != nil {
		return fmt.Errorf("build task %q: %w", name, err)
	}
	if task.Interval <= 0 || task.Run == nil {
		return fmt.Errorf("task %q: invalid interval %s", name, task.Interval)
	}

	e := &entry{interval: task.Interval}
	if prev, ok := s.stats[name]; ok {
		e.runs, e.lastRun, e.lastErr = prev.runs, prev.lastRun, prev.lastErr
	}
	e.id = s.cron.Schedule(cron.Every(task.Interval), cron.FuncJob(s.wrap(ctx, name, task.Run)))
	s.entries[name] = e
	s.stats[name] = e

	s.log.Info("Task started", slog.String("task", name), slog.Duration("interval", task.Interval))
	return nil
}

// Stop unschedules the configured tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(s.configured)
}

func (s *Scheduler) stopLocked(names []string) {
	for _, name := range names {
		e, ok := s.entries[name]
		if !ok {
			s.log.Info("Task not running", slog.String("task", name))
			continue
		}
		s.remove(name, e.id)
		delete(s.entries, name)
		s.log.Info("Task stopped", slog.String("task", name))
	}
}

func (s *Scheduler) remove(name string, id cron.EntryID) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Failed to remove task", slog.String("task", name), slog.Any("panic", r))
		}
	}()
	s.cron.Remove(id)
}

// CancelAll stops every task, including registered tasks that were never
// configured, then stops the engine and waits for running jobs. Later
// Start calls return ErrCancelled.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true

	s.stopLocked(s.configured)
	for _, name := range s.registry.Names() {
		if e, ok := s.entries[name]; ok {
			s.remove(name, e.id)
			delete(s.entries, name)
		}
	}
	s.mu.Unlock()

	done := s.cron.Stop()
	<-done.Done()
	s.log.Info("All tasks cancelled")
}

// State reports whether name is scheduled.
func (s *Scheduler) State(name string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return Running
	}
	return Stopped
}

// Running returns the names of scheduled tasks.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, name := range s.registry.Names() {
		if _, ok := s.entries[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Status returns one row per registered task.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []TaskStatus
	for _, name := range s.registry.Names() {
		st := TaskStatus{Name: name, State: Stopped.String()}
		if e, ok := s.stats[name]; ok {
			st.Interval = e.interval
			st.Runs = e.runs
			st.LastRun = e.lastRun
			if e.lastErr != nil {
				st.LastError = e.lastErr.Error()
			}
		}
		if e, ok := s.entries[name]; ok {
			st.State = Running.String()
			st.NextRun = s.cron.Entry(e.id).Next
		}
		out = append(out, st)
	}
	return out
}

// RunNow runs a registered task once, synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	factory, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	task, err := factory()
	if err != nil {
		return fmt.Errorf("build task %q: %w", name, err)
	}
	err = task.Run(ctx)
	s.record(name, err)
	return err
}

func (s *Scheduler) wrap(ctx context.Context, name string, job Job) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		err := job(ctx)
		s.record(name, err)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("Task failed", slog.String("task", name), slog.Any("error", err))
			return
		}
		s.log.Debug("Task completed", slog.String("task", name), slog.Duration("took", time.Since(start)))
	}
}

func (s *Scheduler) record(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.stats[name]
	if !ok {
		e = &entry{}
		s.stats[name] = e
	}
	e.runs++
	e.lastRun = time.Now()
	e.lastErr = err
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
