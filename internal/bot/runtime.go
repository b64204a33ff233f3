// Package bot owns the bot's lifecycle: it boots the platform session on
// its own goroutines, runs the startup sequence once the session is ready,
// and tears everything down in a fixed order under a deadline.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/alekspetrov/nova/internal/audio"
	"github.com/alekspetrov/nova/internal/banner"
	"github.com/alekspetrov/nova/internal/config"
	"github.com/alekspetrov/nova/internal/events"
	"github.com/alekspetrov/nova/internal/health"
	"github.com/alekspetrov/nova/internal/logging"
	"github.com/alekspetrov/nova/internal/platform"
	"github.com/alekspetrov/nova/internal/reconcile"
	"github.com/alekspetrov/nova/internal/scheduler"
	"github.com/alekspetrov/nova/internal/store"
)

var (
	// ErrShutdownTimeout is returned by Stop when teardown overran its deadline.
	ErrShutdownTimeout = errors.New("bot: shutdown timed out")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("bot: runtime stopped")
	// ErrAudioUnavailable is the fatal cause recorded when the audio backend
	// could not be reached.
	ErrAudioUnavailable = errors.New("bot: audio backend unavailable")
	// ErrSessionLost is the fatal cause recorded when the platform session
	// ends without Stop being called.
	ErrSessionLost = errors.New("bot: platform session lost")
)

const defaultShutdownTimeout = 20 * time.Second

// Client is the REST side of the platform the runtime needs.
type Client interface {
	platform.Platform
	events.REST
	CurrentUser(ctx context.Context) (*platform.User, error)
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClient replaces the REST client built from config.
func WithClient(c Client) Option {
	return func(r *Runtime) { r.client = c }
}

// WithSession replaces the gateway session built from config.
func WithSession(s platform.Session) Option {
	return func(r *Runtime) { r.session = s }
}

// WithDialer replaces the Lavalink dialer.
func WithDialer(d audio.Dialer) Option {
	return func(r *Runtime) { r.dialer = d }
}

// WithRouter installs the command router.
func WithRouter(cr events.CommandRouter) Option {
	return func(r *Runtime) { r.router = cr }
}

// WithVersion sets the version shown in the boot banner.
func WithVersion(v string) Option {
	return func(r *Runtime) { r.version = v }
}

// WithRetrySleep replaces the connector's wait between attempts.
func WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runtime) { r.retrySleep = sleep }
}

// Runtime is the owned handle for one bot instance.
type Runtime struct {
	cfg     *config.Config
	version string
	log     *slog.Logger

	client     Client
	session    platform.Session
	repo       store.Repository
	dialer     audio.Dialer
	router     events.CommandRouter
	retrySleep func(ctx context.Context, d time.Duration) error

	engine     *reconcile.Engine
	sessions   *audio.Sessions
	spam       *events.SpamTracker
	dispatcher *events.Dispatcher
	registry   *scheduler.Registry
	scheduler  *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	running   bool
	starting  bool
	connected bool
	stopped   bool
	booted    bool
	started   time.Time
	self      platform.User
	connector *audio.Connector
	fatal     error
	loopDone  chan struct{}

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// New wires a runtime around repo. Collaborators not supplied through
// options are built from cfg.
func New(cfg *config.Config, repo store.Repository, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		cfg:     cfg,
		repo:    repo,
		version: "dev",
		log:     logging.WithComponent("bot"),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil {
		r.client = platform.NewRESTClient(platform.RESTConfig{
			Token:     cfg.Discord.Token,
			BaseURL:   cfg.Discord.APIURL,
			RateLimit: cfg.Discord.RateLimit,
			RateBurst: cfg.Discord.RateBurst,
		})
	}
	if r.session == nil {
		intents, err := platform.IntentsFromNames(cfg.Discord.Intents)
		if err != nil {
			return nil, fmt.Errorf("invalid intents: %w", err)
		}
		src, _ := r.client.(platform.GatewayURLSource)
		r.session = platform.NewGateway(platform.GatewayConfig{
			Token:   cfg.Discord.Token,
			Intents: intents,
			Source:  src,
		})
	}

	r.engine = reconcile.NewEngine(r.client, repo, cfg.Discord.MemberLimit)
	r.sessions = audio.NewSessions(r.session)

	spamWindow, spamLimit := 5*time.Second, 5
	spamEnabled := false
	if sf := cfg.SpamFilter; sf != nil {
		spamWindow, spamLimit, spamEnabled = sf.TimeWindow, sf.MaxPerWindow, sf.Enabled
	}
	r.spam = events.NewSpamTracker(spamWindow, spamLimit)

	r.dispatcher = events.NewDispatcher(events.Config{Debug: cfg.Debug, SpamFilter: spamEnabled}, events.Deps{
		REST:     r.client,
		Repo:     repo,
		Engine:   r.engine,
		Sessions: r.sessions,
		Spam:     r.spam,
		Router:   r.router,
	})
	r.dispatcher.OnReady = r.onReady

	r.registry = scheduler.NewRegistry()
	if err := r.registerTasks(r.registry); err != nil {
		return nil, err
	}
	if err := r.registry.Validate(cfg.Tasks); err != nil {
		return nil, err
	}
	r.scheduler = scheduler.New(r.registry, cfg.Tasks)

	return r, nil
}

// Start boots the client on its own goroutines and returns once the token
// has been checked and the session is opening. It is a no-op when the bot
// is disabled, already running or still starting.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	switch {
	case r.stopped:
		r.mu.Unlock()
		return ErrStopped
	case r.cfg.Bot != nil && !r.cfg.Bot.Run:
		r.mu.Unlock()
		r.log.Info("Run flag is off, skipping bot setup")
		return nil
	case r.running, r.starting:
		r.mu.Unlock()
		r.log.Info("Bot is already running, skipping bot setup")
		return nil
	case r.connected:
		r.mu.Unlock()
		r.log.Info("Client already connected, skipping bot setup")
		return nil
	}
	r.starting = true
	r.started = time.Now()
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx, cancel := r.ctx, r.cancel
	r.mu.Unlock()

	// Unlocked: status readers and Stop must not wait on the platform.
	me, err := r.client.CurrentUser(ctx)
	if err != nil {
		cancel()
		r.mu.Lock()
		r.starting = false
		r.mu.Unlock()
		if errors.Is(err, platform.ErrUnauthorized) {
			return fmt.Errorf("invalid bot token: %w", err)
		}
		return fmt.Errorf("token check failed: %w", err)
	}

	report := health.RunChecks(r.cfg)
	for _, c := range report.Dependencies {
		if c.Status == health.StatusWarning || c.Status == health.StatusError {
			r.log.Warn("Startup check", slog.String("check", c.Name), slog.String("message", c.Message), slog.String("fix", c.Fix))
		}
	}
	banner.Print(os.Stdout, banner.Info{
		Version:   r.version,
		User:      me.Username,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS + "/" + runtime.GOARCH,
		Features:  report.Enabled(),
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.starting = false
	if r.stopped {
		cancel()
		return ErrStopped
	}
	r.self = *me
	r.running = true
	r.loopDone = make(chan struct{})
	go r.run(runCtx, r.loopDone)

	r.log.Info("Owner registration token generated; it is valid until the process exits",
		slog.String("token", OwnerToken()))
	return nil
}

func (r *Runtime) run(ctx context.Context, loopDone chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.connected = false
		r.mu.Unlock()
		close(loopDone)
	}()

	if err := r.session.Open(ctx); err != nil {
		if ctx.Err() == nil {
			r.log.Error("Failed to open platform session", slog.Any("error", err))
			r.fail(fmt.Errorf("open session: %w", err))
		}
		return
	}

	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()

	r.dispatcher.Run(ctx, r.session.Events())

	r.mu.Lock()
	stopping := r.stopped
	r.mu.Unlock()
	if ctx.Err() == nil && !stopping {
		r.fail(ErrSessionLost)
	}
}

func (r *Runtime) onReady(ctx context.Context, ready platform.Ready) {
	r.mu.Lock()
	first := !r.booted
	r.booted = true
	r.self = ready.User
	r.mu.Unlock()

	if !first {
		r.log.Info("Session re-established, resyncing")
		if err := r.resync(ctx); err != nil {
			r.log.Error("Resync failed", slog.Any("error", err))
		}
		return
	}

	r.log.Info("Logged in", slog.String("user", ready.User.Username), slog.String("user_id", ready.User.ID))

	if !r.connectAudio(ctx, ready.User.ID) {
		return
	}

	if _, err := r.engine.Populate(ctx); err != nil {
		r.log.Error("Startup populate failed", slog.Any("error", err))
	}
	if _, err := r.engine.Purge(ctx); err != nil {
		r.log.Error("Startup purge failed", slog.Any("error", err))
	}

	if err := r.scheduler.Start(ctx); err != nil {
		r.log.Error("Failed to start background tasks", slog.Any("error", err))
	}

	r.log.Info("Startup complete", slog.Duration("took", time.Since(r.started)))
}

// resync runs the database sync task out of schedule so the run shows up
// in its task status. Without a sync interval the engine is called directly.
func (r *Runtime) resync(ctx context.Context) error {
	if db := r.cfg.Database; db == nil || db.SyncInterval <= 0 {
		return r.engine.Sync(ctx)
	}
	return r.scheduler.RunNow(ctx, config.TaskDatabaseSync)
}

func (r *Runtime) connectAudio(ctx context.Context, userID string) bool {
	dialer := r.dialer
	if dialer == nil {
		lc := r.cfg.Lavalink
		dialer = audio.NewLavalinkDialer(audio.LavalinkConfig{
			Host:       lc.Host,
			Port:       lc.Port,
			Password:   lc.Password,
			Secure:     lc.Secure,
			UserID:     userID,
			ClientName: "nova/" + r.version,
		})
	}

	cc := audio.ConnectorConfig{
		Sleep: r.retrySleep,
		OnExhausted: func(context.Context) {
			r.fail(ErrAudioUnavailable)
		},
	}
	if lc := r.cfg.Lavalink; lc != nil {
		cc.MaxRetries = lc.MaxRetries
		cc.RetryDelay = lc.RetryDelay
	}
	conn := audio.NewConnector(dialer, cc)

	r.mu.Lock()
	r.connector = conn
	r.mu.Unlock()

	return conn.Connect(ctx)
}

// fail records a fatal cause and stops the runtime. It never blocks the
// caller, which may be one of the goroutines Stop waits for.
func (r *Runtime) fail(err error) {
	r.mu.Lock()
	if r.fatal == nil {
		r.fatal = err
	}
	r.mu.Unlock()

	r.log.Error("Fatal error, shutting down", slog.Any("error", err))
	go func() {
		if err := r.Stop(context.Background()); err != nil {
			r.log.Error("Shutdown after fatal error failed", slog.Any("error", err))
		}
	}()
}

// Stop tears the runtime down once. Concurrent and later callers wait for
// the first teardown and get its result.
func (r *Runtime) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()

		r.stopErr = r.teardown(ctx)
		close(r.done)
	})
	<-r.done
	return r.stopErr
}

func (r *Runtime) teardown(parent context.Context) error {
	timeout := defaultShutdownTimeout
	if r.cfg.Bot != nil && r.cfg.Bot.ShutdownTimeout > 0 {
		timeout = r.cfg.Bot.ShutdownTimeout
	}

	r.log.Info("Shutting down", slog.Duration("timeout", timeout))
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
	defer cancel()

	finished := make(chan error, 1)
	go func() { finished <- r.shutdown(ctx) }()

	select {
	case err := <-finished:
		r.cancelRoot()
		r.log.Info("Shutdown complete", slog.Duration("took", time.Since(start)))
		return err
	case <-ctx.Done():
		r.log.Error("Shutdown deadline exceeded, forcing teardown", slog.Duration("timeout", timeout))
		r.cancelRoot()
		return ErrShutdownTimeout
	}
}

func (r *Runtime) cancelRoot() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Runtime) shutdown(ctx context.Context) error {
	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	keep(r.step("close audio sessions", func() error {
		r.sessions.CloseAll(ctx, audio.KindAudio)
		return nil
	}))
	keep(r.step("close tts sessions", func() error {
		r.sessions.CloseAll(ctx, audio.KindTTS)
		return nil
	}))
	keep(r.step("cancel background tasks", func() error {
		r.scheduler.CancelAll()
		return nil
	}))
	keep(r.step("close audio backend", func() error {
		r.mu.Lock()
		conn := r.connector
		r.mu.Unlock()
		if conn == nil {
			return nil
		}
		return conn.Close()
	}))
	keep(r.step("close platform session", func() error {
		r.mu.Lock()
		loopDone := r.loopDone
		r.mu.Unlock()

		err := r.session.Close()
		if loopDone != nil {
			select {
			case <-loopDone:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return err
	}))
	keep(r.step("close platform client", r.client.Close))

	return errors.Join(errs...)
}

// step runs one teardown step, isolating panics. Cancellation errors are
// dropped; anything else is logged and returned.
func (r *Runtime) step(name string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: panic: %v", name, p)
		}
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			err = nil
			return
		}
		r.log.Error("Shutdown step failed", slog.String("step", name), slog.Any("error", err))
	}()
	return fn()
}

// Done is closed once Stop has finished.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Err returns the fatal cause that stopped the runtime, if any.
func (r *Runtime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// Running reports whether the client loop is alive.
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Self returns the logged-in bot user.
func (r *Runtime) Self() platform.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self
}

// Uptime returns the time since Start, or zero before it.
func (r *Runtime) Uptime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started.IsZero() {
		return 0
	}
	return time.Since(r.started)
}

// Scheduler returns the background task scheduler.
func (r *Runtime) Scheduler() *scheduler.Scheduler { return r.scheduler }

// Engine returns the reconciliation engine.
func (r *Runtime) Engine() *reconcile.Engine { return r.engine }

// Sessions returns the voice session registry.
func (r *Runtime) Sessions() *audio.Sessions { return r.sessions }

// Dispatcher returns the gateway event dispatcher.
func (r *Runtime) Dispatcher() *events.Dispatcher { return r.dispatcher }
