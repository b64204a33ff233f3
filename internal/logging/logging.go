// Package logging provides structured logging for Nova using Go's slog.
//
// Every subsystem logs through a component logger obtained from
// WithComponent, so a single line can always be traced back to the
// runtime, reconciler, scheduler, responder or connector that emitted it.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

type contextKey string

const (
	guildIDKey contextKey = "guild_id"
	passIDKey  contextKey = "pass_id"
	requestKey contextKey = "request_id"
)

var (
	defaultLogger *slog.Logger
	loggerMu      sync.RWMutex
)

func init() {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Config holds logging configuration.
type Config struct {
	Level    string          `yaml:"level"`    // debug, info, warn, error
	Format   string          `yaml:"format"`   // text, json, pretty
	Output   string          `yaml:"output"`   // stdout, stderr, or file path
	Rotation *RotationConfig `yaml:"rotation"` // only used for file output
}

// RotationConfig holds log rotation settings.
type RotationConfig struct {
	MaxSize    string `yaml:"max_size"`    // e.g. "50MB"
	MaxAge     string `yaml:"max_age"`     // e.g. "14d"
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig returns sensible defaults for logging.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "text",
		Output: "stdout",
	}
}

// Init installs the global logger described by cfg. It also becomes the
// slog default so third-party code using slog lands in the same sink.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	writer, err := getWriter(cfg)
	if err != nil {
		return err
	}

	logger := slog.New(newHandler(cfg.Format, parseLevel(cfg.Level), writer))

	loggerMu.Lock()
	defaultLogger = logger
	loggerMu.Unlock()

	slog.SetDefault(logger)
	return nil
}

func newHandler(format string, level slog.Level, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "pretty":
		pretty := charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			ReportCaller:    level == slog.LevelDebug,
			Level:           charmlog.Level(level),
		})
		return pretty
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// Suppress discards all log output. Used by tests and one-shot commands
// that print their own output.
func Suppress() {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	loggerMu.Lock()
	defaultLogger = discard
	loggerMu.Unlock()

	slog.SetDefault(discard)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getWriter(cfg *Config) (io.Writer, error) {
	switch cfg.Output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return newRotatingWriter(cfg.Output, cfg.Rotation)
	}
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// WithComponent returns a logger tagged with a component attribute.
func WithComponent(component string) *slog.Logger {
	return Logger().With(slog.String("component", component))
}

// WithGuild returns a component logger scoped to a guild.
func WithGuild(component, guildID string) *slog.Logger {
	return WithComponent(component).With(slog.String("guild_id", guildID))
}

// WithContext returns a logger carrying the values stored in ctx.
func WithContext(ctx context.Context) *slog.Logger {
	logger := Logger()

	if v, ok := ctx.Value(guildIDKey).(string); ok {
		logger = logger.With(slog.String("guild_id", v))
	}
	if v, ok := ctx.Value(passIDKey).(string); ok {
		logger = logger.With(slog.String("pass_id", v))
	}
	if v, ok := ctx.Value(requestKey).(string); ok {
		logger = logger.With(slog.String("request_id", v))
	}

	return logger
}

// ContextWithGuildID adds a guild ID to the context.
func ContextWithGuildID(ctx context.Context, guildID string) context.Context {
	return context.WithValue(ctx, guildIDKey, guildID)
}

// ContextWithPassID adds a reconciliation pass ID to the context.
func ContextWithPassID(ctx context.Context, passID string) context.Context {
	return context.WithValue(ctx, passIDKey, passID)
}

// ContextWithRequestID adds an HTTP request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestKey, requestID)
}
