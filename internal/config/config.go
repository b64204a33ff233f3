package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/nova/internal/logging"
)

// Built-in background task names.
const (
	TaskStatusLoop      = "status_loop"
	TaskSpamFilterSweep = "spam_filter_sweep"
	TaskDatabaseSync    = "database_sync"
)

// KnownTasks lists every task name the scheduler registry can resolve.
var KnownTasks = []string{TaskStatusLoop, TaskSpamFilterSweep, TaskDatabaseSync}

// Environment variables that override secrets and flags from the file.
const (
	EnvDiscordToken     = "NOVA_DISCORD_TOKEN"
	EnvLavalinkPassword = "NOVA_LAVALINK_PASSWORD"
	EnvRunBot           = "NOVA_RUN_BOT"
)

// Config represents the main configuration
type Config struct {
	Version    string            `yaml:"version"`
	Debug      bool              `yaml:"debug"`
	Logging    *logging.Config   `yaml:"logging"`
	Discord    *DiscordConfig    `yaml:"discord"`
	Bot        *BotConfig        `yaml:"bot"`
	Lavalink   *LavalinkConfig   `yaml:"lavalink"`
	Status     *StatusConfig     `yaml:"status"`
	SpamFilter *SpamFilterConfig `yaml:"spam_filter"`
	Database   *DatabaseConfig   `yaml:"database"`
	Web        *WebConfig        `yaml:"web"`
	Tasks      []string          `yaml:"tasks"`
}

// DiscordConfig holds platform connection settings
type DiscordConfig struct {
	Token         string   `yaml:"token"`
	ApplicationID string   `yaml:"application_id"`
	APIURL        string   `yaml:"api_url"`
	Intents       []string `yaml:"intents"`
	// MemberLimit caps members fetched per guild during reconciliation. 0 fetches all.
	MemberLimit int     `yaml:"member_limit"`
	RateLimit   float64 `yaml:"rate_limit"` // REST requests per second
	RateBurst   int     `yaml:"rate_burst"`
}

// BotConfig holds runtime lifecycle settings
type BotConfig struct {
	Run             bool          `yaml:"run"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LavalinkConfig holds audio backend settings
type LavalinkConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Password   string        `yaml:"password"`
	Secure     bool          `yaml:"secure"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// StatusConfig holds presence rotation settings
type StatusConfig struct {
	Language    string        `yaml:"language"`
	Interval    time.Duration `yaml:"interval"`
	Log         bool          `yaml:"log"`
	Messages    []string      `yaml:"messages"`
	Maintenance string        `yaml:"maintenance"`
}

// SpamFilterConfig holds the message rate window
type SpamFilterConfig struct {
	Enabled      bool          `yaml:"enabled"`
	TimeWindow   time.Duration `yaml:"time_window"`
	MaxPerWindow int           `yaml:"max_per_window"`
}

// DatabaseConfig holds persistence settings
type DatabaseConfig struct {
	Driver       string        `yaml:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
	Path         string        `yaml:"path"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// WebConfig holds the co-hosted HTTP server settings
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns host:port for the web listener.
func (w *WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Logging: logging.DefaultConfig(),
		Discord: &DiscordConfig{
			APIURL:    "https://discord.com/api/v10",
			Intents:   []string{"guilds", "guild_members", "guild_messages", "guild_voice_states", "message_content"},
			RateLimit: 40,
			RateBurst: 10,
		},
		Bot: &BotConfig{
			Run:             true,
			ShutdownTimeout: 20 * time.Second,
		},
		Lavalink: &LavalinkConfig{
			Host:       "localhost",
			Port:       2333,
			Password:   "youshallnotpass",
			MaxRetries: 5,
			RetryDelay: time.Second,
		},
		Status: &StatusConfig{
			Language:    "en",
			Interval:    10 * time.Minute,
			Messages:    []string{"Listening to /help"},
			Maintenance: "Under maintenance",
		},
		SpamFilter: &SpamFilterConfig{
			Enabled:      true,
			TimeWindow:   5 * time.Second,
			MaxPerWindow: 5,
		},
		Database: &DatabaseConfig{
			Driver:       "sqlite",
			Path:         filepath.Join(homeDir, ".nova", "nova.db"),
			SyncInterval: time.Hour,
		},
		Web: &WebConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8000,
		},
		Tasks: []string{TaskStatusLoop, TaskSpamFilterSweep},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if config.Database != nil {
		config.Database.Path = expandPath(config.Database.Path)
	}
	if config.Logging != nil && config.Logging.Output != "" {
		config.Logging.Output = expandPath(config.Logging.Output)
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDiscordToken); v != "" && c.Discord != nil {
		c.Discord.Token = v
	}
	if v := os.Getenv(EnvLavalinkPassword); v != "" && c.Lavalink != nil {
		c.Lavalink.Password = v
	}
	if v := os.Getenv(EnvRunBot); v != "" && c.Bot != nil {
		run, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRunBot, err)
		}
		c.Bot.Run = run
	}
	return nil
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".nova", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration. Unknown task names fail here so a
// typo never reaches the scheduler.
func (c *Config) Validate() error {
	if c.Discord == nil || c.Bot == nil || c.Lavalink == nil || c.Database == nil {
		return fmt.Errorf("discord, bot, lavalink and database sections are required")
	}
	if c.Discord.MemberLimit < 0 {
		return fmt.Errorf("invalid discord member_limit: %d", c.Discord.MemberLimit)
	}
	if c.Discord.RateLimit < 0 {
		return fmt.Errorf("invalid discord rate_limit: %v", c.Discord.RateLimit)
	}
	if c.Bot.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid bot shutdown_timeout: %v", c.Bot.ShutdownTimeout)
	}
	if c.Lavalink.Port < 1 || c.Lavalink.Port > 65535 {
		return fmt.Errorf("invalid lavalink port: %d", c.Lavalink.Port)
	}
	if c.Lavalink.MaxRetries < 1 {
		return fmt.Errorf("lavalink max_retries must be at least 1, got %d", c.Lavalink.MaxRetries)
	}
	if c.Lavalink.RetryDelay < 0 {
		return fmt.Errorf("invalid lavalink retry_delay: %v", c.Lavalink.RetryDelay)
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q (want sqlite or sqlite3)", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Web != nil && c.Web.Enabled && (c.Web.Port < 1 || c.Web.Port > 65535) {
		return fmt.Errorf("invalid web port: %d", c.Web.Port)
	}

	seen := make(map[string]bool, len(c.Tasks))
	for _, name := range c.Tasks {
		if !isKnownTask(name) {
			return fmt.Errorf("unknown task %q (known: %s)", name, strings.Join(KnownTasks, ", "))
		}
		if seen[name] {
			return fmt.Errorf("task %q listed twice", name)
		}
		seen[name] = true
	}

	if seen[TaskStatusLoop] {
		if c.Status == nil || c.Status.Interval <= 0 {
			return fmt.Errorf("status interval must be positive when %s is enabled", TaskStatusLoop)
		}
		if len(c.Status.Messages) == 0 {
			return fmt.Errorf("status messages are required when %s is enabled", TaskStatusLoop)
		}
	}
	if seen[TaskSpamFilterSweep] && (c.SpamFilter == nil || c.SpamFilter.TimeWindow <= 0) {
		return fmt.Errorf("spam_filter time_window must be positive when %s is enabled", TaskSpamFilterSweep)
	}
	if seen[TaskDatabaseSync] && c.Database.SyncInterval <= 0 {
		return fmt.Errorf("database sync_interval must be positive when %s is enabled", TaskDatabaseSync)
	}
	if c.SpamFilter != nil && c.SpamFilter.Enabled && c.SpamFilter.MaxPerWindow < 1 {
		return fmt.Errorf("spam_filter max_per_window must be at least 1")
	}

	return nil
}

func isKnownTask(name string) bool {
	for _, k := range KnownTasks {
		if k == name {
			return true
		}
	}
	return false
}

// TaskEnabled reports whether name is in the configured task list.
func (c *Config) TaskEnabled(name string) bool {
	for _, t := range c.Tasks {
		if t == name {
			return true
		}
	}
	return false
}
