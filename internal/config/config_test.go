package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	t.Run("Bot", func(t *testing.T) {
		if !config.Bot.Run {
			t.Error("Bot.Run should default to true")
		}
		if config.Bot.ShutdownTimeout != 20*time.Second {
			t.Errorf("Bot.ShutdownTimeout = %v, want 20s", config.Bot.ShutdownTimeout)
		}
	})

	t.Run("Lavalink", func(t *testing.T) {
		if config.Lavalink.MaxRetries != 5 {
			t.Errorf("Lavalink.MaxRetries = %d, want 5", config.Lavalink.MaxRetries)
		}
		if config.Lavalink.RetryDelay != time.Second {
			t.Errorf("Lavalink.RetryDelay = %v, want 1s", config.Lavalink.RetryDelay)
		}
		if config.Lavalink.Port != 2333 {
			t.Errorf("Lavalink.Port = %d, want 2333", config.Lavalink.Port)
		}
	})

	t.Run("Database", func(t *testing.T) {
		if config.Database.Driver != "sqlite" {
			t.Errorf("Database.Driver = %q, want sqlite", config.Database.Driver)
		}
		if !strings.HasSuffix(config.Database.Path, filepath.Join(".nova", "nova.db")) {
			t.Errorf("Database.Path = %q", config.Database.Path)
		}
	})

	t.Run("Tasks", func(t *testing.T) {
		if !config.TaskEnabled(TaskStatusLoop) {
			t.Error("status_loop should be enabled by default")
		}
		if config.TaskEnabled(TaskDatabaseSync) {
			t.Error("database_sync should be disabled by default")
		}
	})

	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		config, err := Load("/nonexistent/path/config.yaml")
		if err != nil {
			t.Fatalf("Load should return defaults for missing file, got error: %v", err)
		}
		if config.Version != "1.0" {
			t.Errorf("Version = %q, want default %q", config.Version, "1.0")
		}
	})

	t.Run("ValidConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		content := `
version: "2.0"
debug: true
discord:
  token: "file-token"
  member_limit: 500
  intents: [guilds, guild_members]
lavalink:
  host: "lavalink.internal"
  port: 2444
  max_retries: 3
  retry_delay: 250ms
status:
  interval: 2m
  messages: ["one", "two"]
database:
  driver: sqlite3
  path: /var/lib/nova/nova.db
  sync_interval: 30m
tasks: [status_loop, database_sync]
`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("write config: %v", err)
		}

		config, err := Load(configPath)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if config.Version != "2.0" || !config.Debug {
			t.Errorf("Version/Debug = %q/%v", config.Version, config.Debug)
		}
		if config.Discord.Token != "file-token" {
			t.Errorf("Discord.Token = %q", config.Discord.Token)
		}
		if config.Discord.MemberLimit != 500 {
			t.Errorf("Discord.MemberLimit = %d, want 500", config.Discord.MemberLimit)
		}
		if len(config.Discord.Intents) != 2 {
			t.Errorf("Discord.Intents = %v", config.Discord.Intents)
		}
		if config.Lavalink.Host != "lavalink.internal" || config.Lavalink.Port != 2444 {
			t.Errorf("Lavalink = %s:%d", config.Lavalink.Host, config.Lavalink.Port)
		}
		if config.Lavalink.RetryDelay != 250*time.Millisecond {
			t.Errorf("Lavalink.RetryDelay = %v, want 250ms", config.Lavalink.RetryDelay)
		}
		if config.Status.Interval != 2*time.Minute {
			t.Errorf("Status.Interval = %v, want 2m", config.Status.Interval)
		}
		if config.Database.Driver != "sqlite3" || config.Database.SyncInterval != 30*time.Minute {
			t.Errorf("Database = %+v", config.Database)
		}
		if !config.TaskEnabled(TaskDatabaseSync) {
			t.Error("database_sync should be enabled")
		}
		// Sections absent from the file keep their defaults.
		if config.Bot.ShutdownTimeout != 20*time.Second {
			t.Errorf("Bot.ShutdownTimeout = %v, want default 20s", config.Bot.ShutdownTimeout)
		}
	})

	t.Run("ExpandsEnv", func(t *testing.T) {
		t.Setenv("NOVA_TEST_LAVALINK_HOST", "audio.example")
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		content := "lavalink:\n  host: ${NOVA_TEST_LAVALINK_HOST}\n"
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("write config: %v", err)
		}

		config, err := Load(configPath)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if config.Lavalink.Host != "audio.example" {
			t.Errorf("Lavalink.Host = %q, want audio.example", config.Lavalink.Host)
		}
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv(EnvDiscordToken, "env-token")
		t.Setenv(EnvLavalinkPassword, "env-secret")
		t.Setenv(EnvRunBot, "false")

		config, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if config.Discord.Token != "env-token" {
			t.Errorf("Discord.Token = %q, want env-token", config.Discord.Token)
		}
		if config.Lavalink.Password != "env-secret" {
			t.Errorf("Lavalink.Password = %q, want env-secret", config.Lavalink.Password)
		}
		if config.Bot.Run {
			t.Error("Bot.Run should be false from env")
		}
	})

	t.Run("BadRunFlag", func(t *testing.T) {
		t.Setenv(EnvRunBot, "maybe")
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for invalid NOVA_RUN_BOT")
		}
	})

	t.Run("InvalidYAML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(configPath, []byte("tasks: [unterminated"), 0644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := Load(configPath); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("NOVA_TEST_DOTENV=from-file\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("NOVA_TEST_DOTENV") })

	if err := LoadDotEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("NOVA_TEST_DOTENV"); got != "from-file" {
		t.Errorf("NOVA_TEST_DOTENV = %q, want from-file", got)
	}
}

func TestSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	config := DefaultConfig()
	config.Lavalink.Host = "saved.example"
	config.Tasks = []string{TaskSpamFilterSweep}

	if err := Save(config, configPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load after Save failed: %v", err)
	}
	if loaded.Lavalink.Host != "saved.example" {
		t.Errorf("Lavalink.Host = %q, want saved.example", loaded.Lavalink.Host)
	}
	if loaded.Bot.ShutdownTimeout != 20*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 20s", loaded.Bot.ShutdownTimeout)
	}
	if len(loaded.Tasks) != 1 || loaded.Tasks[0] != TaskSpamFilterSweep {
		t.Errorf("Tasks = %v", loaded.Tasks)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"unknown task", func(c *Config) { c.Tasks = []string{"status_loop", "mine_bitcoin"} }, `unknown task "mine_bitcoin"`},
		{"duplicate task", func(c *Config) { c.Tasks = []string{"status_loop", "status_loop"} }, "listed twice"},
		{"zero retries", func(c *Config) { c.Lavalink.MaxRetries = 0 }, "max_retries"},
		{"bad lavalink port", func(c *Config) { c.Lavalink.Port = 70000 }, "lavalink port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "postgres" }, "unsupported database driver"},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "database path"},
		{"zero shutdown timeout", func(c *Config) { c.Bot.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"negative member limit", func(c *Config) { c.Discord.MemberLimit = -1 }, "member_limit"},
		{"status without messages", func(c *Config) { c.Status.Messages = nil }, "status messages"},
		{"status without interval", func(c *Config) { c.Status.Interval = 0 }, "status interval"},
		{"sync without interval", func(c *Config) {
			c.Tasks = []string{TaskDatabaseSync}
			c.Database.SyncInterval = 0
		}, "sync_interval"},
		{"bad web port", func(c *Config) { c.Web.Port = 0 }, "web port"},
		{"web disabled ignores port", func(c *Config) { c.Web.Enabled = false; c.Web.Port = 0 }, ""},
		{"missing section", func(c *Config) { c.Lavalink = nil }, "required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	if got := expandPath("~/nova.db"); got != filepath.Join(homeDir, "nova.db") {
		t.Errorf("expandPath(~/nova.db) = %q", got)
	}
	if got := expandPath("/abs/nova.db"); got != "/abs/nova.db" {
		t.Errorf("expandPath(/abs/nova.db) = %q", got)
	}
}
