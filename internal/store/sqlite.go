package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/alekspetrov/nova/internal/logging"
)

// Supported database/sql driver names.
const (
	DriverPureGo = "sqlite"  // modernc.org/sqlite
	DriverCgo    = "sqlite3" // github.com/mattn/go-sqlite3
)

// SQLiteStore implements Repository on SQLite.
//
// The pool is capped at one connection so writes are serialised and the
// foreign-key pragma holds for every statement.
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  *slog.Logger
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, driver, path string) (*SQLiteStore, error) {
	dsn, err := dataSourceName(driver, path)
	if err != nil {
		return nil, err
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path, log: logging.WithComponent("store")}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s.log.Debug("Database ready", slog.String("driver", driver), slog.String("path", path))
	return s, nil
}

func dataSourceName(driver, path string) (string, error) {
	switch driver {
	case DriverPureGo:
		return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
	case DriverCgo:
		return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

// migrate creates necessary tables
func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS guilds (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			icon_url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS guild_configs (
			guild_id TEXT PRIMARY KEY,
			auto_role_active INTEGER NOT NULL DEFAULT 0,
			auto_role_id TEXT NOT NULL DEFAULT '',
			auto_role_name TEXT NOT NULL DEFAULT '',
			spam_filter_action INTEGER NOT NULL DEFAULT 0 CHECK (spam_filter_action BETWEEN 0 AND 2),
			spam_filter_message TEXT NOT NULL DEFAULT '',
			spam_filter_original_state INTEGER NOT NULL DEFAULT 0,
			warn_limit INTEGER NOT NULL DEFAULT 6 CHECK (warn_limit BETWEEN 1 AND 50),
			warn_action INTEGER NOT NULL DEFAULT 0 CHECK (warn_action BETWEEN 0 AND 3),
			warn_action_original_state INTEGER NOT NULL DEFAULT 0,
			translate INTEGER NOT NULL DEFAULT 0,
			translate_lang TEXT NOT NULL DEFAULT 'en',
			welcome_active INTEGER NOT NULL DEFAULT 0,
			welcome_channel_id TEXT NOT NULL DEFAULT '',
			welcome_channel_name TEXT NOT NULL DEFAULT '',
			welcome_title TEXT NOT NULL DEFAULT '',
			welcome_description TEXT NOT NULL DEFAULT '',
			welcome_colour TEXT NOT NULL DEFAULT '#FFFFFF',
			welcome_picture INTEGER NOT NULL DEFAULT 0 CHECK (welcome_picture BETWEEN 0 AND 2),
			FOREIGN KEY (guild_id) REFERENCES guilds(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			user_name TEXT NOT NULL,
			global_name TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS user_configs (
			user_id TEXT PRIMARY KEY,
			translate_private INTEGER NOT NULL DEFAULT 0,
			fact_check_private INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS guild_members (
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (guild_id, user_id),
			FOREIGN KEY (guild_id) REFERENCES guilds(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		// Admins reference the membership row, so an admin can never outlive
		// their membership.
		`CREATE TABLE IF NOT EXISTS guild_admins (
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (guild_id, user_id),
			FOREIGN KEY (guild_id, user_id) REFERENCES guild_members(guild_id, user_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS guild_blacklist (
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (guild_id, user_id),
			FOREIGN KEY (guild_id) REFERENCES guilds(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS owners (
			user_id TEXT PRIMARY KEY,
			user_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS warns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			moderator_id TEXT,
			reason TEXT NOT NULL,
			date INTEGER NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (guild_id) REFERENCES guilds(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (moderator_id) REFERENCES users(id) ON DELETE SET NULL
		)`,
		`CREATE TABLE IF NOT EXISTS favourite_tracks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			duration TEXT NOT NULL DEFAULT '',
			uploader TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS favourite_playlists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			count INTEGER NOT NULL DEFAULT 1 CHECK (count >= 1),
			uploader TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_favourite_tracks (
			user_id TEXT NOT NULL,
			favourite_id INTEGER NOT NULL,
			PRIMARY KEY (user_id, favourite_id),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (favourite_id) REFERENCES favourite_tracks(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS user_favourite_playlists (
			user_id TEXT NOT NULL,
			favourite_id INTEGER NOT NULL,
			PRIMARY KEY (user_id, favourite_id),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (favourite_id) REFERENCES favourite_playlists(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_guild_members_user ON guild_members(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_guild_blacklist_user ON guild_blacklist(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_warns_user_date ON warns(user_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_warns_guild ON warns(guild_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_name ON users(user_name)`,
		`CREATE INDEX IF NOT EXISTS idx_guilds_name ON guilds(name)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// affected maps a zero-row update or delete onto ErrNotFound.
func affected(res sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
