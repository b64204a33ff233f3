package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateOwner registers an owner. Registering the same user twice updates
// the stored name.
func (s *SQLiteStore) CreateOwner(ctx context.Context, o *Owner) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO owners (user_id, user_name) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET user_name = excluded.user_name`,
		o.UserID, o.UserName,
	)
	if err != nil {
		return fmt.Errorf("create owner: %w", err)
	}
	return nil
}

// GetOwner retrieves an owner by user ID.
func (s *SQLiteStore) GetOwner(ctx context.Context, userID string) (*Owner, error) {
	var o Owner
	err := s.db.QueryRowContext(ctx, `SELECT user_id, user_name FROM owners WHERE user_id = ?`, userID).
		Scan(&o.UserID, &o.UserName)
	if err != nil {
		return nil, notFound(err, "get owner")
	}
	return &o, nil
}

// ListOwners returns every registered owner.
func (s *SQLiteStore) ListOwners(ctx context.Context) ([]Owner, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, user_name FROM owners ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var owners []Owner
	for rows.Next() {
		var o Owner
		if err := rows.Scan(&o.UserID, &o.UserName); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// CreateWarn records a warning and sets w.ID. A zero Date means now.
func (s *SQLiteStore) CreateWarn(ctx context.Context, w *Warn) error {
	if w.Date.IsZero() {
		w.Date = time.Now()
	}

	var moderator sql.NullString
	if w.ModeratorID != "" {
		moderator = sql.NullString{String: w.ModeratorID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO warns (guild_id, user_id, moderator_id, reason, date, active) VALUES (?, ?, ?, ?, ?, ?)`,
		w.GuildID, w.UserID, moderator, w.Reason, w.Date.Unix(), boolInt(w.Active),
	)
	if err != nil {
		return fmt.Errorf("create warn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create warn: %w", err)
	}
	w.ID = id
	return nil
}

// ListWarns returns a user's warns in a guild, newest first.
func (s *SQLiteStore) ListWarns(ctx context.Context, guildID, userID string) ([]Warn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, user_id, moderator_id, reason, date, active
		FROM warns WHERE guild_id = ? AND user_id = ? ORDER BY date DESC, id DESC`,
		guildID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list warns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var warns []Warn
	for rows.Next() {
		var (
			w         Warn
			moderator sql.NullString
			date      int64
		)
		if err := rows.Scan(&w.ID, &w.GuildID, &w.UserID, &moderator, &w.Reason, &date, &w.Active); err != nil {
			return nil, fmt.Errorf("scan warn: %w", err)
		}
		w.ModeratorID = moderator.String
		w.Date = time.Unix(date, 0)
		warns = append(warns, w)
	}
	return warns, rows.Err()
}

// CountActiveWarns counts a user's active warns in a guild.
func (s *SQLiteStore) CountActiveWarns(ctx context.Context, guildID, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM warns WHERE guild_id = ? AND user_id = ? AND active = 1`,
		guildID, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count warns: %w", err)
	}
	return n, nil
}
