package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetUser retrieves a user by ID
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_name, global_name, avatar_url FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.UserName, &u.GlobalName, &u.AvatarURL)
	if err != nil {
		return nil, notFound(err, "get user")
	}
	return &u, nil
}

// CreateUser inserts a user and its default config.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, user_name, global_name, avatar_url) VALUES (?, ?, ?, ?)`,
			u.ID, u.UserName, u.GlobalName, u.AvatarURL,
		); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_configs (user_id) VALUES (?)`, u.ID); err != nil {
			return fmt.Errorf("create user config: %w", err)
		}
		return nil
	})
}

// UpdateUser updates display fields.
func (s *SQLiteStore) UpdateUser(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET user_name = ?, global_name = ?, avatar_url = ? WHERE id = ?`,
		u.UserName, u.GlobalName, u.AvatarURL, u.ID,
	)
	return affected(res, err, "update user")
}

// DeleteUser deletes a user; config, links, warns and favourites cascade.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return affected(res, err, "delete user")
}

// ListUsers returns every user ordered by ID.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_name, global_name, avatar_url FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.UserName, &u.GlobalName, &u.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUserConfig retrieves a user's config.
func (s *SQLiteStore) GetUserConfig(ctx context.Context, userID string) (*UserConfig, error) {
	var c UserConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, translate_private, fact_check_private FROM user_configs WHERE user_id = ?`, userID,
	).Scan(&c.UserID, &c.TranslatePrivate, &c.FactCheckPrivate)
	if err != nil {
		return nil, notFound(err, "get user config")
	}
	return &c, nil
}

// UpdateUserConfig replaces a user's config.
func (s *SQLiteStore) UpdateUserConfig(ctx context.Context, c *UserConfig) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_configs SET translate_private = ?, fact_check_private = ? WHERE user_id = ?`,
		boolInt(c.TranslatePrivate), boolInt(c.FactCheckPrivate), c.UserID,
	)
	return affected(res, err, "update user config")
}
