package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetGuild retrieves a guild by ID
func (s *SQLiteStore) GetGuild(ctx context.Context, id string) (*Guild, error) {
	var g Guild
	err := s.db.QueryRowContext(ctx, `SELECT id, name, icon_url FROM guilds WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &g.IconURL)
	if err != nil {
		return nil, notFound(err, "get guild")
	}
	return &g, nil
}

// CreateGuild inserts a guild and its default config in one transaction.
func (s *SQLiteStore) CreateGuild(ctx context.Context, g *Guild) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO guilds (id, name, icon_url) VALUES (?, ?, ?)`,
			g.ID, g.Name, g.IconURL,
		); err != nil {
			return fmt.Errorf("create guild: %w", err)
		}
		if err := insertGuildConfig(ctx, tx, DefaultGuildConfig(g.ID)); err != nil {
			return fmt.Errorf("create guild config: %w", err)
		}
		return nil
	})
}

// UpdateGuild updates display fields. The ID is immutable.
func (s *SQLiteStore) UpdateGuild(ctx context.Context, g *Guild) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE guilds SET name = ?, icon_url = ? WHERE id = ?`,
		g.Name, g.IconURL, g.ID,
	)
	return affected(res, err, "update guild")
}

// DeleteGuild deletes a guild; config, links and warns cascade.
func (s *SQLiteStore) DeleteGuild(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM guilds WHERE id = ?`, id)
	return affected(res, err, "delete guild")
}

// ListGuilds returns every guild ordered by ID.
func (s *SQLiteStore) ListGuilds(ctx context.Context) ([]Guild, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, icon_url FROM guilds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var guilds []Guild
	for rows.Next() {
		var g Guild
		if err := rows.Scan(&g.ID, &g.Name, &g.IconURL); err != nil {
			return nil, fmt.Errorf("scan guild: %w", err)
		}
		guilds = append(guilds, g)
	}
	return guilds, rows.Err()
}

const guildConfigColumns = `guild_id, auto_role_active, auto_role_id, auto_role_name,
	spam_filter_action, spam_filter_message, spam_filter_original_state,
	warn_limit, warn_action, warn_action_original_state,
	translate, translate_lang,
	welcome_active, welcome_channel_id, welcome_channel_name, welcome_title,
	welcome_description, welcome_colour, welcome_picture`

func insertGuildConfig(ctx context.Context, tx *sql.Tx, c *GuildConfig) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO guild_configs (`+guildConfigColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.GuildID, boolInt(c.AutoRoleActive), c.AutoRoleID, c.AutoRoleName,
		c.SpamFilterAction, c.SpamFilterMessage, c.SpamFilterOriginalState,
		c.WarnLimit, c.WarnAction, c.WarnActionOriginalState,
		boolInt(c.Translate), c.TranslateLang,
		boolInt(c.WelcomeActive), c.WelcomeChannelID, c.WelcomeChannelName, c.WelcomeTitle,
		c.WelcomeDescription, c.WelcomeColour, c.WelcomePicture,
	)
	return err
}

// GetGuildConfig retrieves the config of a guild.
func (s *SQLiteStore) GetGuildConfig(ctx context.Context, guildID string) (*GuildConfig, error) {
	var c GuildConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT `+guildConfigColumns+` FROM guild_configs WHERE guild_id = ?`, guildID,
	).Scan(
		&c.GuildID, &c.AutoRoleActive, &c.AutoRoleID, &c.AutoRoleName,
		&c.SpamFilterAction, &c.SpamFilterMessage, &c.SpamFilterOriginalState,
		&c.WarnLimit, &c.WarnAction, &c.WarnActionOriginalState,
		&c.Translate, &c.TranslateLang,
		&c.WelcomeActive, &c.WelcomeChannelID, &c.WelcomeChannelName, &c.WelcomeTitle,
		&c.WelcomeDescription, &c.WelcomeColour, &c.WelcomePicture,
	)
	if err != nil {
		return nil, notFound(err, "get guild config")
	}
	return &c, nil
}

// UpdateGuildConfig replaces a guild's config.
func (s *SQLiteStore) UpdateGuildConfig(ctx context.Context, c *GuildConfig) error {
	res, err := s.db.ExecContext(ctx, `UPDATE guild_configs SET
		auto_role_active = ?, auto_role_id = ?, auto_role_name = ?,
		spam_filter_action = ?, spam_filter_message = ?, spam_filter_original_state = ?,
		warn_limit = ?, warn_action = ?, warn_action_original_state = ?,
		translate = ?, translate_lang = ?,
		welcome_active = ?, welcome_channel_id = ?, welcome_channel_name = ?, welcome_title = ?,
		welcome_description = ?, welcome_colour = ?, welcome_picture = ?
		WHERE guild_id = ?`,
		boolInt(c.AutoRoleActive), c.AutoRoleID, c.AutoRoleName,
		c.SpamFilterAction, c.SpamFilterMessage, c.SpamFilterOriginalState,
		c.WarnLimit, c.WarnAction, c.WarnActionOriginalState,
		boolInt(c.Translate), c.TranslateLang,
		boolInt(c.WelcomeActive), c.WelcomeChannelID, c.WelcomeChannelName, c.WelcomeTitle,
		c.WelcomeDescription, c.WelcomeColour, c.WelcomePicture,
		c.GuildID,
	)
	return affected(res, err, "update guild config")
}
