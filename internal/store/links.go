package store

import (
	"context"
	"fmt"
)

func checkSet(set LinkSet) error {
	if !set.Valid() {
		return fmt.Errorf("unknown link set %q", set)
	}
	return nil
}

// AddLink adds userID to a guild's set. Adding an admin who is not a member
// fails on the foreign key.
func (s *SQLiteStore) AddLink(ctx context.Context, set LinkSet, guildID, userID string) error {
	if err := checkSet(set); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO `+string(set)+` (guild_id, user_id) VALUES (?, ?)`,
		guildID, userID,
	)
	if err != nil {
		return fmt.Errorf("add %s link: %w", set, err)
	}
	return nil
}

// RemoveLink removes userID from a guild's set. Removing a member also
// drops their admin link.
func (s *SQLiteStore) RemoveLink(ctx context.Context, set LinkSet, guildID, userID string) error {
	if err := checkSet(set); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+string(set)+` WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	)
	return affected(res, err, fmt.Sprintf("remove %s link", set))
}

// LinkExists reports whether userID is in a guild's set.
func (s *SQLiteStore) LinkExists(ctx context.Context, set LinkSet, guildID, userID string) (bool, error) {
	if err := checkSet(set); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+string(set)+` WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check %s link: %w", set, err)
	}
	return n > 0, nil
}

// ListLinks returns the user IDs in a guild's set.
func (s *SQLiteStore) ListLinks(ctx context.Context, set LinkSet, guildID string) ([]string, error) {
	if err := checkSet(set); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM `+string(set)+` WHERE guild_id = ? ORDER BY user_id`, guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s links: %w", set, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
