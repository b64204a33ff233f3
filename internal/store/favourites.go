package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type favouriteTables struct {
	items string
	links string
	extra string // duration for tracks, count for playlists
}

func tablesFor(kind FavouriteKind) (favouriteTables, error) {
	switch kind {
	case FavouriteTrack:
		return favouriteTables{"favourite_tracks", "user_favourite_tracks", "duration"}, nil
	case FavouritePlaylist:
		return favouriteTables{"favourite_playlists", "user_favourite_playlists", "count"}, nil
	}
	return favouriteTables{}, fmt.Errorf("unknown favourite kind %q", kind)
}

// AddFavourite saves a track or playlist for a user. Items are shared by
// URL across users.
func (s *SQLiteStore) AddFavourite(ctx context.Context, userID string, f *Favourite) error {
	t, err := tablesFor(f.Kind)
	if err != nil {
		return err
	}
	if f.Created.IsZero() {
		f.Created = time.Now()
	}

	var extra any = f.Duration
	if f.Kind == FavouritePlaylist {
		count := f.Count
		if count < 1 {
			count = 1
		}
		extra = count
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+t.items+` (url, title, uploader, `+t.extra+`, created_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET title = excluded.title, uploader = excluded.uploader, `+t.extra+` = excluded.`+t.extra,
			f.URL, f.Title, f.Uploader, extra, f.Created.Unix(),
		); err != nil {
			return fmt.Errorf("add favourite: %w", err)
		}

		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM `+t.items+` WHERE url = ?`, f.URL).Scan(&id); err != nil {
			return fmt.Errorf("add favourite: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO `+t.links+` (user_id, favourite_id) VALUES (?, ?)`, userID, id,
		); err != nil {
			return fmt.Errorf("link favourite: %w", err)
		}
		return nil
	})
}

// RemoveFavourite unlinks a saved item from a user.
func (s *SQLiteStore) RemoveFavourite(ctx context.Context, userID string, kind FavouriteKind, url string) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+t.links+` WHERE user_id = ? AND favourite_id = (SELECT id FROM `+t.items+` WHERE url = ?)`,
		userID, url,
	)
	return affected(res, err, "remove favourite")
}

// ListFavourites returns a user's saved items, newest first.
func (s *SQLiteStore) ListFavourites(ctx context.Context, userID string, kind FavouriteKind) ([]Favourite, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.url, f.title, f.uploader, f.`+t.extra+`, f.created_at
		FROM `+t.items+` f JOIN `+t.links+` l ON l.favourite_id = f.id
		WHERE l.user_id = ? ORDER BY f.created_at DESC, f.id DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list favourites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Favourite
	for rows.Next() {
		var (
			f       = Favourite{Kind: kind}
			extra   sql.NullString
			created int64
		)
		if err := rows.Scan(&f.URL, &f.Title, &f.Uploader, &extra, &created); err != nil {
			return nil, fmt.Errorf("scan favourite: %w", err)
		}
		if kind == FavouritePlaylist {
			_, _ = fmt.Sscan(extra.String, &f.Count)
		} else {
			f.Duration = extra.String
		}
		f.Created = time.Unix(created, 0)
		out = append(out, f)
	}
	return out, rows.Err()
}
