package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PlaylistRepository handles managed-playlist database operations.
type PlaylistRepository struct {
	q querier
}

// Upsert records a managed playlist, keyed by name. The stored Spotify ID
// lets later refreshes replace contents instead of creating duplicates.
func (r *PlaylistRepository) Upsert(ctx context.Context, name, spotifyID, kind string, size int) (*Playlist, error) {
	query := `
		INSERT INTO playlists (name, spotify_id, kind, size, last_updated)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name) DO UPDATE SET
			spotify_id = EXCLUDED.spotify_id,
			kind = EXCLUDED.kind,
			size = EXCLUDED.size,
			last_updated = now()
		RETURNING id, name, spotify_id, kind, size, last_updated
	`
	p := &Playlist{}
	err := r.q.QueryRow(ctx, query, name, spotifyID, kind, size).Scan(
		&p.ID, &p.Name, &p.SpotifyID, &p.Kind, &p.Size, &p.LastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting playlist: %w", err)
	}
	return p, nil
}

// Get returns a managed playlist by name.
func (r *PlaylistRepository) Get(ctx context.Context, name string) (*Playlist, error) {
	p := &Playlist{}
	err := r.q.QueryRow(ctx,
		`SELECT id, name, spotify_id, kind, size, last_updated FROM playlists WHERE name = $1`,
		name,
	).Scan(&p.ID, &p.Name, &p.SpotifyID, &p.Kind, &p.Size, &p.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying playlist: %w", err)
	}
	return p, nil
}

// List returns all managed playlists ordered by name.
func (r *PlaylistRepository) List(ctx context.Context) ([]Playlist, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, name, spotify_id, kind, size, last_updated FROM playlists ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying playlists: %w", err)
	}
	defer rows.Close()

	var playlists []Playlist
	for rows.Next() {
		var p Playlist
		if err := rows.Scan(&p.ID, &p.Name, &p.SpotifyID, &p.Kind, &p.Size, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("scanning playlist: %w", err)
		}
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}
