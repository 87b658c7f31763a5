package db

import (
	"context"
	"fmt"
)

// AlbumRepository handles album database operations.
type AlbumRepository struct {
	q querier
}

// GetOrCreate looks an album up by (name, artist), creating it on first
// reference. A supplied Spotify ID backfills a null value only.
func (r *AlbumRepository) GetOrCreate(ctx context.Context, name string, artistID int64, spotifyID *string) (*Album, error) {
	query := `
		INSERT INTO albums (name, artist_id, spotify_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (name, artist_id) DO UPDATE SET
			spotify_id = COALESCE(albums.spotify_id, EXCLUDED.spotify_id)
		RETURNING id, name, artist_id, spotify_id, created_at
	`
	var album Album
	err := r.q.QueryRow(ctx, query, name, artistID, spotifyID).Scan(
		&album.ID,
		&album.Name,
		&album.ArtistID,
		&album.SpotifyID,
		&album.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting album: %w", err)
	}
	return &album, nil
}
