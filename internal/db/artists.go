package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ArtistRepository handles artist database operations.
type ArtistRepository struct {
	q querier
}

// GetOrCreate looks an artist up by name, creating it on first reference.
// A supplied Spotify ID backfills a previously-null value but never
// overwrites one that is already set.
func (r *ArtistRepository) GetOrCreate(ctx context.Context, name string, spotifyID *string) (*Artist, error) {
	query := `
		INSERT INTO artists (name, spotify_id)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET
			spotify_id = COALESCE(artists.spotify_id, EXCLUDED.spotify_id)
		RETURNING id, name, spotify_id, genres, created_at
	`
	var artist Artist
	err := r.q.QueryRow(ctx, query, name, spotifyID).Scan(
		&artist.ID,
		&artist.Name,
		&artist.SpotifyID,
		&artist.Genres,
		&artist.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting artist: %w", err)
	}
	return &artist, nil
}

// Get retrieves an artist by ID.
func (r *ArtistRepository) Get(ctx context.Context, id int64) (*Artist, error) {
	query := `
		SELECT id, name, spotify_id, genres, created_at
		FROM artists
		WHERE id = $1
	`
	var artist Artist
	err := r.q.QueryRow(ctx, query, id).Scan(
		&artist.ID,
		&artist.Name,
		&artist.SpotifyID,
		&artist.Genres,
		&artist.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying artist: %w", err)
	}
	return &artist, nil
}

// BackfillSpotifyID sets the artist's Spotify ID when it is still null and
// no other artist already holds that ID. Returns whether a row was updated.
func (r *ArtistRepository) BackfillSpotifyID(ctx context.Context, id int64, spotifyID string) (bool, error) {
	query := `
		UPDATE artists
		SET spotify_id = $2
		WHERE id = $1
		  AND spotify_id IS NULL
		  AND NOT EXISTS (SELECT 1 FROM artists WHERE spotify_id = $2)
	`
	tag, err := r.q.Exec(ctx, query, id, spotifyID)
	if err != nil {
		return false, fmt.Errorf("backfilling artist spotify id: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Count returns the number of stored artists.
func (r *ArtistRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM artists`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting artists: %w", err)
	}
	return n, nil
}
