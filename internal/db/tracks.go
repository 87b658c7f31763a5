package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TrackRepository handles track database operations.
type TrackRepository struct {
	q querier
}

const trackColumns = `id, name, artist_id, album_id, spotify_id, duration_ms, popularity, created_at`

func scanTrack(row pgx.Row) (*Track, error) {
	var track Track
	err := row.Scan(
		&track.ID,
		&track.Name,
		&track.ArtistID,
		&track.AlbumID,
		&track.SpotifyID,
		&track.DurationMs,
		&track.Popularity,
		&track.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &track, nil
}

// GetOrCreate looks a track up by its natural key (name, artist, album —
// album may be nil), creating it on first reference. A supplied Spotify ID
// backfills a null value but never overwrites one that is set.
func (r *TrackRepository) GetOrCreate(ctx context.Context, name string, artistID int64, albumID *int64, spotifyID *string) (*Track, error) {
	query := `
		INSERT INTO tracks (name, artist_id, album_id, spotify_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, artist_id, COALESCE(album_id, 0)) DO UPDATE SET
			spotify_id = COALESCE(tracks.spotify_id, EXCLUDED.spotify_id)
		RETURNING ` + trackColumns
	track, err := scanTrack(r.q.QueryRow(ctx, query, name, artistID, albumID, spotifyID))
	if err != nil {
		return nil, fmt.Errorf("upserting track: %w", err)
	}
	return track, nil
}

// Get retrieves a track by ID.
func (r *TrackRepository) Get(ctx context.Context, id int64) (*Track, error) {
	track, err := scanTrack(r.q.QueryRow(ctx, `SELECT `+trackColumns+` FROM tracks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying track: %w", err)
	}
	return track, nil
}

// SpotifyIDInUse reports whether any track already holds the catalog ID.
// Spotify IDs are unique across tracks; callers consult this before
// committing a match so a colliding match can be discarded.
func (r *TrackRepository) SpotifyIDInUse(ctx context.Context, spotifyID string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tracks WHERE spotify_id = $1)`, spotifyID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking spotify id: %w", err)
	}
	return exists, nil
}

// SetSpotifyID backfills the track's Spotify ID and optional metadata. Only
// a null Spotify ID is written. Returns whether a row was updated.
func (r *TrackRepository) SetSpotifyID(ctx context.Context, trackID int64, spotifyID string, durationMs, popularity *int) (bool, error) {
	query := `
		UPDATE tracks
		SET spotify_id = $2,
		    duration_ms = COALESCE($3, duration_ms),
		    popularity = COALESCE($4, popularity)
		WHERE id = $1 AND spotify_id IS NULL
	`
	tag, err := r.q.Exec(ctx, query, trackID, spotifyID, durationMs, popularity)
	if err != nil {
		return false, fmt.Errorf("setting track spotify id: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// WithoutSpotifyID returns up to limit tracks with IDs greater than afterID
// that still lack a Spotify ID, with the artist and album names a catalog
// search needs. The cursor lets a backfill pass walk the whole set even when
// earlier rows stay unmatched.
func (r *TrackRepository) WithoutSpotifyID(ctx context.Context, afterID int64, limit int) ([]UnmatchedTrack, error) {
	query := `
		SELECT t.id, t.name, t.artist_id, a.name, COALESCE(al.name, '')
		FROM tracks t
		JOIN artists a ON a.id = t.artist_id
		LEFT JOIN albums al ON al.id = t.album_id
		WHERE t.spotify_id IS NULL AND t.id > $1
		ORDER BY t.id
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unmatched tracks: %w", err)
	}
	defer rows.Close()

	var tracks []UnmatchedTrack
	for rows.Next() {
		var t UnmatchedTrack
		if err := rows.Scan(&t.ID, &t.Name, &t.ArtistID, &t.Artist, &t.Album); err != nil {
			return nil, fmt.Errorf("scanning unmatched track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// Count returns the number of stored tracks.
func (r *TrackRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM tracks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tracks: %w", err)
	}
	return n, nil
}
