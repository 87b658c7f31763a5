package db

import (
	"context"
	"fmt"
	"time"
)

// PlayRepository handles play-event database operations.
type PlayRepository struct {
	q querier
}

// Add appends a play event unless one with the same (track, played-at) key
// already exists. The conflict target is the sole deduplication gate for
// replayed or overlapping sync windows — first write wins. Returns whether
// the event was inserted.
func (r *PlayRepository) Add(ctx context.Context, trackID, artistID int64, playedAt time.Time, source string, sourceURL *string) (bool, error) {
	query := `
		INSERT INTO plays (track_id, artist_id, played_at, source, source_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (track_id, played_at) DO NOTHING
	`
	tag, err := r.q.Exec(ctx, query, trackID, artistID, playedAt, source, sourceURL)
	if err != nil {
		return false, fmt.Errorf("inserting play: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Count returns the total number of stored plays.
func (r *PlayRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM plays`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting plays: %w", err)
	}
	return n, nil
}

// LatestPlayedAt returns the most recent stored play timestamp for a source,
// or nil when no plays exist. The sync orchestrator treats this as its
// high-water mark.
func (r *PlayRepository) LatestPlayedAt(ctx context.Context, source string) (*time.Time, error) {
	var latest *time.Time
	err := r.q.QueryRow(ctx,
		`SELECT max(played_at) FROM plays WHERE source = $1`, source,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("querying latest play: %w", err)
	}
	return latest, nil
}

// CountsByTrack returns tracks ordered by play count. A non-zero days value
// restricts the aggregation to the trailing window.
func (r *PlayRepository) CountsByTrack(ctx context.Context, days, limit int) ([]TrackPlayCount, error) {
	query := `
		SELECT t.id, t.name, t.artist_id, t.album_id, t.spotify_id, t.duration_ms, t.popularity, t.created_at,
		       count(p.id) AS play_count
		FROM tracks t
		JOIN plays p ON p.track_id = t.id
		WHERE ($1 = 0 OR p.played_at >= now() - make_interval(days => $1))
		GROUP BY t.id
		ORDER BY play_count DESC
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, days, limit)
	if err != nil {
		return nil, fmt.Errorf("querying play counts: %w", err)
	}
	defer rows.Close()

	var counts []TrackPlayCount
	for rows.Next() {
		var c TrackPlayCount
		if err := rows.Scan(
			&c.Track.ID,
			&c.Track.Name,
			&c.Track.ArtistID,
			&c.Track.AlbumID,
			&c.Track.SpotifyID,
			&c.Track.DurationMs,
			&c.Track.Popularity,
			&c.Track.CreatedAt,
			&c.PlayCount,
		); err != nil {
			return nil, fmt.Errorf("scanning play count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Recent returns the most recent plays, newest first.
func (r *PlayRepository) Recent(ctx context.Context, limit int) ([]Play, error) {
	query := `
		SELECT id, track_id, artist_id, played_at, source, source_url
		FROM plays
		ORDER BY played_at DESC
		LIMIT $1
	`
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent plays: %w", err)
	}
	defer rows.Close()

	var plays []Play
	for rows.Next() {
		var p Play
		if err := rows.Scan(&p.ID, &p.TrackID, &p.ArtistID, &p.PlayedAt, &p.Source, &p.SourceURL); err != nil {
			return nil, fmt.Errorf("scanning play: %w", err)
		}
		plays = append(plays, p)
	}
	return plays, rows.Err()
}

// CountBySource returns the number of stored plays per source tag.
func (r *PlayRepository) CountBySource(ctx context.Context) ([]SourceCount, error) {
	rows, err := r.q.Query(ctx, `SELECT source, count(*) FROM plays GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("querying source counts: %w", err)
	}
	defer rows.Close()

	var counts []SourceCount
	for rows.Next() {
		var c SourceCount
		if err := rows.Scan(&c.Source, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning source count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Binged returns tracks that were played at least minDailyPlays times within
// a single day, ordered by the sum of those heavy-rotation days. A non-zero
// days value restricts the window.
func (r *PlayRepository) Binged(ctx context.Context, minDailyPlays, days, limit int) ([]TrackPlayCount, error) {
	query := `
		WITH daily AS (
			SELECT track_id, date_trunc('day', played_at) AS day, count(*) AS daily_count
			FROM plays
			WHERE ($2 = 0 OR played_at >= now() - make_interval(days => $2))
			GROUP BY track_id, day
			HAVING count(*) >= $1
		)
		SELECT t.id, t.name, t.artist_id, t.album_id, t.spotify_id, t.duration_ms, t.popularity, t.created_at,
		       sum(d.daily_count) AS binged_plays
		FROM tracks t
		JOIN daily d ON d.track_id = t.id
		GROUP BY t.id
		ORDER BY binged_plays DESC
		LIMIT $3
	`
	rows, err := r.q.Query(ctx, query, minDailyPlays, days, limit)
	if err != nil {
		return nil, fmt.Errorf("querying binged tracks: %w", err)
	}
	defer rows.Close()

	var counts []TrackPlayCount
	for rows.Next() {
		var c TrackPlayCount
		if err := rows.Scan(
			&c.Track.ID,
			&c.Track.Name,
			&c.Track.ArtistID,
			&c.Track.AlbumID,
			&c.Track.SpotifyID,
			&c.Track.DurationMs,
			&c.Track.Popularity,
			&c.Track.CreatedAt,
			&c.PlayCount,
		); err != nil {
			return nil, fmt.Errorf("scanning binged track: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
