package db

import (
	"context"
	"fmt"
)

// schema is the full DDL, applied idempotently on startup. The partial
// unique index on tracks folds NULL album IDs into the natural key so a
// track without an album cannot be created twice.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS artists (
		id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name text NOT NULL UNIQUE,
		spotify_id text UNIQUE,
		genres text[],
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS albums (
		id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name text NOT NULL,
		artist_id bigint NOT NULL REFERENCES artists(id),
		spotify_id text,
		created_at timestamptz NOT NULL DEFAULT now(),
		UNIQUE (name, artist_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tracks (
		id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name text NOT NULL,
		artist_id bigint NOT NULL REFERENCES artists(id),
		album_id bigint REFERENCES albums(id),
		spotify_id text UNIQUE,
		duration_ms int,
		popularity int,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tracks_natural_key
		ON tracks (name, artist_id, COALESCE(album_id, 0))`,
	`CREATE TABLE IF NOT EXISTS plays (
		id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		track_id bigint NOT NULL REFERENCES tracks(id),
		artist_id bigint NOT NULL REFERENCES artists(id),
		played_at timestamptz NOT NULL,
		source text NOT NULL DEFAULT 'lastfm',
		source_url text,
		UNIQUE (track_id, played_at)
	)`,
	`CREATE INDEX IF NOT EXISTS plays_played_at ON plays (played_at)`,
	`CREATE INDEX IF NOT EXISTS plays_source ON plays (source)`,
	`CREATE TABLE IF NOT EXISTS playlists (
		id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name text NOT NULL UNIQUE,
		spotify_id text NOT NULL UNIQUE,
		kind text NOT NULL,
		size int NOT NULL DEFAULT 50,
		last_updated timestamptz
	)`,
	`CREATE TABLE IF NOT EXISTS sync_checkpoints (
		sync_type text PRIMARY KEY,
		status text NOT NULL DEFAULT 'idle',
		current_chunk text,
		last_page int NOT NULL DEFAULT 1,
		chunks_completed int NOT NULL DEFAULT 0,
		events_synced bigint NOT NULL DEFAULT 0,
		api_calls bigint NOT NULL DEFAULT 0,
		started_at timestamptz,
		updated_at timestamptz NOT NULL DEFAULT now(),
		error_count int NOT NULL DEFAULT 0,
		last_error text
	)`,
}

// Migrate applies the schema. Safe to run on every startup.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}
