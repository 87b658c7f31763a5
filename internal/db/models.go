package db

import (
	"time"
)

// Artist is a unique performer, created lazily on first reference.
type Artist struct {
	ID        int64
	Name      string
	SpotifyID *string // nullable, backfilled, never overwritten once set
	Genres    []string
	CreatedAt time.Time
}

// Album belongs to one artist; (name, artist_id) is the natural key.
type Album struct {
	ID        int64
	Name      string
	ArtistID  int64
	SpotifyID *string // nullable
	CreatedAt time.Time
}

// Track is identified by (name, artist_id, album_id); album may be absent.
type Track struct {
	ID         int64
	Name       string
	ArtistID   int64
	AlbumID    *int64  // nullable
	SpotifyID  *string // nullable, globally unique when present
	DurationMs *int    // nullable
	Popularity *int    // nullable
	CreatedAt  time.Time
}

// Play is one listening event. (track_id, played_at) is the idempotency key
// that makes re-running a sync safe.
type Play struct {
	ID        int64
	TrackID   int64
	ArtistID  int64 // denormalized for query speed
	PlayedAt  time.Time
	Source    string
	SourceURL *string // nullable secondary natural key
}

// Playlist records a derived playlist pushed to the catalog service.
type Playlist struct {
	ID          int64
	Name        string
	SpotifyID   string
	Kind        string // "most_listened", "recent_favorites", "binged_songs"
	Size        int
	LastUpdated *time.Time
}

// SyncStatus is the lifecycle state of a sync checkpoint.
type SyncStatus string

// Checkpoint lifecycle states.
const (
	SyncIdle      SyncStatus = "idle"
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncError     SyncStatus = "error"
)

// Checkpoint is the durable progress record for one named sync process.
// It is mutated exclusively by the sync orchestrator.
type Checkpoint struct {
	SyncType        string
	Status          SyncStatus
	CurrentChunk    *string // e.g. "2019-01" for monthly chunks
	LastPage        int
	ChunksCompleted int
	EventsSynced    int64
	APICalls        int64
	StartedAt       *time.Time
	UpdatedAt       time.Time
	ErrorCount      int
	LastError       *string
}

// UnmatchedTrack carries the names a catalog search needs for a track that
// has no Spotify ID yet.
type UnmatchedTrack struct {
	ID       int64
	Name     string
	ArtistID int64
	Artist   string
	Album    string // empty when the track has no album
}

// TrackPlayCount pairs a track with an aggregated play count.
type TrackPlayCount struct {
	Track     Track
	PlayCount int64
}

// SourceCount is the number of stored plays per source tag.
type SourceCount struct {
	Source string
	Count  int64
}
