package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/kpetersen/scrobblesync/internal/db"
	"github.com/kpetersen/scrobblesync/internal/lastfm"
	"github.com/kpetersen/scrobblesync/internal/spotify"
)

// UnresolvedTrack identifies a stored track that still lacks a Spotify ID
// after a batch was persisted.
type UnresolvedTrack struct {
	TrackID  int64
	ArtistID int64
	Name     string
	Artist   string
	Album    string
}

// BatchResult reports what persisting one page of events changed.
type BatchResult struct {
	Inserted   int
	Deduped    int
	Unresolved []UnresolvedTrack
}

// AssignOutcome classifies an attempt to attach a Spotify ID to a track.
type AssignOutcome int

const (
	// Assigned means the track now holds the Spotify ID.
	Assigned AssignOutcome = iota
	// Collision means another track already holds the Spotify ID; the
	// track stays unmatched.
	Collision
	// AlreadySet means the track gained a Spotify ID since it was read;
	// the existing ID is kept.
	AlreadySet
)

// Storage is the persistence surface the orchestrator and backfiller drive.
// *db.DB satisfies it through the Store adapter; tests substitute an
// in-memory implementation.
type Storage interface {
	Checkpoint(ctx context.Context, syncType string) (*db.Checkpoint, error)
	UpdateCheckpoint(ctx context.Context, syncType string, patch db.CheckpointPatch) error
	ResetCheckpoint(ctx context.Context, syncType string) error

	// LatestPlayedAt returns the newest stored play timestamp for a
	// source, or nil when none exist.
	LatestPlayedAt(ctx context.Context, source string) (*time.Time, error)

	// SavePlays persists one page of events atomically: artists, albums
	// and tracks are created as needed and each play is inserted unless
	// its (track, played-at) key already exists.
	SavePlays(ctx context.Context, events []lastfm.PlayEvent, source string) (*BatchResult, error)

	// AssignSpotifyID attaches an accepted candidate's ID to a track,
	// refusing when another track already holds it and never replacing an
	// ID already set. On success the artist's Spotify ID is backfilled
	// from the candidate when still unknown.
	AssignSpotifyID(ctx context.Context, trackID, artistID int64, c *spotify.Candidate) (AssignOutcome, error)

	// UnmatchedTracks returns up to limit tracks without a Spotify ID
	// whose IDs are greater than afterID, ordered by ID.
	UnmatchedTracks(ctx context.Context, afterID int64, limit int) ([]db.UnmatchedTrack, error)
}

type dbStorage struct {
	db *db.DB
}

// NewStorage wraps a database handle in the Storage surface.
func NewStorage(database *db.DB) Storage {
	return &dbStorage{db: database}
}

func (s *dbStorage) Checkpoint(ctx context.Context, syncType string) (*db.Checkpoint, error) {
	return s.db.Checkpoints().Get(ctx, syncType)
}

func (s *dbStorage) UpdateCheckpoint(ctx context.Context, syncType string, patch db.CheckpointPatch) error {
	return s.db.Checkpoints().Update(ctx, syncType, patch)
}

func (s *dbStorage) ResetCheckpoint(ctx context.Context, syncType string) error {
	return s.db.Checkpoints().Reset(ctx, syncType)
}

func (s *dbStorage) LatestPlayedAt(ctx context.Context, source string) (*time.Time, error) {
	return s.db.Plays().LatestPlayedAt(ctx, source)
}

func (s *dbStorage) SavePlays(ctx context.Context, events []lastfm.PlayEvent, source string) (*BatchResult, error) {
	result := &BatchResult{}
	seen := make(map[int64]bool)

	err := s.db.WithTx(ctx, func(store *db.Store) error {
		for _, e := range events {
			artist, err := store.Artists().GetOrCreate(ctx, e.Artist, nil)
			if err != nil {
				return fmt.Errorf("artist %q: %w", e.Artist, err)
			}

			var albumID *int64
			if e.Album != "" {
				album, err := store.Albums().GetOrCreate(ctx, e.Album, artist.ID, nil)
				if err != nil {
					return fmt.Errorf("album %q: %w", e.Album, err)
				}
				albumID = &album.ID
			}

			track, err := store.Tracks().GetOrCreate(ctx, e.Track, artist.ID, albumID, nil)
			if err != nil {
				return fmt.Errorf("track %q: %w", e.Track, err)
			}

			var sourceURL *string
			if e.URL != "" {
				u := e.URL
				sourceURL = &u
			}

			inserted, err := store.Plays().Add(ctx, track.ID, artist.ID, e.PlayedAt, source, sourceURL)
			if err != nil {
				return fmt.Errorf("play for track %q: %w", e.Track, err)
			}
			if inserted {
				result.Inserted++
			} else {
				result.Deduped++
			}

			if track.SpotifyID == nil && !seen[track.ID] {
				seen[track.ID] = true
				result.Unresolved = append(result.Unresolved, UnresolvedTrack{
					TrackID:  track.ID,
					ArtistID: artist.ID,
					Name:     e.Track,
					Artist:   e.Artist,
					Album:    e.Album,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *dbStorage) AssignSpotifyID(ctx context.Context, trackID, artistID int64, c *spotify.Candidate) (AssignOutcome, error) {
	inUse, err := s.db.Tracks().SpotifyIDInUse(ctx, c.ID)
	if err != nil {
		return Collision, err
	}
	if inUse {
		return Collision, nil
	}

	duration := c.DurationMs
	popularity := c.Popularity
	set, err := s.db.Tracks().SetSpotifyID(ctx, trackID, c.ID, &duration, &popularity)
	if err != nil {
		return Collision, err
	}
	if !set {
		return AlreadySet, nil
	}

	if len(c.ArtistIDs) > 0 {
		if _, err := s.db.Artists().BackfillSpotifyID(ctx, artistID, c.ArtistIDs[0]); err != nil {
			return Assigned, fmt.Errorf("backfilling artist spotify id: %w", err)
		}
	}
	return Assigned, nil
}

func (s *dbStorage) UnmatchedTracks(ctx context.Context, afterID int64, limit int) ([]db.UnmatchedTrack, error) {
	return s.db.Tracks().WithoutSpotifyID(ctx, afterID, limit)
}
