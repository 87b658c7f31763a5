// Package playlist derives managed Spotify playlists from the accumulated
// play history.
package playlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kpetersen/scrobblesync/internal/db"
)

// Common errors.
var (
	// ErrNoEligibleTracks is returned when a playlist query yields no
	// tracks with a Spotify ID.
	ErrNoEligibleTracks = errors.New("no tracks with spotify ids")
)

// Managed playlist names.
const (
	MostListenedName    = "Most Listened To"
	RecentFavoritesName = "Recent Favorites"
	BingedSongsName     = "Binged Songs"
)

// Defaults for playlist derivation.
const (
	DefaultSize          = 50
	DefaultRecentDays    = 30
	DefaultBingeMinPlays = 5
	DefaultBingeDays     = 90
)

// Catalog is the Spotify surface the service pushes playlists through.
type Catalog interface {
	CreatePlaylist(ctx context.Context, name, description string, public bool) (string, error)
	ReplacePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error
}

// Library is the local history the playlists are derived from.
type Library interface {
	CountsByTrack(ctx context.Context, days, limit int) ([]db.TrackPlayCount, error)
	Binged(ctx context.Context, minDailyPlays, days, limit int) ([]db.TrackPlayCount, error)
	GetPlaylist(ctx context.Context, name string) (*db.Playlist, error)
	UpsertPlaylist(ctx context.Context, name, spotifyID, kind string, size int) (*db.Playlist, error)
}

type dbLibrary struct {
	db *db.DB
}

// NewLibrary wraps a database handle in the Library surface.
func NewLibrary(database *db.DB) Library {
	return &dbLibrary{db: database}
}

func (l *dbLibrary) CountsByTrack(ctx context.Context, days, limit int) ([]db.TrackPlayCount, error) {
	return l.db.Plays().CountsByTrack(ctx, days, limit)
}

func (l *dbLibrary) Binged(ctx context.Context, minDailyPlays, days, limit int) ([]db.TrackPlayCount, error) {
	return l.db.Plays().Binged(ctx, minDailyPlays, days, limit)
}

func (l *dbLibrary) GetPlaylist(ctx context.Context, name string) (*db.Playlist, error) {
	return l.db.Playlists().Get(ctx, name)
}

func (l *dbLibrary) UpsertPlaylist(ctx context.Context, name, spotifyID, kind string, size int) (*db.Playlist, error) {
	return l.db.Playlists().Upsert(ctx, name, spotifyID, kind, size)
}

// Service maintains the derived playlists.
type Service struct {
	catalog Catalog
	library Library
	log     zerolog.Logger

	size          int
	recentDays    int
	bingeMinPlays int
	bingeDays     int
}

// Option configures a Service.
type Option func(*Service)

// WithSize sets how many tracks each playlist holds.
func WithSize(n int) Option {
	return func(s *Service) {
		s.size = n
	}
}

// WithRecentDays sets the recent-favorites window.
func WithRecentDays(n int) Option {
	return func(s *Service) {
		s.recentDays = n
	}
}

// WithBingeThreshold sets the daily play count that marks a track binged and
// the window it is evaluated over.
func WithBingeThreshold(minDailyPlays, days int) Option {
	return func(s *Service) {
		s.bingeMinPlays = minDailyPlays
		s.bingeDays = days
	}
}

// New creates a playlist service.
func New(catalog Catalog, library Library, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		catalog:       catalog,
		library:       library,
		log:           log.With().Str("component", "playlist").Logger(),
		size:          DefaultSize,
		recentDays:    DefaultRecentDays,
		bingeMinPlays: DefaultBingeMinPlays,
		bingeDays:     DefaultBingeDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update summarizes one refreshed playlist.
type Update struct {
	Name      string
	SpotifyID string
	Tracks    int
}

// UpdateAll refreshes every managed playlist. A playlist with no eligible
// tracks is skipped; other failures abort.
func (s *Service) UpdateAll(ctx context.Context) ([]Update, error) {
	var updates []Update
	for _, refresh := range []func(context.Context) (*Update, error){
		s.UpdateMostListened,
		s.UpdateRecentFavorites,
		s.UpdateBingedSongs,
	} {
		update, err := refresh(ctx)
		if errors.Is(err, ErrNoEligibleTracks) {
			continue
		}
		if err != nil {
			return updates, err
		}
		updates = append(updates, *update)
	}
	return updates, nil
}

// UpdateMostListened refreshes the all-time most played playlist.
func (s *Service) UpdateMostListened(ctx context.Context) (*Update, error) {
	counts, err := s.library.CountsByTrack(ctx, 0, s.size)
	if err != nil {
		return nil, fmt.Errorf("querying most played tracks: %w", err)
	}
	return s.push(ctx, MostListenedName, "most_listened", "Your most played songs of all time", counts)
}

// UpdateRecentFavorites refreshes the trailing-window favorites playlist.
func (s *Service) UpdateRecentFavorites(ctx context.Context) (*Update, error) {
	counts, err := s.library.CountsByTrack(ctx, s.recentDays, s.size)
	if err != nil {
		return nil, fmt.Errorf("querying recent favorites: %w", err)
	}
	description := fmt.Sprintf("Your favorites from the last %d days", s.recentDays)
	return s.push(ctx, RecentFavoritesName, "recent_favorites", description, counts)
}

// UpdateBingedSongs refreshes the heavy-rotation playlist.
func (s *Service) UpdateBingedSongs(ctx context.Context) (*Update, error) {
	counts, err := s.library.Binged(ctx, s.bingeMinPlays, s.bingeDays, s.size)
	if err != nil {
		return nil, fmt.Errorf("querying binged tracks: %w", err)
	}
	description := fmt.Sprintf("Songs you played %d+ times in a day", s.bingeMinPlays)
	return s.push(ctx, BingedSongsName, "binged_songs", description, counts)
}

// push replaces the playlist contents on Spotify and records the refresh
// locally, creating the playlist on first use.
func (s *Service) push(ctx context.Context, name, kind, description string, counts []db.TrackPlayCount) (*Update, error) {
	trackIDs := eligibleIDs(counts)
	if len(trackIDs) == 0 {
		s.log.Warn().Str("playlist", name).Msg("no tracks with spotify ids, skipping")
		return nil, ErrNoEligibleTracks
	}

	spotifyID, err := s.ensurePlaylist(ctx, name, description)
	if err != nil {
		return nil, err
	}

	if err := s.catalog.ReplacePlaylistTracks(ctx, spotifyID, trackIDs); err != nil {
		return nil, fmt.Errorf("updating %q on spotify: %w", name, err)
	}

	if _, err := s.library.UpsertPlaylist(ctx, name, spotifyID, kind, len(trackIDs)); err != nil {
		return nil, fmt.Errorf("recording %q: %w", name, err)
	}

	s.log.Info().Str("playlist", name).Int("tracks", len(trackIDs)).Msg("playlist updated")
	return &Update{Name: name, SpotifyID: spotifyID, Tracks: len(trackIDs)}, nil
}

func (s *Service) ensurePlaylist(ctx context.Context, name, description string) (string, error) {
	existing, err := s.library.GetPlaylist(ctx, name)
	if err == nil {
		return existing.SpotifyID, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return "", fmt.Errorf("looking up %q: %w", name, err)
	}

	spotifyID, err := s.catalog.CreatePlaylist(ctx, name, description, false)
	if err != nil {
		return "", fmt.Errorf("creating %q: %w", name, err)
	}
	s.log.Info().Str("playlist", name).Str("spotify_id", spotifyID).Msg("playlist created")
	return spotifyID, nil
}

// eligibleIDs keeps the Spotify IDs of matched tracks, preserving rank order.
func eligibleIDs(counts []db.TrackPlayCount) []string {
	var ids []string
	for _, c := range counts {
		if c.Track.SpotifyID != nil {
			ids = append(ids, *c.Track.SpotifyID)
		}
	}
	return ids
}
