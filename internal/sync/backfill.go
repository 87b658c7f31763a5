package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kpetersen/scrobblesync/internal/db"
	"github.com/kpetersen/scrobblesync/internal/metrics"
	"github.com/kpetersen/scrobblesync/internal/spotify"
)

// DefaultBackfillBatch is how many unmatched tracks a backfill pass loads
// per database round trip.
const DefaultBackfillBatch = 200

// Backfiller resolves Spotify IDs for tracks the sync loop left unmatched.
// It walks the unmatched set in ID order and searches the catalog at most
// once per distinct (name, artist) key, since stored versions of the same
// song differ only by album.
type Backfiller struct {
	matcher TrackMatcher
	store   Storage
	log     zerolog.Logger

	batchSize int
}

// BackfillOption configures a Backfiller.
type BackfillOption func(*Backfiller)

// WithBackfillBatch sets the per-round-trip track batch size.
func WithBackfillBatch(n int) BackfillOption {
	return func(b *Backfiller) {
		b.batchSize = n
	}
}

// NewBackfiller creates a backfill pass over unmatched tracks.
func NewBackfiller(matcher TrackMatcher, store Storage, log zerolog.Logger, opts ...BackfillOption) *Backfiller {
	b := &Backfiller{
		matcher:   matcher,
		store:     store,
		log:       log.With().Str("component", "backfill").Logger(),
		batchSize: DefaultBackfillBatch,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BackfillResult summarizes one backfill pass.
type BackfillResult struct {
	Examined   int
	Matched    int
	NoMatch    int
	Collisions int
	Errors     int
}

// searchResult caches the outcome of one catalog search so a key shared by
// several tracks is searched once.
type searchResult struct {
	candidate *spotify.Candidate
	failed    bool
}

// Run searches the catalog for every stored track without a Spotify ID and
// assigns accepted candidates. A Spotify ID can only be held by one track,
// so when several tracks share a search key the first gets the ID and the
// rest are logged as collisions and stay unmatched.
func (b *Backfiller) Run(ctx context.Context) (*BackfillResult, error) {
	result := &BackfillResult{}
	cache := make(map[string]searchResult)

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		tracks, err := b.store.UnmatchedTracks(ctx, afterID, b.batchSize)
		if err != nil {
			return result, fmt.Errorf("loading unmatched tracks: %w", err)
		}
		if len(tracks) == 0 {
			break
		}
		afterID = tracks[len(tracks)-1].ID

		for _, t := range tracks {
			result.Examined++
			b.backfillTrack(ctx, t, cache, result)
		}

		b.log.Info().
			Int("examined", result.Examined).
			Int("matched", result.Matched).
			Int("no_match", result.NoMatch).
			Int("collisions", result.Collisions).
			Msg("backfill batch done")
	}

	b.log.Info().
		Int("examined", result.Examined).
		Int("matched", result.Matched).
		Int("no_match", result.NoMatch).
		Int("collisions", result.Collisions).
		Int("errors", result.Errors).
		Msg("backfill pass complete")
	return result, nil
}

func (b *Backfiller) backfillTrack(ctx context.Context, t db.UnmatchedTrack, cache map[string]searchResult, result *BackfillResult) {
	key := searchKey(t.Name, t.Artist)
	cached, ok := cache[key]
	if !ok {
		candidate, err := b.matcher.Match(ctx, t.Name, t.Artist, t.Album)
		if err != nil {
			result.Errors++
			metrics.RecordMatchOutcome(metrics.OutcomeError)
			b.log.Warn().Err(err).Str("track", t.Name).Str("artist", t.Artist).Msg("catalog search failed")
			cache[key] = searchResult{failed: true}
			return
		}
		cached = searchResult{candidate: candidate}
		cache[key] = cached
	}
	if cached.failed {
		result.Errors++
		return
	}
	if cached.candidate == nil {
		result.NoMatch++
		metrics.RecordMatchOutcome(metrics.OutcomeNoMatch)
		return
	}

	outcome, err := b.store.AssignSpotifyID(ctx, t.ID, t.ArtistID, cached.candidate)
	if err != nil {
		result.Errors++
		metrics.RecordMatchOutcome(metrics.OutcomeError)
		b.log.Warn().Err(err).Str("track", t.Name).Str("spotify_id", cached.candidate.ID).Msg("assigning spotify id failed")
		return
	}
	switch outcome {
	case Assigned:
		result.Matched++
		metrics.RecordMatchOutcome(metrics.OutcomeMatched)
		b.log.Debug().Str("track", t.Name).Str("artist", t.Artist).Str("spotify_id", cached.candidate.ID).Msg("spotify id assigned")
	case Collision:
		result.Collisions++
		metrics.RecordMatchOutcome(metrics.OutcomeCollision)
		b.log.Info().Str("track", t.Name).Str("artist", t.Artist).Str("spotify_id", cached.candidate.ID).Msg("spotify id already held by another track, leaving unmatched")
	case AlreadySet:
	}
}

func searchKey(name, artist string) string {
	return strings.ToLower(name) + "\x00" + strings.ToLower(artist)
}
