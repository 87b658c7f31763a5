package sync

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kpetersen/scrobblesync/internal/lastfm"
	"github.com/kpetersen/scrobblesync/internal/spotify"
)

func seedTracks(t *testing.T, store *memStorage, events ...lastfm.PlayEvent) {
	t.Helper()
	if _, err := store.SavePlays(context.Background(), events, SyncTypeLastfm); err != nil {
		t.Fatalf("seeding tracks: %v", err)
	}
}

func TestBackfillAssignsUnmatchedTracks(t *testing.T) {
	store := newMemStorage()
	base := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	seedTracks(t, store,
		lastfm.PlayEvent{Artist: "Artist", Track: "Song A", PlayedAt: base},
		lastfm.PlayEvent{Artist: "Artist", Track: "Song B", PlayedAt: base.Add(time.Hour)},
	)

	matcher := &stubMatcher{candidates: map[string]*spotify.Candidate{
		"Song A|Artist": {ID: "id-a", Name: "Song A", Artists: []string{"Artist"}, ArtistIDs: []string{"artist1"}},
	}}
	bf := NewBackfiller(matcher, store, zerolog.Nop())

	result, err := bf.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Examined != 2 {
		t.Errorf("Examined = %d, want 2", result.Examined)
	}
	if result.Matched != 1 {
		t.Errorf("Matched = %d, want 1", result.Matched)
	}
	if result.NoMatch != 1 {
		t.Errorf("NoMatch = %d, want 1", result.NoMatch)
	}
	if id := store.spotifyIDOf("Song A", "Artist", ""); id == nil || *id != "id-a" {
		t.Errorf("Song A spotify id = %v, want id-a", id)
	}
	if id := store.spotifyIDOf("Song B", "Artist", ""); id != nil {
		t.Errorf("Song B spotify id = %v, want unmatched", *id)
	}
	if store.artistSpotify[1] == nil || *store.artistSpotify[1] != "artist1" {
		t.Error("artist spotify id not backfilled")
	}
}

func TestBackfillSearchesOncePerKey(t *testing.T) {
	store := newMemStorage()
	base := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	// Same song on two albums: two track rows, one search key.
	seedTracks(t, store,
		lastfm.PlayEvent{Artist: "Artist", Track: "Song", Album: "Studio", PlayedAt: base},
		lastfm.PlayEvent{Artist: "Artist", Track: "Song", Album: "Live", PlayedAt: base.Add(time.Hour)},
	)

	matcher := &stubMatcher{candidates: map[string]*spotify.Candidate{
		"Song|Artist": {ID: "shared-id", Name: "Song", Artists: []string{"Artist"}},
	}}
	bf := NewBackfiller(matcher, store, zerolog.Nop())

	result, err := bf.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if matcher.calls != 1 {
		t.Errorf("matcher calls = %d, want 1", matcher.calls)
	}
	if result.Matched != 1 {
		t.Errorf("Matched = %d, want 1", result.Matched)
	}
	if result.Collisions != 1 {
		t.Errorf("Collisions = %d, want 1", result.Collisions)
	}

	// Exactly one of the two rows holds the ID.
	studio := store.spotifyIDOf("Song", "Artist", "Studio")
	live := store.spotifyIDOf("Song", "Artist", "Live")
	if studio == nil || *studio != "shared-id" {
		t.Errorf("first-processed track spotify id = %v, want shared-id", studio)
	}
	if live != nil {
		t.Errorf("second track spotify id = %v, want unmatched", *live)
	}
}

func TestBackfillWalksAllBatches(t *testing.T) {
	store := newMemStorage()
	base := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	seedTracks(t, store,
		lastfm.PlayEvent{Artist: "A", Track: "One", PlayedAt: base},
		lastfm.PlayEvent{Artist: "B", Track: "Two", PlayedAt: base.Add(time.Hour)},
		lastfm.PlayEvent{Artist: "C", Track: "Three", PlayedAt: base.Add(2 * time.Hour)},
	)

	matcher := &stubMatcher{candidates: map[string]*spotify.Candidate{}}
	bf := NewBackfiller(matcher, store, zerolog.Nop(), WithBackfillBatch(1))

	result, err := bf.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Examined != 3 {
		t.Errorf("Examined = %d, want 3", result.Examined)
	}
	if result.NoMatch != 3 {
		t.Errorf("NoMatch = %d, want 3", result.NoMatch)
	}
}

func TestBackfillNeverReplacesExistingID(t *testing.T) {
	store := newMemStorage()
	base := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	seedTracks(t, store,
		lastfm.PlayEvent{Artist: "Artist", Track: "Song", PlayedAt: base},
	)

	ctx := context.Background()
	first := &spotify.Candidate{ID: "original-id", Name: "Song"}
	if outcome, err := store.AssignSpotifyID(ctx, 2, 1, first); err != nil || outcome != Assigned {
		t.Fatalf("seeding assignment: outcome=%v err=%v", outcome, err)
	}

	matcher := &stubMatcher{candidates: map[string]*spotify.Candidate{
		"Song|Artist": {ID: "different-id", Name: "Song"},
	}}
	bf := NewBackfiller(matcher, store, zerolog.Nop())

	if _, err := bf.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if id := store.spotifyIDOf("Song", "Artist", ""); id == nil || *id != "original-id" {
		t.Errorf("spotify id = %v, want original-id kept", id)
	}
}
