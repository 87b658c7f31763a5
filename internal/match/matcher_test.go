package match

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kpetersen/scrobblesync/internal/spotify"
)

// fakeSearcher returns canned candidates per query and records the queries
// it received.
type fakeSearcher struct {
	results map[string][]spotify.Candidate
	queries []string
	err     error
}

func (f *fakeSearcher) SearchTracks(_ context.Context, query string, _ int) ([]spotify.Candidate, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func cand(id, name string, artists ...string) spotify.Candidate {
	return spotify.Candidate{ID: id, Name: name, Artists: artists}
}

func TestMatchDirectHit(t *testing.T) {
	search := &fakeSearcher{results: map[string][]spotify.Candidate{
		"Karma Police Radiohead OK Computer": {
			cand("wrong", "Karma Police", "Tribute Band Plus Extra Name"),
			cand("right", "Karma Police", "Radiohead"),
		},
	}}
	m := New(search, zerolog.Nop())

	got, err := m.Match(context.Background(), "Karma Police", "Radiohead", "OK Computer")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got == nil || got.ID != "right" {
		t.Fatalf("Match() = %+v, want candidate right", got)
	}
	if len(search.queries) != 1 {
		t.Errorf("made %d queries, want 1", len(search.queries))
	}
}

func TestMatchArtistOnlyFallbackWithinStrategy(t *testing.T) {
	// No candidate satisfies both name and artist, so the first candidate
	// with a matching artist is accepted.
	search := &fakeSearcher{results: map[string][]spotify.Candidate{
		"Some Song The Band": {
			cand("other", "Completely Different Title", "The Band"),
		},
	}}
	m := New(search, zerolog.Nop())

	got, err := m.Match(context.Background(), "Some Song", "The Band", "")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got == nil || got.ID != "other" {
		t.Fatalf("Match() = %+v, want artist-only fallback", got)
	}
}

func TestMatchDropsAlbum(t *testing.T) {
	search := &fakeSearcher{results: map[string][]spotify.Candidate{
		// Strategy 1 with album finds nothing; strategy 2 without album hits.
		"Song Title Artist Name": {
			cand("hit", "Song Title", "Artist Name"),
		},
	}}
	m := New(search, zerolog.Nop())

	got, err := m.Match(context.Background(), "Song Title", "Artist Name", "Obscure Album")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got == nil || got.ID != "hit" {
		t.Fatalf("Match() = %+v, want hit from album-less query", got)
	}
	if len(search.queries) != 2 {
		t.Errorf("made %d queries, want 2 (with album, then without)", len(search.queries))
	}
}

func TestMatchFeatSuffixFallback(t *testing.T) {
	// "Song (feat. X)" has no direct match but the stripped "Song" does.
	search := &fakeSearcher{results: map[string][]spotify.Candidate{
		"Song Artist": {
			cand("stripped", "Song", "Artist"),
		},
	}}
	m := New(search, zerolog.Nop())

	got, err := m.Match(context.Background(), "Song (feat. X)", "Artist", "")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got == nil || got.ID != "stripped" {
		t.Fatalf("Match() = %+v, want suffix-stripped match", got)
	}
}

func TestMatchAlternativeVersionScoring(t *testing.T) {
	// Strategies 1-3 find nothing for the exact title; the base-title search
	// returns several versions and the best-scoring one wins.
	search := &fakeSearcher{results: map[string][]spotify.Candidate{
		"Anthem Artist": {
			cand("overlap", "Anthem of Something Else Entirely Long", "Artist"),
			cand("exact", "Anthem", "Artist"),
			cand("contains", "Anthem - Live", "Artist"),
			cand("foreign", "Anthem", "Somebody Unrelated Here"),
		},
	}}
	m := New(search, zerolog.Nop())

	got, err := m.Match(context.Background(), "Anthem (Deluxe Mix)", "Artist", "")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got == nil || got.ID != "exact" {
		t.Fatalf("Match() = %+v, want exact-name alternative", got)
	}
}

func TestMatchNoMatchIsNotError(t *testing.T) {
	search := &fakeSearcher{results: map[string][]spotify.Candidate{}}
	m := New(search, zerolog.Nop())

	got, err := m.Match(context.Background(), "Unknown", "Nobody", "")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Match() = %+v, want nil for no match", got)
	}
}

func TestMatchSearchError(t *testing.T) {
	wantErr := errors.New("search down")
	search := &fakeSearcher{err: wantErr}
	m := New(search, zerolog.Nop())

	_, err := m.Match(context.Background(), "Track", "Artist", "")
	if !errors.Is(err, wantErr) {
		t.Fatalf("Match() error = %v, want %v", err, wantErr)
	}
}

func TestMatchBelowThresholdRejected(t *testing.T) {
	search := &fakeSearcher{results: map[string][]spotify.Candidate{
		"Long Base Title Here Artist": {
			// 1/4 word overlap scores 15, below the threshold.
			cand("weak", "Long Unrelated Words Instead", "Artist"),
		},
	}}
	m := New(search, zerolog.Nop())

	got, err := m.Match(context.Background(), "Long Base Title Here (Mix)", "Artist", "")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Match() = %+v, want nil for below-threshold score", got)
	}
}
