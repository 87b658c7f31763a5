// Package match resolves listening-history tracks to catalog search results
// using layered fallback query strategies and candidate scoring.
package match

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kpetersen/scrobblesync/internal/spotify"
)

// Candidate limits per strategy.
const (
	primaryLimit     = 10
	fallbackLimit    = 5
	alternativeLimit = 20
)

// Alternative-version scoring.
const (
	scoreExactName   = 100
	scoreSubstring   = 80
	scoreWordOverlap = 60
	scoreThreshold   = 40
)

// Searcher runs a ranked free-text catalog search.
type Searcher interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]spotify.Candidate, error)
}

// Matcher finds the catalog track for a (track, artist, album) name triple.
type Matcher struct {
	search Searcher
	log    zerolog.Logger
}

// New creates a Matcher backed by the given catalog search.
func New(search Searcher, log zerolog.Logger) *Matcher {
	return &Matcher{
		search: search,
		log:    log.With().Str("component", "match").Logger(),
	}
}

// Match applies the fallback strategies in order and returns the first
// accepted candidate. A nil candidate with a nil error means no match, which
// is a valid terminal state, not a failure. A non-nil error is only returned
// when the search itself fails.
func (m *Matcher) Match(ctx context.Context, trackName, artistName, albumName string) (*spotify.Candidate, error) {
	trackQ := truncateQuery(trackName, maxTrackQueryLen)
	artistQ := truncateQuery(artistName, maxArtistQueryLen)

	normTrack := normalize(trackName)
	normArtist := normalize(artistName)

	// Strategy 1: track + artist [+ album] concatenation.
	parts := []string{trackQ, artistQ}
	if albumName != "" && len(albumName) < maxAlbumFieldLen {
		parts = append(parts, truncateQuery(albumName, maxAlbumQueryLen))
	}
	cand, err := m.searchAndPick(ctx, strings.Join(parts, " "), primaryLimit, normTrack, normArtist)
	if err != nil || cand != nil {
		return cand, err
	}

	// Strategy 2: drop the album.
	if len(parts) > 2 {
		cand, err = m.searchAndPick(ctx, trackQ+" "+artistQ, fallbackLimit, normTrack, normArtist)
		if err != nil || cand != nil {
			return cand, err
		}
	}

	// Strategy 3: strip edition suffixes from the title.
	if stripped := stripEditionSuffixes(trackName); stripped != "" && stripped != trackName {
		strippedQ := truncateQuery(stripped, maxTrackQueryLen)
		cand, err = m.searchAndPick(ctx, strippedQ+" "+artistQ, fallbackLimit, normalize(stripped), normArtist)
		if err != nil || cand != nil {
			return cand, err
		}
	}

	// Strategy 4: alternative versions of the base title, scored.
	cand, err = m.matchAlternative(ctx, trackName, artistQ, normArtist)
	if err != nil || cand != nil {
		return cand, err
	}

	m.log.Debug().
		Str("track", trackName).
		Str("artist", artistName).
		Msg("no catalog match")
	return nil, nil
}

// searchAndPick runs one search and applies the acceptance rule: prefer the
// first candidate whose artist and track names both substring-match the
// normalized input (either direction), falling back to the first candidate
// with only an artist match.
func (m *Matcher) searchAndPick(ctx context.Context, query string, limit int, normTrack, normArtist string) (*spotify.Candidate, error) {
	candidates, err := m.search.SearchTracks(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	var artistOnly *spotify.Candidate
	for i := range candidates {
		cand := &candidates[i]
		if !artistMatches(cand, normArtist) {
			continue
		}
		if containsEither(normalize(cand.Name), normTrack) {
			return cand, nil
		}
		if artistOnly == nil {
			artistOnly = cand
		}
	}
	return artistOnly, nil
}

// matchAlternative searches on the base title alone and scores candidates by
// name similarity, accepting the best one above the threshold. This finds
// live, acoustic or re-released versions when the exact edition is not in
// the catalog.
func (m *Matcher) matchAlternative(ctx context.Context, trackName, artistQ, normArtist string) (*spotify.Candidate, error) {
	base := baseTitle(trackName)
	if base == "" {
		return nil, nil
	}
	baseQ := truncateQuery(base, maxTrackQueryLen)

	candidates, err := m.search.SearchTracks(ctx, baseQ+" "+artistQ, alternativeLimit)
	if err != nil {
		return nil, err
	}

	normBase := normalize(base)
	var best *spotify.Candidate
	bestScore := 0

	for i := range candidates {
		cand := &candidates[i]
		if !artistMatches(cand, normArtist) {
			continue
		}

		score := scoreName(normalize(cand.Name), normBase)
		if score > scoreThreshold && score > bestScore {
			best = cand
			bestScore = score
		}
	}

	if best != nil {
		m.log.Debug().
			Str("track", trackName).
			Str("matched", best.Name).
			Int("score", bestScore).
			Msg("accepted alternative version")
	}
	return best, nil
}

// scoreName rates a candidate title against the base title: exact match,
// then substring containment, then fractional word overlap.
func scoreName(candName, baseName string) int {
	if candName == baseName {
		return scoreExactName
	}
	if strings.Contains(candName, baseName) {
		return scoreSubstring
	}

	baseWords := strings.Fields(baseName)
	if len(baseWords) == 0 {
		return 0
	}
	candWords := make(map[string]bool)
	for _, w := range strings.Fields(candName) {
		candWords[w] = true
	}

	common := 0
	for _, w := range baseWords {
		if candWords[w] {
			common++
		}
	}
	return common * scoreWordOverlap / len(baseWords)
}

// artistMatches reports whether any of the candidate's artists substring-
// matches the normalized input artist in either direction.
func artistMatches(cand *spotify.Candidate, normArtist string) bool {
	for _, a := range cand.Artists {
		if containsEither(normalize(a), normArtist) {
			return true
		}
	}
	return false
}
