package spotify

import (
	"context"
	"fmt"

	"github.com/zmb3/spotify/v2"

	"github.com/kpetersen/scrobblesync/internal/metrics"
)

// SearchTracks runs a free-text track search and returns up to limit
// candidates in API ranking order.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]Candidate, error) {
	metrics.RecordAPICall("spotify")
	result, err := c.api.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("searching tracks: %w", err)
	}

	if result.Tracks == nil {
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(result.Tracks.Tracks))
	for _, track := range result.Tracks.Tracks {
		candidates = append(candidates, convertCandidate(track))
	}
	return candidates, nil
}

// convertCandidate flattens a Spotify FullTrack into a Candidate.
func convertCandidate(track spotify.FullTrack) Candidate {
	artists := make([]string, len(track.Artists))
	artistIDs := make([]string, len(track.Artists))
	for i, a := range track.Artists {
		artists[i] = a.Name
		artistIDs[i] = a.ID.String()
	}

	return Candidate{
		ID:         track.ID.String(),
		Name:       track.Name,
		Artists:    artists,
		ArtistIDs:  artistIDs,
		AlbumName:  track.Album.Name,
		AlbumID:    track.Album.ID.String(),
		DurationMs: int(track.Duration),
		Popularity: int(track.Popularity),
	}
}
