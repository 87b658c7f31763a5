package spotify

import (
	"context"
	"fmt"

	"github.com/zmb3/spotify/v2"
)

const maxTracksPerRequest = 100

// CreatePlaylist creates a new playlist for the current user.
// Returns the playlist ID.
func (c *Client) CreatePlaylist(ctx context.Context, name, description string, public bool) (string, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return "", err
	}

	playlist, err := c.api.CreatePlaylistForUser(ctx, userID, name, description, public, false)
	if err != nil {
		return "", fmt.Errorf("creating playlist: %w", err)
	}

	return playlist.ID.String(), nil
}

// ReplacePlaylistTracks replaces the playlist's contents with the given
// tracks. The API accepts at most 100 IDs per call, so the first 100 replace
// the existing contents and the remainder are appended in batches.
func (c *Client) ReplacePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	ids := toSpotifyIDs(trackIDs)

	head := ids
	if len(head) > maxTracksPerRequest {
		head = head[:maxTracksPerRequest]
	}
	if err := c.api.ReplacePlaylistTracks(ctx, spotify.ID(playlistID), head...); err != nil {
		return fmt.Errorf("replacing playlist tracks: %w", err)
	}

	if len(ids) > maxTracksPerRequest {
		return c.addTracks(ctx, spotify.ID(playlistID), ids[maxTracksPerRequest:])
	}
	return nil
}

// AddTracksToPlaylist appends tracks to a playlist in batches of 100.
func (c *Client) AddTracksToPlaylist(ctx context.Context, playlistID string, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return nil
	}
	return c.addTracks(ctx, spotify.ID(playlistID), toSpotifyIDs(trackIDs))
}

func (c *Client) addTracks(ctx context.Context, playlistID spotify.ID, ids []spotify.ID) error {
	for i := 0; i < len(ids); i += maxTracksPerRequest {
		end := min(i+maxTracksPerRequest, len(ids))
		batch := ids[i:end]

		_, err := c.api.AddTracksToPlaylist(ctx, playlistID, batch...)
		if err != nil {
			return fmt.Errorf("adding tracks (batch %d-%d): %w", i+1, end, err)
		}
	}
	return nil
}

func toSpotifyIDs(trackIDs []string) []spotify.ID {
	ids := make([]spotify.ID, len(trackIDs))
	for i, id := range trackIDs {
		ids[i] = spotify.ID(id)
	}
	return ids
}
