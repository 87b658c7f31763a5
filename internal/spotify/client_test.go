package spotify

import (
	"testing"

	"github.com/zmb3/spotify/v2"
)

func TestConvertCandidate(t *testing.T) {
	tests := []struct {
		name        string
		track       spotify.FullTrack
		wantID      string
		wantArtists []string
		wantAlbum   string
	}{
		{
			name: "single artist",
			track: spotify.FullTrack{
				SimpleTrack: spotify.SimpleTrack{
					ID:   "track123",
					Name: "Test Song",
					Artists: []spotify.SimpleArtist{
						{ID: "artist1", Name: "Artist One"},
					},
					Duration: 215000,
				},
				Album:      spotify.SimpleAlbum{ID: "album1", Name: "Test Album"},
				Popularity: 64,
			},
			wantID:      "track123",
			wantArtists: []string{"Artist One"},
			wantAlbum:   "Test Album",
		},
		{
			name: "multiple artists",
			track: spotify.FullTrack{
				SimpleTrack: spotify.SimpleTrack{
					ID:   "track456",
					Name: "Collab Track",
					Artists: []spotify.SimpleArtist{
						{ID: "a", Name: "Artist A"},
						{ID: "b", Name: "Artist B"},
					},
				},
			},
			wantID:      "track456",
			wantArtists: []string{"Artist A", "Artist B"},
			wantAlbum:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertCandidate(tt.track)

			if got.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", got.ID, tt.wantID)
			}
			if len(got.Artists) != len(tt.wantArtists) {
				t.Fatalf("Artists = %v, want %v", got.Artists, tt.wantArtists)
			}
			for i, a := range tt.wantArtists {
				if got.Artists[i] != a {
					t.Errorf("Artists[%d] = %q, want %q", i, got.Artists[i], a)
				}
			}
			if got.AlbumName != tt.wantAlbum {
				t.Errorf("AlbumName = %q, want %q", got.AlbumName, tt.wantAlbum)
			}
		})
	}
}

func TestToSpotifyIDs(t *testing.T) {
	ids := toSpotifyIDs([]string{"a", "b", "c"})
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
	if ids[0] != spotify.ID("a") || ids[2] != spotify.ID("c") {
		t.Errorf("unexpected ids: %v", ids)
	}
}
