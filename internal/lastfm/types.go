package lastfm

import (
	"strconv"
	"time"
)

// PlayEvent is one normalized scrobble from the listening history.
type PlayEvent struct {
	Artist   string
	Album    string
	Track    string
	PlayedAt time.Time // UTC
	MBID     string
	URL      string
}

// PageInfo reports pagination attributes for one history window. The API
// paginates newest-first within a window, so callers need TotalPages to know
// when the window is exhausted.
type PageInfo struct {
	Page       int
	PerPage    int
	TotalPages int
	Total      int
}

// LastPage reports whether this page was the final one for its window.
func (p PageInfo) LastPage() bool {
	return p.Page >= p.TotalPages
}

// UserInfo holds the subset of user.getInfo the sync engine needs.
type UserInfo struct {
	Name       string
	PlayCount  int
	Registered time.Time
}

// recentTracksResponse is the JSON response for user.getRecentTracks.
// Numeric attributes arrive as strings.
type recentTracksResponse struct {
	RecentTracks struct {
		Track []rawTrack `json:"track"`
		Attr  struct {
			Page       string `json:"page"`
			PerPage    string `json:"perPage"`
			TotalPages string `json:"totalPages"`
			Total      string `json:"total"`
		} `json:"@attr"`
	} `json:"recenttracks"`
}

// rawTrack is one track entry as returned by the API. A track without a Date
// block is a now-playing marker and carries no completed play timestamp.
type rawTrack struct {
	Name   string `json:"name"`
	MBID   string `json:"mbid"`
	URL    string `json:"url"`
	Artist struct {
		MBID string `json:"mbid"`
		Text string `json:"#text"`
	} `json:"artist"`
	Album struct {
		MBID string `json:"mbid"`
		Text string `json:"#text"`
	} `json:"album"`
	Date *struct {
		UTS  string `json:"uts"`
		Text string `json:"#text"`
	} `json:"date"`
}

// normalize converts a raw API record into a PlayEvent. Returns false for
// records without a definite played-at timestamp (now-playing markers).
func (t rawTrack) normalize() (PlayEvent, bool) {
	if t.Date == nil {
		return PlayEvent{}, false
	}
	uts, err := strconv.ParseInt(t.Date.UTS, 10, 64)
	if err != nil || uts == 0 {
		return PlayEvent{}, false
	}
	return PlayEvent{
		Artist:   t.Artist.Text,
		Album:    t.Album.Text,
		Track:    t.Name,
		PlayedAt: time.Unix(uts, 0).UTC(),
		MBID:     t.MBID,
		URL:      t.URL,
	}, true
}

// userInfoResponse is the JSON response for user.getInfo.
type userInfoResponse struct {
	User struct {
		Name       string `json:"name"`
		PlayCount  string `json:"playcount"`
		Registered struct {
			UnixTime string `json:"unixtime"`
		} `json:"registered"`
	} `json:"user"`
}

// apiError represents a Last.fm API error response.
type apiError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
