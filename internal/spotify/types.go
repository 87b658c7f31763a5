package spotify

// Candidate is one ranked track returned by catalog search, flattened to the
// fields the matcher and persistence layer consume.
type Candidate struct {
	ID         string
	Name       string
	Artists    []string
	ArtistIDs  []string
	AlbumName  string
	AlbumID    string
	DurationMs int
	Popularity int
}
