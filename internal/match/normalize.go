package match

import (
	"regexp"
	"strings"
)

// Query-length budgets for search fields. The search endpoint degrades on
// overlong free-text queries, so fields are truncated at word boundaries.
const (
	maxTrackQueryLen  = 30
	maxArtistQueryLen = 20
	maxAlbumQueryLen  = 20

	// Albums longer than this are dropped from the query entirely.
	maxAlbumFieldLen = 50
)

var (
	punctRe      = regexp.MustCompile(`[^\p{L}\p{N}\s-]`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	// editionSuffixRe strips featured-artist credits, bracketed qualifiers
	// and edit/version suffixes, e.g. "(feat. X)", "[Live]", "- Remix".
	editionSuffixRe = regexp.MustCompile(`(?i)\s*\(feat\..*?\)|\s*\[.*?\]|\s*-\s*(Remix|Edit|Version).*$`)

	// parentheticalRe strips any parenthetical or bracketed suffix, used to
	// reduce a title to its base name for alternative-version search.
	parentheticalRe = regexp.MustCompile(`\s*\(.*?\)|\s*\[.*?\]`)
)

// normalize lowers a string and strips punctuation for comparison: all
// punctuation becomes whitespace, runs of whitespace collapse to one space.
func normalize(s string) string {
	s = punctRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// truncateQuery shortens text to at most max runes, preferring to cut at a
// word boundary when one falls in the trailing 40% of the budget.
func truncateQuery(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	truncated := string(runes[:max])
	lastSpace := strings.LastIndex(truncated, " ")
	if lastSpace > max*6/10 {
		return truncated[:lastSpace]
	}
	return truncated
}

// stripEditionSuffixes removes featured-artist and edit/version suffixes
// from a track title.
func stripEditionSuffixes(title string) string {
	return strings.TrimSpace(editionSuffixRe.ReplaceAllString(title, ""))
}

// baseTitle removes every parenthetical or bracketed suffix from a title.
func baseTitle(title string) string {
	return strings.TrimSpace(parentheticalRe.ReplaceAllString(title, ""))
}

// containsEither reports whether either normalized string contains the other.
func containsEither(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}
