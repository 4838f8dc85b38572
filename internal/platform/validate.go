package platform

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Words too generic to identify a restaurant in a search result.
var stopWords = map[string]struct{}{
	"the":        {},
	"a":          {},
	"an":         {},
	"and":        {},
	"or":         {},
	"&":          {},
	"restaurant": {},
	"bar":        {},
	"grill":      {},
	"kitchen":    {},
}

var (
	foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	punctRe     = regexp.MustCompile(`[^\w\s]`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// normalize lowercases, folds accents, replaces punctuation with spaces,
// and collapses runs of whitespace. "Per-Se | Wine List" becomes
// "per se wine list".
func normalize(s string) string {
	out, _, err := transform.String(foldAccents, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(out)
	out = punctRe.ReplaceAllString(out, " ")
	out = spaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

func significantWords(name string) []string {
	all := strings.Fields(normalize(name))
	var words []string
	for _, w := range all {
		if _, stop := stopWords[w]; stop {
			continue
		}
		words = append(words, w)
	}
	// A name made entirely of stop words still has to match something.
	if len(words) == 0 {
		return all
	}
	return words
}

// NameMatches decides whether a platform page belongs to the restaurant.
// Short names (one or two significant words) must appear whole, as the
// full normalized name, in the page headings; with three or more
// significant words it is enough that every word appears somewhere, so
// "Le Bernardin Wine Cellar" still matches "Wine List | Le Bernardin NYC".
func NameMatches(name, headingText string) bool {
	nameNorm := normalize(name)
	if nameNorm == "" {
		return false
	}
	words := significantWords(name)
	haystack := normalize(headingText)

	if len(words) <= 2 {
		return strings.Contains(haystack, nameNorm)
	}
	for _, w := range words {
		if !strings.Contains(haystack, w) {
			return false
		}
	}
	return true
}
