package discovery

import (
	"regexp"
	"strings"
)

// Tier multipliers for exact, partial, and URL-slug matches.
const (
	wineExact   = 10
	winePartial = 5
	wineSlug    = 3

	menuExact   = 2
	menuPartial = 1
	menuSlug    = 1

	infoExact   = 1
	infoPartial = 1
	infoSlug    = 1

	// Flat bonus when the text surrounding a link contains a context
	// phrase such as "view our wine list".
	contextBonus = 25
)

// skipRe matches links that never lead to a wine list: social profiles,
// booking widgets, legal and hiring pages, and non-HTTP schemes.
var skipRe = regexp.MustCompile(`(?i)(instagram\.com|facebook\.com|twitter\.com|x\.com/|tiktok\.com|youtube\.com|linkedin\.com|opentable\.|resy\.com|sevenrooms\.com|tock\.com|/reservations?\b|/book\b|/careers?\b|/jobs?\b|/privacy|/terms|/gift-?cards?|/private-?dining|/press\b|^mailto:|^tel:|^javascript:)`)

// ShouldSkip reports whether a link is categorically not worth following.
func ShouldSkip(href string) bool {
	return skipRe.MatchString(strings.TrimSpace(href))
}

// scorer ranks candidate links for one discovery session using the
// session's language-merged keyword tables.
type scorer struct {
	kw keywordSet
}

func newScorer(languageHint string) *scorer {
	return &scorer{kw: newKeywordSet(languageHint)}
}

// slugify turns href separators into spaces so slug segments like
// "wine-list" match multi-word keywords.
func slugify(href string) string {
	repl := strings.NewReplacer("-", " ", "_", " ", "/", " ", ".", " ")
	return normalizeText(repl.Replace(href))
}

// tierScore scores one keyword tier. Keywords are ordered by specificity,
// so each keyword's weight is the table length minus its rank: the first
// entry counts most. Exact text matches beat substring matches beat slug
// matches.
func tierScore(keywords []string, text, slug string, exact, partial, slugMult int) int {
	score := 0
	n := len(keywords)
	for rank, kw := range keywords {
		weight := n - rank
		switch {
		case text == kw:
			score += weight * exact
		case strings.Contains(text, kw):
			score += weight * partial
		}
		if strings.Contains(slug, kw) {
			score += weight * slugMult
		}
	}
	return score
}

// ScoreLink ranks an internal link by its anchor text, href, and the text
// surrounding it. Wine keywords dominate; generic menu keywords only count
// when no wine keyword fired, and informational keywords only when neither
// did. Context phrases add a flat bonus on top of any base score.
func (s *scorer) ScoreLink(text, href, context string) int {
	nText := normalizeText(text)
	slug := slugify(href)

	score := tierScore(s.kw.wine, nText, slug, wineExact, winePartial, wineSlug)
	if score == 0 {
		score = tierScore(s.kw.menu, nText, slug, menuExact, menuPartial, menuSlug)
	}
	if score == 0 {
		score = tierScore(s.kw.info, nText, slug, infoExact, infoPartial, infoSlug)
	}

	nCtx := normalizeText(context)
	if nCtx != "" {
		for _, phrase := range s.kw.context {
			if strings.Contains(nCtx, phrase) {
				score += contextBonus
				break
			}
		}
	}
	return score
}

// ScoreWineOnly ranks a link using the wine tier alone. Used for external
// links, where a generic "menus" match is not evidence of anything.
func (s *scorer) ScoreWineOnly(text, href string) int {
	return tierScore(s.kw.wine, normalizeText(text), slugify(href), wineExact, winePartial, wineSlug)
}

// ScorePDF ranks a PDF by wine terms in its URL, link text, and context,
// minus a penalty for each term marking it as some other document.
func (s *scorer) ScorePDF(pdfURL, text, context string) int {
	haystack := slugify(pdfURL) + " " + normalizeText(text) + " " + normalizeText(context)
	score := 0
	for _, term := range s.kw.pdf {
		if strings.Contains(haystack, term) {
			score += 10
		}
	}
	for _, term := range s.kw.penalty {
		if strings.Contains(haystack, term) {
			score -= 15
		}
	}
	return score
}
