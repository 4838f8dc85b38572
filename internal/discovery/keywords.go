// Package discovery locates a wine list URL on a restaurant website using a
// tiered search: cached-URL verification, scored keyword traversal, and an
// optional LLM ranking fallback.
package discovery

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Wine-specific link keywords, ordered by specificity (highest first).
// Earlier entries carry more weight when scoring.
var wineKeywordsEN = []string{
	"wine list",
	"wine program",
	"wine menu",
	"wine",
	"cellar",
	"sommelier",
	"by the glass",
	"beverage",
	"drink",
}

var wineKeywordsFR = []string{
	"carte des vins",
	"carte de vins",
	"vins",
	"vin",
	"cave",
	"sommellerie",
	"au verre",
	"boissons",
}

var wineKeywordsES = []string{
	"carta de vinos",
	"lista de vinos",
	"vinos",
	"vino",
	"bodega",
	"por copa",
	"bebidas",
}

// Generic menu/dining keywords, consulted only when no wine keyword scored.
var menuKeywordsEN = []string{
	"menu",
	"menus",
	"tasting menu",
	"chef's counter",
	"dine",
	"dining",
	"food & drink",
	"food and drink",
}

var menuKeywordsFR = []string{
	"carte",
	"menus",
	"menu degustation",
	"degustation",
	"restaurant",
}

var menuKeywordsES = []string{
	"carta",
	"menu",
	"menu de degustacion",
	"degustacion",
	"comida",
}

// Informational pages sometimes link the wine list (FAQ sections and the
// like). Lowest tier, last resort.
var infoKeywordsEN = []string{
	"faq",
	"about",
	"about us",
	"info",
}

var infoKeywordsFR = []string{
	"a propos",
	"infos",
	"informations",
}

var infoKeywordsES = []string{
	"preguntas frecuentes",
	"acerca de",
	"informacion",
}

// Context phrases that suggest the surrounding block is offering the wine
// list for viewing or download.
var contextPhrasesEN = []string{
	"wine list",
	"available here",
	"download",
	"view our",
	"find the wine list",
}

var contextPhrasesFR = []string{
	"carte des vins",
	"disponible ici",
	"telecharger",
	"consultez notre",
}

var contextPhrasesES = []string{
	"carta de vinos",
	"disponible aqui",
	"descargar",
	"consulte nuestra",
}

// Terms that mark a PDF as wine-related when they appear in its URL path,
// link text, or surrounding context.
var pdfWineTermsEN = []string{
	"wine",
	"winelist",
	"cellar",
	"sommelier",
	"vino",
}

var pdfWineTermsFR = []string{
	"vin",
	"vins",
	"carte",
	"cave",
}

var pdfWineTermsES = []string{
	"vino",
	"vinos",
	"bodega",
	"carta",
}

// Terms that mark a PDF as something other than the wine list.
var pdfPenaltyTerms = []string{
	"catering",
	"press",
	"private",
	"event",
	"brunch",
	"lunch",
	"dessert",
	"gift",
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeText lowercases and strips diacritics so keyword tables compare
// cleanly across languages ("Dégustation" matches "degustation").
func normalizeText(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, normalizeText(s))
	}
	return out
}

// LanguageHintForCountry maps a restaurant country to the locale whose
// keyword tables should be merged in. Unknown countries stay English.
func LanguageHintForCountry(country string) string {
	switch strings.ToLower(strings.TrimSpace(country)) {
	case "france":
		return "fr"
	case "spain", "mexico":
		return "es"
	default:
		return "en"
	}
}

// keywordSet holds the effective (language-merged) tables for one discovery
// session, pre-normalized. The English tables are always present; a locale
// merge adds, never replaces.
type keywordSet struct {
	wine    []string
	menu    []string
	info    []string
	context []string
	pdf     []string
	penalty []string
}

func newKeywordSet(languageHint string) keywordSet {
	wine := wineKeywordsEN
	menu := menuKeywordsEN
	info := infoKeywordsEN
	ctx := contextPhrasesEN
	pdf := pdfWineTermsEN

	switch strings.ToLower(languageHint) {
	case "fr":
		wine = append(append([]string{}, wine...), wineKeywordsFR...)
		menu = append(append([]string{}, menu...), menuKeywordsFR...)
		info = append(append([]string{}, info...), infoKeywordsFR...)
		ctx = append(append([]string{}, ctx...), contextPhrasesFR...)
		pdf = append(append([]string{}, pdf...), pdfWineTermsFR...)
	case "es":
		wine = append(append([]string{}, wine...), wineKeywordsES...)
		menu = append(append([]string{}, menu...), menuKeywordsES...)
		info = append(append([]string{}, info...), infoKeywordsES...)
		ctx = append(append([]string{}, ctx...), contextPhrasesES...)
		pdf = append(append([]string{}, pdf...), pdfWineTermsES...)
	}

	return keywordSet{
		wine:    normalizeAll(wine),
		menu:    normalizeAll(menu),
		info:    normalizeAll(info),
		context: normalizeAll(ctx),
		pdf:     normalizeAll(pdf),
		penalty: normalizeAll(pdfPenaltyTerms),
	}
}
