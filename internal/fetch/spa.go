package fetch

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Thresholds for the shell heuristic.
const (
	minShellSignals = 2
	sparseTextMax   = 100
	sparseDocMin    = 500
	richParagraphs  = 20
)

var bundleMarkers = []string{"bundle", "chunk", "webpack", "/static/js/", "main."}

// IsSPAShell reports whether an HTML document is a JavaScript app shell
// whose real content only appears after rendering. It counts independent
// signals rather than trusting any single one:
//
//   - an empty #root or #app mount point
//   - a noscript block telling the user to enable JavaScript
//   - a script tag loading a bundler artifact
//
// Two or more signals mean shell. Separately, a document with almost no
// visible text relative to its size is treated as a shell outright. A page
// with plenty of paragraphs is never a shell, whatever else matches.
func IsSPAShell(doc *goquery.Document, rawLen int) bool {
	if doc.Find("p").Length() >= richParagraphs {
		return false
	}

	signals := 0

	mount := doc.Find("div#root, div#app").First()
	if mount.Length() > 0 && strings.TrimSpace(mount.Text()) == "" {
		signals++
	}

	noscript := strings.ToLower(doc.Find("noscript").Text())
	if strings.Contains(noscript, "enable javascript") || strings.Contains(noscript, "javascript is required") {
		signals++
	}

	bundled := false
	doc.Find("script[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src, _ := sel.Attr("src")
		src = strings.ToLower(src)
		for _, m := range bundleMarkers {
			if strings.Contains(src, m) {
				bundled = true
				return false
			}
		}
		return true
	})
	if bundled {
		signals++
	}

	if signals >= minShellSignals {
		return true
	}

	visible := strings.TrimSpace(doc.Find("body").Text())
	return len(visible) < sparseTextMax && rawLen > sparseDocMin
}
