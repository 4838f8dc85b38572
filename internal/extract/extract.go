// Package extract pulls the readable text out of an HTML wine list so
// downstream processing works from plain text regardless of how the list
// was published.
package extract

import (
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Text returns the visible text of an HTML document with markup, scripts,
// and chrome stripped. Headings keep their own lines so sections like
// "By The Glass" survive as structure.
func Text(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	doc.Find("script, style, noscript, iframe, svg, nav, header, footer").Remove()

	var b strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, div").Each(func(_ int, sel *goquery.Selection) {
		// Leaf nodes only; container divs would duplicate their children.
		if sel.Children().Length() > 0 && goquery.NodeName(sel) == "div" {
			return
		}
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text == "" {
			return
		}
		b.WriteString(text)
		b.WriteString("\n")
	})

	out := b.String()
	if strings.TrimSpace(out) == "" {
		// Fall back to whatever the body holds.
		out = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	}
	return strings.TrimSpace(out), nil
}

// TextToFile extracts the text of an HTML file and writes it next to the
// source with a .txt extension, returning the new path.
func TextToFile(htmlPath string) (string, error) {
	data, err := os.ReadFile(htmlPath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", htmlPath, err)
	}
	text, err := Text(string(data))
	if err != nil {
		return "", err
	}
	txtPath := strings.TrimSuffix(htmlPath, ".html") + ".txt"
	if err := os.WriteFile(txtPath, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", txtPath, err)
	}
	return txtPath, nil
}
