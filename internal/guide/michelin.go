// Package guide scrapes restaurant-guide listing sites for the set of
// restaurants a crawl job works through.
package guide

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/winerank/winecrawl/internal/discovery"
	"github.com/winerank/winecrawl/internal/fetch"
	"github.com/winerank/winecrawl/internal/store"
)

// Listing-page geometry of the guide site.
const restaurantsPerPage = 48

// Level filters map to URL slugs on the guide site. An empty slug lists
// every distinction.
var levelSlugs = map[string]string{
	"3":        "3-stars-michelin",
	"2":        "2-stars-michelin",
	"1":        "1-star-michelin",
	"gourmand": "bib-gourmand",
	"selected": "the-plate-michelin",
	"all":      "",
}

// PageFetcher loads guide pages. The guide renders listings client-side,
// so the fetcher's browser fallback does the heavy lifting here.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
}

// Scraper walks the guide's listing pages and restaurant detail pages.
type Scraper struct {
	fetcher PageFetcher
	baseURL string
	log     *zap.Logger
}

func NewScraper(fetcher PageFetcher, baseURL string, log *zap.Logger) *Scraper {
	return &Scraper{fetcher: fetcher, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

// ListingURL builds the listing page URL for a distinction level. Unknown
// levels fall back to three stars.
func (s *Scraper) ListingURL(level string, pageNum int) string {
	slug, ok := levelSlugs[strings.ToLower(level)]
	if !ok {
		slug = levelSlugs["3"]
	}
	u := s.baseURL
	if slug != "" {
		u += "/" + slug
	}
	if pageNum > 1 {
		u += fmt.Sprintf("/page/%d", pageNum)
	}
	return u
}

// ListingPage is one page of results.
type ListingPage struct {
	RestaurantURLs []string
	Total          int
	TotalPages     int
}

var totalRe = regexp.MustCompile(`(?i)of\s+([\d,]+)\s+restaurants?`)

// ScrapeListing loads one listing page and returns the restaurant detail
// URLs on it plus the total page count parsed from the result counter.
func (s *Scraper) ScrapeListing(ctx context.Context, level string, pageNum int) (ListingPage, error) {
	url := s.ListingURL(level, pageNum)
	page, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return ListingPage{}, fmt.Errorf("loading listing page %s: %w", url, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return ListingPage{}, fmt.Errorf("parsing listing page %s: %w", url, err)
	}

	var out ListingPage
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !strings.Contains(href, "/restaurant/") {
			return
		}
		abs, ok := discovery.ResolveLink(url, href)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out.RestaurantURLs = append(out.RestaurantURLs, abs)
	})

	out.TotalPages = 1
	if m := totalRe.FindStringSubmatch(doc.Text()); m != nil {
		n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err == nil {
			out.Total = n
			out.TotalPages = (n + restaurantsPerPage - 1) / restaurantsPerPage
			if out.TotalPages < 1 {
				out.TotalPages = 1
			}
		}
	}

	s.log.Info("scraped listing page",
		zap.String("url", url),
		zap.Int("restaurants", len(out.RestaurantURLs)),
		zap.Int("total", out.Total),
		zap.Int("total_pages", out.TotalPages))
	return out, nil
}

// ScrapeDetail loads one restaurant detail page and extracts the fields
// the crawl needs: name, the restaurant's own website, distinction, and
// location.
func (s *Scraper) ScrapeDetail(ctx context.Context, detailURL string) (store.Restaurant, error) {
	page, err := s.fetcher.Fetch(ctx, detailURL)
	if err != nil {
		return store.Restaurant{}, fmt.Errorf("loading restaurant page %s: %w", detailURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return store.Restaurant{}, fmt.Errorf("parsing restaurant page %s: %w", detailURL, err)
	}

	rec := store.Restaurant{
		Name:        strings.TrimSpace(doc.Find("h1").First().Text()),
		GuideURL:    detailURL,
		WebsiteURL:  extractWebsiteURL(doc),
		Distinction: extractDistinction(doc),
		Country:     "USA",
	}
	// Website presence decides the starting status; the crawl outcome
	// overwrites it later.
	rec.CrawlStatus = store.CrawlStatusNoWebsite
	if rec.WebsiteURL != "" {
		rec.CrawlStatus = store.CrawlStatusHasWebsite
	}
	if rec.Name == "" {
		rec.Name = "Unknown"
	}
	rec.City, rec.State = locationFromURL(detailURL)
	return rec, nil
}

// extractWebsiteURL finds the restaurant's own site link: the explicit
// "Visit Website" anchor first, then any external link whose text hints at
// a homepage.
func extractWebsiteURL(doc *goquery.Document) string {
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if strings.Contains(strings.TrimSpace(sel.Text()), "Visit Website") && strings.HasPrefix(href, "http") {
			found = href
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if !strings.HasPrefix(href, "http") || strings.Contains(href, "guide.michelin.com") {
			return true
		}
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		for _, kw := range []string{"website", "visit", "www", "home"} {
			if strings.Contains(text, kw) {
				found = href
				return false
			}
		}
		return true
	})
	return found
}

func extractDistinction(doc *goquery.Document) string {
	text := strings.ToLower(doc.Text())
	switch {
	case strings.Contains(text, "three michelin stars") || strings.Contains(text, "3 stars") || strings.Contains(text, "three stars"):
		return "3-stars"
	case strings.Contains(text, "two michelin stars") || strings.Contains(text, "2 stars") || strings.Contains(text, "two stars"):
		return "2-stars"
	case strings.Contains(text, "one michelin star") || strings.Contains(text, "1 star") || strings.Contains(text, "one star"):
		return "1-star"
	case strings.Contains(text, "bib gourmand"):
		return "bib-gourmand"
	default:
		return "selected"
	}
}

var citySuffixRe = regexp.MustCompile(`[_-]\d+$`)

// locationFromURL derives city and state from the detail URL path, which
// follows the pattern .../{state}/{city}/restaurant/{slug}.
func locationFromURL(detailURL string) (city, state string) {
	parts := strings.Split(strings.TrimRight(detailURL, "/"), "/")
	ri := -1
	for i, p := range parts {
		if p == "restaurant" {
			ri = i
			break
		}
	}
	if ri < 0 {
		return "", ""
	}
	if ri >= 1 {
		raw := citySuffixRe.ReplaceAllString(parts[ri-1], "")
		city = titleCase(strings.NewReplacer("-", " ", "_", " ").Replace(raw))
	}
	if ri >= 2 {
		state = titleCase(strings.ReplaceAll(parts[ri-2], "-", " "))
	}
	return city, state
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
