package platform

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/winerank/winecrawl/internal/fetch"
)

// SearchClient runs one web search and returns result URLs in rank order.
type SearchClient interface {
	Search(ctx context.Context, query string, maxResults int) ([]string, error)
}

// PageFetcher loads candidate result pages for validation.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
}

// Resolver searches hosting platforms for a restaurant's wine list. Each
// platform domain gets two search passes: one biased toward documents
// first, then the plain site query. Candidates are only accepted after
// the page's headings confirm the restaurant name.
type Resolver struct {
	search  SearchClient
	fetcher PageFetcher
	matcher *Matcher
	log     *zap.Logger

	passDelay time.Duration
	perPass   int
}

func NewResolver(search SearchClient, fetcher PageFetcher, matcher *Matcher, log *zap.Logger, passDelay time.Duration, perPass int) *Resolver {
	if perPass <= 0 {
		perPass = 5
	}
	return &Resolver{
		search:    search,
		fetcher:   fetcher,
		matcher:   matcher,
		log:       log,
		passDelay: passDelay,
		perPass:   perPass,
	}
}

// Resolve looks for the restaurant's wine list on the configured
// platforms. It returns the validated URL, or found=false when no
// candidate survives validation.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, bool, error) {
	for _, domain := range r.matcher.Domains() {
		// Document-biased pass first, then the plain query for
		// HTML-hosted lists.
		queries := []string{
			fmt.Sprintf(`site:%s "%s" pdf`, domain, name),
			fmt.Sprintf(`site:%s "%s"`, domain, name),
		}
		for pass, q := range queries {
			if pass > 0 && r.passDelay > 0 {
				select {
				case <-ctx.Done():
					return "", false, ctx.Err()
				case <-time.After(r.passDelay):
				}
			}
			results, err := r.search.Search(ctx, q, r.perPass)
			if err != nil {
				r.log.Warn("platform search failed", zap.String("query", q), zap.Error(err))
				continue
			}
			for _, candidate := range results {
				if !r.matcher.Match(candidate) {
					continue
				}
				if r.validate(ctx, name, candidate) {
					r.log.Info("platform wine list validated",
						zap.String("name", name), zap.String("url", candidate))
					return candidate, true, nil
				}
			}
		}
	}
	return "", false, nil
}

// validate fetches the candidate page and checks its headings against the
// restaurant name, so "Per Se" does not claim some other venue's list.
func (r *Resolver) validate(ctx context.Context, name, candidate string) bool {
	page, err := r.fetcher.Fetch(ctx, candidate)
	if err != nil {
		return false
	}
	if page.IsPDF {
		// Document URLs carry no headings; trust the quoted search match.
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return false
	}
	var b strings.Builder
	doc.Find("title, h1, h2").Each(func(_ int, sel *goquery.Selection) {
		b.WriteString(sel.Text())
		b.WriteString(" ")
	})
	return NameMatches(name, b.String())
}

// CollySearch scrapes a search engine results page for links. The query
// URL is configurable; the default works against engines that take a "q"
// parameter.
type CollySearch struct {
	fetcher PageFetcher
	baseURL string
}

func NewCollySearch(fetcher PageFetcher, baseURL string) *CollySearch {
	return &CollySearch{fetcher: fetcher, baseURL: baseURL}
}

func (s *CollySearch) Search(ctx context.Context, query string, maxResults int) ([]string, error) {
	sep := "?q="
	if strings.Contains(s.baseURL, "?") {
		sep = "&q="
	}
	page, err := s.fetcher.Fetch(ctx, s.baseURL+sep+url.QueryEscape(query))
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = extractResultURL(href)
		if href == "" {
			return true
		}
		if _, dup := seen[href]; dup {
			return true
		}
		seen[href] = struct{}{}
		out = append(out, href)
		return len(out) < maxResults
	})
	return out, nil
}

// extractResultURL unwraps redirect-style result links ("/url?q=...") and
// drops navigation links back into the engine itself.
func extractResultURL(href string) string {
	if strings.HasPrefix(href, "/url?") {
		u, err := url.Parse(href)
		if err != nil {
			return ""
		}
		href = u.Query().Get("q")
	}
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	if strings.Contains(host, "google.") || strings.Contains(host, "bing.") || strings.Contains(host, "duckduckgo.") {
		return ""
	}
	return href
}
