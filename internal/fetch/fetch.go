// Package fetch loads pages for the crawl. A lightweight HTTP pass runs
// first; the headless browser takes over when a site blocks plain clients
// or serves a JavaScript shell with no content in the raw HTML.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/winerank/winecrawl/internal/metrics"
)

// Page is the result of loading one URL.
type Page struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	IsPDF       bool
	HTML        string
	Body        []byte
	Rendered    bool // loaded through the headless browser
}

// Renderer is the headless-browser escape hatch. Nil disables it.
type Renderer interface {
	Navigate(ctx context.Context, url string) (html, finalURL string, err error)
	Click(ctx context.Context, selector string) (string, error)
}

// Fetcher loads pages with colly and falls back to a Renderer when the
// plain response is blocked or is an app shell.
type Fetcher struct {
	base     *colly.Collector
	renderer Renderer
	metrics  *metrics.Metrics
	log      *zap.Logger
	timeout  time.Duration
}

func New(userAgent string, timeout time.Duration, renderer Renderer, m *metrics.Metrics, log *zap.Logger) *Fetcher {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(timeout)
	return &Fetcher{base: c, renderer: renderer, metrics: m, log: log, timeout: timeout}
}

type rawResponse struct {
	status      int
	contentType string
	body        []byte
	finalURL    string
}

func (f *Fetcher) get(ctx context.Context, pageURL, referer string) (*rawResponse, error) {
	c := f.base.Clone()
	resp := &rawResponse{}

	if referer == "" {
		referer = siteRoot(pageURL)
	}
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		if referer != "" {
			r.Headers.Set("Referer", referer)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		resp.status = r.StatusCode
		resp.contentType = r.Headers.Get("Content-Type")
		resp.body = r.Body
		resp.finalURL = r.Request.URL.String()
	})
	var httpErr error
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			resp.status = r.StatusCode
		}
		httpErr = err
	})

	// The visit runs in its own goroutine so a cancelled ctx returns
	// promptly. An in-flight request then finishes in the background and
	// is discarded along with the cloned collector.
	done := make(chan error, 1)
	go func() {
		if err := c.Visit(pageURL); err != nil {
			done <- err
			return
		}
		c.Wait()
		done <- httpErr
	}()

	select {
	case <-ctx.Done():
		return resp, ctx.Err()
	case err := <-done:
		return resp, err
	}
}

func siteRoot(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}

// listingURL returns the parent directory of a document-shaped URL, the
// page a gated download expects visitors to arrive from. URLs whose path
// carries no file extension return "".
func listingURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if path.Ext(u.Path) == "" {
		return ""
	}
	dir := path.Dir(u.Path)
	if dir == "." || dir == "/" {
		dir = ""
	}
	return u.Scheme + "://" + u.Host + dir + "/"
}

// blockedStatus reports whether a status code means the site rejects
// plain HTTP clients and wants a real browser.
func blockedStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	}
	return false
}

var pdfMagic = []byte("%PDF-")

func isPDFResponse(contentType, pageURL string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return true
	}
	if bytes.HasPrefix(body, pdfMagic) {
		return true
	}
	// Some servers hand PDFs out as octet-stream; trust the suffix then.
	if strings.Contains(strings.ToLower(contentType), "octet-stream") {
		u, err := url.Parse(pageURL)
		return err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
	}
	return false
}

// Fetch loads a page. The declared content type wins over the URL suffix;
// PDFs come back with the raw bytes and no HTML.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	resp, err := f.get(ctx, pageURL, "")
	if err != nil && !blockedStatus(resp.status) {
		if f.renderer == nil {
			return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
		}
		f.log.Debug("plain fetch failed, rendering", zap.String("url", pageURL), zap.Error(err))
		return f.render(ctx, pageURL)
	}

	if blockedStatus(resp.status) {
		retry := f.retryGated(ctx, pageURL)
		switch {
		case retry != nil:
			resp = retry
		case f.renderer == nil:
			return nil, fmt.Errorf("fetching %s: blocked with status %d", pageURL, resp.status)
		default:
			f.log.Debug("blocked, rendering", zap.String("url", pageURL), zap.Int("status", resp.status))
			return f.render(ctx, pageURL)
		}
	}
	if resp.status >= 400 {
		return nil, fmt.Errorf("fetching %s: status %d", pageURL, resp.status)
	}
	f.metrics.PagesFetched.WithLabelValues("http").Inc()

	page := &Page{
		URL:         resp.finalURL,
		StatusCode:  resp.status,
		ContentType: resp.contentType,
		Body:        resp.body,
	}
	if page.URL == "" {
		page.URL = pageURL
	}

	if isPDFResponse(resp.contentType, page.URL, resp.body) {
		page.IsPDF = true
		return page, nil
	}

	page.HTML = string(resp.body)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return page, nil
	}
	if f.renderer != nil && IsSPAShell(doc, len(page.HTML)) {
		f.log.Debug("app shell detected, rendering", zap.String("url", page.URL))
		return f.render(ctx, pageURL)
	}
	return page, nil
}

// retryGated handles documents gated behind their listing page: the
// document's parent path is visited first, with browser state when a
// renderer is available, then the document is refetched carrying the
// listing as referer. Returns nil when the URL has no listing shape or
// the retry is still blocked.
func (f *Fetcher) retryGated(ctx context.Context, pageURL string) *rawResponse {
	listing := listingURL(pageURL)
	if listing == "" {
		return nil
	}
	if f.renderer != nil {
		if _, _, err := f.renderer.Navigate(ctx, listing); err != nil {
			f.log.Debug("listing pre-visit failed", zap.String("url", listing), zap.Error(err))
		}
	}
	resp, err := f.get(ctx, pageURL, listing)
	if err != nil || blockedStatus(resp.status) || resp.status >= 400 {
		return nil
	}
	f.log.Debug("gated download unlocked via listing page",
		zap.String("url", pageURL), zap.String("listing", listing))
	return resp
}

// Selectors tried, in order, to expose wine content hidden behind an
// in-page tab on rendered sites.
var wineTabSelectors = []string{
	`a[href*="#wine"]`,
	`[data-tab*="wine"]`,
	`button[class*="wine"]`,
}

func (f *Fetcher) render(ctx context.Context, pageURL string) (*Page, error) {
	html, finalURL, err := f.renderer.Navigate(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	f.metrics.PagesFetched.WithLabelValues("browser").Inc()
	page := &Page{
		URL:         finalURL,
		StatusCode:  http.StatusOK,
		ContentType: "text/html",
		HTML:        html,
		Body:        []byte(html),
		Rendered:    true,
	}

	doc, derr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if derr != nil {
		return page, nil
	}
	for _, sel := range wineTabSelectors {
		if doc.Find(sel).Length() == 0 {
			continue
		}
		if clicked, cerr := f.renderer.Click(ctx, sel); cerr == nil {
			page.HTML = clicked
			page.Body = []byte(clicked)
		}
		break
	}
	return page, nil
}

// Verify checks that a previously discovered URL still resolves to a real
// document. It is a cheap reachability check, not a full fetch.
func (f *Fetcher) Verify(ctx context.Context, pageURL string) bool {
	resp, err := f.get(ctx, pageURL, "")
	if err != nil {
		return false
	}
	return resp.status > 0 && resp.status < 400 && len(resp.body) > 0
}
