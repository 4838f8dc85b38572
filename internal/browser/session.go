// Package browser wraps a headless Chrome instance behind an explicit
// session object. A Session owns its allocator and tab; callers that hit a
// crashed or closed tab call Recover to rebuild the tab on the same
// allocator and retry.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Options configures a Session.
type Options struct {
	Headless    bool
	UserAgent   string
	NavTimeout  time.Duration
	DownloadDir string
}

// Session is one live browser with one tab. Not safe for concurrent use;
// the crawl pipeline drives it from a single goroutine.
type Session struct {
	opts Options
	log  *zap.Logger

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// NewSession starts Chrome and opens a tab. Close must be called when done.
func NewSession(opts Options, log *zap.Logger) (*Session, error) {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 30 * time.Second
	}
	s := &Session{opts: opts, log: log}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), allocOpts...)

	if err := s.newTab(); err != nil {
		s.allocCancel()
		return nil, err
	}
	return s, nil
}

func (s *Session) newTab() error {
	s.tabCtx, s.tabCancel = chromedp.NewContext(s.allocCtx)
	// Starting the browser eagerly surfaces launch failures here instead
	// of on the first navigation.
	if err := chromedp.Run(s.tabCtx); err != nil {
		s.tabCancel()
		return fmt.Errorf("starting browser: %w", err)
	}
	return nil
}

// Close tears down the tab and the browser process.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tabCancel != nil {
		s.tabCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// crashMessages are the error fragments that mean the tab or browser died
// rather than the page failing. They route to Recover, not to a crawl
// failure.
var crashMessages = []string{
	"target crashed",
	"browser has been closed",
	"context canceled: browser",
	"websocket url timeout",
	"connection refused",
	"session closed",
	"page crashed",
}

// IsCrash reports whether an error indicates the browser itself died.
func IsCrash(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range crashMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Recover replaces a dead tab with a fresh one on the same allocator.
// Crawl-level state (job counters, visited sets) lives with the caller and
// survives untouched.
func (s *Session) Recover() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Warn("recovering browser session")
	if s.tabCancel != nil {
		s.tabCancel()
	}
	return s.newTab()
}

// Navigate loads a URL with JavaScript execution, waits for the body, and
// returns the rendered HTML and the final URL after redirects.
func (s *Session) Navigate(ctx context.Context, url string) (html, finalURL string, err error) {
	s.mu.Lock()
	tab := s.tabCtx
	s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(tab, s.opts.NavTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err = chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("navigating to %s: %w", url, err)
	}
	return html, finalURL, nil
}

// Click clicks the first node matching the selector and returns the HTML
// after the page settles. Used for wine tabs that swap content in place.
func (s *Session) Click(ctx context.Context, selector string) (string, error) {
	s.mu.Lock()
	tab := s.tabCtx
	s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(tab, s.opts.NavTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Sleep(1500*time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("clicking %q: %w", selector, err)
	}
	return html, nil
}

// CaptureDownload navigates to a URL that triggers a file download and
// waits for the file to land in the session's download directory. It
// returns the on-disk path and the filename the server suggested, which
// is the caller's best signal for the file's real type.
func (s *Session) CaptureDownload(ctx context.Context, url string, wait time.Duration) (string, string, error) {
	if s.opts.DownloadDir == "" {
		return "", "", errors.New("session has no download directory")
	}
	if err := os.MkdirAll(s.opts.DownloadDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating download directory: %w", err)
	}

	s.mu.Lock()
	tab := s.tabCtx
	s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(tab, s.opts.NavTimeout+wait)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		mu        sync.Mutex
		suggested string
	)
	done := make(chan string, 1)
	chromedp.ListenTarget(runCtx, func(ev any) {
		switch e := ev.(type) {
		case *cdpbrowser.EventDownloadWillBegin:
			mu.Lock()
			suggested = e.SuggestedFilename
			mu.Unlock()
		case *cdpbrowser.EventDownloadProgress:
			if e.State == cdpbrowser.DownloadProgressStateCompleted {
				select {
				case done <- e.GUID:
				default:
				}
			}
		}
	})

	err := chromedp.Run(runCtx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(s.opts.DownloadDir).
			WithEventsEnabled(true),
		chromedp.Navigate(url),
	)
	// Navigating straight into a download aborts the navigation; chromedp
	// reports that as an error even though the download proceeds.
	if err != nil && !isDownloadAbort(err) {
		return "", "", fmt.Errorf("navigating for download: %w", err)
	}

	select {
	case guid := <-done:
		mu.Lock()
		name := suggested
		mu.Unlock()
		return filepath.Join(s.opts.DownloadDir, guid), name, nil
	case <-runCtx.Done():
		return "", "", fmt.Errorf("download from %s timed out", url)
	}
}

func isDownloadAbort(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "net::err_aborted") || strings.Contains(msg, "download")
}

// PrintToPDF renders the current page to a PDF file. Used for wine lists
// served as HTML pages on hosted platforms.
func (s *Session) PrintToPDF(ctx context.Context, url, outPath string) error {
	s.mu.Lock()
	tab := s.tabCtx
	s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(tab, s.opts.NavTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var pdf []byte
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("printing %s to pdf: %w", url, err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outPath, pdf, 0o644)
}
