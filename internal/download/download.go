// Package download fetches a discovered wine list to local disk and
// fingerprints it.
package download

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/winerank/winecrawl/internal/fetch"
	"github.com/winerank/winecrawl/internal/hash/sha256"
)

const (
	defaultFilename = "wine_list.pdf"
	maxFilenameLen  = 200
)

// Result describes one saved file.
type Result struct {
	Path string
	Hash string
	Size int64
	// PDF is false when the list only exists as an HTML page and was
	// saved as markup instead.
	PDF bool
}

// PageFetcher pulls the wine list bytes over HTTP.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
}

// Capturer handles URLs that trigger a browser download instead of
// serving bytes, as some hosting platforms do. It returns the captured
// file's path and the server's suggested filename. Nil disables the
// fallback.
type Capturer interface {
	CaptureDownload(ctx context.Context, url string, wait time.Duration) (path, suggested string, err error)
}

// Downloader saves wine lists under baseDir/<restaurant-slug>/.
type Downloader struct {
	fetcher  PageFetcher
	capturer Capturer
	hasher   *sha256.Hasher
	log      *zap.Logger
	baseDir  string
	wait     time.Duration
}

func New(fetcher PageFetcher, capturer Capturer, log *zap.Logger, baseDir string, wait time.Duration) *Downloader {
	return &Downloader{
		fetcher:  fetcher,
		capturer: capturer,
		hasher:   &sha256.Hasher{},
		log:      log,
		baseDir:  baseDir,
		wait:     wait,
	}
}

// Download saves the wine list at srcURL for the named restaurant. PDFs
// keep their bytes; an HTML wine list page is saved as markup so the text
// extraction step can still process it.
func (d *Downloader) Download(ctx context.Context, restaurant, srcURL string) (Result, error) {
	dir := filepath.Join(d.baseDir, Slug(restaurant))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating download directory: %w", err)
	}

	page, err := d.fetcher.Fetch(ctx, srcURL)
	if err != nil {
		if d.capturer == nil {
			return Result{}, fmt.Errorf("downloading %s: %w", srcURL, err)
		}
		// Attachment-style links abort plain fetches; let the browser
		// catch the download instead.
		d.log.Debug("direct download failed, capturing via browser",
			zap.String("url", srcURL), zap.Error(err))
		return d.capture(ctx, srcURL, dir)
	}

	var (
		name string
		pdf  bool
	)
	if page.IsPDF {
		name = SanitizeFilename(filenameFromURL(srcURL))
		pdf = true
	} else {
		name = "wine_list.html"
	}

	dst := filepath.Join(dir, name)
	if err := os.WriteFile(dst, page.Body, 0o644); err != nil {
		return Result{}, fmt.Errorf("writing %s: %w", dst, err)
	}
	return d.finish(dst, pdf)
}

func (d *Downloader) capture(ctx context.Context, srcURL, dir string) (Result, error) {
	got, suggested, err := d.capturer.CaptureDownload(ctx, srcURL, d.wait)
	if err != nil {
		return Result{}, fmt.Errorf("capturing download from %s: %w", srcURL, err)
	}
	// The suggested filename types the capture; the URL may carry no
	// extension at all on attachment-style links.
	name := suggested
	if name == "" {
		name = filenameFromURL(srcURL)
	}
	name = SanitizeFilename(name)
	dst := filepath.Join(dir, name)
	if err := os.Rename(got, dst); err != nil {
		return Result{}, fmt.Errorf("moving captured download: %w", err)
	}
	return d.finish(dst, strings.HasSuffix(strings.ToLower(name), ".pdf"))
}

func (d *Downloader) finish(dst string, pdf bool) (Result, error) {
	data, err := os.ReadFile(dst)
	if err != nil {
		return Result{}, fmt.Errorf("reading back %s: %w", dst, err)
	}
	res := Result{
		Path: dst,
		Hash: d.hasher.Hash(data),
		Size: int64(len(data)),
		PDF:  pdf,
	}
	d.log.Info("wine list saved",
		zap.String("path", dst), zap.Int64("bytes", res.Size), zap.Bool("pdf", pdf))
	return res, nil
}

func filenameFromURL(srcURL string) string {
	u, err := url.Parse(srcURL)
	if err != nil {
		return defaultFilename
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return defaultFilename
	}
	if !strings.HasSuffix(strings.ToLower(base), ".pdf") {
		base += ".pdf"
	}
	return base
}

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeFilename makes a URL-derived name safe for the local
// filesystem: invalid characters become underscores, leading and trailing
// dots and spaces go, and overlong names are cut down while keeping the
// extension. An empty result falls back to a default name.
func SanitizeFilename(name string) string {
	name = invalidFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")
	if name == "" {
		return defaultFilename
	}
	if len(name) > maxFilenameLen {
		ext := filepath.Ext(name)
		keep := maxFilenameLen - len(ext)
		if keep < 1 {
			keep = 1
		}
		name = name[:keep] + ext
	}
	return name
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a restaurant name into a directory-safe identifier.
func Slug(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "restaurant"
	}
	return s
}
