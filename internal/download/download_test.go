package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/winerank/winecrawl/internal/fetch"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"wine-list.pdf", "wine-list.pdf"},
		{`wine<list>:2024?.pdf`, "wine_list__2024_.pdf"},
		{"  .wine.pdf. ", "wine.pdf"},
		{"", "wine_list.pdf"},
		{"...", "wine_list.pdf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}

func TestSanitizeFilenameCapsLengthKeepingExtension(t *testing.T) {
	long := strings.Repeat("a", 300) + ".pdf"
	got := SanitizeFilename(long)
	assert.LessOrEqual(t, len(got), maxFilenameLen+len(".pdf"))
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "per-se", Slug("Per Se"))
	assert.Equal(t, "caf-boulud", Slug("Café Boulud"))
	assert.Equal(t, "smyth-the-loyalist", Slug("Smyth + The Loyalist"))
	assert.Equal(t, "restaurant", Slug("***"))
}

type stubFetcher struct {
	pages map[string]*fetch.Page
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (*fetch.Page, error) {
	p, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page at %s", url)
	}
	return p, nil
}

func TestDownloadPDF(t *testing.T) {
	dir := t.TempDir()
	body := []byte("%PDF-1.7 fake wine list")
	f := &stubFetcher{pages: map[string]*fetch.Page{
		"https://bistro.test/files/cellar.pdf": {
			URL: "https://bistro.test/files/cellar.pdf",
			ContentType: "application/pdf", IsPDF: true, Body: body,
		},
	}}
	d := New(f, nil, zap.NewNop(), dir, 0)

	res, err := d.Download(context.Background(), "Bistro Moderne", "https://bistro.test/files/cellar.pdf")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "bistro-moderne", "cellar.pdf"), res.Path)
	assert.True(t, res.PDF)
	assert.Equal(t, int64(len(body)), res.Size)
	assert.NotEmpty(t, res.Hash)

	saved, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, body, saved)
}

func TestDownloadHTMLPageSavesMarkup(t *testing.T) {
	dir := t.TempDir()
	html := "<html><body><h1>Wine List</h1></body></html>"
	f := &stubFetcher{pages: map[string]*fetch.Page{
		"https://hub.binwise.com/winelist/per-se": {
			URL: "https://hub.binwise.com/winelist/per-se",
			ContentType: "text/html", HTML: html, Body: []byte(html),
		},
	}}
	d := New(f, nil, zap.NewNop(), dir, 0)

	res, err := d.Download(context.Background(), "Per Se", "https://hub.binwise.com/winelist/per-se")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "per-se", "wine_list.html"), res.Path)
	assert.False(t, res.PDF)
}

type stubCapturer struct {
	dir       string
	suggested string
	calls     []string
}

func (c *stubCapturer) CaptureDownload(_ context.Context, url string, _ time.Duration) (string, string, error) {
	c.calls = append(c.calls, url)
	got := filepath.Join(c.dir, "7f3a-guid")
	if err := os.WriteFile(got, []byte("%PDF-1.7 captured"), 0o644); err != nil {
		return "", "", err
	}
	return got, c.suggested, nil
}

func TestDownloadCaptureUsesSuggestedFilename(t *testing.T) {
	dir := t.TempDir()
	// No page at the URL forces the browser capture path.
	f := &stubFetcher{pages: map[string]*fetch.Page{}}
	capt := &stubCapturer{dir: t.TempDir(), suggested: "Cellar List 2024.pdf"}
	d := New(f, capt, zap.NewNop(), dir, 0)

	res, err := d.Download(context.Background(), "Bistro", "https://bistro.test/download?id=42")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://bistro.test/download?id=42"}, capt.calls)
	assert.Equal(t, filepath.Join(dir, "bistro", "Cellar List 2024.pdf"), res.Path)
	assert.True(t, res.PDF)
}

func TestDownloadCaptureTypesNonPDFFromSuggestedFilename(t *testing.T) {
	dir := t.TempDir()
	f := &stubFetcher{pages: map[string]*fetch.Page{}}
	capt := &stubCapturer{dir: t.TempDir(), suggested: "wine-list.html"}
	d := New(f, capt, zap.NewNop(), dir, 0)

	res, err := d.Download(context.Background(), "Bistro", "https://bistro.test/download?id=42")
	require.NoError(t, err)
	assert.False(t, res.PDF)
	assert.Equal(t, "wine-list.html", filepath.Base(res.Path))
}

func TestDownloadURLWithoutFilenameGetsDefault(t *testing.T) {
	dir := t.TempDir()
	f := &stubFetcher{pages: map[string]*fetch.Page{
		"https://bistro.test/": {
			URL: "https://bistro.test/", ContentType: "application/pdf",
			IsPDF: true, Body: []byte("%PDF-"),
		},
	}}
	d := New(f, nil, zap.NewNop(), dir, 0)

	res, err := d.Download(context.Background(), "Bistro", "https://bistro.test/")
	require.NoError(t, err)
	assert.Equal(t, "wine_list.pdf", filepath.Base(res.Path))
}
