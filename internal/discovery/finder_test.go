package discovery

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/winerank/winecrawl/internal/fetch"
)

type fakeFetcher struct {
	pages    map[string]*fetch.Page
	verified map[string]bool
	fetches  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*fetch.Page, error) {
	f.fetches = append(f.fetches, url)
	p, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page at %s", url)
	}
	return p, nil
}

func (f *fakeFetcher) Verify(_ context.Context, url string) bool {
	return f.verified[url]
}

func htmlPage(url, body string) *fetch.Page {
	return &fetch.Page{URL: url, StatusCode: 200, ContentType: "text/html", HTML: "<html><body>" + body + "</body></html>"}
}

func pdfPage(url string) *fetch.Page {
	return &fetch.Page{URL: url, StatusCode: 200, ContentType: "application/pdf", IsPDF: true}
}

func newTestFinder(f *fakeFetcher, isPlatform func(string) bool, ranker CandidateRanker) *Finder {
	return NewFinder(f, isPlatform, ranker, zap.NewNop(), 4, 20)
}

func TestFindWineListDirectPDFLink(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Page{
		"https://bistro.test": htmlPage("https://bistro.test",
			`<a href="/wine-list.pdf">Wine List</a><a href="/menus">Menus</a>`),
	}}
	finder := newTestFinder(f, nil, nil)

	res := finder.FindWineList(context.Background(), Request{SiteURL: "https://bistro.test", LanguageHint: "en"})

	require.True(t, res.Found)
	assert.Equal(t, "https://bistro.test/wine-list.pdf", res.URL)
	// The PDF is taken from the link itself; only the homepage loads.
	assert.Equal(t, 1, res.PagesLoaded)
}

func TestFindWineListVerifiesCachedURL(t *testing.T) {
	f := &fakeFetcher{
		pages:    map[string]*fetch.Page{},
		verified: map[string]bool{"https://bistro.test/cellar.pdf": true},
	}
	finder := newTestFinder(f, nil, nil)

	res := finder.FindWineList(context.Background(), Request{
		SiteURL:   "https://bistro.test",
		CachedURL: "https://bistro.test/cellar.pdf",
	})

	require.True(t, res.Found)
	assert.Equal(t, "https://bistro.test/cellar.pdf", res.URL)
	assert.Zero(t, res.PagesLoaded)
	assert.Empty(t, f.fetches)
}

func TestFindWineListTraversesScoredLinks(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Page{
		"https://bistro.test": htmlPage("https://bistro.test",
			`<a href="/about">About</a><a href="/menus">Menus</a>`),
		"https://bistro.test/menus": htmlPage("https://bistro.test/menus",
			`<a href="/dinner">Dinner</a><a href="/wine">Wine</a>`),
		"https://bistro.test/wine": htmlPage("https://bistro.test/wine",
			`<p>Download our wine list</p><a href="/files/cellar.pdf">Download our wine list</a>`),
	}}
	finder := newTestFinder(f, nil, nil)

	res := finder.FindWineList(context.Background(), Request{SiteURL: "https://bistro.test", LanguageHint: "en"})

	require.True(t, res.Found)
	assert.Equal(t, "https://bistro.test/files/cellar.pdf", res.URL)
	// Menus outranks About, Wine outranks Dinner: three loads, no detours.
	assert.Equal(t, []string{
		"https://bistro.test",
		"https://bistro.test/menus",
		"https://bistro.test/wine",
	}, f.fetches)
}

func TestFindWineListReturnsPlatformLink(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Page{
		"https://perse.test": htmlPage("https://perse.test",
			`<a href="https://hub.binwise.com/winelist/per-se">Wine List</a>`),
	}}
	isPlatform := func(u string) bool { return strings.Contains(u, "binwise") }
	finder := newTestFinder(f, isPlatform, nil)

	res := finder.FindWineList(context.Background(), Request{SiteURL: "https://perse.test"})

	require.True(t, res.Found)
	assert.Equal(t, "https://hub.binwise.com/winelist/per-se", res.URL)
	assert.Equal(t, 1, res.PagesLoaded)
}

func TestFindWineListAcceptsUnscoredPDFPastHomepage(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Page{
		"https://bistro.test": htmlPage("https://bistro.test",
			`<a href="/menus">Menus</a>`),
		"https://bistro.test/menus": htmlPage("https://bistro.test/menus",
			`<a href="/download/doc123.pdf">Download</a>`),
	}}
	finder := newTestFinder(f, nil, nil)

	res := finder.FindWineList(context.Background(), Request{SiteURL: "https://bistro.test"})

	require.True(t, res.Found)
	assert.Equal(t, "https://bistro.test/download/doc123.pdf", res.URL)
}

func TestFindWineListRejectsUnscoredPDFOnHomepage(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Page{
		"https://bistro.test": htmlPage("https://bistro.test",
			`<a href="/download/doc123.pdf">Download</a>`),
	}}
	finder := newTestFinder(f, nil, nil)

	res := finder.FindWineList(context.Background(), Request{SiteURL: "https://bistro.test"})
	assert.False(t, res.Found)
}

func TestFindWineListDeduplicatesVisitedPages(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Page{
		"https://bistro.test": htmlPage("https://bistro.test",
			`<a href="/wine">Wine</a>`),
		"https://bistro.test/wine": htmlPage("https://bistro.test/wine",
			`<a href="/">Home</a><a href="/wine?tab=red">Wine</a>`),
	}}
	finder := newTestFinder(f, nil, nil)

	res := finder.FindWineList(context.Background(), Request{SiteURL: "https://bistro.test"})

	assert.False(t, res.Found)
	// The query-string variant normalizes to the visited page.
	assert.Equal(t, 2, res.PagesLoaded)
}

func TestFindWineListHonorsPageBudget(t *testing.T) {
	pages := map[string]*fetch.Page{
		"https://bistro.test": htmlPage("https://bistro.test",
			`<a href="/wine-1">Wine</a>`),
	}
	for i := 1; i < 10; i++ {
		pages[fmt.Sprintf("https://bistro.test/wine-%d", i)] = htmlPage(
			fmt.Sprintf("https://bistro.test/wine-%d", i),
			fmt.Sprintf(`<a href="/wine-%d">Wine</a>`, i+1))
	}
	f := &fakeFetcher{pages: pages}
	finder := NewFinder(f, nil, nil, zap.NewNop(), 20, 3)

	res := finder.FindWineList(context.Background(), Request{SiteURL: "https://bistro.test"})

	assert.False(t, res.Found)
	assert.Equal(t, 3, res.PagesLoaded)
}

type fakeRanker struct {
	urls   []string
	tokens int
}

func (r *fakeRanker) Rank(context.Context, string, []PageSummary) ([]string, int, error) {
	return r.urls, r.tokens, nil
}

func TestFindWineListFallsBackToRanker(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Page{
		"https://bistro.test": htmlPage("https://bistro.test",
			`<a href="/visit">Visit</a>`),
		"https://bistro.test/hidden-cellar": pdfPage("https://bistro.test/hidden-cellar"),
	}}
	ranker := &fakeRanker{urls: []string{"https://bistro.test/hidden-cellar"}, tokens: 420}
	finder := newTestFinder(f, nil, ranker)

	res := finder.FindWineList(context.Background(), Request{SiteURL: "https://bistro.test", Name: "Bistro"})

	require.True(t, res.Found)
	assert.Equal(t, "https://bistro.test/hidden-cellar", res.URL)
	assert.Equal(t, 420, res.TokensUsed)
}
