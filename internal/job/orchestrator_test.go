package job

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/winerank/winecrawl/internal/discovery"
	"github.com/winerank/winecrawl/internal/download"
	"github.com/winerank/winecrawl/internal/guide"
	"github.com/winerank/winecrawl/internal/metrics"
	"github.com/winerank/winecrawl/internal/store"
)

type fakeLister struct {
	pages     map[int]guide.ListingPage
	failsLeft map[int]int
	failErr   error
	details   map[string]store.Restaurant
	pageReqs  []int
}

func (l *fakeLister) ScrapeListing(_ context.Context, _ string, pageNum int) (guide.ListingPage, error) {
	l.pageReqs = append(l.pageReqs, pageNum)
	if l.failsLeft[pageNum] > 0 {
		l.failsLeft[pageNum]--
		err := l.failErr
		if err == nil {
			err = errors.New("timeout loading listing page")
		}
		return guide.ListingPage{}, err
	}
	p, ok := l.pages[pageNum]
	if !ok {
		return guide.ListingPage{}, fmt.Errorf("no listing page %d", pageNum)
	}
	return p, nil
}

func (l *fakeLister) ScrapeDetail(_ context.Context, url string) (store.Restaurant, error) {
	rec, ok := l.details[url]
	if !ok {
		return store.Restaurant{}, fmt.Errorf("no detail at %s", url)
	}
	return rec, nil
}

type fakeFinder struct {
	results map[string]discovery.Result
	reqs    []discovery.Request
}

func (f *fakeFinder) FindWineList(_ context.Context, req discovery.Request) discovery.Result {
	f.reqs = append(f.reqs, req)
	return f.results[req.SiteURL]
}

type fakeResolver struct {
	url   string
	found bool
	calls []string
}

func (r *fakeResolver) Resolve(_ context.Context, name string) (string, bool, error) {
	r.calls = append(r.calls, name)
	return r.url, r.found, nil
}

type fakeDownloader struct {
	err    error
	errFor map[string]error
	calls  []string
}

func (d *fakeDownloader) Download(_ context.Context, _, url string) (download.Result, error) {
	d.calls = append(d.calls, url)
	if e := d.errFor[url]; e != nil {
		return download.Result{}, e
	}
	if d.err != nil {
		return download.Result{}, d.err
	}
	return download.Result{Path: "/tmp/wine_list.pdf", Hash: "abc123", Size: 1024, PDF: true}, nil
}

type fakeRecoverer struct{ calls int }

func (r *fakeRecoverer) Recover() error {
	r.calls++
	return nil
}

type tickClock struct{ t time.Time }

func (c *tickClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

type testRig struct {
	stores     *store.Memory
	lister     *fakeLister
	finder     *fakeFinder
	resolver   *fakeResolver
	downloader *fakeDownloader
	recoverer  *fakeRecoverer
}

func newRig() *testRig {
	return &testRig{
		stores:     store.NewMemory(),
		lister:     &fakeLister{pages: map[int]guide.ListingPage{}, failsLeft: map[int]int{}, details: map[string]store.Restaurant{}},
		finder:     &fakeFinder{results: map[string]discovery.Result{}},
		resolver:   &fakeResolver{},
		downloader: &fakeDownloader{},
		recoverer:  &fakeRecoverer{},
	}
}

func (r *testRig) orchestrator(opts Options) *Orchestrator {
	if opts.GuideName == "" {
		opts.GuideName = "Test Guide"
		opts.GuideURL = "https://guide.test/restaurants"
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 3
	}
	return NewOrchestrator(r.stores, r.lister, r.finder, r.resolver, r.downloader,
		r.recoverer, metrics.New(), &tickClock{t: time.Unix(1700000000, 0)}, zap.NewNop(), opts)
}

func TestRunCrawlsListingAndDownloads(t *testing.T) {
	rig := newRig()
	rig.lister.pages[1] = guide.ListingPage{
		RestaurantURLs: []string{"https://guide.test/restaurant/bistro"},
		Total:          1,
		TotalPages:     1,
	}
	rig.lister.details["https://guide.test/restaurant/bistro"] = store.Restaurant{
		Name:        "Bistro",
		GuideURL:    "https://guide.test/restaurant/bistro",
		WebsiteURL:  "https://bistro.test",
		Country:     "USA",
		CrawlStatus: store.CrawlStatusPending,
	}
	rig.finder.results["https://bistro.test"] = discovery.Result{
		URL: "https://bistro.test/wine-list.pdf", Found: true, PagesLoaded: 2,
	}

	job, err := rig.orchestrator(Options{Level: "3"}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, store.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Found)
	assert.Equal(t, 1, job.Processed)
	assert.Equal(t, 1, job.Downloaded)
	assert.Equal(t, []string{"https://bistro.test/wine-list.pdf"}, rig.downloader.calls)

	rec, err := rig.stores.Restaurants().FindByNameFuzzy(context.Background(), "Bistro")
	require.NoError(t, err)
	assert.Equal(t, store.CrawlStatusWineListFound, rec.CrawlStatus)
	assert.Equal(t, "https://bistro.test/wine-list.pdf", rec.WineListURL)
	assert.Equal(t, 2, rec.Metrics.PagesVisited)
}

func TestRunSkipsPageAfterThreeListingFailures(t *testing.T) {
	rig := newRig()
	rig.lister.failsLeft[1] = 100
	rig.lister.pages[2] = guide.ListingPage{Total: 60, TotalPages: 2}

	job, err := rig.orchestrator(Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, store.JobStatusCompleted, job.Status)
	// Exactly three attempts on page one, then straight to page two.
	assert.Equal(t, []int{1, 1, 1, 2}, rig.lister.pageReqs)
	assert.Contains(t, job.ErrorMessage, "Page 1 attempt 3")
}

func TestRunRecoversBrowserBetweenListingAttempts(t *testing.T) {
	rig := newRig()
	rig.lister.failsLeft[1] = 1
	rig.lister.failErr = errors.New("chrome failed: target crashed")
	rig.lister.pages[1] = guide.ListingPage{Total: 1, TotalPages: 1}

	job, err := rig.orchestrator(Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, store.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, rig.recoverer.calls)
	assert.Equal(t, []int{1, 1}, rig.lister.pageReqs)
}

func TestRunSingleWithoutWebsiteGoesStraightToPlatforms(t *testing.T) {
	rig := newRig()
	rig.stores.SeedRestaurant(store.Restaurant{
		ID: 1, Name: "Per Se", CrawlStatus: store.CrawlStatusPending, Country: "USA",
	})
	rig.resolver.url = "https://hub.binwise.com/winelist/per-se"
	rig.resolver.found = true

	job, err := rig.orchestrator(Options{RestaurantName: "Per Se"}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, store.JobStatusCompleted, job.Status)
	assert.Empty(t, rig.finder.reqs, "no website means no traversal")
	assert.Equal(t, []string{"Per Se"}, rig.resolver.calls)

	rec, err := rig.stores.Restaurants().GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlStatusWineListFound, rec.CrawlStatus)
	assert.True(t, rec.PlatformSearched)
}

func TestRunSingleDoesNotRepeatPlatformSearch(t *testing.T) {
	rig := newRig()
	rig.stores.SeedRestaurant(store.Restaurant{
		ID: 1, Name: "Per Se", CrawlStatus: store.CrawlStatusNoWebsite, PlatformSearched: true,
	})

	job, err := rig.orchestrator(Options{RestaurantName: "Per Se"}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, store.JobStatusCompleted, job.Status)
	assert.Empty(t, rig.resolver.calls)

	rec, err := rig.stores.Restaurants().GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlStatusNoWebsite, rec.CrawlStatus)
}

func TestRunSingleFallsBackToPlatformsAfterSiteMiss(t *testing.T) {
	rig := newRig()
	rig.stores.SeedRestaurant(store.Restaurant{
		ID: 1, Name: "Smyth", WebsiteURL: "https://smyth.test", CrawlStatus: store.CrawlStatusPending,
	})
	rig.finder.results["https://smyth.test"] = discovery.Result{Found: false, PagesLoaded: 5}
	rig.resolver.url = "https://www.starwinelist.com/restaurant/smyth"
	rig.resolver.found = true

	_, err := rig.orchestrator(Options{RestaurantName: "Smyth"}).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, rig.finder.reqs, 1)
	assert.Equal(t, []string{"Smyth"}, rig.resolver.calls)

	rec, err := rig.stores.Restaurants().GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlStatusWineListFound, rec.CrawlStatus)
}

func TestRunSingleSkipsFoundWineListUnlessForced(t *testing.T) {
	seed := store.Restaurant{
		ID: 1, Name: "Bistro", WebsiteURL: "https://bistro.test",
		WineListURL: "https://bistro.test/old.pdf", CrawlStatus: store.CrawlStatusWineListFound,
	}

	rig := newRig()
	rig.stores.SeedRestaurant(seed)
	_, err := rig.orchestrator(Options{RestaurantName: "Bistro"}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rig.finder.reqs)

	forced := newRig()
	forced.stores.SeedRestaurant(seed)
	forced.finder.results["https://bistro.test"] = discovery.Result{
		URL: "https://bistro.test/new.pdf", Found: true,
	}
	_, err = forced.orchestrator(Options{RestaurantName: "Bistro", Force: true}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, forced.finder.reqs, 1)
	// A forced recrawl must not shortcut through the stale cached URL.
	assert.Empty(t, forced.finder.reqs[0].CachedURL)
}

func TestRunFailedDownloadFallsBackToPlatforms(t *testing.T) {
	rig := newRig()
	rig.stores.SeedRestaurant(store.Restaurant{
		ID: 1, Name: "Bistro", WebsiteURL: "https://bistro.test", CrawlStatus: store.CrawlStatusPending,
	})
	rig.finder.results["https://bistro.test"] = discovery.Result{
		URL: "https://bistro.test/wine-list.pdf", Found: true,
	}
	rig.downloader.errFor = map[string]error{
		"https://bistro.test/wine-list.pdf": errors.New("status 404"),
	}
	rig.resolver.url = "https://hub.binwise.com/winelist/bistro"
	rig.resolver.found = true

	job, err := rig.orchestrator(Options{RestaurantName: "Bistro"}).Run(context.Background())
	require.NoError(t, err)

	// The dead link on the restaurant's own site routes through one
	// platform search before anything is recorded.
	assert.Equal(t, []string{"Bistro"}, rig.resolver.calls)
	assert.Equal(t, []string{
		"https://bistro.test/wine-list.pdf",
		"https://hub.binwise.com/winelist/bistro",
	}, rig.downloader.calls)
	assert.Equal(t, 1, job.Downloaded)

	rec, err := rig.stores.Restaurants().GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlStatusWineListFound, rec.CrawlStatus)
	assert.Equal(t, "https://hub.binwise.com/winelist/bistro", rec.WineListURL)
	assert.True(t, rec.PlatformSearched)
}

func TestRunFailedDownloadRecordsStatusWhenPlatformsMiss(t *testing.T) {
	rig := newRig()
	rig.stores.SeedRestaurant(store.Restaurant{
		ID: 1, Name: "Bistro", WebsiteURL: "https://bistro.test", CrawlStatus: store.CrawlStatusPending,
	})
	rig.finder.results["https://bistro.test"] = discovery.Result{
		URL: "https://bistro.test/wine-list.pdf", Found: true,
	}
	rig.downloader.err = errors.New("status 404")

	job, err := rig.orchestrator(Options{RestaurantName: "Bistro"}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, job.Downloaded)
	assert.Equal(t, []string{"Bistro"}, rig.resolver.calls)

	rec, err := rig.stores.Restaurants().GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlStatusDownloadListFailed, rec.CrawlStatus)
	assert.Equal(t, "https://bistro.test/wine-list.pdf", rec.WineListURL)
}

func TestRunFailedDownloadSkipsPlatformsAlreadySearched(t *testing.T) {
	rig := newRig()
	rig.stores.SeedRestaurant(store.Restaurant{
		ID: 1, Name: "Bistro", WebsiteURL: "https://bistro.test",
		CrawlStatus: store.CrawlStatusPending, PlatformSearched: true,
	})
	rig.finder.results["https://bistro.test"] = discovery.Result{
		URL: "https://bistro.test/wine-list.pdf", Found: true,
	}
	rig.downloader.err = errors.New("status 404")

	_, err := rig.orchestrator(Options{RestaurantName: "Bistro"}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rig.resolver.calls)

	rec, err := rig.stores.Restaurants().GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlStatusDownloadListFailed, rec.CrawlStatus)
}

func TestRunAccumulatesNodeErrors(t *testing.T) {
	rig := newRig()
	rig.lister.pages[1] = guide.ListingPage{
		RestaurantURLs: []string{
			"https://guide.test/restaurant/gone-a",
			"https://guide.test/restaurant/bistro",
			"https://guide.test/restaurant/gone-b",
		},
		Total:      3,
		TotalPages: 1,
	}
	rig.lister.details["https://guide.test/restaurant/bistro"] = store.Restaurant{
		Name: "Bistro", GuideURL: "https://guide.test/restaurant/bistro",
		WebsiteURL: "https://bistro.test",
	}

	job, err := rig.orchestrator(Options{}).Run(context.Background())
	require.NoError(t, err)

	// Two broken detail pages, one working restaurant; the run completes
	// and the job carries both node errors, not just the last one.
	assert.Equal(t, store.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.Processed)
	assert.Contains(t, job.ErrorMessage, "detail https://guide.test/restaurant/gone-a")
	assert.Contains(t, job.ErrorMessage, "detail https://guide.test/restaurant/gone-b")
}

func TestListingStatus(t *testing.T) {
	assert.Equal(t, store.CrawlStatusHasWebsite, listingStatus("https://bistro.test"))
	assert.Equal(t, store.CrawlStatusNoWebsite, listingStatus(""))
}

func TestRunResumeStartsAtCheckpoint(t *testing.T) {
	rig := newRig()
	jobID, err := rig.stores.Jobs().CreateJob(context.Background(), store.Job{
		Kind:          "crawl",
		Status:        store.JobStatusFailed,
		TotalPages:    2,
		StartedAt:     time.Unix(1700000000, 0),
		CheckpointKey: Checkpoint{Page: 2}.Encode(),
	})
	require.NoError(t, err)

	rig.lister.pages[2] = guide.ListingPage{Total: 60, TotalPages: 2}

	job, err := rig.orchestrator(Options{ResumeJobID: jobID}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, store.JobStatusCompleted, job.Status)
	assert.Equal(t, []int{2}, rig.lister.pageReqs, "resume skips completed pages")
}

func TestRunCancelledContextMarksJobCancelled(t *testing.T) {
	rig := newRig()
	rig.lister.pages[1] = guide.ListingPage{
		RestaurantURLs: []string{"https://guide.test/restaurant/bistro"},
		TotalPages:     1,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := rig.orchestrator(Options{}).Run(ctx)
	require.Error(t, err)
	assert.Equal(t, store.JobStatusCancelled, job.Status)
}
