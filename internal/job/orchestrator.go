package job

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/winerank/winecrawl/internal/browser"
	"github.com/winerank/winecrawl/internal/discovery"
	"github.com/winerank/winecrawl/internal/download"
	"github.com/winerank/winecrawl/internal/extract"
	"github.com/winerank/winecrawl/internal/guide"
	"github.com/winerank/winecrawl/internal/metrics"
	"github.com/winerank/winecrawl/internal/store"
)

// Lister scrapes guide listing and detail pages.
type Lister interface {
	ScrapeListing(ctx context.Context, level string, pageNum int) (guide.ListingPage, error)
	ScrapeDetail(ctx context.Context, url string) (store.Restaurant, error)
}

// WineListFinder runs website discovery for one restaurant.
type WineListFinder interface {
	FindWineList(ctx context.Context, req discovery.Request) discovery.Result
}

// PlatformResolver searches hosted wine list platforms.
type PlatformResolver interface {
	Resolve(ctx context.Context, name string) (url string, found bool, err error)
}

// ListDownloader saves a discovered wine list locally.
type ListDownloader interface {
	Download(ctx context.Context, restaurant, url string) (download.Result, error)
}

// Recoverer rebuilds the browser session after a crash. Nil disables
// recovery.
type Recoverer interface {
	Recover() error
}

// Options selects what a run crawls.
type Options struct {
	GuideName string
	GuideURL  string
	Level     string
	// RestaurantName limits the run to one restaurant already on record.
	RestaurantName string
	// ResumeJobID continues an interrupted run from its checkpoint.
	ResumeJobID int64
	// Force recrawls restaurants whose wine list is already on record.
	Force bool
	// MaxFailures is the consecutive listing failures tolerated before a
	// page is skipped.
	MaxFailures int
}

// Orchestrator owns one crawl run.
type Orchestrator struct {
	stores     store.Provider
	lister     Lister
	finder     WineListFinder
	resolver   PlatformResolver
	downloader ListDownloader
	recoverer  Recoverer
	metrics    *metrics.Metrics
	clock      store.Clock
	log        *zap.Logger
	opts       Options

	// errs collects non-fatal node errors across the run; the joined log
	// lands on the job row.
	errs []string
}

func NewOrchestrator(stores store.Provider, lister Lister, finder WineListFinder,
	resolver PlatformResolver, downloader ListDownloader, recoverer Recoverer,
	m *metrics.Metrics, clock store.Clock, log *zap.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		stores:     stores,
		lister:     lister,
		finder:     finder,
		resolver:   resolver,
		downloader: downloader,
		recoverer:  recoverer,
		metrics:    m,
		clock:      clock,
		log:        log,
		opts:       opts,
	}
}

// Run executes the crawl and returns the final job record. The job row is
// checkpointed after every restaurant, so any outcome short of a store
// failure leaves a resumable or complete record behind.
func (o *Orchestrator) Run(ctx context.Context) (store.Job, error) {
	job, cp, err := o.openJob(ctx)
	if err != nil {
		return store.Job{}, err
	}

	if o.opts.RestaurantName != "" {
		err = o.runSingle(ctx, &job)
	} else {
		err = o.runListing(ctx, &job, cp)
	}

	now := o.clock.Now()
	job.CompletedAt = &now
	job.DurationSecs = now.Sub(job.StartedAt).Seconds()
	switch {
	case err == nil:
		job.Status = store.JobStatusCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		job.Status = store.JobStatusCancelled
		o.noteError(&job, err.Error())
	default:
		job.Status = store.JobStatusFailed
		o.noteError(&job, err.Error())
	}
	if uerr := o.stores.Jobs().UpdateJob(ctx, job); uerr != nil {
		o.log.Error("finalizing job failed", zap.Int64("job_id", job.ID), zap.Error(uerr))
	}
	o.log.Info("job finished",
		zap.Int64("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("processed", job.Processed),
		zap.Int("downloaded", job.Downloaded))
	return job, err
}

func (o *Orchestrator) openJob(ctx context.Context) (store.Job, Checkpoint, error) {
	if o.opts.ResumeJobID != 0 {
		job, err := o.stores.Jobs().GetJob(ctx, o.opts.ResumeJobID)
		if err != nil {
			return store.Job{}, Checkpoint{}, fmt.Errorf("loading job %d: %w", o.opts.ResumeJobID, err)
		}
		cp, err := DecodeCheckpoint(job.CheckpointKey)
		if err != nil {
			o.log.Warn("checkpoint unreadable, restarting from page one", zap.Error(err))
			cp = Checkpoint{Version: checkpointVersion, Page: 1}
		}
		job.Status = store.JobStatusRunning
		job.CompletedAt = nil
		o.log.Info("resuming job", zap.Int64("job_id", job.ID),
			zap.Int("page", cp.Page), zap.Int("index", cp.Index))
		return job, cp, nil
	}

	site, err := o.stores.Sites().EnsureSite(ctx, o.opts.GuideName, o.opts.GuideURL)
	if err != nil {
		return store.Job{}, Checkpoint{}, fmt.Errorf("resolving listing site: %w", err)
	}
	kind := "crawl"
	if o.opts.RestaurantName != "" {
		kind = "single"
	}
	job := store.Job{
		Kind:          kind,
		LevelFilter:   o.opts.Level,
		Status:        store.JobStatusRunning,
		StartedAt:     o.clock.Now(),
		ListingSiteID: site.ID,
	}
	job.ID, err = o.stores.Jobs().CreateJob(ctx, job)
	if err != nil {
		return store.Job{}, Checkpoint{}, fmt.Errorf("creating job: %w", err)
	}
	return job, Checkpoint{Version: checkpointVersion, Page: 1}, nil
}

// runListing walks the guide's listing pages. Listing failures feed the
// breaker; three in a row abandon the page instead of the run.
func (o *Orchestrator) runListing(ctx context.Context, job *store.Job, cp Checkpoint) error {
	brk := newBreaker(o.opts.MaxFailures)
	pageNum := cp.Page
	startIndex := cp.Index

	for {
		if job.TotalPages > 0 && pageNum > job.TotalPages {
			return nil
		}

		listing, skipped, err := o.scrapeListingPage(ctx, job, brk, pageNum)
		if err != nil {
			return err
		}
		if skipped {
			pageNum++
			startIndex = 0
			o.checkpoint(ctx, job, Checkpoint{Page: pageNum})
			continue
		}

		if job.TotalPages == 0 {
			job.TotalPages = listing.TotalPages
		}

		for i := startIndex; i < len(listing.RestaurantURLs); i++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.processListingEntry(ctx, job, listing.RestaurantURLs[i])
			job.CurrentPage = pageNum
			o.checkpoint(ctx, job, Checkpoint{Page: pageNum, Index: i + 1})
		}

		pageNum++
		startIndex = 0
		o.checkpoint(ctx, job, Checkpoint{Page: pageNum})
	}
}

// scrapeListingPage retries one listing page until it loads or the
// breaker trips. Browser crashes trigger a session rebuild between
// attempts; the job's counters are untouched by recovery.
func (o *Orchestrator) scrapeListingPage(ctx context.Context, job *store.Job, brk *breaker, pageNum int) (guide.ListingPage, bool, error) {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return guide.ListingPage{}, false, ctx.Err()
		}
		listing, err := o.lister.ScrapeListing(ctx, o.opts.Level, pageNum)
		if err == nil {
			brk.success()
			return listing, false, nil
		}

		if browser.IsCrash(err) {
			o.recover()
		}
		msg := fmt.Sprintf("Page %d attempt %d: %v", pageNum, attempt, err)
		o.log.Warn("listing page failed", zap.String("error", msg),
			zap.Int("consecutive_failures", brk.count()+1))
		o.noteError(job, msg)

		if brk.failure() {
			o.metrics.BreakerTrips.Inc()
			o.log.Warn("skipping listing page after repeated failures",
				zap.Int("page", pageNum))
			return guide.ListingPage{}, true, nil
		}
	}
}

func (o *Orchestrator) recover() {
	if o.recoverer == nil {
		return
	}
	if err := o.recoverer.Recover(); err != nil {
		o.log.Error("browser recovery failed", zap.Error(err))
		return
	}
	o.metrics.BrowserRecoveries.Inc()
}

// processListingEntry takes one restaurant from a listing page through
// the full pipeline. Failures are recorded on the restaurant, never
// propagated; one broken site must not sink the run.
func (o *Orchestrator) processListingEntry(ctx context.Context, job *store.Job, detailURL string) {
	rec, err := o.scrapeDetail(ctx, detailURL)
	if err != nil {
		o.log.Warn("restaurant detail failed", zap.String("url", detailURL), zap.Error(err))
		o.noteError(job, fmt.Sprintf("detail %s: %v", detailURL, err))
		job.Processed++
		return
	}
	rec.ListingSiteID = job.ListingSiteID
	rec.CrawlStatus = listingStatus(rec.WebsiteURL)
	rec, err = o.stores.Restaurants().UpsertFromListing(ctx, rec)
	if err != nil {
		o.log.Error("restaurant upsert failed", zap.String("url", detailURL), zap.Error(err))
		o.noteError(job, fmt.Sprintf("upsert %s: %v", detailURL, err))
		job.Processed++
		return
	}
	job.Found++
	o.crawlRestaurant(ctx, job, rec)
	job.Processed++
}

func (o *Orchestrator) scrapeDetail(ctx context.Context, url string) (store.Restaurant, error) {
	rec, err := o.lister.ScrapeDetail(ctx, url)
	if err != nil && browser.IsCrash(err) {
		o.recover()
		rec, err = o.lister.ScrapeDetail(ctx, url)
	}
	return rec, err
}

func (o *Orchestrator) runSingle(ctx context.Context, job *store.Job) error {
	rec, err := o.stores.Restaurants().FindByNameFuzzy(ctx, o.opts.RestaurantName)
	if err != nil {
		return fmt.Errorf("finding restaurant %q: %w", o.opts.RestaurantName, err)
	}
	job.Found = 1
	o.crawlRestaurant(ctx, job, rec)
	job.Processed = 1
	return ctx.Err()
}

// crawlRestaurant routes one restaurant through discovery, platform
// search, and download according to its record.
func (o *Orchestrator) crawlRestaurant(ctx context.Context, job *store.Job, rec store.Restaurant) {
	started := o.clock.Now()
	m := store.CrawlMetrics{}
	finish := func(status store.CrawlStatus, wineListURL string) {
		m.DurationSecs = o.clock.Now().Sub(started).Seconds()
		o.metrics.RestaurantsCrawled.WithLabelValues(string(status)).Inc()
		o.metrics.CrawlDuration.Observe(m.DurationSecs)
		if err := o.stores.Restaurants().UpdateCrawlOutcome(ctx, rec.ID, status, wineListURL, m); err != nil {
			o.log.Error("recording crawl outcome failed",
				zap.Int64("restaurant_id", rec.ID), zap.Error(err))
		}
	}

	step := NextStep(rec, o.opts.Force)
	log := o.log.With(zap.String("restaurant", rec.Name), zap.Int64("restaurant_id", rec.ID))
	log.Info("crawling restaurant", zap.String("step", step.String()))

	if step == StepDiscoverWebsite {
		cached := rec.WineListURL
		if o.opts.Force {
			cached = ""
		}
		res := o.finder.FindWineList(ctx, discovery.Request{
			SiteURL:      rec.WebsiteURL,
			CachedURL:    cached,
			Name:         rec.Name,
			LanguageHint: discovery.LanguageHintForCountry(rec.Country),
		})
		m.PagesVisited += res.PagesLoaded
		m.TokensUsed += res.TokensUsed
		o.metrics.OracleTokens.Add(float64(res.TokensUsed))
		if res.Found {
			o.saveWineList(ctx, job, rec, res.URL, finish)
			return
		}
		step = NextAfterMiss(rec)
		log.Info("website traversal found nothing", zap.String("next", step.String()))
	}

	switch step {
	case StepSkip:
		log.Debug("wine list already on record")
	case StepSearchPlatforms:
		o.searchPlatforms(ctx, job, rec, finish, missStatusFor(rec), "")
	case StepRecordNoWebsite:
		finish(store.CrawlStatusNoWebsite, "")
	case StepRecordNoWineList:
		finish(store.CrawlStatusNoWineList, "")
	}
}

// missStatusFor is the outcome recorded when a platform search started
// from routing (not from a failed download) comes up empty.
func missStatusFor(rec store.Restaurant) store.CrawlStatus {
	if rec.WebsiteURL == "" {
		return store.CrawlStatusNoWebsite
	}
	return store.CrawlStatusNoWineList
}

// searchPlatforms runs the hosted-platform fallback once. missStatus and
// missURL are recorded when no candidate survives validation.
func (o *Orchestrator) searchPlatforms(ctx context.Context, job *store.Job, rec store.Restaurant,
	finish func(store.CrawlStatus, string), missStatus store.CrawlStatus, missURL string) {
	log := o.log.With(zap.String("restaurant", rec.Name), zap.Int64("restaurant_id", rec.ID))
	if err := o.stores.Restaurants().MarkPlatformSearched(ctx, rec.ID); err != nil {
		log.Error("marking platform search failed", zap.Error(err))
	}
	rec.PlatformSearched = true
	url, found, err := o.resolver.Resolve(ctx, rec.Name)
	if err != nil {
		log.Warn("platform search errored", zap.Error(err))
	}
	if found {
		o.saveWineList(ctx, job, rec, url, finish)
		return
	}
	finish(missStatus, missURL)
}

// saveWineList downloads a discovered list, extracts text from HTML
// lists, and records the result.
func (o *Orchestrator) saveWineList(ctx context.Context, job *store.Job, rec store.Restaurant,
	srcURL string, finish func(store.CrawlStatus, string)) {
	o.metrics.WineListsFound.Inc()

	res, err := o.downloader.Download(ctx, rec.Name, srcURL)
	if err != nil && browser.IsCrash(err) {
		o.recover()
		res, err = o.downloader.Download(ctx, rec.Name, srcURL)
	}
	if err != nil {
		o.log.Warn("wine list download failed",
			zap.String("restaurant", rec.Name), zap.String("url", srcURL), zap.Error(err))
		o.noteError(job, fmt.Sprintf("download %s: %v", srcURL, err))
		if !rec.PlatformSearched {
			// One platform attempt before the failure is recorded.
			o.searchPlatforms(ctx, job, rec, finish, store.CrawlStatusDownloadListFailed, srcURL)
			return
		}
		finish(store.CrawlStatusDownloadListFailed, srcURL)
		return
	}

	wl := store.WineList{
		RestaurantID: rec.ID,
		Name:         rec.Name,
		SourceURL:    srcURL,
		LocalPath:    res.Path,
		FileHash:     res.Hash,
		FileSize:     res.Size,
		DownloadedAt: o.clock.Now(),
	}
	id, err := o.stores.WineLists().CreateWineList(ctx, wl)
	if err != nil {
		o.log.Error("recording wine list failed", zap.String("restaurant", rec.Name), zap.Error(err))
	} else if !res.PDF {
		if txtPath, terr := extract.TextToFile(res.Path); terr != nil {
			o.log.Warn("text extraction failed", zap.String("path", res.Path), zap.Error(terr))
			o.noteError(job, fmt.Sprintf("extract %s: %v", res.Path, terr))
		} else if serr := o.stores.WineLists().SetTextPath(ctx, id, txtPath); serr != nil {
			o.log.Error("recording text path failed", zap.Int64("wine_list_id", id), zap.Error(serr))
		}
	}

	job.Downloaded++
	o.metrics.WineListsSaved.Inc()
	finish(store.CrawlStatusWineListFound, srcURL)
}

// listingStatus is the status a freshly scraped restaurant carries into
// the store, before any crawl outcome overwrites it.
func listingStatus(websiteURL string) store.CrawlStatus {
	if websiteURL == "" {
		return store.CrawlStatusNoWebsite
	}
	return store.CrawlStatusHasWebsite
}

// noteError appends a non-fatal node error to the run's error log and
// mirrors the joined, truncated log onto the job row. Only the first
// maxJobErrors entries are kept.
func (o *Orchestrator) noteError(job *store.Job, msg string) {
	if len(o.errs) < maxJobErrors {
		o.errs = append(o.errs, msg)
	}
	job.ErrorMessage = truncateError(strings.Join(o.errs, "\n"))
}

func (o *Orchestrator) checkpoint(ctx context.Context, job *store.Job, cp Checkpoint) {
	job.CheckpointKey = cp.Encode()
	snapshot := *job
	if err := o.stores.Jobs().UpdateJob(ctx, snapshot); err != nil {
		o.log.Error("checkpoint failed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
}
