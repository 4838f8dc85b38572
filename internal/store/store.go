package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// JobRepo persists crawl job checkpoints.
type JobRepo interface {
	CreateJob(ctx context.Context, job Job) (int64, error)
	GetJob(ctx context.Context, id int64) (Job, error)
	UpdateJob(ctx context.Context, job Job) error
	RecentJobs(ctx context.Context, limit int) ([]Job, error)
}

// RestaurantRepo is the narrow contract the crawl engine consumes. The
// relational schema behind it is out of the engine's hands.
type RestaurantRepo interface {
	GetByID(ctx context.Context, id int64) (Restaurant, error)
	// FindByNameFuzzy matches exact case-insensitive first, then substring.
	FindByNameFuzzy(ctx context.Context, name string) (Restaurant, error)
	// UpsertFromListing inserts a restaurant discovered on a listing page,
	// or returns the existing row keyed by its guide URL.
	UpsertFromListing(ctx context.Context, r Restaurant) (Restaurant, error)
	UpdateCrawlOutcome(ctx context.Context, id int64, status CrawlStatus, wineListURL string, metrics CrawlMetrics) error
	// MarkPlatformSearched records that hosted platforms were queried, so
	// later passes skip the search regardless of its outcome.
	MarkPlatformSearched(ctx context.Context, id int64) error
}

// WineListRepo records downloaded wine list files.
type WineListRepo interface {
	CreateWineList(ctx context.Context, wl WineList) (int64, error)
	SetTextPath(ctx context.Context, id int64, textPath string) error
}

// SiteRepo resolves the listing site a job is bound to, creating it on
// first use.
type SiteRepo interface {
	EnsureSite(ctx context.Context, name, url string) (ListingSite, error)
}

// Provider bundles the repositories behind one connection.
type Provider interface {
	Jobs() JobRepo
	Restaurants() RestaurantRepo
	WineLists() WineListRepo
	Sites() SiteRepo
	Close()
}
