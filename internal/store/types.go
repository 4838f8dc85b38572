// Package store defines the persistence contracts shared by the crawl
// pipeline: the Job checkpoint record and the Restaurant repository.
package store

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the jobs table.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// CrawlStatus tracks how far a restaurant has progressed through the
// pipeline. Transitions only move forward unless a forced recrawl resets
// them.
type CrawlStatus string

// Restaurant crawl status values.
const (
	CrawlStatusPending            CrawlStatus = "pending"
	CrawlStatusHasWebsite         CrawlStatus = "has_website"
	CrawlStatusNoWebsite          CrawlStatus = "no_website"
	CrawlStatusWineListFound      CrawlStatus = "wine_list_found"
	CrawlStatusNoWineList         CrawlStatus = "no_wine_list"
	CrawlStatusDownloadListFailed CrawlStatus = "download_list_failed"
	CrawlStatusError              CrawlStatus = "error"
)

// Job is the checkpoint record for one crawler run. It is created when a
// run starts (or reloaded on resume) and mutated only by the orchestrator.
type Job struct {
	ID            int64
	Kind          string
	LevelFilter   string
	Status        JobStatus
	TotalPages    int
	CurrentPage   int
	Found         int
	Processed     int
	Downloaded    int
	StartedAt     time.Time
	CompletedAt   *time.Time
	DurationSecs  float64
	ErrorMessage  string
	ListingSiteID int64
	CheckpointKey string
}

// ListingSite identifies the restaurant-guide site a job crawls.
type ListingSite struct {
	ID        int64
	Name      string
	URL       string
	CreatedAt time.Time
}

// Restaurant is the per-restaurant record read and written through the
// repository interface.
type Restaurant struct {
	ID            int64
	Name          string
	GuideURL      string
	WebsiteURL    string
	WineListURL   string
	Distinction   string
	City          string
	State         string
	Country       string
	Cuisine       string
	CrawlStatus   CrawlStatus
	// PlatformSearched marks that hosted wine list platforms were already
	// queried for this restaurant, so a retry does not search them again.
	PlatformSearched bool
	LastCrawledAt    *time.Time
	ListingSiteID int64
	Metrics       CrawlMetrics
}

// CrawlMetrics captures per-restaurant crawl cost for reporting.
type CrawlMetrics struct {
	DurationSecs float64
	PagesVisited int
	TokensUsed   int
}

// WineList records one downloaded wine list file.
type WineList struct {
	ID           int64
	RestaurantID int64
	Name         string
	SourceURL    string
	LocalPath    string
	TextPath     string
	FileHash     string
	FileSize     int64
	DownloadedAt time.Time
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
