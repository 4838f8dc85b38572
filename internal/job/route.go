package job

import "github.com/winerank/winecrawl/internal/store"

// Step is the closed set of moves the per-restaurant pipeline can make.
// Routing decisions go through these values, never through status strings.
type Step uint8

const (
	// StepSkip leaves the restaurant alone; its wine list is already on
	// record.
	StepSkip Step = iota
	// StepDiscoverWebsite traverses the restaurant's own website.
	StepDiscoverWebsite
	// StepSearchPlatforms queries hosted wine list platforms.
	StepSearchPlatforms
	// StepRecordNoWebsite closes the restaurant out with no website and
	// the platforms already exhausted.
	StepRecordNoWebsite
	// StepRecordNoWineList closes the restaurant out after both the site
	// and the platforms came up empty.
	StepRecordNoWineList
)

func (s Step) String() string {
	switch s {
	case StepSkip:
		return "skip"
	case StepDiscoverWebsite:
		return "discover_website"
	case StepSearchPlatforms:
		return "search_platforms"
	case StepRecordNoWebsite:
		return "record_no_website"
	case StepRecordNoWineList:
		return "record_no_wine_list"
	default:
		return "unknown"
	}
}

// NextStep picks the entry move for a restaurant. A found wine list skips
// the restaurant unless the run forces a recrawl. Without a website the
// pipeline goes straight to the platforms, and only once: a restaurant
// whose platform search already ran is closed out instead of searched
// again.
func NextStep(r store.Restaurant, force bool) Step {
	if r.CrawlStatus == store.CrawlStatusWineListFound && !force {
		return StepSkip
	}
	if r.WebsiteURL == "" {
		if r.PlatformSearched {
			return StepRecordNoWebsite
		}
		return StepSearchPlatforms
	}
	return StepDiscoverWebsite
}

// NextAfterMiss picks the move after website traversal found nothing.
func NextAfterMiss(r store.Restaurant) Step {
	if r.PlatformSearched {
		return StepRecordNoWineList
	}
	return StepSearchPlatforms
}
