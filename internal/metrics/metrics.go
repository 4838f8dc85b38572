// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline collectors. Register once per process.
type Metrics struct {
	PagesFetched       *prometheus.CounterVec
	RestaurantsCrawled *prometheus.CounterVec
	WineListsFound     prometheus.Counter
	WineListsSaved     prometheus.Counter
	BreakerTrips       prometheus.Counter
	BrowserRecoveries  prometheus.Counter
	OracleTokens       prometheus.Counter
	CrawlDuration      prometheus.Histogram
}

var (
	once sync.Once
	m    *Metrics
)

// New returns the process-wide metrics, creating them on first call.
// Repeated calls return the same collectors so tests and the API server
// can share them.
func New() *Metrics {
	once.Do(func() {
		m = &Metrics{
			PagesFetched: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "winecrawl",
				Name:      "pages_fetched_total",
				Help:      "Pages fetched, by transport (http or browser).",
			}, []string{"transport"}),
			RestaurantsCrawled: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "winecrawl",
				Name:      "restaurants_crawled_total",
				Help:      "Restaurants processed, by final crawl status.",
			}, []string{"status"}),
			WineListsFound: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "winecrawl",
				Name:      "wine_lists_found_total",
				Help:      "Wine list URLs discovered.",
			}),
			WineListsSaved: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "winecrawl",
				Name:      "wine_lists_saved_total",
				Help:      "Wine list files downloaded to disk.",
			}),
			BreakerTrips: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "winecrawl",
				Name:      "listing_breaker_trips_total",
				Help:      "Listing pages skipped after repeated failures.",
			}),
			BrowserRecoveries: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "winecrawl",
				Name:      "browser_recoveries_total",
				Help:      "Browser sessions rebuilt after a crash.",
			}),
			OracleTokens: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "winecrawl",
				Name:      "oracle_tokens_total",
				Help:      "LLM tokens spent ranking wine list candidates.",
			}),
			CrawlDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "winecrawl",
				Name:      "restaurant_crawl_duration_seconds",
				Help:      "Wall time spent per restaurant.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			}),
		}
	})
	return m
}
