package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/winerank/winecrawl/internal/api"
	"github.com/winerank/winecrawl/internal/browser"
	"github.com/winerank/winecrawl/internal/clock/system"
	"github.com/winerank/winecrawl/internal/config"
	"github.com/winerank/winecrawl/internal/discovery"
	"github.com/winerank/winecrawl/internal/download"
	"github.com/winerank/winecrawl/internal/fetch"
	"github.com/winerank/winecrawl/internal/guide"
	"github.com/winerank/winecrawl/internal/id/uuid"
	"github.com/winerank/winecrawl/internal/job"
	"github.com/winerank/winecrawl/internal/metrics"
	"github.com/winerank/winecrawl/internal/platform"
	"github.com/winerank/winecrawl/internal/store"
)

var (
	flagLevel      string
	flagRestaurant string
	flagResume     int64
	flagForce      bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run a wine list crawl",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runCrawl(ctx, cfg, log)
	},
}

func init() {
	crawlCmd.Flags().StringVar(&flagLevel, "level", "", "distinction level filter (3, 2, 1, gourmand, selected, all)")
	crawlCmd.Flags().StringVar(&flagRestaurant, "restaurant", "", "crawl a single restaurant by name")
	crawlCmd.Flags().Int64Var(&flagResume, "resume", 0, "resume an interrupted job by id")
	crawlCmd.Flags().BoolVar(&flagForce, "force", false, "recrawl restaurants that already have a wine list")
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if runID, err := uuid.New().NewID(); err == nil {
		log = log.With(zap.String("run_id", runID))
	}

	stores, err := store.NewPostgres(ctx, store.PostgresConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer stores.Close()

	session, err := browser.NewSession(browser.Options{
		Headless:    cfg.Browser.Headless,
		UserAgent:   cfg.Crawl.UserAgent,
		NavTimeout:  cfg.Browser.NavTimeout(),
		DownloadDir: cfg.Download.Dir,
	}, log)
	if err != nil {
		return fmt.Errorf("starting browser: %w", err)
	}
	defer session.Close()

	m := metrics.New()
	fetcher := fetch.New(cfg.Crawl.UserAgent,
		time.Duration(cfg.Discovery.TimeoutSeconds)*time.Second, session, m, log)

	var ranker discovery.CandidateRanker
	if cfg.Oracle.Enabled {
		r, err := discovery.NewLLMRanker(cfg.Oracle.Provider, cfg.Oracle.Model, cfg.Oracle.APIKey)
		if err != nil {
			return fmt.Errorf("configuring oracle: %w", err)
		}
		ranker = r
	}

	matcher := platform.NewMatcher(cfg.Platform.Domains)
	finder := discovery.NewFinder(fetcher, matcher.Match, ranker, log,
		cfg.Discovery.MaxDepth, cfg.Discovery.MaxPages)
	resolver := platform.NewResolver(
		platform.NewCollySearch(fetcher, cfg.Platform.SearchURL),
		fetcher, matcher, log,
		time.Duration(cfg.Platform.PassDelayMs)*time.Millisecond,
		cfg.Platform.ResultsPerPass)
	scraper := guide.NewScraper(fetcher, cfg.Crawl.GuideURL, log)
	downloader := download.New(fetcher, session, log, cfg.Download.Dir, cfg.Browser.DownloadTimeout())

	if cfg.API.Enabled {
		srv := api.New(cfg.API.Port, stores.Jobs(), log)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	level := cfg.Crawl.Level
	if flagLevel != "" {
		level = flagLevel
	}

	orch := job.NewOrchestrator(stores, scraper, finder, resolver, downloader, session,
		m, system.New(), log, job.Options{
			GuideName:      cfg.Crawl.GuideName,
			GuideURL:       cfg.Crawl.GuideURL,
			Level:          level,
			RestaurantName: flagRestaurant,
			ResumeJobID:    flagResume,
			Force:          flagForce,
			MaxFailures:    cfg.Crawl.MaxConsecutiveFail,
		})

	_, err = orch.Run(ctx)
	return err
}
