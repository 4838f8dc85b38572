package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig controls the pgx connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres implements Provider on a pgx connection pool.
type Postgres struct {
	pool pgxPool
}

// NewPostgres connects a pool and pings it.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (tests use pgxmock here).
func NewPostgresWithPool(pool pgxPool) *Postgres {
	return &Postgres{pool: pool}
}

// Jobs returns the job repository.
func (p *Postgres) Jobs() JobRepo { return (*pgJobRepo)(p) }

// Restaurants returns the restaurant repository.
func (p *Postgres) Restaurants() RestaurantRepo { return (*pgRestaurantRepo)(p) }

// WineLists returns the wine list repository.
func (p *Postgres) WineLists() WineListRepo { return (*pgWineListRepo)(p) }

// Sites returns the listing site repository.
func (p *Postgres) Sites() SiteRepo { return (*pgSiteRepo)(p) }

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

type pgJobRepo Postgres

func (r *pgJobRepo) CreateJob(ctx context.Context, job Job) (int64, error) {
	const q = `
		INSERT INTO jobs (kind, level_filter, status, total_pages, current_page,
			restaurants_found, restaurants_processed, wine_lists_downloaded,
			started_at, listing_site_id, checkpoint_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	var id int64
	err := r.pool.QueryRow(ctx, q,
		job.Kind, job.LevelFilter, string(job.Status), job.TotalPages, job.CurrentPage,
		job.Found, job.Processed, job.Downloaded,
		job.StartedAt, job.ListingSiteID, job.CheckpointKey,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

func (r *pgJobRepo) GetJob(ctx context.Context, id int64) (Job, error) {
	const q = `
		SELECT id, kind, level_filter, status, total_pages, current_page,
			restaurants_found, restaurants_processed, wine_lists_downloaded,
			started_at, completed_at, duration_seconds, error_message,
			listing_site_id, checkpoint_key
		FROM jobs WHERE id = $1`
	var (
		job    Job
		status string
	)
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&job.ID, &job.Kind, &job.LevelFilter, &status, &job.TotalPages, &job.CurrentPage,
		&job.Found, &job.Processed, &job.Downloaded,
		&job.StartedAt, &job.CompletedAt, &job.DurationSecs, &job.ErrorMessage,
		&job.ListingSiteID, &job.CheckpointKey,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("select job %d: %w", id, err)
	}
	job.Status = JobStatus(status)
	return job, nil
}

func (r *pgJobRepo) UpdateJob(ctx context.Context, job Job) error {
	const q = `
		UPDATE jobs SET status = $2, total_pages = $3, current_page = $4,
			restaurants_found = $5, restaurants_processed = $6,
			wine_lists_downloaded = $7, completed_at = $8,
			duration_seconds = $9, error_message = $10, checkpoint_key = $11
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q,
		job.ID, string(job.Status), job.TotalPages, job.CurrentPage,
		job.Found, job.Processed, job.Downloaded,
		job.CompletedAt, job.DurationSecs, job.ErrorMessage, job.CheckpointKey,
	)
	if err != nil {
		return fmt.Errorf("update job %d: %w", job.ID, err)
	}
	return nil
}

func (r *pgJobRepo) RecentJobs(ctx context.Context, limit int) ([]Job, error) {
	const q = `
		SELECT id, kind, level_filter, status, total_pages, current_page,
			restaurants_found, restaurants_processed, wine_lists_downloaded,
			started_at, completed_at, duration_seconds, error_message,
			listing_site_id, checkpoint_key
		FROM jobs ORDER BY started_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select recent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			job    Job
			status string
		)
		if err := rows.Scan(
			&job.ID, &job.Kind, &job.LevelFilter, &status, &job.TotalPages, &job.CurrentPage,
			&job.Found, &job.Processed, &job.Downloaded,
			&job.StartedAt, &job.CompletedAt, &job.DurationSecs, &job.ErrorMessage,
			&job.ListingSiteID, &job.CheckpointKey,
		); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		job.Status = JobStatus(status)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

type pgRestaurantRepo Postgres

const restaurantColumns = `id, name, guide_url, website_url, wine_list_url,
	distinction, city, state, country, cuisine, crawl_status, platform_searched,
	last_crawled_at, listing_site_id, crawl_duration_seconds, pages_visited, tokens_used`

func scanRestaurant(row pgx.Row) (Restaurant, error) {
	var (
		r      Restaurant
		status string
	)
	err := row.Scan(
		&r.ID, &r.Name, &r.GuideURL, &r.WebsiteURL, &r.WineListURL,
		&r.Distinction, &r.City, &r.State, &r.Country, &r.Cuisine,
		&status, &r.PlatformSearched, &r.LastCrawledAt, &r.ListingSiteID,
		&r.Metrics.DurationSecs, &r.Metrics.PagesVisited, &r.Metrics.TokensUsed,
	)
	if err != nil {
		return Restaurant{}, err
	}
	r.CrawlStatus = CrawlStatus(status)
	return r, nil
}

func (r *pgRestaurantRepo) GetByID(ctx context.Context, id int64) (Restaurant, error) {
	q := `SELECT ` + restaurantColumns + ` FROM restaurants WHERE id = $1`
	rec, err := scanRestaurant(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Restaurant{}, ErrNotFound
	}
	if err != nil {
		return Restaurant{}, fmt.Errorf("select restaurant %d: %w", id, err)
	}
	return rec, nil
}

func (r *pgRestaurantRepo) FindByNameFuzzy(ctx context.Context, name string) (Restaurant, error) {
	name = strings.TrimSpace(name)
	exact := `SELECT ` + restaurantColumns + ` FROM restaurants WHERE lower(name) = lower($1) LIMIT 1`
	rec, err := scanRestaurant(r.pool.QueryRow(ctx, exact, name))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Restaurant{}, fmt.Errorf("select restaurant by name: %w", err)
	}

	sub := `SELECT ` + restaurantColumns + ` FROM restaurants WHERE name ILIKE '%' || $1 || '%' ORDER BY name LIMIT 1`
	rec, err = scanRestaurant(r.pool.QueryRow(ctx, sub, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return Restaurant{}, ErrNotFound
	}
	if err != nil {
		return Restaurant{}, fmt.Errorf("select restaurant by name substring: %w", err)
	}
	return rec, nil
}

func (r *pgRestaurantRepo) UpsertFromListing(ctx context.Context, rec Restaurant) (Restaurant, error) {
	existing := `SELECT ` + restaurantColumns + ` FROM restaurants WHERE guide_url = $1`
	found, err := scanRestaurant(r.pool.QueryRow(ctx, existing, rec.GuideURL))
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Restaurant{}, fmt.Errorf("select restaurant by guide url: %w", err)
	}

	const ins = `
		INSERT INTO restaurants (name, guide_url, website_url, distinction,
			city, state, country, cuisine, crawl_status, listing_site_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	err = r.pool.QueryRow(ctx, ins,
		rec.Name, rec.GuideURL, rec.WebsiteURL, rec.Distinction,
		rec.City, rec.State, rec.Country, rec.Cuisine,
		string(rec.CrawlStatus), rec.ListingSiteID,
	).Scan(&rec.ID)
	if err != nil {
		return Restaurant{}, fmt.Errorf("insert restaurant: %w", err)
	}
	return rec, nil
}

func (r *pgRestaurantRepo) UpdateCrawlOutcome(ctx context.Context, id int64, status CrawlStatus, wineListURL string, metrics CrawlMetrics) error {
	const q = `
		UPDATE restaurants SET crawl_status = $2,
			wine_list_url = CASE WHEN $3 <> '' THEN $3 ELSE wine_list_url END,
			last_crawled_at = now(),
			crawl_duration_seconds = $4, pages_visited = $5, tokens_used = $6
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, string(status), wineListURL,
		metrics.DurationSecs, metrics.PagesVisited, metrics.TokensUsed)
	if err != nil {
		return fmt.Errorf("update restaurant %d outcome: %w", id, err)
	}
	return nil
}

func (r *pgRestaurantRepo) MarkPlatformSearched(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE restaurants SET platform_searched = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark restaurant %d platform searched: %w", id, err)
	}
	return nil
}

type pgWineListRepo Postgres

func (r *pgWineListRepo) CreateWineList(ctx context.Context, wl WineList) (int64, error) {
	const q = `
		INSERT INTO wine_lists (restaurant_id, list_name, source_url,
			local_file_path, file_hash, file_size, downloaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	var id int64
	err := r.pool.QueryRow(ctx, q,
		wl.RestaurantID, wl.Name, wl.SourceURL, wl.LocalPath,
		wl.FileHash, wl.FileSize, wl.DownloadedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert wine list: %w", err)
	}
	return id, nil
}

func (r *pgWineListRepo) SetTextPath(ctx context.Context, id int64, textPath string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE wine_lists SET text_file_path = $2 WHERE id = $1`, id, textPath)
	if err != nil {
		return fmt.Errorf("update wine list %d text path: %w", id, err)
	}
	return nil
}

type pgSiteRepo Postgres

func (r *pgSiteRepo) EnsureSite(ctx context.Context, name, url string) (ListingSite, error) {
	var site ListingSite
	err := r.pool.QueryRow(ctx,
		`SELECT id, site_name, site_url, created_at FROM listing_sites WHERE site_name = $1`,
		name,
	).Scan(&site.ID, &site.Name, &site.URL, &site.CreatedAt)
	if err == nil {
		return site, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ListingSite{}, fmt.Errorf("select listing site: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO listing_sites (site_name, site_url) VALUES ($1, $2) RETURNING id, created_at`,
		name, url,
	).Scan(&site.ID, &site.CreatedAt)
	if err != nil {
		return ListingSite{}, fmt.Errorf("insert listing site: %w", err)
	}
	site.Name = name
	site.URL = url
	return site, nil
}
