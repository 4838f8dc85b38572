package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory provides an in-memory Provider for development and testing.
type Memory struct {
	mu          sync.RWMutex
	jobs        map[int64]Job
	restaurants map[int64]Restaurant
	wineLists   map[int64]WineList
	sites       map[string]ListingSite
	nextJob     int64
	nextRest    int64
	nextList    int64
	nextSite    int64
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:        make(map[int64]Job),
		restaurants: make(map[int64]Restaurant),
		wineLists:   make(map[int64]WineList),
		sites:       make(map[string]ListingSite),
	}
}

// Jobs returns the job repository.
func (m *Memory) Jobs() JobRepo { return (*memJobRepo)(m) }

// Restaurants returns the restaurant repository.
func (m *Memory) Restaurants() RestaurantRepo { return (*memRestaurantRepo)(m) }

// WineLists returns the wine list repository.
func (m *Memory) WineLists() WineListRepo { return (*memWineListRepo)(m) }

// Sites returns the listing site repository.
func (m *Memory) Sites() SiteRepo { return (*memSiteRepo)(m) }

// Close is a no-op for the in-memory store.
func (m *Memory) Close() {}

// SeedRestaurant inserts a restaurant directly; test setup helper.
func (m *Memory) SeedRestaurant(r Restaurant) Restaurant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		m.nextRest++
		r.ID = m.nextRest
	} else if r.ID > m.nextRest {
		m.nextRest = r.ID
	}
	m.restaurants[r.ID] = r
	return r
}

type memJobRepo Memory

func (m *memJobRepo) CreateJob(_ context.Context, job Job) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJob++
	job.ID = m.nextJob
	m.jobs[job.ID] = job
	return job.ID, nil
}

func (m *memJobRepo) GetJob(_ context.Context, id int64) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (m *memJobRepo) UpdateJob(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *memJobRepo) RecentJobs(_ context.Context, limit int) ([]Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

type memRestaurantRepo Memory

func (m *memRestaurantRepo) GetByID(_ context.Context, id int64) (Restaurant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.restaurants[id]
	if !ok {
		return Restaurant{}, ErrNotFound
	}
	return r, nil
}

func (m *memRestaurantRepo) FindByNameFuzzy(_ context.Context, name string) (Restaurant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(name))

	ids := make([]int64, 0, len(m.restaurants))
	for id := range m.restaurants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if strings.ToLower(m.restaurants[id].Name) == needle {
			return m.restaurants[id], nil
		}
	}
	for _, id := range ids {
		if strings.Contains(strings.ToLower(m.restaurants[id].Name), needle) {
			return m.restaurants[id], nil
		}
	}
	return Restaurant{}, ErrNotFound
}

func (m *memRestaurantRepo) UpsertFromListing(_ context.Context, r Restaurant) (Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.restaurants {
		if existing.GuideURL == r.GuideURL {
			return existing, nil
		}
	}
	m.nextRest++
	r.ID = m.nextRest
	m.restaurants[r.ID] = r
	return r, nil
}

func (m *memRestaurantRepo) UpdateCrawlOutcome(_ context.Context, id int64, status CrawlStatus, wineListURL string, metrics CrawlMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.restaurants[id]
	if !ok {
		return ErrNotFound
	}
	r.CrawlStatus = status
	if wineListURL != "" {
		r.WineListURL = wineListURL
	}
	now := time.Now().UTC()
	r.LastCrawledAt = &now
	r.Metrics = metrics
	m.restaurants[id] = r
	return nil
}

func (m *memRestaurantRepo) MarkPlatformSearched(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.restaurants[id]
	if !ok {
		return ErrNotFound
	}
	r.PlatformSearched = true
	m.restaurants[id] = r
	return nil
}

type memWineListRepo Memory

func (m *memWineListRepo) CreateWineList(_ context.Context, wl WineList) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextList++
	wl.ID = m.nextList
	m.wineLists[wl.ID] = wl
	return wl.ID, nil
}

func (m *memWineListRepo) SetTextPath(_ context.Context, id int64, textPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wl, ok := m.wineLists[id]
	if !ok {
		return ErrNotFound
	}
	wl.TextPath = textPath
	m.wineLists[id] = wl
	return nil
}

type memSiteRepo Memory

func (m *memSiteRepo) EnsureSite(_ context.Context, name, url string) (ListingSite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if site, ok := m.sites[name]; ok {
		return site, nil
	}
	m.nextSite++
	site := ListingSite{ID: m.nextSite, Name: name, URL: url, CreatedAt: time.Now().UTC()}
	m.sites[name] = site
	return site, nil
}
