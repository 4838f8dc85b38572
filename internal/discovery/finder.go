package discovery

import (
	"context"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/winerank/winecrawl/internal/fetch"
)

// PageFetcher loads pages for the traversal. Verify is a lightweight
// reachability check for cached URLs and does not count against the page
// budget.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
	Verify(ctx context.Context, url string) bool
}

// Request describes one discovery run.
type Request struct {
	SiteURL      string
	CachedURL    string // previously known wine list URL, verified first
	Name         string // restaurant name, passed to the ranking fallback
	LanguageHint string // "en", "fr", "es"
}

// Result is the outcome of a discovery run. PagesLoaded and TokensUsed
// feed the per-restaurant crawl metrics.
type Result struct {
	URL         string
	Found       bool
	PagesLoaded int
	TokensUsed  int
}

// Finder walks a restaurant website looking for its wine list. Each call
// to FindWineList owns its own visited set and counters, so one Finder is
// safe to reuse across restaurants.
type Finder struct {
	fetcher    PageFetcher
	isPlatform func(string) bool
	ranker     CandidateRanker // nil disables the LLM fallback
	log        *zap.Logger
	maxDepth   int
	maxPages   int
}

func NewFinder(fetcher PageFetcher, isPlatform func(string) bool, ranker CandidateRanker, log *zap.Logger, maxDepth, maxPages int) *Finder {
	if isPlatform == nil {
		isPlatform = func(string) bool { return false }
	}
	return &Finder{
		fetcher:    fetcher,
		isPlatform: isPlatform,
		ranker:     ranker,
		log:        log,
		maxDepth:   maxDepth,
		maxPages:   maxPages,
	}
}

// FindWineList runs the tiered search: verify the cached URL, traverse the
// site following scored links, then (if configured) ask the ranking oracle
// to pick from the pages already seen.
func (f *Finder) FindWineList(ctx context.Context, req Request) Result {
	if req.CachedURL != "" && f.fetcher.Verify(ctx, req.CachedURL) {
		f.log.Debug("cached wine list URL still valid", zap.String("url", req.CachedURL))
		return Result{URL: req.CachedURL, Found: true}
	}

	t := &traversal{
		f:       f,
		scorer:  newScorer(req.LanguageHint),
		visited: make(map[string]struct{}),
		root:    req.SiteURL,
	}

	url, found := t.walk(ctx, req.SiteURL, 0)
	if !found && f.ranker != nil {
		url, found = t.askRanker(ctx, req.Name)
	}

	return Result{URL: url, Found: found, PagesLoaded: t.pages, TokensUsed: t.tokens}
}

// traversal is the per-call state of one site walk. It owns the visited
// set, the page budget, and the page summaries kept for the oracle.
type traversal struct {
	f         *Finder
	scorer    *scorer
	visited   map[string]struct{}
	root      string
	pages     int
	tokens    int
	summaries []PageSummary
}

type candidate struct {
	url      string
	text     string
	context  string
	score    int
	pdf      bool
	external bool
	platform bool
}

func (t *traversal) walk(ctx context.Context, rawURL string, depth int) (string, bool) {
	if ctx.Err() != nil || t.pages >= t.f.maxPages {
		return "", false
	}
	key := NormalizeURL(rawURL)
	if _, seen := t.visited[key]; seen {
		return "", false
	}
	t.visited[key] = struct{}{}

	page, err := t.f.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		t.f.log.Debug("page fetch failed", zap.String("url", rawURL), zap.Error(err))
		return "", false
	}
	t.pages++

	if page.IsPDF {
		// The link we followed was itself the document.
		return page.URL, true
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return "", false
	}
	t.recordSummary(page, doc)

	cands := t.collectLinks(doc, page.URL)

	if url, ok := t.pickPDF(cands, depth); ok {
		return url, true
	}
	if url, ok := t.pickExternal(ctx, cands); ok {
		return url, true
	}

	if depth >= t.f.maxDepth {
		return "", false
	}

	internal := cands[:0:0]
	for _, c := range cands {
		if !c.external && !c.pdf && c.score > 0 {
			internal = append(internal, c)
		}
	}
	sort.SliceStable(internal, func(i, j int) bool { return internal[i].score > internal[j].score })

	for _, c := range internal {
		if url, ok := t.walk(ctx, c.url, depth+1); ok {
			return url, true
		}
	}
	return "", false
}

func (t *traversal) collectLinks(doc *goquery.Document, pageURL string) []candidate {
	var cands []candidate
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if ShouldSkip(href) {
			return
		}
		abs, ok := ResolveLink(pageURL, href)
		if !ok || ShouldSkip(abs) {
			return
		}
		text := strings.TrimSpace(sel.Text())
		context := linkContext(sel)

		c := candidate{
			url:      abs,
			text:     text,
			context:  context,
			pdf:      IsPDFURL(abs),
			external: !SameHost(abs, t.root),
			platform: t.f.isPlatform(abs),
		}
		if c.external {
			c.score = t.scorer.ScoreWineOnly(text, href)
		} else {
			c.score = t.scorer.ScoreLink(text, href, context)
		}
		cands = append(cands, c)
	})
	return cands
}

// linkContext grabs the text of the link's enclosing block, capped so a
// byline in a giant footer does not drag the whole page in.
func linkContext(sel *goquery.Selection) string {
	parent := sel.Parent()
	if parent.Length() == 0 {
		return ""
	}
	text := strings.Join(strings.Fields(parent.Text()), " ")
	if len(text) > 300 {
		text = text[:300]
	}
	return text
}

// pickPDF selects the best wine-scoring PDF on the page. Past the homepage
// the rule loosens: we only got here by following wine or menu links, so a
// PDF with no keyword signal at all is still accepted as long as nothing
// marks it as a different document.
func (t *traversal) pickPDF(cands []candidate, depth int) (string, bool) {
	bestURL, bestScore := "", 0
	var fallback string
	for _, c := range cands {
		if !c.pdf {
			continue
		}
		s := t.scorer.ScorePDF(c.url, c.text, c.context)
		if s > bestScore {
			bestURL, bestScore = c.url, s
		}
		if s == 0 && fallback == "" {
			fallback = c.url
		}
	}
	if bestScore > 0 {
		return bestURL, true
	}
	if depth > 0 && fallback != "" {
		return fallback, true
	}
	return "", false
}

// pickExternal handles off-site candidates. Links into a known wine list
// platform are the answer directly. Otherwise the single top-scoring
// external wine link is followed one hop, without recursion, to see if it
// lands on a document or platform page.
func (t *traversal) pickExternal(ctx context.Context, cands []candidate) (string, bool) {
	var hop *candidate
	for i := range cands {
		c := &cands[i]
		if !c.external {
			continue
		}
		if c.platform {
			return c.url, true
		}
		if c.pdf && t.scorer.ScorePDF(c.url, c.text, c.context) > 0 {
			return c.url, true
		}
		if c.score > 0 && (hop == nil || c.score > hop.score) {
			hop = c
		}
	}
	if hop == nil || t.pages >= t.f.maxPages {
		return "", false
	}

	key := NormalizeURL(hop.url)
	if _, seen := t.visited[key]; seen {
		return "", false
	}
	t.visited[key] = struct{}{}

	page, err := t.f.fetcher.Fetch(ctx, hop.url)
	if err != nil {
		return "", false
	}
	t.pages++
	if page.IsPDF {
		return page.URL, true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return "", false
	}
	for _, c := range t.collectLinks(doc, page.URL) {
		if c.platform {
			return c.url, true
		}
		if c.pdf && t.scorer.ScorePDF(c.url, c.text, c.context) > 0 {
			return c.url, true
		}
	}
	return "", false
}
