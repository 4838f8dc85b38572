package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/winerank/winecrawl/internal/fetch"
)

// PageSummary is the condensed view of a visited page handed to the
// ranking oracle when keyword traversal comes up empty.
type PageSummary struct {
	URL   string
	Title string
	Links []string // "text -> url" pairs, most promising first
	Text  string   // leading visible text
}

// CandidateRanker picks the URLs most likely to hold a wine list from a
// set of visited-page summaries. Implementations return candidates in
// descending confidence along with the tokens spent.
type CandidateRanker interface {
	Rank(ctx context.Context, restaurant string, pages []PageSummary) (urls []string, tokens int, err error)
}

const (
	maxSummaries     = 6
	maxSummaryLinks  = 15
	maxSummaryText   = 300
	maxRankResults   = 3
	maxRankSummaries = 4
)

func (t *traversal) recordSummary(page *fetch.Page, doc *goquery.Document) {
	if t.f.ranker == nil || len(t.summaries) >= maxSummaries {
		return
	}
	s := PageSummary{
		URL:   page.URL,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		text := strings.TrimSpace(sel.Text())
		if text == "" || ShouldSkip(href) {
			return true
		}
		if abs, ok := ResolveLink(page.URL, href); ok {
			s.Links = append(s.Links, text+" -> "+abs)
		}
		return len(s.Links) < maxSummaryLinks
	})
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(text) > maxSummaryText {
		text = text[:maxSummaryText]
	}
	s.Text = text
	t.summaries = append(t.summaries, s)
}

// askRanker hands the collected page summaries to the oracle and verifies
// its picks by fetching them, still within the page budget.
func (t *traversal) askRanker(ctx context.Context, restaurant string) (string, bool) {
	if len(t.summaries) == 0 {
		return "", false
	}
	summaries := t.summaries
	if len(summaries) > maxRankSummaries {
		summaries = summaries[:maxRankSummaries]
	}
	urls, tokens, err := t.f.ranker.Rank(ctx, restaurant, summaries)
	t.tokens += tokens
	if err != nil {
		t.f.log.Warn("candidate ranking failed", zap.Error(err))
		return "", false
	}
	if len(urls) > maxRankResults {
		urls = urls[:maxRankResults]
	}
	for _, u := range urls {
		if t.pages >= t.f.maxPages {
			break
		}
		page, err := t.f.fetcher.Fetch(ctx, u)
		if err != nil {
			continue
		}
		t.pages++
		if page.IsPDF || t.f.isPlatform(page.URL) {
			return page.URL, true
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err != nil {
			continue
		}
		for _, c := range t.collectLinks(doc, page.URL) {
			if c.platform {
				return c.url, true
			}
			if c.pdf && t.scorer.ScorePDF(c.url, c.text, c.context) > 0 {
				return c.url, true
			}
		}
	}
	return "", false
}

// LLMRanker implements CandidateRanker on top of a chat model.
type LLMRanker struct {
	model llms.Model
}

// NewLLMRanker builds a ranker for the given provider. Supported providers
// are "openai", "anthropic", and "ollama".
func NewLLMRanker(provider, model, apiKey string) (*LLMRanker, error) {
	var (
		m   llms.Model
		err error
	)
	switch strings.ToLower(provider) {
	case "openai":
		m, err = openai.New(openai.WithModel(model), openai.WithToken(apiKey))
	case "anthropic":
		m, err = anthropic.New(anthropic.WithModel(model), anthropic.WithToken(apiKey))
	case "ollama":
		m, err = ollama.New(ollama.WithModel(model))
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s model: %w", provider, err)
	}
	return &LLMRanker{model: m}, nil
}

const rankPrompt = `You are helping locate the wine list for the restaurant %q.
Below are summaries of pages from the restaurant's website. Reply with the
URLs most likely to contain or link to the wine list, one per line, best
first, at most three. Reply with NONE if no page looks promising.

%s`

func (r *LLMRanker) Rank(ctx context.Context, restaurant string, pages []PageSummary) ([]string, int, error) {
	var b strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&b, "URL: %s\nTitle: %s\n", p.URL, p.Title)
		for _, l := range p.Links {
			fmt.Fprintf(&b, "  link: %s\n", l)
		}
		fmt.Fprintf(&b, "Text: %s\n\n", p.Text)
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(rankPrompt, restaurant, b.String())),
	}
	resp, err := r.model.GenerateContent(ctx, content, llms.WithTemperature(0))
	if err != nil {
		return nil, 0, fmt.Errorf("ranking candidates: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, 0, nil
	}
	choice := resp.Choices[0]
	tokens := totalTokens(choice.GenerationInfo)

	var urls []string
	for _, line := range strings.Split(choice.Content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			urls = append(urls, line)
		}
	}
	return urls, tokens, nil
}

func totalTokens(info map[string]any) int {
	total := 0
	for _, key := range []string{"PromptTokens", "CompletionTokens", "InputTokens", "OutputTokens"} {
		if v, ok := info[key].(int); ok {
			total += v
		}
	}
	return total
}
