// Package research gathers a small corpus of text about a company for
// personalizing sales replies: recent news and web summaries plus the
// company's homepage rendered as markdown.
package research

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/salesreply/internal/fetch"
	"github.com/nugget/salesreply/internal/llm"
	"github.com/nugget/salesreply/internal/prompts"
	"github.com/nugget/salesreply/internal/search"
)

// Separator divides research texts when they are joined for a prompt.
const Separator = "\n\n---\n\n"

// Result is the outcome of researching one company. InterestingTexts
// keeps news summaries, then web summaries, then the homepage markdown.
// Entries may be empty; [JoinTexts] drops them.
type Result struct {
	InterestingTexts []string `json:"interestingTexts"`
	WebsiteURL       string   `json:"websiteUrl,omitempty"`
}

// Candidate is a possible company website offered to the model.
type Candidate struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Engine runs company research. It holds no per-company state; every
// call repeats the full search, disambiguate, and scrape sequence.
type Engine struct {
	searcher search.Searcher
	scraper  fetch.Scraper
	llm      llm.Client
	model    string
	logger   *slog.Logger
}

// NewEngine creates a research engine. model names the LLM used to pick
// the company website from search candidates.
func NewEngine(searcher search.Searcher, scraper fetch.Scraper, client llm.Client, model string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		searcher: searcher,
		scraper:  scraper,
		llm:      client,
		model:    model,
		logger:   logger,
	}
}

// Research looks up companyName. Failures in any step are logged and
// absorbed, so the result may be partial or empty but is always usable.
func (e *Engine) Research(ctx context.Context, companyName string) Result {
	start := time.Now()
	log := e.logger.With("company", companyName)

	var (
		summaries  []string
		candidates []Candidate
	)

	// The news and candidate searches are independent reads; neither
	// goroutine returns an error so one failing never cancels the other.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summaries = e.newsSummaries(gctx, log, companyName)
		return nil
	})
	g.Go(func() error {
		candidates = e.websiteCandidates(gctx, log, companyName)
		return nil
	})
	_ = g.Wait()

	result := Result{InterestingTexts: summaries}
	result.WebsiteURL = e.resolveWebsite(ctx, log, companyName, candidates)

	if result.WebsiteURL != "" {
		md, err := e.scraper.Scrape(ctx, result.WebsiteURL)
		if err != nil {
			log.Warn("homepage scrape failed", "url", result.WebsiteURL, "error", err)
		} else {
			result.InterestingTexts = append(result.InterestingTexts, md)
		}
	}

	log.Info("company researched",
		"website", result.WebsiteURL,
		"texts", len(result.InterestingTexts),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return result
}

// newsSummaries returns the summary of every news hit followed by every
// web hit. Hits without a summary contribute "".
func (e *Engine) newsSummaries(ctx context.Context, log *slog.Logger, companyName string) []string {
	results, err := e.searcher.Search(ctx, `latest news about "`+companyName+`"`, search.Options{
		Sources:   []search.Source{search.SourceNews, search.SourceWeb},
		Summaries: true,
	})
	if err != nil {
		log.Warn("news search failed", "error", err)
		return nil
	}

	var news, web []string
	for _, r := range results {
		switch r.Source {
		case search.SourceNews:
			news = append(news, r.Summary)
		default:
			web = append(web, r.Summary)
		}
	}
	return append(news, web...)
}

func (e *Engine) websiteCandidates(ctx context.Context, log *slog.Logger, companyName string) []Candidate {
	results, err := e.searcher.Search(ctx, companyName, search.Options{})
	if err != nil {
		log.Warn("website search failed", "error", err)
		return nil
	}

	var candidates []Candidate
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		candidates = append(candidates, Candidate{URL: r.URL, Title: r.Title, Description: r.Snippet})
	}
	return candidates
}

// resolveWebsite asks the model for the company website. The answer is
// free-form and need not be one of the candidates.
func (e *Engine) resolveWebsite(ctx context.Context, log *slog.Logger, companyName string, candidates []Candidate) string {
	encoded, err := json.Marshal(candidates)
	if err != nil {
		log.Warn("encode website candidates failed", "error", err)
		return ""
	}
	if candidates == nil {
		encoded = []byte("[]")
	}

	var out struct {
		WebsiteURL string `json:"websiteUrl"`
	}
	err = llm.GenerateObject(ctx, e.llm, llm.ObjectRequest{
		Model:  e.model,
		System: prompts.WebsiteSystemPrompt(),
		Prompt: prompts.WebsitePrompt(companyName, string(encoded)),
		Schema: llm.StringSchema("websiteUrl"),
	}, &out)
	if err != nil {
		log.Warn("website disambiguation failed", "error", err)
		return ""
	}

	log.Debug("website resolved", "url", out.WebsiteURL, "candidates", len(candidates))
	return strings.TrimSpace(out.WebsiteURL)
}

// JoinTexts joins the non-empty texts with [Separator].
func JoinTexts(texts []string) string {
	kept := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, Separator)
}
