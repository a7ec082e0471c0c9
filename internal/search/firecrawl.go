package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/salesreply/internal/httpkit"
)

const firecrawlDefaultURL = "https://api.firecrawl.dev"

// Firecrawl implements the Provider interface on the Firecrawl v2
// search API, which can attach an LLM summary of each result page.
type Firecrawl struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFirecrawl creates a Firecrawl search provider. An empty baseURL
// selects the hosted API.
func NewFirecrawl(apiKey, baseURL string, logger *slog.Logger) *Firecrawl {
	if baseURL == "" {
		baseURL = firecrawlDefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Firecrawl{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "firecrawl"),
		httpClient: httpkit.NewClient(
			// Summaries require a scrape per result.
			httpkit.WithTimeout(90*time.Second),
			httpkit.WithHeader("Authorization", "Bearer "+apiKey),
		),
	}
}

func (f *Firecrawl) Name() string { return "firecrawl" }

type firecrawlSource struct {
	Type string `json:"type"`
}

type firecrawlScrapeOptions struct {
	Formats []string `json:"formats"`
}

type firecrawlSearchRequest struct {
	Query         string                  `json:"query"`
	Limit         int                     `json:"limit,omitempty"`
	Lang          string                  `json:"lang,omitempty"`
	Sources       []firecrawlSource       `json:"sources"`
	ScrapeOptions *firecrawlScrapeOptions `json:"scrapeOptions,omitempty"`
}

type firecrawlHit struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Snippet     string `json:"snippet"`
	Summary     string `json:"summary"`
}

type firecrawlSearchResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Web  []firecrawlHit `json:"web"`
		News []firecrawlHit `json:"news"`
	} `json:"data"`
}

// Search queries Firecrawl. News results come first, then web results.
func (f *Firecrawl) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	body := firecrawlSearchRequest{
		Query: query,
		Limit: opts.count(5),
		Lang:  opts.Language,
	}
	for _, src := range []Source{SourceNews, SourceWeb} {
		if opts.Wants(src) {
			body.Sources = append(body.Sources, firecrawlSource{Type: string(src)})
		}
	}
	if opts.Summaries {
		body.ScrapeOptions = &firecrawlScrapeOptions{Formats: []string{"summary"}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("firecrawl: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v2/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("firecrawl: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firecrawl: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("firecrawl: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var out firecrawlSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("firecrawl: decode response: %w", err)
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = "unsuccessful search"
		}
		return nil, errors.New("firecrawl: " + out.Error)
	}

	var results []Result
	add := func(src Source, hits []firecrawlHit) {
		for _, h := range hits {
			snippet := h.Description
			if snippet == "" {
				snippet = h.Snippet
			}
			results = append(results, Result{
				Title:   h.Title,
				URL:     h.URL,
				Snippet: snippet,
				Summary: h.Summary,
				Source:  src,
			})
		}
	}
	if opts.Wants(SourceNews) {
		add(SourceNews, out.Data.News)
	}
	if opts.Wants(SourceWeb) {
		add(SourceWeb, out.Data.Web)
	}

	f.logger.Debug("search complete",
		"query", query,
		"results", len(results),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return results, nil
}
