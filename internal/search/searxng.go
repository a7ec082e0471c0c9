package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/salesreply/internal/httpkit"
)

// SearXNG implements the Provider interface for a SearXNG instance.
type SearXNG struct {
	baseURL    string
	httpClient *http.Client
}

// NewSearXNG creates a SearXNG provider. The baseURL should be the root
// URL of the SearXNG instance (e.g., "http://localhost:8080").
func NewSearXNG(baseURL string) *SearXNG {
	return &SearXNG{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (s *SearXNG) Name() string { return "searxng" }

// searxngResponse is the JSON response from SearXNG's /search endpoint.
type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

type searxngResult struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

// Search runs one query per requested source (SearXNG category "news"
// or "general"). SearXNG has no page summaries; the result content
// stands in for one when opts.Summaries is set.
func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	var results []Result
	for _, src := range []Source{SourceNews, SourceWeb} {
		if !opts.Wants(src) {
			continue
		}
		rs, err := s.searchCategory(ctx, query, src, opts)
		if err != nil {
			return nil, err
		}
		results = append(results, rs...)
	}
	return results, nil
}

func (s *SearXNG) searchCategory(ctx context.Context, query string, src Source, opts Options) ([]Result, error) {
	category := "general"
	if src == SourceNews {
		category = "news"
	}
	params := url.Values{
		"q":          {query},
		"format":     {"json"},
		"categories": {category},
	}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}
	count := opts.count(5)

	reqURL := fmt.Sprintf("%s/search?%s", s.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("searxng: HTTP %d: %s", resp.StatusCode, body)
	}

	var sr searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("searxng: decode response: %w", err)
	}

	results := make([]Result, 0, count)
	for i, r := range sr.Results {
		if i >= count {
			break
		}
		res := Result{Title: r.Title, URL: r.URL, Snippet: r.Content, Source: src}
		if opts.Summaries {
			res.Summary = r.Content
		}
		results = append(results, res)
	}
	return results, nil
}

// SearXNGConfig holds configuration for the SearXNG provider.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool {
	return c.URL != ""
}
