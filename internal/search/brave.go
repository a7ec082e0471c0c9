package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/salesreply/internal/httpkit"
)

const braveDefaultURL = "https://api.search.brave.com/res/v1/web/search"

// Brave implements the Provider interface for the Brave Search API.
type Brave struct {
	endpoint   string
	httpClient *http.Client
}

// NewBrave creates a Brave Search provider.
func NewBrave(cfg BraveConfig) *Brave {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = braveDefaultURL
	}
	return &Brave{
		endpoint: endpoint,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithHeader("X-Subscription-Token", cfg.APIKey),
		),
	}
}

func (b *Brave) Name() string { return "brave" }

// braveResponse is the JSON response from Brave's web search API. News
// results are included when result_filter asks for them.
type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
	News struct {
		Results []braveResult `json:"results"`
	} `json:"news"`
}

type braveResult struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Description   string   `json:"description"`
	ExtraSnippets []string `json:"extra_snippets"`
}

// Search queries Brave. Brave has no page summaries; when
// opts.Summaries is set, the description and any extra snippets stand
// in for one.
func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.count(5)

	var filters []string
	if opts.Wants(SourceWeb) {
		filters = append(filters, "web")
	}
	if opts.Wants(SourceNews) {
		filters = append(filters, "news")
	}

	params := url.Values{
		"q":             {query},
		"count":         {strconv.Itoa(count)},
		"result_filter": {strings.Join(filters, ",")},
	}
	if opts.Summaries {
		params.Set("extra_snippets", "true")
	}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("brave: decode response: %w", err)
	}

	var results []Result
	add := func(src Source, rs []braveResult) {
		for i, r := range rs {
			if i >= count {
				break
			}
			res := Result{Title: r.Title, URL: r.URL, Snippet: r.Description, Source: src}
			if opts.Summaries {
				res.Summary = strings.TrimSpace(strings.Join(append([]string{r.Description}, r.ExtraSnippets...), " "))
			}
			results = append(results, res)
		}
	}
	if opts.Wants(SourceNews) {
		add(SourceNews, br.News.Results)
	}
	if opts.Wants(SourceWeb) {
		add(SourceWeb, br.Web.Results)
	}
	return results, nil
}

// BraveConfig holds configuration for the Brave Search provider.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the web search URL.
	Endpoint string `yaml:"endpoint"`
}

// Configured reports whether a Brave API key is set.
func (c BraveConfig) Configured() bool {
	return c.APIKey != ""
}
