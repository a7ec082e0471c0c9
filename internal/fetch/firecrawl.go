package fetch

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

// FirecrawlDefaultURL is the hosted Firecrawl API.
const FirecrawlDefaultURL = "https://api.firecrawl.dev"

// Firecrawl scrapes pages through the Firecrawl v2 scrape API, which
// renders JavaScript and returns main-content markdown.
type Firecrawl struct {
	baseURL  string
	maxChars int
	client   *http.Client
	logger   *slog.Logger
}

// NewFirecrawl creates a Firecrawl scraper. An empty baseURL selects the
// hosted API.
func NewFirecrawl(apiKey, baseURL string, maxChars int, logger *slog.Logger) *Firecrawl {
	if baseURL == "" {
		baseURL = FirecrawlDefaultURL
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Firecrawl{
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxChars: maxChars,
		logger:   logger.With("provider", "firecrawl"),
		client: httpkit.NewClient(
			// Rendering can take a while for heavy pages.
			httpkit.WithTimeout(90*time.Second),
			httpkit.WithHeader("Authorization", "Bearer "+apiKey),
		),
	}
}

type firecrawlScrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type firecrawlScrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title      string `json:"title"`
			StatusCode int    `json:"statusCode"`
		} `json:"metadata"`
	} `json:"data"`
}

// Scrape returns the page at url as markdown.
func (f *Firecrawl) Scrape(ctx context.Context, url string) (string, error) {
	payload, err := json.Marshal(firecrawlScrapeRequest{
		URL:             url,
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v2/scrape", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("firecrawl scrape: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("firecrawl scrape returned %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 1024))
	}

	var out firecrawlScrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = "unsuccessful scrape"
		}
		return "", errors.New("firecrawl scrape: " + out.Error)
	}

	f.logger.Debug("page scraped",
		"url", url,
		"title", out.Data.Metadata.Title,
		"status", out.Data.Metadata.StatusCode,
		"chars", len(out.Data.Markdown),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return truncateUTF8(out.Data.Markdown, f.maxChars), nil
}
