// Package fetch turns web pages into markdown for the research context.
// The [Fetcher] downloads and converts pages locally; [Firecrawl] uses
// the Firecrawl scrape API. Both satisfy [Scraper].
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/salesreply/internal/httpkit"
)

// DefaultTimeout is the HTTP request timeout for fetching pages.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBytes is the maximum response body size (5 MB).
const DefaultMaxBytes int64 = 5 * 1024 * 1024

// DefaultMaxChars is the default character limit for extracted content.
const DefaultMaxChars = 50000

// Scraper returns the main content of a page as markdown.
type Scraper interface {
	Scrape(ctx context.Context, url string) (string, error)
}

// Result holds the fetched and converted content from a URL.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	Length      int    `json:"length"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads pages and converts HTML to markdown locally.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
	logger   *slog.Logger
}

// New creates a Fetcher. maxChars limits converted output; 0 uses
// DefaultMaxChars.
func New(maxChars int, logger *slog.Logger) *Fetcher {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: httpkit.NewClient(
			httpkit.WithTimeout(DefaultTimeout),
		),
		maxBytes: DefaultMaxBytes,
		maxChars: maxChars,
		logger:   logger,
	}
}

// Scrape fetches rawURL and returns its content as markdown.
func (f *Fetcher) Scrape(ctx context.Context, rawURL string) (string, error) {
	res, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if res.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: HTTP %d", res.URL, res.StatusCode)
	}
	if res.Title != "" && !strings.HasPrefix(res.Content, "# ") {
		return "# " + res.Title + "\n\n" + res.Content, nil
	}
	return res.Content, nil
}

// Fetch downloads the URL and converts its content. A scheme-less URL is
// treated as https.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("fetch: url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	f.logger.Debug("page fetched",
		"url", rawURL,
		"status", resp.StatusCode,
		"content_type", contentType,
		"bytes", len(body),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	var title, content string
	switch {
	case isHTML(contentType):
		title, content = Markdown(string(body), resp.Request.URL)
	case isPlainText(contentType) || utf8.Valid(body):
		content = string(body)
	default:
		return &Result{
			URL:         rawURL,
			ContentType: contentType,
			StatusCode:  resp.StatusCode,
			Content:     fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body)),
			Length:      len(body),
		}, nil
	}

	truncated := false
	if utf8.RuneCountInString(content) > f.maxChars {
		content = truncateUTF8(content, f.maxChars)
		truncated = true
	}

	return &Result{
		URL:         rawURL,
		Title:       title,
		Content:     content,
		ContentType: contentType,
		Truncated:   truncated,
		Length:      len(content),
		StatusCode:  resp.StatusCode,
	}, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func isPlainText(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "text/plain")
}

// truncateUTF8 truncates s to at most maxChars runes.
func truncateUTF8(s string, maxChars int) string {
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i]
		}
		count++
	}
	return s
}
