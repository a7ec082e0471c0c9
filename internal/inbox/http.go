package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/salesreply/internal/httpkit"
)

// ErrNotFound is returned when the inbox API reports that a thread or
// email does not exist.
var ErrNotFound = errors.New("not found")

// HTTPConfig configures the hosted inbox REST API client.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// Validate checks that the API endpoint and key are set.
func (c HTTPConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute URL", c.BaseURL)
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	return nil
}

// HTTPClient is a [Provider] backed by a hosted inbox REST API with
// bearer-token auth.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a client for the hosted inbox API.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger.With("provider", "inbox_http"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithHeader("Authorization", "Bearer "+cfg.APIKey),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// RetrieveThread fetches a thread with all of its emails.
func (c *HTTPClient) RetrieveThread(ctx context.Context, threadID string) (*Thread, error) {
	var t Thread
	if err := c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID), nil, &t); err != nil {
		return nil, fmt.Errorf("threads.retrieve %s: %w", threadID, err)
	}
	if t.ID == "" {
		t.ID = threadID
	}
	return &t, nil
}

// ForwardThread forwards a thread to a colleague.
func (c *HTTPClient) ForwardThread(ctx context.Context, threadID string, opts ForwardOptions) error {
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/forward", opts, nil); err != nil {
		return fmt.Errorf("threads.forward %s: %w", threadID, err)
	}
	return nil
}

// ReplyToEmail sends an HTML reply within the email's thread.
func (c *HTTPClient) ReplyToEmail(ctx context.Context, emailID string, opts ReplyOptions) error {
	if err := c.do(ctx, http.MethodPost, "/emails/"+url.PathEscape(emailID)+"/reply", opts, nil); err != nil {
		return fmt.Errorf("emails.reply %s: %w", emailID, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("inbox API call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		httpkit.DrainAndClose(resp.Body, 4096)
		return ErrNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("inbox API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	if out == nil {
		httpkit.DrainAndClose(resp.Body, 64*1024)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
