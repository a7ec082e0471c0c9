// Package extract identifies the company behind an email thread.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/salesreply/internal/inbox"
	"github.com/nugget/salesreply/internal/llm"
	"github.com/nugget/salesreply/internal/prompts"
)

// Company is the extraction result. Name is whatever the model said;
// it is not validated and may be generic or empty.
type Company struct {
	Name string `json:"companyName"`
}

// Extractor asks a model for the sender's company name.
type Extractor struct {
	llm        llm.Client
	model      string
	fullThread bool
	logger     *slog.Logger
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithFullThread makes the extractor read every email in the thread,
// including our own replies, instead of only inbound messages.
func WithFullThread(full bool) Option {
	return func(e *Extractor) { e.fullThread = full }
}

// New creates an Extractor that uses model on client.
func New(client llm.Client, model string, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{llm: client, model: model, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract makes one structured call and returns the company name.
// There are no retries; a model reply without a JSON object is an error.
func (e *Extractor) Extract(ctx context.Context, thread *inbox.Thread) (Company, error) {
	emails := thread.Emails
	if !e.fullThread {
		emails = thread.Inbound()
	}

	start := time.Now()
	var c Company
	err := llm.GenerateObject(ctx, e.llm, llm.ObjectRequest{
		Model:  e.model,
		System: prompts.CompanyExtractionSystemPrompt(e.fullThread),
		Prompt: prompts.CompanyExtractionPrompt(inbox.Render(thread, emails)),
		Schema: llm.StringSchema("companyName"),
	}, &c)
	if err != nil {
		return Company{}, fmt.Errorf("extract company name: %w", err)
	}
	c.Name = strings.TrimSpace(c.Name)

	e.logger.Info("company extracted",
		"thread_id", thread.ID,
		"company", c.Name,
		"emails", len(emails),
		"model", e.model,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return c, nil
}
