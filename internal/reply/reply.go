// Package reply decides whether an inbound sales email gets an answer
// and writes it. The [Orchestrator] gates on the recipient, loads the
// thread, identifies and researches the sender's company, and runs a
// bounded tool-augmented generation loop that may research other
// companies or forward the thread to a human.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/salesreply/internal/config"
	"github.com/nugget/salesreply/internal/extract"
	"github.com/nugget/salesreply/internal/forward"
	"github.com/nugget/salesreply/internal/inbox"
	"github.com/nugget/salesreply/internal/llm"
	"github.com/nugget/salesreply/internal/prompts"
	"github.com/nugget/salesreply/internal/research"
	"github.com/nugget/salesreply/internal/tools"
)

// Decision is the outcome of handling one inbound email.
type Decision struct {
	CanBeAnswered bool   `json:"canBeAnswered"`
	ResponseHTML  string `json:"responseHtml"`
}

// Extractor identifies the company behind a thread.
type Extractor interface {
	Extract(ctx context.Context, thread *inbox.Thread) (extract.Company, error)
}

// Deps are the collaborators of an [Orchestrator].
type Deps struct {
	Provider   inbox.Provider
	Extractor  Extractor
	Researcher research.Researcher
	Forwarder  *forward.Dispatcher
	LLM        llm.Client
	Model      string
	Logger     *slog.Logger

	// Stream, when set, receives the reply model's output as it is
	// generated. Extraction and research calls are not streamed.
	Stream llm.StreamCallback
}

// Orchestrator handles inbound emails for one assistant identity.
type Orchestrator struct {
	cfg        config.AssistantConfig
	provider   inbox.Provider
	extractor  Extractor
	researcher research.Researcher
	forwarder  *forward.Dispatcher
	llm        llm.Client
	model      string
	stream     llm.StreamCallback
	logger     *slog.Logger
}

// New creates an Orchestrator. cfg is copied and never modified. A nil
// Forwarder is built from cfg and the provider.
func New(cfg config.AssistantConfig, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fwd := deps.Forwarder
	if fwd == nil {
		fwd = forward.New(cfg, deps.Provider, logger)
	}
	return &Orchestrator{
		cfg:        cfg,
		provider:   deps.Provider,
		extractor:  deps.Extractor,
		researcher: deps.Researcher,
		forwarder:  fwd,
		llm:        deps.LLM,
		model:      deps.Model,
		stream:     deps.Stream,
		logger:     logger,
	}
}

// Addressed reports whether the email was sent to the assistant.
func (o *Orchestrator) Addressed(email inbox.InboundEmail) bool {
	return slices.ContainsFunc(email.To, func(to string) bool {
		return inbox.SameAddress(to, o.cfg.Email)
	})
}

// Handle runs the pipeline for one email. Emails not addressed to the
// assistant return a zero Decision without any I/O. Errors wrap one of
// the package sentinels or the extractor's error; no partial Decision
// is returned with an error.
func (o *Orchestrator) Handle(ctx context.Context, email inbox.InboundEmail) (Decision, error) {
	if !o.Addressed(email) {
		o.logger.Debug("email not addressed to assistant, skipping",
			"email_id", email.ID,
			"to", email.To,
		)
		return Decision{}, nil
	}

	runID, _ := uuid.NewV7()
	ctx = tools.WithRunID(ctx, runID.String())
	ctx = tools.WithThreadID(ctx, email.ThreadID)
	log := o.logger.With("run_id", runID.String(), "email_id", email.ID, "thread_id", email.ThreadID)

	start := time.Now()
	log.Info("handling inbound email", "from", email.From, "subject", email.Subject)

	thread, err := o.provider.RetrieveThread(ctx, email.ThreadID)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: retrieve thread %s: %w", ErrProvider, email.ThreadID, err)
	}
	engaged := thread.HasEmailFrom(o.cfg.Email)

	company, err := o.extractor.Extract(ctx, thread)
	if err != nil {
		// A reply without JSON is the model misbehaving, not a failed call.
		if errors.Is(err, llm.ErrNoJSONObject) {
			return Decision{}, err
		}
		return Decision{}, fmt.Errorf("%w: %w", ErrModel, err)
	}

	researched := o.researcher.Research(ctx, company.Name)
	researchContext := research.JoinTexts(researched.InterestingTexts)

	system := prompts.ReplySystemPrompt(o.cfg.Name, o.cfg.CompanyInfo, o.forwarder.Targets())
	user := prompts.ReplyUserPrompt(company.Name, researchContext, inbox.Render(thread, nil), engaged)

	gen := &generator{
		llm:          o.llm,
		model:        o.model,
		registry:     tools.NewRegistry(research.NewTool(o.researcher, log), o.forwarder.Tool()),
		roundTimeout: time.Duration(o.cfg.RoundTimeoutSec) * time.Second,
		stream:       o.stream,
		logger:       log,
	}
	log.Debug("generation starting",
		"company", company.Name,
		"engaged", engaged,
		"tools", gen.registry.Names(),
		"research_chars", len(researchContext),
	)

	final, err := gen.run(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	})
	if err != nil {
		return Decision{}, err
	}

	html := NormalizeHTML(final.ResponseHTML)
	log.Info("reply generated",
		"company", company.Name,
		"html_chars", len(html),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return Decision{CanBeAnswered: true, ResponseHTML: html}, nil
}
