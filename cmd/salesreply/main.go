// Salesreply answers inbound sales email.
//
// It receives new mail from an inbox provider webhook (or polls an IMAP
// mailbox), identifies the prospect's company, researches it, and has a
// language model draft a reply or hand the conversation to a human
// colleague. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	salesreply serve                Start the webhook server
//	salesreply init [dir]           Write an example config.yaml
//	salesreply handle <email.json>  Run the pipeline once and print the decision
//	salesreply handle -stream <f>   Same, echoing the reply model output to stderr
//	salesreply version              Print version and build information
//	salesreply -o json version      Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nugget/salesreply/internal/api"
	"github.com/nugget/salesreply/internal/buildinfo"
	"github.com/nugget/salesreply/internal/config"
	"github.com/nugget/salesreply/internal/connwatch"
	"github.com/nugget/salesreply/internal/email"
	"github.com/nugget/salesreply/internal/extract"
	"github.com/nugget/salesreply/internal/fetch"
	"github.com/nugget/salesreply/internal/gmail"
	"github.com/nugget/salesreply/internal/inbox"
	"github.com/nugget/salesreply/internal/llm"
	"github.com/nugget/salesreply/internal/opstate"
	"github.com/nugget/salesreply/internal/reply"
	"github.com/nugget/salesreply/internal/research"
	"github.com/nugget/salesreply/internal/search"
)

// claimRetention is how long processed-email claims are kept.
const claimRetention = 30 * 24 * time.Hour

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the salesreply command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and the mailbox poller.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:]. We parse these manually rather than using
//     the flag package to avoid global state that interferes with
//     parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "handle":
		var stream bool
		var file string
		for _, a := range cmdArgs {
			switch {
			case a == "-stream" || a == "--stream":
				stream = true
			case strings.HasPrefix(a, "-"):
				return fmt.Errorf("unknown handle flag: %s", a)
			case file == "":
				file = a
			}
		}
		if file == "" {
			return fmt.Errorf("usage: salesreply handle [-stream] <email.json>")
		}
		return runHandle(ctx, stdout, stderr, configPath, file, stream)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Salesreply - Inbound Sales Email Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: salesreply [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve          Start the webhook server")
	fmt.Fprintln(w, "  init [dir]     Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  handle [-stream] <file>")
	fmt.Fprintln(w, "                 Run the pipeline on an inbound email JSON file and print")
	fmt.Fprintln(w, "                 the decision. Nothing is sent or forwarded. -stream")
	fmt.Fprintln(w, "                 echoes the reply model's output to stderr as it arrives.")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/salesreply/config.yaml, /etc/salesreply/config.yaml")
	return nil
}

// runHandle runs the pipeline once on an email read from a JSON file
// and prints the decision. Useful for tuning prompts and forward rules
// against real mail without replying to anyone. With stream, the reply
// model's tokens and tool calls are echoed to stderr as they arrive.
func runHandle(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, path string, stream bool) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read email: %w", err)
	}
	msg, err := parseInboundFile(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	var cb llm.StreamCallback
	if stream {
		cb = streamPrinter(stderr)
	}
	p, err := newPipeline(ctx, cfg, logger, true, cb)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Assistant.HandleTimeoutSec)*time.Second)
	defer cancel()

	decision, err := p.orch.Handle(ctx, msg)
	if err != nil {
		return fmt.Errorf("handle: %w", err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(decision)
}

// streamPrinter echoes streamed model output to w, marking tool calls
// on their own line.
func streamPrinter(w io.Writer) llm.StreamCallback {
	return func(ev llm.StreamEvent) {
		switch ev.Kind {
		case llm.KindToken:
			fmt.Fprint(w, ev.Token)
		case llm.KindToolCallStart:
			if ev.ToolCall != nil {
				fmt.Fprintf(w, "\n[tool call: %s]\n", ev.ToolCall.Function.Name)
			}
		case llm.KindDone:
			fmt.Fprintln(w)
		}
	}
}

// parseInboundFile accepts the webhook's event envelope or a bare email.
func parseInboundFile(data []byte) (inbox.InboundEmail, error) {
	var env struct {
		Email *inbox.InboundEmail `json:"email"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return inbox.InboundEmail{}, err
	}
	var msg inbox.InboundEmail
	if env.Email != nil {
		msg = *env.Email
	} else if err := json.Unmarshal(data, &msg); err != nil {
		return inbox.InboundEmail{}, err
	}
	if msg.ID == "" || msg.ThreadID == "" {
		return inbox.InboundEmail{}, errors.New("email id and threadId are required")
	}
	return msg, nil
}

// runServe handles the "salesreply serve" subcommand. It loads config,
// builds the pipeline, starts the webhook server and the optional
// mailbox poller, and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The poller stops and the HTTP server drains in-flight requests
//  3. The IMAP connection and state database are closed via defers
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting salesreply", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"assistant", cfg.Assistant.Email,
		"inbox", cfg.Inbox.Provider,
		"model", cfg.Models.Reply,
		"forward_rules", len(cfg.Assistant.ForwardRules),
		"idempotency", cfg.Idempotency.Enabled,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, logger, false, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	var claims api.Claims
	if cfg.Idempotency.Enabled {
		if err := p.openState(cfg); err != nil {
			return err
		}
		if n, err := p.state.Prune("inbound_email", time.Now().Add(-claimRetention)); err != nil {
			logger.Warn("failed to prune old claims", "error", err)
		} else if n > 0 {
			logger.Info("pruned old claims", "count", n)
		}
		claims = p.state
	}

	inbound := api.NewInboundHandler(p.orch, p.provider, claims, cfg.Assistant, logger.With("component", "inbound"))
	monitor := p.watch(ctx, cfg)
	server := api.NewServer(cfg.Listen, inbound, monitor, logger.With("component", "api"))

	var wg sync.WaitGroup
	if p.imap != nil && cfg.Inbox.IMAP.PollIntervalSec > 0 {
		if err := p.openState(cfg); err != nil {
			return err
		}
		poller := email.NewPoller(p.imap, p.state, cfg.Inbox.IMAP, logger)
		interval := time.Duration(cfg.Inbox.IMAP.PollIntervalSec) * time.Second
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx, interval, inbound.Poll)
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown incomplete", "error", err)
		}
	}()

	// Start blocks until Shutdown or a listen failure. Either way the
	// poller and health checks are stopped before the deferred closes run.
	serveErr := server.Start(ctx)
	failed := serveErr != nil && ctx.Err() == nil
	stop()
	wg.Wait()
	monitor.Wait()
	if failed {
		return fmt.Errorf("server failed: %w", serveErr)
	}

	logger.Info("salesreply stopped")
	return nil
}

// pipeline holds the long-lived components built from config.
type pipeline struct {
	provider inbox.Provider
	orch     *reply.Orchestrator
	imap     *email.Client
	ollama   *llm.OllamaClient
	openai   *llm.OpenAIClient
	state    *opstate.Store
	logger   *slog.Logger
}

// newPipeline builds the inbox provider, the model clients, search and
// scraping backends, and the reply orchestrator. With dryRun the
// provider still reads threads but sends nothing. A non-nil stream
// receives the reply model's output as it is generated.
func newPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool, stream llm.StreamCallback) (*pipeline, error) {
	p := &pipeline{logger: logger}

	provider, err := p.newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if dryRun {
		provider = dryRunProvider{Provider: provider, logger: logger}
	}
	p.provider = provider

	p.ollama = llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	if cfg.OpenAI.Configured() {
		p.openai = llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger)
	}
	llmClient := createLLMClient(cfg, logger, p.ollama, p.openai)
	searcher := createSearchManager(cfg, logger)
	scraper := createScraper(cfg, logger)

	engine := research.NewEngine(searcher, scraper, llmClient, cfg.Models.Research, logger.With("component", "research"))
	extractor := extract.New(llmClient, cfg.Models.Extraction, logger.With("component", "extract"),
		extract.WithFullThread(cfg.Assistant.ExtractFullThread))

	p.orch = reply.New(cfg.Assistant, reply.Deps{
		Provider:   provider,
		Extractor:  extractor,
		Researcher: engine,
		LLM:        llmClient,
		Model:      cfg.Models.Reply,
		Logger:     logger.With("component", "reply"),
		Stream:     stream,
	})
	return p, nil
}

func (p *pipeline) newProvider(ctx context.Context, cfg *config.Config) (inbox.Provider, error) {
	switch cfg.Inbox.Provider {
	case config.InboxIMAP:
		mc := cfg.Inbox.IMAP
		p.imap = email.NewClient(mc.IMAP, p.logger)
		if err := p.imap.Connect(ctx); err != nil {
			// The client reconnects on first use.
			p.logger.Warn("IMAP connect failed, will retry", "host", mc.IMAP.Host, "error", err)
		}
		p.logger.Info("inbox provider configured", "provider", "imap", "host", mc.IMAP.Host, "from", mc.From)
		return email.NewMailbox(mc, p.imap, nil, p.logger), nil
	case config.InboxGmail:
		gp, err := gmail.New(ctx, cfg.Inbox.Gmail, p.logger)
		if err != nil {
			return nil, err
		}
		p.logger.Info("inbox provider configured", "provider", "gmail", "from", cfg.Inbox.Gmail.From)
		return gp, nil
	default:
		p.logger.Info("inbox provider configured", "provider", "http", "base_url", cfg.Inbox.HTTP.BaseURL)
		return inbox.NewHTTPClient(cfg.Inbox.HTTP, p.logger), nil
	}
}

// dryRunProvider reads through to the real provider and logs the
// messages it would have sent.
type dryRunProvider struct {
	inbox.Provider
	logger *slog.Logger
}

func (d dryRunProvider) ForwardThread(_ context.Context, threadID string, opts inbox.ForwardOptions) error {
	d.logger.Info("dry run: forward not sent", "thread_id", threadID, "to", opts.To, "note", opts.Note)
	return nil
}

func (d dryRunProvider) ReplyToEmail(_ context.Context, emailID string, opts inbox.ReplyOptions) error {
	d.logger.Info("dry run: reply not sent", "email_id", emailID, "bytes", len(opts.HTML))
	return nil
}

// watch starts health checks for the services that are cheap to check:
// Ollama when a model uses it, an OpenAI-compatible endpoint, and the
// IMAP connection. Anthropic is not checked because every ping is a
// billed request.
func (p *pipeline) watch(ctx context.Context, cfg *config.Config) *connwatch.Monitor {
	monitor := connwatch.NewMonitor(connwatch.Config{}, p.logger.With("component", "connwatch"))
	if usesProvider(cfg, "ollama") {
		monitor.Watch(ctx, "ollama", p.ollama.Ping)
	}
	if p.openai != nil {
		monitor.Watch(ctx, "openai", p.openai.Ping)
	}
	if p.imap != nil {
		monitor.Watch(ctx, "imap", p.imap.Ping)
	}
	return monitor
}

// usesProvider reports whether any pipeline stage's model is served by
// provider. Unlisted models fall through to Ollama.
func usesProvider(cfg *config.Config, provider string) bool {
	providers := make(map[string]string, len(cfg.Models.Available))
	for _, m := range cfg.Models.Available {
		providers[m.Name] = m.Provider
	}
	for _, model := range []string{cfg.Models.Reply, cfg.Models.Extraction, cfg.Models.Research} {
		p, ok := providers[model]
		if !ok {
			p = "ollama"
		}
		if p == provider {
			return true
		}
	}
	return false
}

// openState opens the operational state database once.
func (p *pipeline) openState(cfg *config.Config) error {
	if p.state != nil {
		return nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(cfg.DataDir, "salesreply.db")
	store, err := opstate.NewStore(path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	p.state = store
	p.logger.Info("state store opened", "path", path)
	return nil
}

func (p *pipeline) Close() {
	if p.imap != nil {
		if err := p.imap.Close(); err != nil {
			p.logger.Debug("IMAP close failed", "error", err)
		}
	}
	if p.state != nil {
		if err := p.state.Close(); err != nil {
			p.logger.Debug("state store close failed", "error", err)
		}
	}
}

// createLLMClient builds a multi-provider LLM client from the configuration.
// Each model listed in config is mapped to its provider. Models not
// explicitly mapped fall through to the Ollama provider. The Ollama and
// OpenAI clients are created externally so that the caller can register
// connwatch checks on them; openaiClient may be nil.
func createLLMClient(cfg *config.Config, logger *slog.Logger, ollamaClient *llm.OllamaClient, openaiClient *llm.OpenAIClient) llm.Client {
	multi := llm.NewMultiClient(ollamaClient)
	multi.AddProvider("ollama", ollamaClient)

	if cfg.Anthropic.Configured() {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Info("Anthropic provider configured")
	}
	if openaiClient != nil {
		multi.AddProvider("openai", openaiClient)
		logger.Info("OpenAI provider configured", "base_url", cfg.OpenAI.BaseURL)
	}

	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}

	logger.Info("LLM client initialized",
		"providers", multi.Providers(),
		"reply_model", cfg.Models.Reply,
		"extraction_model", cfg.Models.Extraction,
		"research_model", cfg.Models.Research,
	)
	return multi
}

// createSearchManager registers every configured web search backend.
// With none configured, research degrades to homepage-less results.
func createSearchManager(cfg *config.Config, logger *slog.Logger) *search.Manager {
	mgr := search.NewManager(cfg.Search.Primary)
	if cfg.Firecrawl.Configured() {
		mgr.Register(search.NewFirecrawl(cfg.Firecrawl.APIKey, cfg.Firecrawl.BaseURL, logger))
	}
	if cfg.Search.Brave.Configured() {
		mgr.Register(search.NewBrave(cfg.Search.Brave))
	}
	if cfg.Search.SearXNG.Configured() {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.URL))
	}
	if !mgr.Configured() {
		logger.Warn("no web search provider configured, company research will be empty")
	} else {
		logger.Info("web search configured", "primary", mgr.Primary(), "providers", mgr.Providers())
	}
	return mgr
}

func createScraper(cfg *config.Config, logger *slog.Logger) fetch.Scraper {
	if cfg.Scrape.Provider == "firecrawl" {
		return fetch.NewFirecrawl(cfg.Firecrawl.APIKey, cfg.Firecrawl.BaseURL, cfg.Scrape.MaxChars, logger)
	}
	return fetch.New(cfg.Scrape.MaxChars, logger)
}

// newLogger creates a structured logger that writes to w at the given level
// and format. Format must be "text" or "json"; any other value defaults to
// text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// configuredLogger returns a logger at the configured level and format.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	// Already validated by config.Validate.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return newLogger(w, level, cfg.LogFormat)
}

// loadConfig locates and parses the YAML configuration file. A .env file
// next to it is loaded into the environment first, without overriding
// variables that are already set.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	envPath := filepath.Join(filepath.Dir(cfgPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, cfgPath, fmt.Errorf("load %s: %w", envPath, err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
