// Package config handles salesreply configuration loading.
//
// The resulting [Config] is built once at startup and handed to each
// component by value or pointer; nothing in the pipeline mutates it
// afterwards.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nugget/salesreply/internal/email"
	"github.com/nugget/salesreply/internal/gmail"
	"github.com/nugget/salesreply/internal/inbox"
	"github.com/nugget/salesreply/internal/search"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit -config path is given.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "salesreply", "config.yaml"))
	}

	paths = append(paths, "/etc/salesreply/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all salesreply configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Assistant   AssistantConfig   `yaml:"assistant"`
	Models      ModelsConfig      `yaml:"models"`
	Anthropic   AnthropicConfig   `yaml:"anthropic"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Search      SearchConfig      `yaml:"search"`
	Scrape      ScrapeConfig      `yaml:"scrape"`
	Firecrawl   FirecrawlConfig   `yaml:"firecrawl"`
	Inbox       InboxConfig       `yaml:"inbox"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	DataDir     string            `yaml:"data_dir"`
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the webhook server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`

	// WebhookSecret, when set, must match the X-Webhook-Secret header
	// on every inbound webhook delivery.
	WebhookSecret string `yaml:"webhook_secret"`
}

// Forward match modes.
const (
	ForwardMatchExact           = "exact"
	ForwardMatchCaseInsensitive = "case_insensitive"
)

// AssistantConfig is the identity and policy of the reply assistant.
type AssistantConfig struct {
	// Email is the dedicated inbox address. Only mail sent to it is
	// answered, and replies are sent from it.
	Email string `yaml:"email"`

	// Name is the display name used as the reply sender name and as the
	// prefix of forward notes.
	Name string `yaml:"name"`

	// CompanyInfo is everything the model may claim about our company.
	CompanyInfo string `yaml:"company_info"`

	// ForwardRules lists the humans a conversation may be handed to.
	// An empty list disables forwarding entirely.
	ForwardRules []ForwardRule `yaml:"forward_rules"`

	// ForwardMatch selects how a requested forward target is compared
	// against ForwardRules: "exact" (default) or "case_insensitive".
	ForwardMatch string `yaml:"forward_match"`

	// ExtractFullThread makes company-name extraction read the whole
	// thread instead of only inbound messages.
	ExtractFullThread bool `yaml:"extract_full_thread"`

	// RoundTimeoutSec bounds each model call in the generation loop.
	RoundTimeoutSec int `yaml:"round_timeout_sec"`

	// HandleTimeoutSec bounds one complete inbound email invocation.
	HandleTimeoutSec int `yaml:"handle_timeout_sec"`
}

// ForwardRule is one human contact the assistant may forward to.
type ForwardRule struct {
	Email         string `yaml:"email"`
	Name          string `yaml:"name"`
	ForwardPrompt string `yaml:"forward_prompt"`
}

// ModelsConfig defines which model serves each pipeline stage and
// which provider serves each model.
type ModelsConfig struct {
	Default    string        `yaml:"default"`
	Reply      string        `yaml:"reply"`
	Extraction string        `yaml:"extraction"`
	Research   string        `yaml:"research"`
	OllamaURL  string        `yaml:"ollama_url"`
	Available  []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to its provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic, openai
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an Anthropic API key is set.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// OpenAIConfig defines settings for an OpenAI-compatible API.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether an OpenAI API key is set.
func (c OpenAIConfig) Configured() bool { return c.APIKey != "" }

// SearchConfig selects and configures web search backends.
type SearchConfig struct {
	// Primary is the provider used for research queries:
	// "firecrawl", "brave", or "searxng".
	Primary string              `yaml:"primary"`
	SearXNG search.SearXNGConfig `yaml:"searxng"`
	Brave   search.BraveConfig   `yaml:"brave"`
}

// ScrapeConfig selects how company homepages are turned into markdown.
type ScrapeConfig struct {
	// Provider is "fetch" (direct download and local conversion) or
	// "firecrawl".
	Provider string `yaml:"provider"`
	MaxChars int    `yaml:"max_chars"`
}

// FirecrawlConfig is shared by the Firecrawl search and scrape backends.
type FirecrawlConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether a Firecrawl API key is set.
func (c FirecrawlConfig) Configured() bool { return c.APIKey != "" }

// Inbox provider names.
const (
	InboxHTTP  = "http"
	InboxIMAP  = "imap"
	InboxGmail = "gmail"
)

// InboxConfig selects the inbox/email provider.
type InboxConfig struct {
	Provider string           `yaml:"provider"`
	HTTP     inbox.HTTPConfig `yaml:"http"`
	IMAP     email.Config     `yaml:"imap"`
	Gmail    gmail.Config     `yaml:"gmail"`
}

// IdempotencyConfig enables duplicate-delivery suppression keyed on
// the inbound email ID.
type IdempotencyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing. Defaults are applied
// and the result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	if c.Assistant.Name == "" {
		c.Assistant.Name = "Mr. Sales"
	}
	if c.Assistant.ForwardMatch == "" {
		c.Assistant.ForwardMatch = ForwardMatchExact
	}
	if c.Assistant.RoundTimeoutSec == 0 {
		c.Assistant.RoundTimeoutSec = 90
	}
	if c.Assistant.HandleTimeoutSec == 0 {
		c.Assistant.HandleTimeoutSec = 600
	}

	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Models.Reply == "" {
		c.Models.Reply = c.Models.Default
	}
	if c.Models.Extraction == "" {
		c.Models.Extraction = c.Models.Default
	}
	if c.Models.Research == "" {
		c.Models.Research = c.Models.Default
	}
	for i := range c.Models.Available {
		if c.Models.Available[i].Provider == "" {
			c.Models.Available[i].Provider = "ollama"
		}
	}

	if c.Search.Primary == "" {
		switch {
		case c.Firecrawl.Configured():
			c.Search.Primary = "firecrawl"
		case c.Search.Brave.Configured():
			c.Search.Primary = "brave"
		case c.Search.SearXNG.Configured():
			c.Search.Primary = "searxng"
		}
	}
	if c.Scrape.Provider == "" {
		c.Scrape.Provider = "fetch"
		if c.Firecrawl.Configured() {
			c.Scrape.Provider = "firecrawl"
		}
	}

	if c.Inbox.Provider == "" {
		c.Inbox.Provider = InboxHTTP
	}
	c.Inbox.IMAP.ApplyDefaults()
}

// Validate checks that the configuration is internally consistent.
// Returns an error describing the first problem found.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q must be text or json", c.LogFormat)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}

	if err := c.Assistant.Validate(); err != nil {
		return err
	}

	if c.Models.Default == "" {
		return fmt.Errorf("models.default is required")
	}
	for i, m := range c.Models.Available {
		switch m.Provider {
		case "ollama", "anthropic", "openai":
		default:
			return fmt.Errorf("models.available[%d] (%s): unknown provider %q", i, m.Name, m.Provider)
		}
	}

	switch c.Search.Primary {
	case "":
	case "firecrawl":
		if !c.Firecrawl.Configured() {
			return fmt.Errorf("search.primary is firecrawl but firecrawl.api_key is empty")
		}
	case "brave":
		if !c.Search.Brave.Configured() {
			return fmt.Errorf("search.primary is brave but search.brave.api_key is empty")
		}
	case "searxng":
		if !c.Search.SearXNG.Configured() {
			return fmt.Errorf("search.primary is searxng but search.searxng.url is empty")
		}
	default:
		return fmt.Errorf("search.primary %q is not a known provider", c.Search.Primary)
	}

	switch c.Scrape.Provider {
	case "fetch":
	case "firecrawl":
		if !c.Firecrawl.Configured() {
			return fmt.Errorf("scrape.provider is firecrawl but firecrawl.api_key is empty")
		}
	default:
		return fmt.Errorf("scrape.provider %q must be fetch or firecrawl", c.Scrape.Provider)
	}

	switch c.Inbox.Provider {
	case InboxHTTP:
		if err := c.Inbox.HTTP.Validate(); err != nil {
			return fmt.Errorf("inbox.http: %w", err)
		}
	case InboxIMAP:
		if err := c.Inbox.IMAP.Validate(); err != nil {
			return fmt.Errorf("inbox.imap: %w", err)
		}
	case InboxGmail:
		if err := c.Inbox.Gmail.Validate(); err != nil {
			return fmt.Errorf("inbox.gmail: %w", err)
		}
	default:
		return fmt.Errorf("inbox.provider %q must be http, imap, or gmail", c.Inbox.Provider)
	}

	return nil
}

// Validate checks the assistant identity and forward rules.
func (a AssistantConfig) Validate() error {
	if !strings.Contains(a.Email, "@") {
		return fmt.Errorf("assistant.email %q is not an email address", a.Email)
	}
	switch a.ForwardMatch {
	case ForwardMatchExact, ForwardMatchCaseInsensitive:
	default:
		return fmt.Errorf("assistant.forward_match %q must be %s or %s", a.ForwardMatch, ForwardMatchExact, ForwardMatchCaseInsensitive)
	}
	for i, r := range a.ForwardRules {
		if !strings.Contains(r.Email, "@") {
			return fmt.Errorf("assistant.forward_rules[%d].email %q is not an email address", i, r.Email)
		}
		if strings.TrimSpace(r.ForwardPrompt) == "" {
			return fmt.Errorf("assistant.forward_rules[%d] (%s): forward_prompt is required", i, r.Email)
		}
	}
	if a.RoundTimeoutSec < 0 || a.HandleTimeoutSec < 0 {
		return fmt.Errorf("assistant timeouts must not be negative")
	}
	return nil
}
