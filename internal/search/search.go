// Package search provides a pluggable web search interface for company
// research.
//
// Each search provider implements the [Provider] interface and is
// registered by name. The [Manager] selects a provider based on
// configuration and exposes a single [Manager.Search] method.
package search

import (
	"context"
	"fmt"
	"slices"
	"sort"
)

// Source is a result vertical.
type Source string

// Supported sources.
const (
	SourceWeb  Source = "web"
	SourceNews Source = "news"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`

	// Summary is a short digest of the result page, present only when
	// Options.Summaries was requested and the provider can supply one.
	Summary string `json:"summary,omitempty"`

	Source Source `json:"source"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results per source.
	// Providers may return fewer. Zero means provider default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`

	// Sources selects the verticals to query. Empty means web only.
	Sources []Source `json:"sources,omitempty"`

	// Summaries asks the provider to attach a page summary to each result.
	Summaries bool `json:"summaries,omitempty"`
}

// Wants reports whether opts selects source s.
func (o Options) Wants(s Source) bool {
	if len(o.Sources) == 0 {
		return s == SourceWeb
	}
	return slices.Contains(o.Sources, s)
}

func (o Options) count(def int) int {
	if o.Count > 0 {
		return o.Count
	}
	return def
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "searxng", "brave").
	Name() string

	// Search executes a query and returns results tagged with their Source.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Searcher is the query side of [Manager], used by the research engine.
type Searcher interface {
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a search manager. The primary provider name
// determines which backend is used by default.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	return m.SearchWith(ctx, m.primary, query, opts)
}

// SearchWith runs a query against a specific named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	return p.Search(ctx, query, opts)
}

// Providers returns the names of all registered providers, sorted.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// Primary returns the name of the default provider.
func (m *Manager) Primary() string {
	return m.primary
}
