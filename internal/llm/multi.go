package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// MultiClient routes requests to a provider based on model name. Each
// pipeline stage names its own model, so one MultiClient serves reply
// generation, extraction, and website disambiguation together.
type MultiClient struct {
	clients  map[string]Client // provider name → client
	models   map[string]string // model name → provider name
	fallback Client            // used for models without a mapping
}

// NewMultiClient creates a client that routes to multiple providers.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client for a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel maps a model name to a provider.
func (m *MultiClient) AddModel(modelName, providerName string) {
	m.models[modelName] = providerName
}

// Providers returns the registered provider names, sorted.
func (m *MultiClient) Providers() []string {
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *MultiClient) clientFor(model string) (Client, error) {
	if provider, ok := m.models[model]; ok {
		if client, ok := m.clients[provider]; ok {
			return client, nil
		}
		return nil, fmt.Errorf("model %q maps to provider %q which is not configured", model, provider)
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return m.fallback, nil
}

// Chat sends a request to the provider for the model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	client, err := m.clientFor(model)
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, model, messages, tools)
}

// ChatStream sends a streaming request to the provider for the model.
func (m *MultiClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	client, err := m.clientFor(model)
	if err != nil {
		return nil, err
	}
	return client.ChatStream(ctx, model, messages, tools, callback)
}

// Ping checks every registered provider and joins the failures.
func (m *MultiClient) Ping(ctx context.Context) error {
	if len(m.clients) == 0 && m.fallback == nil {
		return errors.New("no providers configured")
	}
	var errs []error
	for _, name := range m.Providers() {
		if err := m.clients[name].Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
