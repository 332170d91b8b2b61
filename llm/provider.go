package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Provider is one chat-completion backend.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string

	// Complete performs one round trip. Implementations classify failures
	// with NewTransientError / NewFatalError so the client can retry.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Settings carries the credentials and endpoint for a provider instance.
type Settings struct {
	APIKey  string
	APIBase string
}

// ProviderFactory builds a provider from settings.
type ProviderFactory func(Settings) (Provider, error)

var (
	providerMu       sync.RWMutex
	providerRegistry = make(map[string]ProviderFactory)
)

// RegisterProvider adds a named provider factory. Later registrations
// replace earlier ones, so applications can swap in test doubles.
func RegisterProvider(name string, factory ProviderFactory) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[name] = factory
}

// NewProvider instantiates a registered provider.
func NewProvider(name string, settings Settings) (Provider, error) {
	providerMu.RLock()
	factory, ok := providerRegistry[name]
	providerMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %s)", name, strings.Join(ListProviders(), ", "))
	}
	return factory(settings)
}

// ListProviders returns registered provider names, sorted.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()
	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
