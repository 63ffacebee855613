package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/bellabot/bella/internal/config"
	"github.com/bellabot/bella/internal/logging"
)

// ErrNoProvider is returned when no completion provider is configured.
var ErrNoProvider = errors.New("no completion provider configured")

// ProviderError is returned when an LLM provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Registry manages provider clients by name.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client
	fallback string
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// SetFallback sets the provider used when a name does not match.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client registered under name, or the fallback.
func (r *Registry) Resolve(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[name]; ok {
		return c, nil
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider %q", name)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close releases clients that hold connections.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, c := range r.clients {
		if closer, ok := c.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

// NewRegistryFromConfig builds a Registry from the ai config section. The
// primary provider is registered under its kind name and made the fallback;
// each entry of Providers is registered under its own key. Providers missing
// credentials are skipped with a warning.
func NewRegistryFromConfig(ctx context.Context, ai config.AIConfig, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry(log)

	kind := strings.ToLower(strings.TrimSpace(ai.Provider))
	if kind != "" && kind != "none" {
		client, err := newProvider(ctx, kind, ai.Model, ai.APIKey, ai.Endpoint)
		switch {
		case errors.Is(err, errMissingKey):
			reg.log.Warn().Str("provider", kind).Msg("no API key, AI fallback disabled")
		case err != nil:
			return nil, err
		default:
			reg.Register(kind, client)
			reg.SetFallback(kind)
		}
	}

	for name, p := range ai.Providers {
		client, err := newProvider(ctx, strings.ToLower(p.Kind), p.Model, p.APIKey, p.Endpoint)
		switch {
		case errors.Is(err, errMissingKey):
			reg.log.Warn().Str("provider", name).Msg("no API key, skipping")
		case err != nil:
			return nil, fmt.Errorf("provider %s: %w", name, err)
		default:
			reg.Register(name, client)
		}
	}

	return reg, nil
}

// NewClientFromConfig returns a failover client over the configured
// providers, or ErrNoProvider when none could be registered.
func NewClientFromConfig(ctx context.Context, ai config.AIConfig, log *logging.Logger) (Client, *Registry, error) {
	reg, err := NewRegistryFromConfig(ctx, ai, log)
	if err != nil {
		return nil, nil, err
	}
	names := reg.List()
	if len(names) == 0 {
		return nil, reg, ErrNoProvider
	}
	primary := strings.ToLower(ai.Provider)
	if _, err := reg.Resolve(primary); err != nil || primary == "none" {
		primary = names[0]
	}
	return NewFailoverClient(reg, primary, ai.Fallbacks, log), reg, nil
}

var errMissingKey = errors.New("missing API key")

func newProvider(ctx context.Context, kind, model, apiKey, endpoint string) (Client, error) {
	switch kind {
	case "gemini":
		if apiKey == "" {
			return nil, errMissingKey
		}
		return NewGeminiClient(ctx, apiKey, model)
	case "openai":
		if apiKey == "" && endpoint == "" {
			return nil, errMissingKey
		}
		return NewOpenAIClient(apiKey, model, endpoint), nil
	case "anthropic":
		if apiKey == "" {
			return nil, errMissingKey
		}
		return NewAnthropicClient(apiKey, model, endpoint), nil
	case "ollama":
		return NewOllamaClient(endpoint, model), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}
