package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"sparkie/internal/domain"
	"sparkie/internal/infra/config"
)

// Registry maps model names to the provider that serves them.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider // provider name -> provider
	models    map[string]string             // model -> provider name
	available map[string]bool               // provider name -> has credential
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
		models:    make(map[string]string),
		available: make(map[string]bool),
	}
}

// NewRegistryFromConfig builds an OpenAI-compatible provider for each
// configured provider, wrapped in per-model circuit breakers when enabled.
func NewRegistryFromConfig(cfg config.LLMConfig, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()
	for _, pc := range cfg.Providers {
		var p domain.LLMProvider = NewOpenAIProvider(pc, logger)
		if cfg.CircuitBreaker.Enabled {
			p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
		}
		if err := reg.Register(p, pc.Models, pc.APIKey != "" || pc.NoAuth); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Register adds a provider serving models. A model may be served by only one provider.
func (r *Registry) Register(provider domain.LLMProvider, models []string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	for _, m := range models {
		if owner, ok := r.models[m]; ok {
			return fmt.Errorf("model %q already served by %q", m, owner)
		}
	}
	r.providers[name] = provider
	r.available[name] = available
	for _, m := range models {
		r.models[m] = name
	}
	return nil
}

// Resolve implements domain.ProviderResolver.
func (r *Registry) Resolve(model string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.models[model]
	if !ok {
		return nil, domain.NewDomainError("Registry.Resolve", domain.ErrProviderNotFound, model)
	}
	return r.providers[name], nil
}

// Available implements domain.ProviderResolver.
func (r *Registry) Available(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.models[model]
	return ok && r.available[name]
}

// Models returns every registered model name, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.models))
	for m := range r.models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

var _ domain.ProviderResolver = (*Registry)(nil)
