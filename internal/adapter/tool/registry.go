package tool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"sparkie/internal/domain"
)

// Registry holds the static tool catalog.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]domain.Tool
	perMinute int
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. Registered tools are wrapped with
// schema validation and, when perMinute > 0, a per-tool rate limit.
func NewRegistry(perMinute int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:     make(map[string]domain.Tool),
		perMinute: perMinute,
		logger:    logger,
	}
}

// Register adds a tool. A duplicate name is an error. If the tool's schema
// does not compile it is registered without validation and a warning is
// logged.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	wrapped, err := WithSchemaValidation(t)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool", "tool", name, "error", err)
	} else {
		t = wrapped
	}
	r.tools[name] = WithRateLimit(t, r.perMinute)
	return nil
}

// MustRegister registers every tool and panics on a duplicate.
func (r *Registry) MustRegister(tools ...domain.Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get implements domain.ToolExecutor.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// Names returns the registered tool names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas implements domain.ToolExecutor. Order is by name.
func (r *Registry) Schemas() []domain.ToolSchema {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]domain.ToolSchema, 0, len(names))
	for _, name := range names {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

var _ domain.ToolExecutor = (*Registry)(nil)
