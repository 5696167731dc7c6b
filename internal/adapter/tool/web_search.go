package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"sparkie/internal/domain"
	"sparkie/internal/infra/tracer"
)

const (
	defaultSearchCount   = 3
	maxSearchCount       = 10
	defaultSearchTimeout = 8 * time.Second
)

// WebSearchTool performs web searches via a pluggable SearchBackend.
type WebSearchTool struct {
	backend      SearchBackend
	cache        SearchCache
	timeout      time.Duration
	defaultCount int
	logger       *slog.Logger
}

// WebSearchDeps holds injected dependencies for the search tool.
type WebSearchDeps struct {
	Backend      SearchBackend
	Cache        SearchCache // optional
	Timeout      time.Duration
	DefaultCount int
	Logger       *slog.Logger
}

// NewWebSearchTool creates a web search tool.
func NewWebSearchTool(deps WebSearchDeps) *WebSearchTool {
	if deps.Timeout <= 0 {
		deps.Timeout = defaultSearchTimeout
	}
	if deps.DefaultCount <= 0 {
		deps.DefaultCount = defaultSearchCount
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &WebSearchTool{
		backend:      deps.Backend,
		cache:        deps.Cache,
		timeout:      deps.Timeout,
		defaultCount: deps.DefaultCount,
		logger:       deps.Logger,
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, snippets and URLs."
}

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1, "description": "The search query"},
				"count": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Number of results (default: 3)"}
			},
			"required": ["query"]
		}`),
	}
}

type webSearchParams struct {
	Query string `json:"query"`
	Count int    `json:"count,omitempty"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p webSearchParams) (any, error) {
			query := strings.TrimSpace(p.Query)
			if query == "" {
				return nil, fmt.Errorf("query must not be empty")
			}
			count := clampLimit(p.Count, t.defaultCount, maxSearchCount)
			span.SetAttributes(
				tracer.StringAttr("tool.query", query),
				tracer.StringAttr("search.backend", t.backend.Name()),
			)

			key := searchCacheKey(t.backend.Name(), query, count)
			if t.cache != nil {
				if cached, ok := t.cache.Get(ctx, key); ok {
					span.SetAttributes(tracer.StringAttr("tool.cache", "hit"))
					return cached, nil
				}
			}

			sctx, cancel := context.WithTimeout(ctx, t.timeout)
			defer cancel()
			results, err := t.backend.Search(sctx, query, count)
			if err != nil {
				if errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
					return nil, domain.NewSubSystemError("search", "WebSearch.Execute", domain.ErrTimeout,
						fmt.Sprintf("%s did not answer within %s", t.backend.Name(), t.timeout))
				}
				return nil, domain.NewSubSystemError("search", "WebSearch.Execute", domain.ErrProviderError, err.Error())
			}
			if len(results) > count {
				results = results[:count]
			}

			content := formatSearchResults(query, results)
			if t.cache != nil && len(results) > 0 {
				t.cache.Set(ctx, key, content)
			}
			span.SetAttributes(tracer.IntAttr("search.results", len(results)))
			return content, nil
		},
	)
}
