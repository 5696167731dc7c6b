package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"sparkie/internal/adapter/channel"
	"sparkie/internal/adapter/llm"
	"sparkie/internal/adapter/memory"
	"sparkie/internal/adapter/taskstore"
	"sparkie/internal/adapter/tool"
	"sparkie/internal/domain"
	"sparkie/internal/infra/config"
	"sparkie/internal/infra/metrics"
	"sparkie/internal/security"
	"sparkie/internal/usecase"
)

// app holds the wired components and the cleanups to run on exit.
type app struct {
	server  *channel.HTTPServer
	tools   *tool.Registry
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) onClose(fn func() error, log *slog.Logger, what string) {
	a.closers = append(a.closers, func() {
		if err := fn(); err != nil {
			log.Warn("close failed", "component", what, "error", err)
		}
	})
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	providers, err := llm.NewRegistryFromConfig(cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	tasks, err := openTaskStore(ctx, cfg.Tasks, a, log)
	if err != nil {
		return nil, fmt.Errorf("tasks: %w", err)
	}
	mem, err := openMemory(cfg.Memory, a, log)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}

	tools, err := buildTools(cfg, mem, tasks, a, log)
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}
	a.tools = tools

	var connectors domain.ConnectorSource
	if cfg.Connectors.Enabled && len(cfg.Connectors.Servers) > 0 {
		c := tool.NewConnectors(cfg.Connectors, log)
		a.closers = append(a.closers, c.Close)
		connectors = c
	}

	selector, err := usecase.NewSelector(cfg.Selector, cfg.LLM.Tiers, providers, log)
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}
	dispatcher := usecase.NewDispatcher(usecase.DispatcherDeps{
		Resolver:    providers,
		Metrics:     m,
		Logger:      log,
		CallTimeout: cfg.LLM.CallTimeout,
		Backoff:     cfg.LLM.Backoff,
	})
	gate := usecase.NewGate(usecase.GateDeps{
		Store:        tasks,
		Executor:     cfg.Gate.Executor,
		Rules:        cfg.Gate.Rules,
		Metrics:      m,
		Logger:       log,
		StoreTimeout: cfg.Gate.StoreTimeout,
	})
	executor := usecase.NewExecutor(usecase.ExecutorDeps{
		Gate:        gate,
		Metrics:     m,
		Logger:      log,
		CallTimeout: cfg.Tools.CallTimeout,
		Timeouts:    cfg.Tools.Timeouts,
	})
	status := usecase.NewStatusPool(nil, cfg.Responder.StatusSeed)
	agent := usecase.NewAgent(usecase.AgentDeps{
		Dispatcher:  dispatcher,
		Executor:    executor,
		Status:      status,
		Logger:      log,
		Temperature: cfg.Agent.Temperature,
		MaxTokens:   cfg.Agent.MaxTokens,
	})

	var planner *usecase.Planner
	if cfg.Planner.Enabled {
		planner, err = usecase.NewPlanner(usecase.PlannerDeps{Dispatcher: dispatcher, Config: cfg.Planner, Logger: log})
		if err != nil {
			return nil, fmt.Errorf("planner: %w", err)
		}
	}

	direct := make([]domain.Tier, 0, len(cfg.Agent.DirectStreamTiers))
	for _, t := range cfg.Agent.DirectStreamTiers {
		direct = append(direct, domain.Tier(t))
	}

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Selector:   selector,
		Planner:    planner,
		Agent:      agent,
		Dispatcher: dispatcher,
		Responder:  usecase.NewResponder(cfg.Responder.ChunkSize, usecase.NewSanitizer(cfg.Responder.Substitutions)),
		Status:     status,
		ContextBuilder: usecase.NewContextBuilder(cfg.Agent.SystemPrompt, cfg.Agent.HistoryLimit,
			cfg.Agent.MaxContextTokens, llm.NewTokenCounter("", log)),
		Memory:            mem,
		Tools:             tools,
		Connectors:        connectors,
		Metrics:           m,
		Logger:            log,
		DirectStreamTiers: direct,
	})

	a.server = channel.NewHTTPServer(ctx, channel.HTTPDeps{
		Config:      cfg.Server,
		Handler:     orchestrator,
		Metrics:     m,
		MetricsPath: cfg.Metrics.Path,
		Logger:      log,
	})
	ok = true
	return a, nil
}

func openTaskStore(ctx context.Context, cfg config.TasksConfig, a *app, log *slog.Logger) (domain.PendingTaskStore, error) {
	switch cfg.Store {
	case "postgres":
		s, err := taskstore.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		s, err := taskstore.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		a.onClose(s.Close, log, "taskstore")
		return s, nil
	}
}

func openMemory(cfg config.MemoryConfig, a *app, log *slog.Logger) (domain.MemoryProvider, error) {
	if cfg.Provider == "noop" {
		return memory.NewNoopMemory(), nil
	}
	if err := ensureDir(cfg.Path); err != nil {
		return nil, err
	}
	s, err := memory.NewSQLiteStore(cfg.Path, memory.Options{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxEntries:          cfg.MaxEntries,
	}, log)
	if err != nil {
		return nil, err
	}
	a.onClose(s.Close, log, "memory")
	return s, nil
}

// buildTools registers the static catalog. Backends without credentials
// are left out so the model is never offered a tool that cannot run.
func buildTools(cfg *config.Config, mem domain.MemoryProvider, tasks domain.PendingTaskStore, a *app, log *slog.Logger) (*tool.Registry, error) {
	tc := cfg.Tools
	reg := tool.NewRegistry(tc.CallsPerMinute, log)

	if backend := searchBackend(tc, log); backend != nil {
		cache, err := searchCache(tc, a, log)
		if err != nil {
			return nil, err
		}
		reg.MustRegister(tool.NewWebSearchTool(tool.WebSearchDeps{
			Backend:      backend,
			Cache:        cache,
			Timeout:      tc.SearchTimeout,
			DefaultCount: tc.SearchMaxResults,
			Logger:       log,
		}))
	}

	if tc.MediaURL != "" {
		reg.MustRegister(tool.MediaTools(tool.NewMediaClient(tc.MediaURL, tc.MediaAPIKey, tc.MediaTimeout), log)...)
	}

	sandbox, err := security.NewSandbox(tc.SandboxRoot, true)
	if err != nil {
		return nil, err
	}
	reg.MustRegister(tool.NewRepoTool(sandbox, log))
	reg.MustRegister(tool.NewMemoryTool(mem, log))

	if tc.EmailEnabled {
		reg.MustRegister(tool.NewEmailTool(tool.NewMemoryMailbox(), log))
	}
	if tc.CalendarEnabled {
		reg.MustRegister(tool.NewCalendarTool(tool.NewMemoryCalendar(), log))
	}
	if tc.SocialEnabled {
		reg.MustRegister(tool.NewSocialTool(tool.NewMemorySocial(), log))
	}
	if tc.FinanceEnabled {
		reg.MustRegister(tool.NewFinanceTool(tool.NewMemoryLedger(), log))
	}
	if tc.ScheduleEnabled {
		reg.MustRegister(tool.NewScheduleTool(tasks, log))
	}
	for _, t := range tool.ApprovalTools(log) {
		if _, err := reg.Get(t.Name()); err == nil {
			continue
		}
		reg.MustRegister(t)
	}
	return reg, nil
}

func searchBackend(tc config.ToolsConfig, log *slog.Logger) tool.SearchBackend {
	switch tc.SearchBackend {
	case "searxng":
		if tc.SearXNGURL == "" {
			return nil
		}
		return tool.NewSearXNGBackend(tc.SearXNGURL, tc.SearchTimeout, log)
	case "tavily":
		if tc.TavilyAPIKey == "" {
			log.Info("web search disabled: no tavily api key")
			return nil
		}
		return tool.NewTavilyBackend(tc.TavilyURL, tc.TavilyAPIKey, tc.SearchTimeout, log)
	default:
		return nil
	}
}

func searchCache(tc config.ToolsConfig, a *app, log *slog.Logger) (tool.SearchCache, error) {
	switch tc.SearchCache {
	case "redis":
		c, closeFn, err := tool.NewRedisSearchCache(tc.RedisURL, tc.SearchCacheTTL, log)
		if err != nil {
			return nil, err
		}
		a.onClose(closeFn, log, "search cache")
		return c, nil
	case "memory":
		return tool.NewMemorySearchCache(tc.SearchCacheTTL), nil
	default:
		return nil, nil
	}
}

// ensureDir creates the parent directory of a database file.
func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o700)
}
