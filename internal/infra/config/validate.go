package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// knownTiers mirrors domain.Tiers; config must not import domain.
var knownTiers = map[string]bool{
	"conversational":  true,
	"capable":         true,
	"code_specialist": true,
	"deep":            true,
	"frontier":        true,
}

var knownCategories = map[string]bool{
	"task_intent":     true,
	"conversational":  true,
	"deep_work":       true,
	"frontier":        true,
	"code_specialist": true,
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateSelector(cfg, ve)
	validatePlanner(cfg, ve)
	validateTools(cfg, ve)
	validateGate(cfg, ve)
	validateConnectors(cfg, ve)
	validateStores(cfg, ve)
	validateResponder(cfg, ve)
	validateObservability(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is not host:port: %v", cfg.Server.Addr, err)
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		ve.Add("server.max_body_bytes must be > 0")
	}
	if cfg.Server.KeepaliveInterval <= 0 {
		ve.Add("server.keepalive_interval must be > 0")
	}
	if cfg.Server.RateLimit.Enabled {
		if cfg.Server.RateLimit.PerMinute <= 0 {
			ve.Add("server.rate_limit.per_minute must be > 0 when enabled")
		}
		if cfg.Server.RateLimit.Burst <= 0 {
			ve.Add("server.rate_limit.burst must be > 0 when enabled")
		}
	}
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.SystemPrompt == "" {
		ve.Add("agent.system_prompt must not be empty")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		ve.Add("agent.temperature must be within [0, 2], got %v", cfg.Agent.Temperature)
	}
	if cfg.Agent.MaxTokens <= 0 {
		ve.Add("agent.max_tokens must be > 0")
	}
	if cfg.Agent.HistoryLimit <= 0 {
		ve.Add("agent.history_limit must be > 0")
	}
	for _, t := range cfg.Agent.DirectStreamTiers {
		if !knownTiers[t] {
			ve.Add("agent.direct_stream_tiers: unknown tier %q", t)
		}
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if len(cfg.LLM.Providers) == 0 {
		ve.Add("llm.providers must not be empty")
	}
	served := make(map[string]string)
	names := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
		} else if names[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		names[p.Name] = true
		if p.BaseURL == "" {
			ve.Add("llm.providers[%d].base_url must not be empty", i)
		}
		for _, m := range p.Models {
			if prev, ok := served[m]; ok {
				ve.Add("llm.providers[%d]: model %q already served by %q", i, m, prev)
				continue
			}
			served[m] = p.Name
		}
	}

	for tier := range knownTiers {
		if _, ok := cfg.LLM.Tiers[tier]; !ok {
			ve.Add("llm.tiers.%s is required", tier)
		}
	}
	for name, t := range cfg.LLM.Tiers {
		if !knownTiers[name] {
			ve.Add("llm.tiers: unknown tier %q", name)
			continue
		}
		if t.Primary == "" {
			ve.Add("llm.tiers.%s.primary must not be empty", name)
		}
		if t.MaxRounds <= 0 {
			ve.Add("llm.tiers.%s.max_rounds must be > 0", name)
		}
		for _, m := range append([]string{t.Primary}, t.Fallbacks...) {
			if m != "" && len(served) > 0 && served[m] == "" {
				ve.Add("llm.tiers.%s: model %q is not served by any provider", name, m)
			}
		}
	}

	if cfg.LLM.CallTimeout <= 0 {
		ve.Add("llm.call_timeout must be > 0")
	}
	if cfg.LLM.Backoff.Base < 0 || cfg.LLM.Backoff.Max < cfg.LLM.Backoff.Base {
		ve.Add("llm.backoff: need 0 <= base <= max")
	}
}

func validateSelector(cfg *Config, ve *ValidationError) {
	if cfg.Selector.ShortMessageWords < 0 {
		ve.Add("selector.short_message_words must be >= 0")
	}
	for cat, patterns := range cfg.Selector.ExtraPatterns {
		if !knownCategories[cat] {
			ve.Add("selector.extra_patterns: unknown category %q", cat)
		}
		for i, p := range patterns {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				ve.Add("selector.extra_patterns.%s[%d]: %v", cat, i, err)
			}
			if p.Weight <= 0 {
				ve.Add("selector.extra_patterns.%s[%d].weight must be > 0", cat, i)
			}
		}
	}
}

func validatePlanner(cfg *Config, ve *ValidationError) {
	if !cfg.Planner.Enabled {
		return
	}
	for _, t := range cfg.Planner.Tiers {
		if !knownTiers[t] {
			ve.Add("planner.tiers: unknown tier %q", t)
		}
	}
	if cfg.Planner.Timeout <= 0 {
		ve.Add("planner.timeout must be > 0 when enabled")
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	if cfg.Tools.CallTimeout <= 0 {
		ve.Add("tools.call_timeout must be > 0")
	}
	for name, d := range cfg.Tools.Timeouts {
		if d <= 0 {
			ve.Add("tools.timeouts.%s must be > 0", name)
		}
	}
	switch cfg.Tools.SearchBackend {
	case "tavily", "":
	case "searxng":
		if cfg.Tools.SearXNGURL == "" {
			ve.Add("tools.searxng_url is required for the searxng backend")
		}
	default:
		ve.Add("tools.search_backend %q is not one of tavily, searxng", cfg.Tools.SearchBackend)
	}
	switch cfg.Tools.SearchCache {
	case "memory", "none", "":
	case "redis":
		if cfg.Tools.RedisURL == "" {
			ve.Add("tools.redis_url is required for the redis search cache")
		}
	default:
		ve.Add("tools.search_cache %q is not one of memory, redis, none", cfg.Tools.SearchCache)
	}
	if cfg.Tools.SearchMaxResults <= 0 {
		ve.Add("tools.search_max_results must be > 0")
	}
}

func validateGate(cfg *Config, ve *ValidationError) {
	if cfg.Gate.Executor == "" {
		ve.Add("gate.executor must not be empty")
	}
	if cfg.Gate.StoreTimeout < 0 {
		ve.Add("gate.store_timeout must not be negative")
	}
	for i, r := range cfg.Gate.Rules {
		if r.Tool == "" {
			ve.Add("gate.rules[%d].tool must not be empty", i)
		}
	}
}

func validateConnectors(cfg *Config, ve *ValidationError) {
	if !cfg.Connectors.Enabled {
		return
	}
	for i, s := range cfg.Connectors.Servers {
		if s.Name == "" {
			ve.Add("connectors.servers[%d].name must not be empty", i)
		}
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				ve.Add("connectors.servers[%d].command is required for stdio", i)
			}
		case "http":
			if s.URL == "" {
				ve.Add("connectors.servers[%d].url is required for http", i)
			}
		default:
			ve.Add("connectors.servers[%d].transport %q is not one of stdio, http", i, s.Transport)
		}
	}
}

func validateStores(cfg *Config, ve *ValidationError) {
	switch cfg.Memory.Provider {
	case "noop":
	case "sqlite":
		if cfg.Memory.Path == "" {
			ve.Add("memory.path is required for the sqlite provider")
		}
		if cfg.Memory.SimilarityThreshold <= 0 || cfg.Memory.SimilarityThreshold > 1 {
			ve.Add("memory.similarity_threshold must be within (0, 1]")
		}
	default:
		ve.Add("memory.provider %q is not one of sqlite, noop", cfg.Memory.Provider)
	}

	switch cfg.Tasks.Store {
	case "sqlite":
		if cfg.Tasks.Path == "" {
			ve.Add("tasks.path is required for the sqlite store")
		}
	case "postgres":
		if cfg.Tasks.PostgresDSN == "" {
			ve.Add("tasks.postgres_dsn is required for the postgres store")
		}
	default:
		ve.Add("tasks.store %q is not one of sqlite, postgres", cfg.Tasks.Store)
	}
}

func validateResponder(cfg *Config, ve *ValidationError) {
	if cfg.Responder.ChunkSize <= 0 {
		ve.Add("responder.chunk_size must be > 0")
	}
	for k := range cfg.Responder.Substitutions {
		if k == "" {
			ve.Add("responder.substitutions: empty key")
		}
	}
}

func validateObservability(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
	if cfg.Tracer.Enabled {
		switch cfg.Tracer.Exporter {
		case "stdout", "noop":
		default:
			ve.Add("tracer.exporter %q is not one of stdout, noop", cfg.Tracer.Exporter)
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		ve.Add("metrics.path must start with /")
	}
}
