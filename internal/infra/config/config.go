package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Agent      AgentConfig      `yaml:"agent"`
	LLM        LLMConfig        `yaml:"llm"`
	Selector   SelectorConfig   `yaml:"selector"`
	Planner    PlannerConfig    `yaml:"planner"`
	Tools      ToolsConfig      `yaml:"tools"`
	Gate       GateConfig       `yaml:"gate"`
	Connectors ConnectorsConfig `yaml:"connectors"`
	Memory     MemoryConfig     `yaml:"memory"`
	Tasks      TasksConfig      `yaml:"tasks"`
	Responder  ResponderConfig  `yaml:"responder"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds the HTTP transport settings.
type ServerConfig struct {
	Addr              string          `yaml:"addr"`
	ReadTimeout       time.Duration   `yaml:"read_timeout"`
	IdleTimeout       time.Duration   `yaml:"idle_timeout"`
	RequestTimeout    time.Duration   `yaml:"request_timeout"`
	MaxBodyBytes      int64           `yaml:"max_body_bytes"`
	KeepaliveInterval time.Duration   `yaml:"keepalive_interval"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client request rate limits.
type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	PerMinute int  `yaml:"per_minute"`
	Burst     int  `yaml:"burst"`
}

// AgentConfig holds agent loop behavior shared by all tiers.
type AgentConfig struct {
	SystemPrompt      string   `yaml:"system_prompt"`
	Temperature       float64  `yaml:"temperature"`
	MaxTokens         int      `yaml:"max_tokens"`
	HistoryLimit      int      `yaml:"history_limit"`
	MaxContextTokens  int      `yaml:"max_context_tokens"`
	DirectStreamTiers []string `yaml:"direct_stream_tiers,omitempty"` // tiers answered by a single streamed call when no tools are offered
}

// LLMConfig holds model provider and tier settings.
type LLMConfig struct {
	Providers      []ProviderConfig      `yaml:"providers"`
	Tiers          map[string]TierConfig `yaml:"tiers"`
	CallTimeout    time.Duration         `yaml:"call_timeout"`
	Backoff        BackoffConfig         `yaml:"backoff"`
	CircuitBreaker CircuitBreakerConfig  `yaml:"circuit_breaker"`
}

// TierConfig holds the candidate chain and round budget for one tier.
type TierConfig struct {
	Primary   string   `yaml:"primary"`
	Fallbacks []string `yaml:"fallbacks,omitempty"`
	MaxRounds int      `yaml:"max_rounds"`
}

// BackoffConfig holds the dispatcher's delay between candidates.
type BackoffConfig struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single OpenAI-compatible provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	NoAuth      bool          `yaml:"no_auth,omitempty"` // local providers that need no credential
	Models      []string      `yaml:"models"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// SelectorConfig tunes the tier classifier.
type SelectorConfig struct {
	ShortMessageWords int                        `yaml:"short_message_words"`
	ExtraPatterns     map[string][]PatternConfig `yaml:"extra_patterns,omitempty"` // category name -> additional patterns
}

// PatternConfig is one weighted classifier pattern.
type PatternConfig struct {
	Pattern string `yaml:"pattern"`
	Weight  int    `yaml:"weight"`
}

// PlannerConfig holds the optional planning pre-call settings.
type PlannerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Tiers     []string      `yaml:"tiers"`
	MinLength int           `yaml:"min_length"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ToolsConfig holds tool catalog and backend settings.
type ToolsConfig struct {
	CallTimeout      time.Duration            `yaml:"call_timeout"`
	Timeouts         map[string]time.Duration `yaml:"timeouts,omitempty"` // per-tool override
	SandboxRoot      string                   `yaml:"sandbox_root"`
	SearchBackend    string                   `yaml:"search_backend"` // "tavily", "searxng"
	SearXNGURL       string                   `yaml:"searxng_url"`
	TavilyURL        string                   `yaml:"tavily_url"`
	TavilyAPIKey     string                   `yaml:"tavily_api_key"`
	SearchTimeout    time.Duration            `yaml:"search_timeout"`
	SearchMaxResults int                      `yaml:"search_max_results"`
	SearchCache      string                   `yaml:"search_cache"` // "memory", "redis", "none"
	SearchCacheTTL   time.Duration            `yaml:"search_cache_ttl"`
	RedisURL         string                   `yaml:"redis_url"`
	MediaURL         string                   `yaml:"media_url"`
	MediaAPIKey      string                   `yaml:"media_api_key"`
	MediaTimeout     time.Duration            `yaml:"media_timeout"`
	EmailEnabled     bool                     `yaml:"email_enabled"`
	CalendarEnabled  bool                     `yaml:"calendar_enabled"`
	SocialEnabled    bool                     `yaml:"social_enabled"`
	FinanceEnabled   bool                     `yaml:"finance_enabled"`
	ScheduleEnabled  bool                     `yaml:"schedule_enabled"`
	CallsPerMinute   int                      `yaml:"calls_per_minute"`
}

// GateConfig extends the built-in approval table.
type GateConfig struct {
	Executor     string           `yaml:"executor"`
	StoreTimeout time.Duration    `yaml:"store_timeout"`
	Rules        []GateRuleConfig `yaml:"rules,omitempty"`
}

// GateRuleConfig flags a tool, or one action of a dispatch tool, as requiring approval.
type GateRuleConfig struct {
	Tool   string `yaml:"tool"`
	Action string `yaml:"action,omitempty"`
	Label  string `yaml:"label,omitempty"`
}

// ConnectorsConfig holds per-user MCP connector settings.
type ConnectorsConfig struct {
	Enabled  bool                    `yaml:"enabled"`
	CacheTTL time.Duration           `yaml:"cache_ttl"`
	Servers  []ConnectorServerConfig `yaml:"servers,omitempty"`
}

// ConnectorServerConfig describes one MCP server. A "{user_id}" placeholder in
// URL, Args or Headers is replaced with the requesting user's ID.
type ConnectorServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio", "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// MemoryConfig holds long-term user memory settings.
type MemoryConfig struct {
	Provider            string  `yaml:"provider"` // "sqlite", "noop"
	Path                string  `yaml:"path"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxEntries          int     `yaml:"max_entries"`
}

// TasksConfig holds pending task store settings.
type TasksConfig struct {
	Store       string `yaml:"store"` // "sqlite", "postgres"
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ResponderConfig holds outbound stream settings.
type ResponderConfig struct {
	ChunkSize     int               `yaml:"chunk_size"`
	Substitutions map[string]string `yaml:"substitutions,omitempty"` // extends the built-in table
	StatusSeed    int64             `yaml:"status_seed,omitempty"`   // 0 = time-seeded
}

// LoggerConfig holds logger settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// MetricsConfig holds prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// defaultDataDir returns the persistent data directory under $HOME/.sparkie/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".sparkie", "data")
}

// Default model chain, cheapest and most available last.
var defaultFallbacks = []string{"glm-5-free", "minimax-m2.5-free", "kimi-k2.5-free", "minimax-m2.1-free", "big-pickle"}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
			RequestTimeout:    5 * time.Minute,
			MaxBodyBytes:      50 * 1024,
			KeepaliveInterval: 10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:   true,
				PerMinute: 30,
				Burst:     10,
			},
		},
		Agent: AgentConfig{
			SystemPrompt:     "You are Sparkie, a capable assistant that uses tools to get real work done.",
			Temperature:      0.7,
			MaxTokens:        16384,
			HistoryLimit:     40,
			MaxContextTokens: 128000,
		},
		LLM: LLMConfig{
			Providers: []ProviderConfig{{
				Name:    "opencode",
				BaseURL: "https://opencode.ai/zen/v1",
				Models:  append([]string(nil), defaultFallbacks...),
			}},
			Tiers: map[string]TierConfig{
				"conversational":  {Primary: "minimax-m2.5-free", Fallbacks: []string{"glm-5-free", "big-pickle"}, MaxRounds: 3},
				"capable":         {Primary: "glm-5-free", Fallbacks: defaultFallbacks[1:], MaxRounds: 5},
				"code_specialist": {Primary: "kimi-k2.5-free", Fallbacks: []string{"glm-5-free", "minimax-m2.5-free", "big-pickle"}, MaxRounds: 6},
				"deep":            {Primary: "kimi-k2.5-free", Fallbacks: []string{"glm-5-free", "minimax-m2.5-free", "minimax-m2.1-free", "big-pickle"}, MaxRounds: 10},
				"frontier":        {Primary: "glm-5-free", Fallbacks: []string{"kimi-k2.5-free", "minimax-m2.5-free", "big-pickle"}, MaxRounds: 10},
			},
			CallTimeout: 85 * time.Second,
			Backoff: BackoffConfig{
				Base: 500 * time.Millisecond,
				Max:  10 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Selector: SelectorConfig{
			ShortMessageWords: 4,
		},
		Planner: PlannerConfig{
			Enabled:   true,
			Tiers:     []string{"deep", "frontier"},
			MinLength: 200,
			MaxTokens: 1024,
			Timeout:   20 * time.Second,
		},
		Tools: ToolsConfig{
			CallTimeout:      30 * time.Second,
			SandboxRoot:      filepath.Join(dataDir, "repo"),
			SearchBackend:    "tavily",
			SearXNGURL:       "http://localhost:6060",
			TavilyURL:        "https://api.tavily.com/search",
			SearchTimeout:    8 * time.Second,
			SearchMaxResults: 3,
			SearchCache:      "memory",
			SearchCacheTTL:   15 * time.Minute,
			MediaTimeout:     90 * time.Second,
			EmailEnabled:     true,
			CalendarEnabled:  true,
			SocialEnabled:    true,
			FinanceEnabled:   false,
			ScheduleEnabled:  true,
			CallsPerMinute:   60,
		},
		Gate: GateConfig{
			Executor:     "sparkie",
			StoreTimeout: 5 * time.Second,
		},
		Connectors: ConnectorsConfig{
			Enabled:  false,
			CacheTTL: 10 * time.Minute,
		},
		Memory: MemoryConfig{
			Provider:            "sqlite",
			Path:                filepath.Join(dataDir, "memory.db"),
			SimilarityThreshold: 0.85,
			MaxEntries:          20,
		},
		Tasks: TasksConfig{
			Store: "sqlite",
			Path:  filepath.Join(dataDir, "tasks.db"),
		},
		Responder: ResponderConfig{
			ChunkSize: 80,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("SPARKIE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SPARKIE_* env vars to config fields. Provider
// credentials use SPARKIE_<PROVIDER>_API_KEY, e.g. SPARKIE_OPENCODE_API_KEY.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPARKIE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SPARKIE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SPARKIE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SPARKIE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SPARKIE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("SPARKIE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
	if v := os.Getenv("SPARKIE_LLM_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.LLM.CallTimeout = d
		}
	}
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		if v := os.Getenv(providerKeyEnv(p.Name)); v != "" {
			p.APIKey = v
		}
	}

	if v := os.Getenv("SPARKIE_TOOLS_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Tools.CallTimeout = d
		}
	}
	if v := os.Getenv("SPARKIE_TOOLS_SANDBOX_ROOT"); v != "" {
		cfg.Tools.SandboxRoot = v
	}
	if v := os.Getenv("SPARKIE_TOOLS_SEARCH_BACKEND"); v != "" {
		cfg.Tools.SearchBackend = v
	}
	if v := os.Getenv("SPARKIE_TOOLS_SEARXNG_URL"); v != "" {
		cfg.Tools.SearXNGURL = v
	}
	if v := os.Getenv("SPARKIE_TAVILY_API_KEY"); v != "" {
		cfg.Tools.TavilyAPIKey = v
	}
	if v := os.Getenv("SPARKIE_MEDIA_URL"); v != "" {
		cfg.Tools.MediaURL = v
	}
	if v := os.Getenv("SPARKIE_MEDIA_API_KEY"); v != "" {
		cfg.Tools.MediaAPIKey = v
	}
	if v := os.Getenv("SPARKIE_REDIS_URL"); v != "" {
		cfg.Tools.RedisURL = v
		if cfg.Tools.SearchCache == "memory" {
			cfg.Tools.SearchCache = "redis"
		}
	}

	if v := os.Getenv("SPARKIE_MEMORY_PROVIDER"); v != "" {
		cfg.Memory.Provider = v
	}
	if v := os.Getenv("SPARKIE_MEMORY_PATH"); v != "" {
		cfg.Memory.Path = v
	}
	if v := os.Getenv("SPARKIE_TASKS_STORE"); v != "" {
		cfg.Tasks.Store = v
	}
	if v := os.Getenv("SPARKIE_TASKS_POSTGRES_DSN"); v != "" {
		cfg.Tasks.PostgresDSN = v
		if os.Getenv("SPARKIE_TASKS_STORE") == "" {
			cfg.Tasks.Store = "postgres"
		}
	}
	if v := os.Getenv("SPARKIE_CONNECTORS_ENABLED"); v == "true" {
		cfg.Connectors.Enabled = true
	}
	if v := os.Getenv("SPARKIE_RESPONDER_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Responder.ChunkSize = n
		}
	}
	if v := os.Getenv("SPARKIE_PLANNER_ENABLED"); v != "" {
		cfg.Planner.Enabled = v == "true"
	}
	if v := os.Getenv("SPARKIE_DIRECT_STREAM_TIERS"); v != "" {
		cfg.Agent.DirectStreamTiers = splitAndTrim(v, ",")
	}
}

// providerKeyEnv returns the env var holding a provider's API key.
func providerKeyEnv(name string) string {
	up := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
	return "SPARKIE_" + up + "_API_KEY"
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets replaces every "enc:..." credential with its plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	type secret struct {
		name  string
		value *string
	}
	var secrets []secret
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		secrets = append(secrets, secret{"provider " + p.Name + " api_key", &p.APIKey})
	}
	secrets = append(secrets,
		secret{"tools.tavily_api_key", &cfg.Tools.TavilyAPIKey},
		secret{"tools.media_api_key", &cfg.Tools.MediaAPIKey},
		secret{"tools.redis_url", &cfg.Tools.RedisURL},
		secret{"tasks.postgres_dsn", &cfg.Tasks.PostgresDSN},
	)
	for i := range cfg.Connectors.Servers {
		srv := &cfg.Connectors.Servers[i]
		for k, v := range srv.Headers {
			if !strings.HasPrefix(v, "enc:") {
				continue
			}
			plain, err := DecryptValue(strings.TrimPrefix(v, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("connector %s header %s: %w", srv.Name, k, err)
			}
			srv.Headers[k] = plain
		}
	}

	for _, s := range secrets {
		if !strings.HasPrefix(*s.value, "enc:") {
			continue
		}
		plain, err := DecryptValue(strings.TrimPrefix(*s.value, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.value = plain
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 32-byte key.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files that are group or world writable.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
