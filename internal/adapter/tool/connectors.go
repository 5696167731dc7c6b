package tool

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sparkie/internal/domain"
	"sparkie/internal/infra/config"
)

const userPlaceholder = "{user_id}"

type bridgeEntry struct {
	bridge    *MCPBridge
	expiresAt time.Time
}

// Connectors discovers each user's connector tools through MCP. Bridges are
// cached per user for the configured TTL; concurrent discoveries for the
// same user share one connection attempt.
type Connectors struct {
	servers []config.ConnectorServerConfig
	ttl     time.Duration
	dial    dialFunc
	now     func() time.Time
	logger  *slog.Logger

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]bridgeEntry
}

// NewConnectors creates a connector source for the configured servers.
func NewConnectors(cfg config.ConnectorsConfig, logger *slog.Logger) *Connectors {
	return newConnectors(cfg, dialMCP, logger)
}

func newConnectors(cfg config.ConnectorsConfig, dial dialFunc, logger *slog.Logger) *Connectors {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Connectors{
		servers: cfg.Servers,
		ttl:     ttl,
		dial:    dial,
		now:     time.Now,
		logger:  logger,
		cache:   make(map[string]bridgeEntry),
	}
}

// Discover implements domain.ConnectorSource.
func (c *Connectors) Discover(ctx context.Context, userID string) ([]domain.Tool, error) {
	if len(c.servers) == 0 || userID == "" {
		return nil, nil
	}
	if tools, ok := c.cached(userID); ok {
		return tools, nil
	}

	v, err, _ := c.group.Do(userID, func() (any, error) {
		if tools, ok := c.cached(userID); ok {
			return tools, nil
		}
		// Detached from the request so one caller's cancellation does not
		// fail the others waiting on the same discovery.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		bridge, err := newMCPBridge(dctx, c.serversFor(userID), c.dial, c.logger)
		if err != nil {
			return nil, err
		}
		c.store(userID, bridge)
		return bridge.Tools(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Tool), nil
}

func (c *Connectors) cached(userID string) ([]domain.Tool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[userID]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.cache, userID)
		go e.bridge.Close()
		return nil, false
	}
	return e.bridge.Tools(), true
}

func (c *Connectors) store(userID string, b *MCPBridge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.cache[userID]; ok {
		go old.bridge.Close()
	}
	c.cache[userID] = bridgeEntry{bridge: b, expiresAt: c.now().Add(c.ttl)}
}

// serversFor substitutes the user's ID into each server's settings.
func (c *Connectors) serversFor(userID string) []config.ConnectorServerConfig {
	sub := func(s string) string { return strings.ReplaceAll(s, userPlaceholder, userID) }
	out := make([]config.ConnectorServerConfig, len(c.servers))
	for i, srv := range c.servers {
		srv.URL = sub(srv.URL)
		srv.Command = sub(srv.Command)
		args := make([]string, len(srv.Args))
		for j, a := range srv.Args {
			args[j] = sub(a)
		}
		srv.Args = args
		headers := maps.Clone(srv.Headers)
		for k, v := range headers {
			headers[k] = sub(v)
		}
		srv.Headers = headers
		env := maps.Clone(srv.Env)
		for k, v := range env {
			env[k] = sub(v)
		}
		srv.Env = env
		out[i] = srv
	}
	return out
}

// Close shuts down every cached bridge.
func (c *Connectors) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.cache {
		e.bridge.Close()
		delete(c.cache, id)
	}
}

var _ domain.ConnectorSource = (*Connectors)(nil)
