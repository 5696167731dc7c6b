package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sony/gobreaker/v2"

	"sparkie/internal/domain"
	"sparkie/internal/infra/config"
)

// CircuitBreakerProvider wraps an LLMProvider with one circuit breaker per
// model. A free model that keeps failing is skipped fast while the other
// models served by the same provider stay reachable.
type CircuitBreakerProvider struct {
	inner  domain.LLMProvider
	cfg    config.CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewCircuitBreakerProvider wraps inner. Zero settings fall back to defaults.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	cfg.Timeout = orDefault(cfg.Timeout, defaultBreakerTimeout)
	cfg.Interval = orDefault(cfg.Interval, defaultBreakerInterval)
	return &CircuitBreakerProvider{
		inner:    inner,
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (p *CircuitBreakerProvider) breaker(model string) *gobreaker.CircuitBreaker[any] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[model]; ok {
		return cb
	}
	maxFailures := p.cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "llm:" + p.inner.Name() + "/" + model,
		MaxRequests: 1, // one probe in half-open state
		Interval:    p.cfg.Interval,
		Timeout:     p.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Bad requests and caller cancellation say nothing about model health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, context.Canceled)
		},
	})
	p.breakers[model] = cb
	return cb
}

func (p *CircuitBreakerProvider) wrapOpen(model string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s/%s: %v", domain.ErrCircuitOpen, p.inner.Name(), model, err)
	}
	return err
}

// Chat implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	out, err := p.breaker(req.Model).Execute(func() (any, error) {
		return p.inner.Chat(ctx, req)
	})
	if err != nil {
		return nil, p.wrapOpen(req.Model, err)
	}
	return out.(*domain.ChatResponse), nil
}

// ChatStream implements domain.StreamingLLMProvider. Only stream setup is
// guarded; errors after the first byte arrive through the channel.
func (p *CircuitBreakerProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	sp, ok := p.inner.(domain.StreamingLLMProvider)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support streaming", p.inner.Name())
	}
	out, err := p.breaker(req.Model).Execute(func() (any, error) {
		return sp.ChatStream(ctx, req)
	})
	if err != nil {
		return nil, p.wrapOpen(req.Model, err)
	}
	return out.(<-chan domain.StreamDelta), nil
}

// Name implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// State returns the breaker state for model. Models never called report closed.
func (p *CircuitBreakerProvider) State(model string) gobreaker.State {
	return p.breaker(model).State()
}

var _ domain.StreamingLLMProvider = (*CircuitBreakerProvider)(nil)
