package tool

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/time/rate"

	"sparkie/internal/domain"
)

// RateLimitedTool caps how often a tool may run. Calls over the limit are
// refused with a retryable error result instead of queueing.
type RateLimitedTool struct {
	domain.Tool
	limiter *rate.Limiter
}

// WithRateLimit wraps t to allow perMinute calls per minute with a burst of
// the same size. perMinute <= 0 returns t unchanged.
func WithRateLimit(t domain.Tool, perMinute int) domain.Tool {
	if perMinute <= 0 {
		return t
	}
	return &RateLimitedTool{
		Tool:    t,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (r *RateLimitedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if !r.limiter.Allow() {
		return &domain.ToolResult{
			IsError:     true,
			IsRetryable: true,
			Content:     r.Name() + " is being called too often, try again in a moment",
		}, nil
	}
	return r.Tool.Execute(ctx, params)
}
