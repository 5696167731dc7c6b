package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"sparkie/internal/domain"
	"sparkie/internal/infra/config"
	"sparkie/internal/infra/metrics"
	"sparkie/internal/infra/tracer"
)

// Dispatcher defaults.
const (
	defaultCallTimeout = 85 * time.Second
	baseRetryDelay     = 500 * time.Millisecond
	maxRetryDelay      = 10 * time.Second
)

// exhaustedPrefix starts the content of the synthetic failure response.
const exhaustedPrefix = "All models are unavailable right now. Last error: "

// DispatcherDeps holds injected dependencies for the dispatcher.
type DispatcherDeps struct {
	Resolver    domain.ProviderResolver
	Classifier  *ErrorClassifier // nil = NewErrorClassifier()
	Metrics     *metrics.Metrics // optional
	Logger      *slog.Logger
	CallTimeout time.Duration
	Backoff     config.BackoffConfig
	// Sleep waits between candidates; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher walks a ModelSelection's candidates until one model answers.
// It is used for every model call: planning, rounds and synthesis.
type Dispatcher struct {
	deps DispatcherDeps
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	if deps.Classifier == nil {
		deps.Classifier = NewErrorClassifier()
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = defaultCallTimeout
	}
	if deps.Backoff.Base <= 0 {
		deps.Backoff.Base = baseRetryDelay
	}
	if deps.Backoff.Max <= 0 {
		deps.Backoff.Max = maxRetryDelay
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Dispatcher{deps: deps}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryBackoff computes exponential backoff with jitter.
func retryBackoff(attempt int, base, limit time.Duration) time.Duration {
	delay := base * time.Duration(1<<uint(min(attempt, 16)))
	if delay > limit {
		delay = limit
	}
	// Add 0-25% jitter.
	return delay + rand.N(delay/4+1)
}

// Call sends req to each candidate in turn. Transient failures move on to the
// next candidate after a backoff; a terminal failure returns a
// *domain.ProviderError at once. When every candidate fails the result is a
// synthetic response with FinishReason "error", an empty modelUsed and a nil
// error. At most len(candidates) model calls are made.
func (d *Dispatcher) Call(ctx context.Context, req domain.ChatRequest, sel domain.ModelSelection) (*domain.ChatResponse, string, error) {
	ctx, span := tracer.StartSpan(ctx, "dispatcher.call",
		trace.WithAttributes(tracer.StringAttr("selection.tier", string(sel.Tier))),
	)
	defer span.End()

	candidates := sel.Candidates()
	var lastErr error
	for i, model := range candidates {
		if i > 0 {
			if err := d.deps.Sleep(ctx, retryBackoff(i-1, d.deps.Backoff.Base, d.deps.Backoff.Max)); err != nil {
				tracer.RecordError(span, err)
				return nil, "", err
			}
		}

		resp, err := d.callOne(ctx, model, req)
		if err == nil {
			span.SetAttributes(tracer.StringAttr("llm.model_used", model), tracer.IntAttr("dispatcher.attempts", i+1))
			tracer.SetOK(span)
			return resp, model, nil
		}
		if ctx.Err() != nil {
			tracer.RecordError(span, ctx.Err())
			return nil, "", ctx.Err()
		}

		classified := d.deps.Classifier.Classify(err)
		if !classified.Transient() {
			perr := &domain.ProviderError{Model: model, Terminal: true, Err: err}
			tracer.RecordError(span, perr)
			return nil, "", perr
		}
		d.deps.Logger.WarnContext(ctx, "model call failed, trying next candidate",
			"model", model,
			"attempt", i+1,
			"candidates", len(candidates),
			"category", classified.Category.String(),
			"error", err,
		)
		lastErr = err
	}

	d.deps.Metrics.Exhausted()
	if lastErr == nil {
		lastErr = errors.New("no candidate models")
	}
	span.SetAttributes(tracer.BoolAttr("dispatcher.exhausted", true))
	tracer.RecordError(span, lastErr)
	d.deps.Logger.ErrorContext(ctx, "all candidate models failed", "tier", sel.Tier, "error", lastErr)
	return exhaustedResponse(lastErr), "", nil
}

func (d *Dispatcher) callOne(ctx context.Context, model string, req domain.ChatRequest) (*domain.ChatResponse, error) {
	provider, err := d.deps.Resolver.Resolve(model)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.deps.CallTimeout)
	defer cancel()

	req.Model = model
	start := time.Now()
	resp, err := provider.Chat(callCtx, req)
	if err == nil && isEmptyResponse(resp) {
		err = domain.NewDomainError("Dispatcher.Call", domain.ErrEmptyResponse, model)
	}
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = fmt.Errorf("%w: %s after %s: %v", domain.ErrTimeout, model, d.deps.CallTimeout, err)
	}
	d.deps.Metrics.ModelCall(model, outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, nil
}

func isEmptyResponse(resp *domain.ChatResponse) bool {
	return resp == nil || (strings.TrimSpace(resp.Message.Content) == "" && len(resp.Message.ToolCalls) == 0)
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func exhaustedResponse(lastErr error) *domain.ChatResponse {
	return &domain.ChatResponse{
		FinishReason: domain.FinishError,
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			Content:   exhaustedPrefix + lastErr.Error(),
			Timestamp: time.Now(),
		},
		CreatedAt: time.Now(),
	}
}

// IsExhausted reports whether resp is the dispatcher's synthetic failure response.
func IsExhausted(resp *domain.ChatResponse) bool {
	return resp != nil && resp.FinishReason == domain.FinishError
}

// Stream is the streaming twin of Call. Fallback happens only while opening
// the stream; once deltas flow the chosen model is final. The per-call
// timeout covers the whole stream. Exhaustion yields a one-delta stream
// carrying the synthetic failure content.
func (d *Dispatcher) Stream(ctx context.Context, req domain.ChatRequest, sel domain.ModelSelection) (<-chan domain.StreamDelta, string, error) {
	ctx, span := tracer.StartSpan(ctx, "dispatcher.stream",
		trace.WithAttributes(tracer.StringAttr("selection.tier", string(sel.Tier))),
	)
	defer span.End()

	candidates := sel.Candidates()
	var lastErr error
	for i, model := range candidates {
		if i > 0 {
			if err := d.deps.Sleep(ctx, retryBackoff(i-1, d.deps.Backoff.Base, d.deps.Backoff.Max)); err != nil {
				return nil, "", err
			}
		}

		ch, err := d.openStream(ctx, model, req)
		if err == nil {
			span.SetAttributes(tracer.StringAttr("llm.model_used", model))
			tracer.SetOK(span)
			return ch, model, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		classified := d.deps.Classifier.Classify(err)
		if !classified.Transient() {
			perr := &domain.ProviderError{Model: model, Terminal: true, Err: err}
			tracer.RecordError(span, perr)
			return nil, "", perr
		}
		d.deps.Logger.WarnContext(ctx, "model stream failed, trying next candidate", "model", model, "error", err)
		lastErr = err
	}

	d.deps.Metrics.Exhausted()
	if lastErr == nil {
		lastErr = errors.New("no candidate models")
	}
	tracer.RecordError(span, lastErr)
	resp := exhaustedResponse(lastErr)
	ch := make(chan domain.StreamDelta, 1)
	ch <- domain.StreamDelta{Content: resp.Message.Content, FinishReason: domain.FinishError, Done: true}
	close(ch)
	return ch, "", nil
}

func (d *Dispatcher) openStream(ctx context.Context, model string, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	provider, err := d.deps.Resolver.Resolve(model)
	if err != nil {
		return nil, err
	}
	req.Model = model
	req.Stream = true

	sp, ok := provider.(domain.StreamingLLMProvider)
	if !ok {
		// Non-streaming providers answer in one delta.
		resp, err := d.callOne(ctx, model, req)
		if err != nil {
			return nil, err
		}
		ch := make(chan domain.StreamDelta, 1)
		ch <- domain.StreamDelta{Content: resp.Message.Content, FinishReason: resp.FinishReason, Usage: &resp.Usage, Done: true}
		close(ch)
		return ch, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, d.deps.CallTimeout)
	start := time.Now()
	upstream, err := sp.ChatStream(callCtx, req)
	if err != nil {
		cancel()
		d.deps.Metrics.ModelCall(model, "error", time.Since(start))
		return nil, err
	}
	d.deps.Metrics.ModelCall(model, "ok", time.Since(start))

	out := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(out)
		defer cancel()
		for delta := range upstream {
			select {
			case out <- delta:
			case <-callCtx.Done():
				return
			}
		}
	}()
	return out, nil
}
