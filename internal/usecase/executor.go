package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"sparkie/internal/domain"
	"sparkie/internal/infra/metrics"
	"sparkie/internal/infra/tracer"
)

const (
	defaultToolTimeout = 30 * time.Second
	failurePrefix      = "Tool execution failed: "
)

// ExecutorDeps holds injected dependencies for the tool executor.
type ExecutorDeps struct {
	Gate        *Gate // nil = nothing is gated
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	CallTimeout time.Duration
	Timeouts    map[string]time.Duration // per-tool override
}

// Executor runs tool calls. Every failure becomes a result string the
// model can read; Execute never returns an error.
type Executor struct {
	deps ExecutorDeps
}

// NewExecutor creates a tool executor.
func NewExecutor(deps ExecutorDeps) *Executor {
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = defaultToolTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Executor{deps: deps}
}

func (e *Executor) timeoutFor(name string) time.Duration {
	if d, ok := e.deps.Timeouts[name]; ok && d > 0 {
		return d
	}
	return e.deps.CallTimeout
}

// Execute runs one call: gate check, lookup, timeout-bounded execution and
// media extraction, in that order.
func (e *Executor) Execute(ctx context.Context, tools domain.ToolExecutor, call domain.ToolCall) domain.ToolResult {
	ctx, span := tracer.StartSpan(ctx, "tool.execute",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()
	start := time.Now()

	result, status := e.execute(ctx, tools, call)
	result.ToolCallID = call.ID

	span.SetAttributes(tracer.StringAttr("tool.status", status), tracer.BoolAttr("tool.gated", result.Gated != nil))
	if result.IsError {
		tracer.RecordError(span, errors.New(result.Content))
	} else {
		tracer.SetOK(span)
	}
	e.deps.Metrics.ToolCall(call.Name, status, time.Since(start))
	e.deps.Logger.DebugContext(ctx, "tool executed", "tool", call.Name, "status", status, "duration", time.Since(start))
	return result
}

func (e *Executor) execute(ctx context.Context, tools domain.ToolExecutor, call domain.ToolCall) (domain.ToolResult, string) {
	if e.deps.Gate != nil {
		if res, handled := e.deps.Gate.Check(ctx, call); handled {
			if res.Gated != nil {
				return *res, "gated"
			}
			return *res, "gate_error"
		}
	}

	if tools == nil {
		return failure(fmt.Sprintf("tool %q not found", call.Name)), "not_found"
	}
	tool, err := tools.Get(call.Name)
	if err != nil {
		return failure(fmt.Sprintf("tool %q not found", call.Name)), "not_found"
	}

	timeout := e.timeoutFor(call.Name)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *domain.ToolResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := tool.Execute(callCtx, call.Arguments)
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		// Tools that ignore ctx are abandoned; their result is discarded.
		if ctx.Err() != nil {
			return failure(call.Name + " was cancelled"), "cancelled"
		}
		return failure(fmt.Sprintf("%s timed out after %s", call.Name, timeout)), "timeout"
	}

	switch {
	case out.err != nil && ctx.Err() != nil && errors.Is(out.err, context.Canceled):
		return failure(call.Name + " was cancelled"), "cancelled"
	case out.err != nil && (errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, domain.ErrTimeout)):
		return failure(fmt.Sprintf("%s timed out after %s", call.Name, timeout)), "timeout"
	case out.err != nil:
		return failure(fmt.Sprintf("%s: %v", call.Name, out.err)), "error"
	case out.res == nil:
		return failure(fmt.Sprintf("%s returned no result", call.Name)), "error"
	}

	res := *out.res
	if res.IsError {
		if !strings.HasPrefix(res.Content, failurePrefix) {
			res.Content = failurePrefix + call.Name + ": " + res.Content
		}
		return res, "error"
	}
	if res.Media == nil {
		if ref, ok := domain.ParseMediaRef(res.Content); ok {
			res.Media = ref
		}
	}
	return res, "ok"
}

func failure(msg string) domain.ToolResult {
	return domain.ToolResult{Content: failurePrefix + msg, IsError: true}
}

// ExecuteBatch runs every call concurrently and returns once all have
// finished. Results keep the order of calls.
func (e *Executor) ExecuteBatch(ctx context.Context, tools domain.ToolExecutor, calls []domain.ToolCall) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c domain.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tools, c)
		}(i, call)
	}
	wg.Wait()
	return results
}
