package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"sparkie/internal/domain"
	"sparkie/internal/infra/tracer"
)

// Execute is the standard tool pipeline: parse params, start a span, run the
// handler, format the result.
//
// The handler returns one of:
//   - (string, nil): a plain-text result
//   - (*domain.ToolResult, nil): returned as is
//   - (any other value, nil): JSON-marshaled into the result
//   - (nil, error): an error result; transient errors are marked retryable
func Execute[P any](
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	rawParams json.RawMessage,
	handler func(ctx context.Context, span trace.Span, params P) (any, error),
) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(tracer.StringAttr("tool.name", spanName)),
	)
	defer span.End()

	p, bad := ParseParams[P](rawParams)
	if bad != nil {
		tracer.RecordError(span, fmt.Errorf("%s", bad.Content))
		return bad, nil
	}

	result, err := handler(ctx, span, p)
	if err != nil {
		tracer.RecordError(span, err)
		logger.WarnContext(ctx, spanName+" failed", "error", err)

		retryable := classifyToolError(err)
		content := err.Error()
		if retryable {
			content += " (transient error, may succeed on retry)"
		}
		return &domain.ToolResult{IsError: true, IsRetryable: retryable, Content: content}, nil
	}
	return formatResult(span, result)
}

func formatResult(span trace.Span, result any) (*domain.ToolResult, error) {
	switch v := result.(type) {
	case *domain.ToolResult:
		if v.IsError {
			tracer.RecordError(span, fmt.Errorf("%s", v.Content))
		} else {
			tracer.SetOK(span)
		}
		return v, nil
	case string:
		tracer.SetOK(span)
		return &domain.ToolResult{Content: v}, nil
	default:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			tracer.RecordError(span, err)
			return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("failed to format response: %v", err)}, nil
		}
		tracer.SetOK(span)
		return &domain.ToolResult{Content: string(data)}, nil
	}
}

// ParseParams unmarshals rawParams into P. Empty params decode as {}. On
// failure the returned result is ready to hand back to the model.
func ParseParams[P any](rawParams json.RawMessage) (P, *domain.ToolResult) {
	var p P
	if len(rawParams) == 0 || string(rawParams) == "null" {
		rawParams = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(rawParams, &p); err != nil {
		return p, &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid params: %v", err)}
	}
	return p, nil
}

// ErrResult creates an error result without logging it.
func ErrResult(format string, args ...any) (*domain.ToolResult, error) {
	return &domain.ToolResult{IsError: true, Content: fmt.Sprintf(format, args...)}, nil
}

// TextResult creates a plain-text success result.
func TextResult(s string) *domain.ToolResult {
	return &domain.ToolResult{Content: s}
}

// BadAction returns an error for an unknown action listing the valid ones.
func BadAction(got string, valid ...string) error {
	return fmt.Errorf("unknown action %q (want: %s)", got, strings.Join(valid, ", "))
}
