package tool

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"sparkie/internal/infra/tracer"
)

// ActionHandler handles one action of an action-dispatch tool.
type ActionHandler[P any] func(ctx context.Context, p P) (any, error)

// ActionMap maps action names to their handlers.
type ActionMap[P any] map[string]ActionHandler[P]

// Dispatch builds an Execute handler that routes by action name. Action
// names are matched case-insensitively.
//
//	return Execute(ctx, "tool.calendar", t.logger, params,
//	    Dispatch(func(p calendarParams) string { return p.Action }, ActionMap[calendarParams]{
//	        "list":   t.handleList,
//	        "create": t.handleCreate,
//	    }),
//	)
func Dispatch[P any](
	getAction func(P) string,
	actions ActionMap[P],
) func(ctx context.Context, span trace.Span, p P) (any, error) {
	valid := make([]string, 0, len(actions))
	for name := range actions {
		valid = append(valid, name)
	}
	sort.Strings(valid)

	return func(ctx context.Context, span trace.Span, p P) (any, error) {
		action := strings.ToLower(strings.TrimSpace(getAction(p)))
		span.SetAttributes(tracer.StringAttr("tool.action", action))

		handler, ok := actions[action]
		if !ok {
			return nil, BadAction(action, valid...)
		}
		return handler(ctx, p)
	}
}

// actionEnum renders the action names of m as a JSON enum array.
func actionEnum[P any](m ActionMap[P]) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, `"`+name+`"`)
	}
	sort.Strings(names)
	return "[" + strings.Join(names, ", ") + "]"
}
