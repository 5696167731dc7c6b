package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"sparkie/internal/domain"
	"sparkie/internal/infra/tracer"
)

// SchedulerExecutor is the executor recorded on scheduled tasks.
const SchedulerExecutor = "scheduler"

// ScheduleTool records a recurring or one-shot job as a pending task for the
// external scheduler. Nothing runs in-process.
type ScheduleTool struct {
	store  domain.PendingTaskStore
	now    func() time.Time
	logger *slog.Logger
}

// NewScheduleTool creates a schedule tool writing to store.
func NewScheduleTool(store domain.PendingTaskStore, logger *slog.Logger) *ScheduleTool {
	return &ScheduleTool{store: store, now: time.Now, logger: logger}
}

func (t *ScheduleTool) Name() string { return "schedule" }
func (t *ScheduleTool) Description() string {
	return "Schedule a reminder or recurring job for the user, with a 5-field cron expression or a single RFC 3339 time."
}

func (t *ScheduleTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "maxLength": 100, "description": "Short job name"},
				"message": {"type": "string", "description": "What should happen when the job fires"},
				"cron": {"type": "string", "description": "5-field cron expression in UTC unless prefixed with CRON_TZ=<zone>, e.g. '0 9 * * MON-FRI'"},
				"at": {"type": "string", "description": "RFC 3339 time for a one-shot job"}
			},
			"required": ["message"]
		}`),
	}
}

type scheduleParams struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
	Cron    string `json:"cron,omitempty"`
	At      string `json:"at,omitempty"`
}

type schedulePayload struct {
	Name    string    `json:"name,omitempty"`
	Message string    `json:"message"`
	Cron    string    `json:"cron,omitempty"`
	At      string    `json:"at,omitempty"`
	NextRun time.Time `json:"next_run"`
}

func (t *ScheduleTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.schedule", t.logger, params,
		func(ctx context.Context, span trace.Span, p scheduleParams) (any, error) {
			userID, err := userOrErr(ctx)
			if err != nil {
				return nil, err
			}
			if err := RequireFields("message", p.Message); err != nil {
				return nil, err
			}
			next, err := t.nextRun(p)
			if err != nil {
				return nil, err
			}

			payload, err := json.Marshal(schedulePayload{
				Name: p.Name, Message: p.Message, Cron: strings.TrimSpace(p.Cron), At: p.At, NextRun: next,
			})
			if err != nil {
				return nil, err
			}
			label := p.Name
			if label == "" {
				label = snippet(p.Message)
			}
			task := domain.PendingTask{
				ID:        ulid.Make().String(),
				UserID:    userID,
				Action:    "schedule_create",
				Label:     "Schedule: " + label,
				Payload:   payload,
				Status:    domain.TaskPending,
				Executor:  SchedulerExecutor,
				CreatedAt: t.now().UTC(),
			}
			id, err := t.store.Create(ctx, task)
			if err != nil {
				return nil, domain.NewSubSystemError("schedule", "Schedule.Execute", domain.ErrTaskStore, err.Error())
			}
			span.SetAttributes(tracer.StringAttr("task.id", id))
			return TextResult(fmt.Sprintf("Scheduled %q. Next run: %s (task %s).",
				label, next.Format(time.RFC1123), id)), nil
		},
	)
}

func (t *ScheduleTool) nextRun(p scheduleParams) (time.Time, error) {
	expr := strings.TrimSpace(p.Cron)
	switch {
	case expr != "" && p.At != "":
		return time.Time{}, fmt.Errorf("give either 'cron' or 'at', not both")
	case expr != "":
		spec := expr
		if !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "TZ=") {
			spec = "CRON_TZ=UTC " + spec
		}
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %v", expr, err)
		}
		next := sched.Next(t.now())
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("cron expression %q never fires", expr)
		}
		return next, nil
	case p.At != "":
		at, err := parseRFC3339("at", p.At, time.Time{})
		if err != nil {
			return time.Time{}, err
		}
		if !at.After(t.now()) {
			return time.Time{}, fmt.Errorf("'at' must be in the future")
		}
		return at, nil
	default:
		return time.Time{}, fmt.Errorf("one of 'cron' or 'at' is required")
	}
}
