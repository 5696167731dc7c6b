package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"sparkie/internal/domain"
	"sparkie/internal/infra/config"
	"sparkie/internal/infra/metrics"
)

// PendingTaskSentinel prefixes the tool result of a gated call.
const PendingTaskSentinel = "[[PENDING_TASK]]"

const defaultStoreTimeout = 5 * time.Second

// GateRule flags a tool, or one action of an action-dispatch tool, as
// requiring approval. Action is matched against the call's "action" argument.
type GateRule struct {
	Tool   string
	Action string
	Label  string
}

func (r GateRule) key() string {
	if r.Action == "" {
		return r.Tool
	}
	return r.Tool + "/" + r.Action
}

// taskAction is the PendingTask action name for the rule.
func (r GateRule) taskAction() string {
	if r.Action == "" {
		return r.Tool
	}
	return r.Tool + "_" + r.Action
}

// DefaultGateRules is the built-in table of irreversible actions.
func DefaultGateRules() []GateRule {
	return []GateRule{
		{Tool: "send_email", Label: "Send email"},
		{Tool: "email", Action: "send", Label: "Send email"},
		{Tool: "social_post", Label: "Publish social post"},
		{Tool: "social", Action: "post", Label: "Publish social post"},
		{Tool: "calendar", Action: "create", Label: "Create calendar event"},
		{Tool: "calendar", Action: "update", Label: "Update calendar event"},
		{Tool: "calendar", Action: "delete", Label: "Delete calendar event"},
		{Tool: "delete_file", Label: "Delete file"},
		{Tool: "repo", Action: "delete", Label: "Delete file"},
		{Tool: "transfer_funds", Label: "Transfer funds"},
		{Tool: "purchase", Label: "Make purchase"},
		{Tool: "finance", Action: "transfer", Label: "Transfer funds"},
		{Tool: "finance", Action: "purchase", Label: "Make purchase"},
	}
}

// GateDeps holds injected dependencies for the gate.
type GateDeps struct {
	Store    domain.PendingTaskStore
	Executor string // recorded on every task
	Rules    []config.GateRuleConfig
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	StoreTimeout time.Duration // bounds the pending task write
}

// Gate turns calls to irreversible actions into pending tasks.
type Gate struct {
	rules        map[string]GateRule
	store        domain.PendingTaskStore
	storeTimeout time.Duration
	executor     string
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// NewGate builds the gate from the built-in table extended by deps.Rules.
func NewGate(deps GateDeps) *Gate {
	g := &Gate{
		rules:        make(map[string]GateRule),
		store:        deps.Store,
		storeTimeout: deps.StoreTimeout,
		executor:     deps.Executor,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          time.Now,
	}
	if g.storeTimeout <= 0 {
		g.storeTimeout = defaultStoreTimeout
	}
	if g.executor == "" {
		g.executor = "sparkie"
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	for _, r := range DefaultGateRules() {
		g.rules[r.key()] = r
	}
	for _, rc := range deps.Rules {
		r := GateRule{Tool: rc.Tool, Action: rc.Action, Label: rc.Label}
		g.rules[r.key()] = r
	}
	return g
}

// Match returns the rule that flags call, if any.
func (g *Gate) Match(call domain.ToolCall) (GateRule, bool) {
	if r, ok := g.rules[call.Name]; ok {
		return r, true
	}
	var args struct {
		Action string `json:"action"`
	}
	if json.Unmarshal(call.Arguments, &args) != nil || args.Action == "" {
		return GateRule{}, false
	}
	r, ok := g.rules[call.Name+"/"+strings.ToLower(args.Action)]
	return r, ok
}

// Check intercepts a flagged call. It returns handled=false for calls that
// may run. A handled call never reaches the tool: on success the result
// carries the sentinel and the task; when the store write fails the result
// is a failure string.
func (g *Gate) Check(ctx context.Context, call domain.ToolCall) (result *domain.ToolResult, handled bool) {
	rule, ok := g.Match(call)
	if !ok {
		return nil, false
	}

	payload := call.Arguments
	if len(payload) == 0 || !json.Valid(payload) {
		payload = json.RawMessage(`{}`)
	}
	task := domain.PendingTask{
		ID:        ulid.Make().String(),
		UserID:    domain.UserIDFromContext(ctx),
		Action:    rule.taskAction(),
		Label:     taskLabel(rule, payload),
		Payload:   payload,
		Status:    domain.TaskPending,
		Executor:  g.executor,
		CreatedAt: g.now().UTC(),
	}

	if g.store == nil {
		return gateFailure(call.Name, "no approval store is configured"), true
	}
	storeCtx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()
	id, err := g.store.Create(storeCtx, task)
	if err != nil {
		g.logger.ErrorContext(ctx, "pending task write failed", "action", task.Action, "error", err)
		return gateFailure(call.Name, "the approval request could not be saved"), true
	}
	if id != "" {
		task.ID = id
	}

	g.metrics.GateHalt(task.Action)
	g.logger.InfoContext(ctx, "action queued for approval", "task_id", task.ID, "action", task.Action)

	frame, _ := json.Marshal(domain.Frame{Kind: domain.FrameTask, Task: &task})
	return &domain.ToolResult{
		ToolCallID: call.ID,
		Content:    PendingTaskSentinel + string(frame),
		Gated:      &task,
	}, true
}

func gateFailure(tool, reason string) *domain.ToolResult {
	return &domain.ToolResult{
		Content: fmt.Sprintf("Tool execution failed: %s requires approval but %s. The action was NOT performed.", tool, reason),
		IsError: true,
	}
}

// taskLabel appends the most telling payload field to the rule label.
func taskLabel(rule GateRule, payload json.RawMessage) string {
	label := rule.Label
	if label == "" {
		label = strings.ReplaceAll(rule.taskAction(), "_", " ")
	}
	var fields map[string]any
	if json.Unmarshal(payload, &fields) != nil {
		return label
	}
	for _, k := range []string{"subject", "title", "to", "path", "text"} {
		if v, ok := fields[k].(string); ok && strings.TrimSpace(v) != "" {
			v = strings.TrimSpace(v)
			if r := []rune(v); len(r) > 60 {
				v = string(r[:60]) + "..."
			}
			return label + ": " + v
		}
	}
	return label
}
