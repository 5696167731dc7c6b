package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/trace"

	"sparkie/internal/domain"
	"sparkie/internal/infra/config"
	"sparkie/internal/infra/tracer"
)

const plannerPrompt = `You are a planning assistant. Break the user's request into a short ordered plan.
Respond with strict JSON only, no prose and no code fences, in exactly this shape:
{"goal": "<one sentence>", "steps": [{"id": "s1", "action": "<what to do>", "tool": "<optional tool name>", "dependsOn": []}], "complexity": "low|medium|high"}`

const planSchema = `{
	"type": "object",
	"required": ["goal", "steps"],
	"properties": {
		"goal": {"type": "string", "minLength": 1},
		"complexity": {"type": "string"},
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["action"],
				"properties": {
					"id": {"type": "string"},
					"action": {"type": "string", "minLength": 1},
					"tool": {"type": "string"},
					"dependsOn": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`

var buildVerbsRe = regexp.MustCompile(`(?i)\b(build|implement|create|develop|scaffold|set up|write|refactor|migrate|design)\b`)

// codeFenceRe matches markdown code fences wrapping JSON.
var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

// PlannerDeps holds injected dependencies for the planner.
type PlannerDeps struct {
	Dispatcher *Dispatcher
	Config     config.PlannerConfig
	Logger     *slog.Logger
}

// Planner makes the optional planning pre-call. Every failure yields a nil
// plan and no other effect.
type Planner struct {
	deps   PlannerDeps
	tiers  map[domain.Tier]bool
	schema *jsonschema.Schema
}

// NewPlanner compiles the plan schema and returns a planner.
func NewPlanner(deps PlannerDeps) (*Planner, error) {
	schema, err := jsonschema.NewCompiler().Compile([]byte(planSchema))
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.Timeout <= 0 {
		deps.Config.Timeout = 20 * time.Second
	}
	if deps.Config.MaxTokens <= 0 {
		deps.Config.MaxTokens = 1024
	}
	tiers := make(map[domain.Tier]bool, len(deps.Config.Tiers))
	for _, t := range deps.Config.Tiers {
		tiers[domain.Tier(t)] = true
	}
	return &Planner{deps: deps, tiers: tiers, schema: schema}, nil
}

// ShouldPlan reports whether a plan is worth requesting for this turn.
func (p *Planner) ShouldPlan(tier domain.Tier, message string) bool {
	if p == nil || !p.deps.Config.Enabled {
		return false
	}
	if p.tiers[tier] {
		return true
	}
	minLen := p.deps.Config.MinLength
	return minLen > 0 && len([]rune(message)) > minLen && buildVerbsRe.MatchString(message)
}

// Plan asks for a plan of message. It returns nil on any failure.
func (p *Planner) Plan(ctx context.Context, message string, sel domain.ModelSelection) *domain.ExecutionPlan {
	ctx, span := tracer.StartSpan(ctx, "planner.plan",
		trace.WithAttributes(tracer.StringAttr("selection.tier", string(sel.Tier))),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.deps.Config.Timeout)
	defer cancel()

	req := domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: plannerPrompt, Timestamp: time.Now()},
			{Role: domain.RoleUser, Content: message, Timestamp: time.Now()},
		},
		ToolChoice:  domain.ToolChoiceNone,
		MaxTokens:   p.deps.Config.MaxTokens,
		Temperature: 0.2,
	}
	resp, model, err := p.deps.Dispatcher.Call(ctx, req, sel)
	if err != nil || IsExhausted(resp) {
		if err == nil {
			err = fmt.Errorf("%w: no model answered", domain.ErrPlanInvalid)
		}
		tracer.RecordError(span, err)
		p.deps.Logger.DebugContext(ctx, "planning skipped", "error", err)
		return nil
	}

	plan, err := p.parse(resp.Message.Content)
	if err != nil {
		tracer.RecordError(span, err)
		p.deps.Logger.DebugContext(ctx, "plan discarded", "model", model, "error", err)
		return nil
	}
	span.SetAttributes(tracer.IntAttr("plan.steps", len(plan.Steps)))
	tracer.SetOK(span)
	p.deps.Logger.InfoContext(ctx, "plan ready", "model", model, "steps", len(plan.Steps), "complexity", plan.Complexity)
	return plan
}

func (p *Planner) parse(content string) (*domain.ExecutionPlan, error) {
	raw := extractJSONObject(stripCodeFences(content))
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object", domain.ErrPlanInvalid)
	}

	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlanInvalid, err)
	}
	if result := p.schema.Validate(data); !result.IsValid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanInvalid, result.Error())
	}

	var plan domain.ExecutionPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlanInvalid, err)
	}
	for i := range plan.Steps {
		if plan.Steps[i].ID == "" {
			plan.Steps[i].ID = fmt.Sprintf("s%d", i+1)
		}
	}
	return &plan, nil
}

// stripCodeFences removes markdown code fences if the model wrapped its output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}
