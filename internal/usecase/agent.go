package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"sparkie/internal/domain"
	"sparkie/internal/infra/tracer"
)

// Default answers when the loop has nothing better to return.
const (
	maxRoundsAnswer  = "Max iterations reached. I gathered some information but could not finish the answer. Please try asking again more specifically."
	synthesisPrompt  = "You have used all of your tool rounds. Using only the information gathered above, write the complete final answer to my request now. Do not call any tools."
	annotationPrefix = "Done: "
)

// AgentDeps holds injected dependencies for the agent loop.
type AgentDeps struct {
	Dispatcher  *Dispatcher
	Executor    *Executor
	Status      *StatusPool // optional, nil = no tool status lines
	Logger      *slog.Logger
	Temperature float64
	MaxTokens   int
}

// Agent runs the bounded reason-act loop.
type Agent struct {
	deps       AgentDeps
	structured StructuredParser
	inline     InlineMarkupParser
}

// NewAgent creates an agent loop.
func NewAgent(deps AgentDeps) *Agent {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Agent{deps: deps}
}

// LoopInput is one turn's prepared context.
type LoopInput struct {
	Messages  []domain.Message // system message, history and the user message
	Tools     domain.ToolExecutor
	Selection domain.ModelSelection
	MaxRounds int
	// OnStatus receives status lines as they happen; optional.
	OnStatus func(msg string)
}

// AgentLoopState is the mutable state of one loop run.
type AgentLoopState struct {
	Round     int
	MaxRounds int
	Messages  []domain.Message
	UsedTools bool
}

// LoopResult is the outcome of one loop run.
type LoopResult struct {
	Text        string
	Media       []domain.MediaRef
	Statuses    []string
	Task        *domain.PendingTask
	ModelUsed   string
	Rounds      int
	UsedTools   bool
	Synthesized bool
	Exhausted   bool
	Usage       domain.Usage
	Messages    []domain.Message
}

// Reply converts the result for the responder.
func (r *LoopResult) Reply() Reply {
	return Reply{Text: r.Text, Media: r.Media, Statuses: r.Statuses, Task: r.Task}
}

func (r *LoopResult) addStatus(in LoopInput, msg string) {
	if msg == "" {
		return
	}
	r.Statuses = append(r.Statuses, msg)
	if in.OnStatus != nil {
		in.OnStatus(msg)
	}
}

// Run executes up to MaxRounds model rounds. A round whose answer calls
// tools runs them concurrently and feeds the results back. When the budget
// runs out after tool use exactly one tools-disabled synthesis call
// produces the answer. A gated call halts the loop with its pending task.
//
// The only errors returned are a terminal *domain.ProviderError and context
// cancellation; exhaustion of every candidate model is reported as text.
func (a *Agent) Run(ctx context.Context, in LoopInput) (*LoopResult, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.run",
		trace.WithAttributes(
			tracer.StringAttr("selection.tier", string(in.Selection.Tier)),
			tracer.IntAttr("agent.max_rounds", max(in.MaxRounds, 1)),
		),
	)
	defer span.End()

	state := &AgentLoopState{
		Round:     1,
		MaxRounds: max(in.MaxRounds, 1),
		Messages:  append([]domain.Message(nil), in.Messages...),
	}
	res := &LoopResult{}
	var schemas []domain.ToolSchema
	if in.Tools != nil {
		schemas = in.Tools.Schemas()
	}
	var partial string

	for state.Round <= state.MaxRounds {
		a.deps.Logger.DebugContext(ctx, "agent round", "state", state.String())
		req := a.request(state.Messages, schemas)
		resp, model, err := a.deps.Dispatcher.Call(ctx, req, in.Selection)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		res.Rounds = state.Round
		if IsExhausted(resp) {
			res.Exhausted = true
			res.Text = firstNonEmpty(partial, resp.Message.Content)
			a.finish(span, state, res)
			return res, nil
		}
		res.ModelUsed = model
		res.Usage.Add(resp.Usage)

		calls := a.structured.Parse(resp)
		text := StripMarkup(resp.Message.Content)
		if len(calls) == 0 && resp.FinishReason != domain.FinishLength {
			if inline := a.inline.Parse(resp); len(inline) > 0 && state.Round < state.MaxRounds {
				calls = inline
			}
		}

		if len(calls) == 0 {
			// Final answer, or a truncated one that is the best we have.
			res.Text = firstNonEmpty(text, partial)
			if res.Text == "" && state.UsedTools {
				return a.synthesize(ctx, span, in, state, res, partial)
			}
			a.finish(span, state, res)
			return res, nil
		}

		state.UsedTools = true
		if text != "" {
			partial = text
		}
		for _, c := range calls {
			res.addStatus(in, a.deps.Status.PickTool(c.Name))
		}

		results := a.deps.Executor.ExecuteBatch(ctx, in.Tools, calls)
		if task := gatedTask(results); task != nil {
			a.halt(ctx, in, res, calls, results, task)
			a.finish(span, state, res)
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		state.Messages = append(state.Messages, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
			Timestamp: time.Now(),
		})
		for i, r := range results {
			if r.Media != nil {
				res.Media = append(res.Media, *r.Media)
			}
			state.Messages = append(state.Messages, domain.Message{
				Role:       domain.RoleTool,
				Name:       calls[i].Name,
				Content:    r.Content,
				ToolCallID: calls[i].ID,
				Timestamp:  time.Now(),
			})
		}
		state.Round++
	}

	return a.synthesize(ctx, span, in, state, res, partial)
}

func (a *Agent) request(messages []domain.Message, schemas []domain.ToolSchema) domain.ChatRequest {
	req := domain.ChatRequest{
		Messages:    messages,
		MaxTokens:   a.deps.MaxTokens,
		Temperature: a.deps.Temperature,
	}
	if len(schemas) > 0 {
		req.Tools = schemas
		req.ToolChoice = domain.ToolChoiceAuto
	}
	return req
}

// synthesize makes the single tools-disabled call that closes a loop whose
// rounds were spent on tools. Its answer is final whatever the finish
// reason.
func (a *Agent) synthesize(ctx context.Context, span trace.Span, in LoopInput, state *AgentLoopState, res *LoopResult, partial string) (*LoopResult, error) {
	res.Synthesized = true
	res.addStatus(in, a.deps.Status.Pick(PhaseSynthesis, in.Selection.Tier))

	messages := append(append([]domain.Message(nil), state.Messages...), domain.Message{
		Role:      domain.RoleUser,
		Content:   synthesisPrompt,
		Timestamp: time.Now(),
	})
	req := domain.ChatRequest{
		Messages:    messages,
		ToolChoice:  domain.ToolChoiceNone,
		MaxTokens:   a.deps.MaxTokens,
		Temperature: a.deps.Temperature,
	}
	resp, model, err := a.deps.Dispatcher.Call(ctx, req, in.Selection)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var text string
	switch {
	case IsExhausted(resp):
		res.Exhausted = true
	default:
		res.ModelUsed = model
		res.Usage.Add(resp.Usage)
		text = StripMarkup(resp.Message.Content)
	}
	res.Text = firstNonEmpty(text, partial, maxRoundsAnswer)
	a.deps.Logger.InfoContext(ctx, "synthesis call completed",
		"rounds", res.Rounds,
		"exhausted", res.Exhausted,
		"model", res.ModelUsed,
	)
	a.finish(span, state, res)
	return res, nil
}

// halt stops the loop on a gated call. Sibling calls that completed are
// surfaced as status lines.
func (a *Agent) halt(ctx context.Context, in LoopInput, res *LoopResult, calls []domain.ToolCall, results []domain.ToolResult, task *domain.PendingTask) {
	for i, r := range results {
		if r.Gated != nil || r.IsError {
			continue
		}
		res.addStatus(in, annotationPrefix+calls[i].Name)
	}
	res.Task = task
	a.deps.Logger.InfoContext(ctx, "turn halted for approval",
		"task_id", task.ID,
		"action", task.Action,
	)
}

func (a *Agent) finish(span trace.Span, state *AgentLoopState, res *LoopResult) {
	res.UsedTools = state.UsedTools
	res.Messages = state.Messages
	span.SetAttributes(
		tracer.IntAttr("agent.rounds", res.Rounds),
		tracer.BoolAttr("agent.synthesized", res.Synthesized),
		tracer.BoolAttr("agent.exhausted", res.Exhausted),
		tracer.BoolAttr("agent.gated", res.Task != nil),
	)
	tracer.SetOK(span)
}

// gatedTask returns the first pending task in call order.
func gatedTask(results []domain.ToolResult) *domain.PendingTask {
	for _, r := range results {
		if r.Gated != nil {
			return r.Gated
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// String renders the state for debug logs.
func (s *AgentLoopState) String() string {
	return fmt.Sprintf("round %d/%d, %d messages, tools used: %t", s.Round, s.MaxRounds, len(s.Messages), s.UsedTools)
}
