package usecase

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"sparkie/internal/domain"
	"sparkie/internal/infra/metrics"
	"sparkie/internal/infra/tracer"
)

// Bounds on the pre-loop lookups.
const (
	memoryLoadTimeout = 5 * time.Second
	discoveryTimeout  = 10 * time.Second
)

// terminalMessage is shown when a model rejects the request outright.
const terminalMessage = "The model could not process this request. Please rephrase it and try again."

// Turn is one inbound chat request.
type Turn struct {
	UserID         string
	Message        string
	History        []domain.Message
	PreferredModel string
}

// OrchestratorDeps holds injected dependencies for the orchestrator.
type OrchestratorDeps struct {
	Selector       *Selector
	Planner        *Planner // optional, nil = never plan
	Agent          *Agent
	Dispatcher     *Dispatcher
	Responder      *Responder
	Status         *StatusPool
	ContextBuilder *ContextBuilder
	Memory         domain.MemoryProvider  // optional
	Tools          domain.ToolExecutor    // static catalog
	Connectors     domain.ConnectorSource // optional
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	// DirectStreamTiers are answered with one streamed, tools-free call.
	DirectStreamTiers []domain.Tier
}

// Orchestrator wires one request through selection, planning, the agent
// loop and the responder.
type Orchestrator struct {
	deps OrchestratorDeps
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Responder == nil {
		deps.Responder = NewResponder(0, nil)
	}
	return &Orchestrator{deps: deps}
}

// turnContext is what the concurrent pre-loop phase gathers.
type turnContext struct {
	memory  string
	dynamic []domain.Tool
}

// Handle runs one turn and writes its frames to w. The returned error is
// for logging: whenever possible an error frame has already been written.
func (o *Orchestrator) Handle(ctx context.Context, turn Turn, w domain.FrameWriter) error {
	if turn.UserID != "" {
		ctx = domain.ContextWithUserID(ctx, turn.UserID)
	}
	ctx, span := tracer.StartSpan(ctx, "orchestrator.handle")
	defer span.End()

	history := append(append([]domain.Message(nil), turn.History...), domain.Message{
		Role:      domain.RoleUser,
		Content:   turn.Message,
		Timestamp: time.Now(),
	})

	sel := o.deps.Selector.Select(history, turn.PreferredModel)
	span.SetAttributes(tracer.StringAttr("selection.tier", string(sel.Tier)), tracer.StringAttr("selection.primary", sel.Primary))
	o.deps.Logger.InfoContext(ctx, "turn started", "tier", sel.Tier, "primary", sel.Primary, "candidates", len(sel.Candidates()))

	if err := o.deps.Responder.Status(w, o.deps.Status.Pick(PhaseThinking, sel.Tier)); err != nil {
		return err
	}

	tc := o.gather(ctx, turn)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var plan *domain.ExecutionPlan
	if o.deps.Planner != nil && o.deps.Planner.ShouldPlan(sel.Tier, turn.Message) {
		if err := o.deps.Responder.Status(w, o.deps.Status.Pick(PhasePlanning, sel.Tier)); err != nil {
			return err
		}
		plan = o.deps.Planner.Plan(ctx, turn.Message, sel)
	}

	messages := o.deps.ContextBuilder.Build(o.deps.ContextBuilder.SystemPrompt(tc.memory, plan), history)

	if slices.Contains(o.deps.DirectStreamTiers, sel.Tier) {
		err := o.direct(ctx, w, messages, sel)
		o.done(span, sel.Tier, 1, err)
		return err
	}

	catalog := NewCatalog(o.deps.Tools, tc.dynamic)
	var statusErr error
	res, err := o.deps.Agent.Run(ctx, LoopInput{
		Messages:  messages,
		Tools:     catalog,
		Selection: sel,
		MaxRounds: o.deps.Selector.MaxRounds(sel.Tier),
		OnStatus: func(msg string) {
			if statusErr == nil {
				statusErr = o.deps.Responder.Status(w, msg)
			}
		},
	})
	if err != nil {
		o.fail(ctx, w, err)
		o.done(span, sel.Tier, 0, err)
		return err
	}
	if statusErr != nil {
		return statusErr
	}

	err = o.deps.Responder.Finish(w, res.Reply())
	o.deps.Logger.InfoContext(ctx, "turn completed",
		"tier", sel.Tier,
		"model", res.ModelUsed,
		"rounds", res.Rounds,
		"synthesized", res.Synthesized,
		"gated", res.Task != nil,
		"total_tokens", res.Usage.TotalTokens,
	)
	o.done(span, sel.Tier, res.Rounds, err)
	return err
}

// gather loads memory and discovers connector tools concurrently. Both are
// best effort: a failure leaves its part empty.
func (o *Orchestrator) gather(ctx context.Context, turn Turn) turnContext {
	var tc turnContext
	g, gctx := errgroup.WithContext(ctx)

	if o.deps.Memory != nil && turn.UserID != "" {
		g.Go(func() error {
			mctx, cancel := context.WithTimeout(gctx, memoryLoadTimeout)
			defer cancel()
			mem, err := o.deps.Memory.Load(mctx, turn.UserID, turn.Message)
			if err != nil {
				o.deps.Logger.WarnContext(ctx, "memory load failed", "error", err)
				return nil
			}
			tc.memory = mem
			return nil
		})
	}
	if o.deps.Connectors != nil && turn.UserID != "" {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, discoveryTimeout)
			defer cancel()
			tools, err := o.deps.Connectors.Discover(dctx, turn.UserID)
			if err != nil {
				o.deps.Logger.WarnContext(ctx, "connector discovery failed", "error", err)
			}
			tc.dynamic = tools
			return nil
		})
	}
	_ = g.Wait()
	return tc
}

// direct answers with one streamed call and no tools.
func (o *Orchestrator) direct(ctx context.Context, w domain.FrameWriter, messages []domain.Message, sel domain.ModelSelection) error {
	req := domain.ChatRequest{
		Messages:   messages,
		ToolChoice: domain.ToolChoiceNone,
	}
	if a := o.deps.Agent; a != nil {
		req.MaxTokens = a.deps.MaxTokens
		req.Temperature = a.deps.Temperature
	}
	deltas, model, err := o.deps.Dispatcher.Stream(ctx, req, sel)
	if err != nil {
		o.fail(ctx, w, err)
		return err
	}
	res, err := o.deps.Responder.Stream(ctx, w, deltas)
	o.deps.Logger.InfoContext(ctx, "direct stream completed",
		"tier", sel.Tier,
		"model", model,
		"finish_reason", res.FinishReason,
		"total_tokens", res.Usage.TotalTokens,
	)
	return err
}

// fail writes the error frame for a turn that could not produce an answer.
func (o *Orchestrator) fail(ctx context.Context, w domain.FrameWriter, err error) {
	msg := terminalMessage
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		msg = "The request was cancelled before an answer was ready."
	}
	o.deps.Logger.ErrorContext(ctx, "turn failed", "error", err)
	if werr := o.deps.Responder.Error(w, msg); werr != nil {
		o.deps.Logger.DebugContext(ctx, "error frame not delivered", "error", werr)
	}
}

func (o *Orchestrator) done(span trace.Span, tier domain.Tier, rounds int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		tracer.RecordError(span, err)
	} else {
		tracer.SetOK(span)
	}
	span.SetAttributes(tracer.IntAttr("agent.rounds", rounds))
	o.deps.Metrics.RequestDone(string(tier), outcome, rounds)
}
