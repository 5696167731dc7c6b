package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"sparkie/internal/domain"
	"sparkie/internal/infra/config"
)

// --- Mocks ---

// scriptedLLM answers every call through respond and records the requests.
type scriptedLLM struct {
	name    string
	mu      sync.Mutex
	reqs    []domain.ChatRequest
	respond func(n int, req domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *scriptedLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	n := len(m.reqs)
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	return m.respond(n, req)
}

func (m *scriptedLLM) Name() string { return m.name }

func (m *scriptedLLM) requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.reqs...)
}

func (m *scriptedLLM) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

// streamingLLM adds ChatStream on top of scriptedLLM.
type streamingLLM struct {
	*scriptedLLM
	chunks []string
}

func (m *streamingLLM) ChatStream(_ context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	ch := make(chan domain.StreamDelta, len(m.chunks)+1)
	for _, c := range m.chunks {
		ch <- domain.StreamDelta{Content: c}
	}
	ch <- domain.StreamDelta{FinishReason: domain.FinishStop, Done: true}
	close(ch)
	return ch, nil
}

// modelResolver maps model names to providers.
type modelResolver struct {
	providers   map[string]domain.LLMProvider
	unavailable map[string]bool
}

func (r *modelResolver) Resolve(model string) (domain.LLMProvider, error) {
	p, ok := r.providers[model]
	if !ok {
		return nil, domain.NewDomainError("Registry.Resolve", domain.ErrProviderNotFound, model)
	}
	return p, nil
}

func (r *modelResolver) Available(model string) bool {
	_, ok := r.providers[model]
	return ok && !r.unavailable[model]
}

// singleModel resolves every model to the same provider.
type singleModel struct {
	p domain.LLMProvider
}

func (s singleModel) Resolve(string) (domain.LLMProvider, error) { return s.p, nil }
func (s singleModel) Available(string) bool                      { return true }

type mockToolExecutor struct {
	tools map[string]domain.Tool
}

func newToolSet(tools ...domain.Tool) *mockToolExecutor {
	m := &mockToolExecutor{tools: make(map[string]domain.Tool)}
	for _, t := range tools {
		m.tools[t.Name()] = t
	}
	return m
}

func (m *mockToolExecutor) Get(name string) (domain.Tool, error) {
	t, ok := m.tools[name]
	if !ok {
		return nil, domain.ErrToolNotFound
	}
	return t, nil
}

func (m *mockToolExecutor) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(m.tools))
	for _, t := range m.tools {
		out = append(out, t.Schema())
	}
	return out
}

// funcTool runs fn and counts its invocations.
type funcTool struct {
	name  string
	fn    func(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error)
	mu    sync.Mutex
	calls int
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return "test tool " + t.name }
func (t *funcTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (t *funcTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return t.fn(ctx, params)
}

func (t *funcTool) invocations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func staticTool(name, content string) *funcTool {
	return &funcTool{name: name, fn: func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: content}, nil
	}}
}

func slowTool(name string, d time.Duration) *funcTool {
	return &funcTool{name: name, fn: func(ctx context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
		select {
		case <-time.After(d):
			return &domain.ToolResult{Content: name + " done"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

type memTaskStore struct {
	mu    sync.Mutex
	tasks []domain.PendingTask
	err   error
	delay time.Duration
}

func (s *memTaskStore) Create(ctx context.Context, task domain.PendingTask) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	return task.ID, nil
}

func (s *memTaskStore) all() []domain.PendingTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PendingTask(nil), s.tasks...)
}

type stubMemory struct {
	content string
	err     error
}

func (m *stubMemory) Load(context.Context, string, string) (string, error) { return m.content, m.err }
func (m *stubMemory) Save(context.Context, string, string, string) (bool, error) {
	return true, nil
}

type stubConnectors struct {
	tools []domain.Tool
	err   error
}

func (c *stubConnectors) Discover(context.Context, string) ([]domain.Tool, error) {
	return c.tools, c.err
}

// frameRecorder collects written frames.
type frameRecorder struct {
	mu     sync.Mutex
	frames []domain.Frame
}

func (r *frameRecorder) WriteFrame(f domain.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *frameRecorder) kinds() []domain.FrameKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.FrameKind, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Kind
	}
	return out
}

func (r *frameRecorder) count(kind domain.FrameKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *frameRecorder) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s string
	for _, f := range r.frames {
		if f.Kind == domain.FrameDelta {
			s += f.Content
		}
	}
	return s
}

// --- Response helpers ---

func textResponse(content string) *domain.ChatResponse {
	return &domain.ChatResponse{
		Message:      domain.Message{Role: domain.RoleAssistant, Content: content},
		FinishReason: domain.FinishStop,
		Usage:        domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func toolResponse(calls ...domain.ToolCall) *domain.ChatResponse {
	return &domain.ChatResponse{
		Message:      domain.Message{Role: domain.RoleAssistant, ToolCalls: calls},
		FinishReason: domain.FinishToolCalls,
	}
}

func call(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func httpError(status int) error {
	return fmt.Errorf("%w: HTTP %d", domain.ErrServerError, status)
}

// --- Fixtures ---

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestDispatcher(resolver domain.ProviderResolver) *Dispatcher {
	return NewDispatcher(DispatcherDeps{
		Resolver: resolver,
		Logger:   quietLogger(),
		Sleep:    noSleep,
	})
}

func testSelection(models ...string) domain.ModelSelection {
	sel := domain.ModelSelection{Tier: domain.TierCapable, Primary: models[0]}
	if len(models) > 1 {
		sel.Fallbacks = models[1:]
	}
	return sel
}

func newTestAgent(t *testing.T, llm domain.LLMProvider, store domain.PendingTaskStore) *Agent {
	t.Helper()
	gate := NewGate(GateDeps{Store: store, Logger: quietLogger()})
	return NewAgent(AgentDeps{
		Dispatcher: newTestDispatcher(singleModel{llm}),
		Executor:   NewExecutor(ExecutorDeps{Gate: gate, Logger: quietLogger()}),
		Status:     NewStatusPool(nil, 7),
		Logger:     quietLogger(),
		MaxTokens:  1024,
	})
}

func testTiers() map[string]config.TierConfig {
	return map[string]config.TierConfig{
		"conversational":  {Primary: "chat-model", MaxRounds: 2},
		"capable":         {Primary: "main-model", Fallbacks: []string{"backup-model"}, MaxRounds: 3},
		"code_specialist": {Primary: "code-model", MaxRounds: 4},
		"deep":            {Primary: "deep-model", MaxRounds: 5},
		"frontier":        {Primary: "frontier-model", MaxRounds: 6},
	}
}
