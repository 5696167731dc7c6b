package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkie/internal/domain"
)

func loopInput(tools domain.ToolExecutor, maxRounds int) LoopInput {
	return LoopInput{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "system"},
			{Role: domain.RoleUser, Content: "question"},
		},
		Tools:     tools,
		Selection: testSelection("main-model"),
		MaxRounds: maxRounds,
	}
}

func TestAgent_PlainAnswer(t *testing.T) {
	llm := answeringLLM("a", "Paris.")
	agent := newTestAgent(t, llm, &memTaskStore{})

	res, err := agent.Run(context.Background(), loopInput(newToolSet(staticTool("web_search", "r")), 3))
	require.NoError(t, err)
	assert.Equal(t, "Paris.", res.Text)
	assert.Equal(t, 1, res.Rounds)
	assert.False(t, res.Synthesized)
	assert.Equal(t, "main-model", res.ModelUsed)

	req := llm.requests()[0]
	assert.Equal(t, domain.ToolChoiceAuto, req.ToolChoice)
	assert.Len(t, req.Tools, 1)
}

func TestAgent_ToolRoundThenAnswer(t *testing.T) {
	search := staticTool("web_search", "[Weather]\nSunny\nhttps://weather.example")
	llm := &scriptedLLM{name: "a", respond: func(n int, req domain.ChatRequest) (*domain.ChatResponse, error) {
		if n == 0 {
			return toolResponse(call("c1", "web_search", `{"query":"weather"}`)), nil
		}
		return textResponse("It is sunny."), nil
	}}
	agent := newTestAgent(t, llm, &memTaskStore{})

	res, err := agent.Run(context.Background(), loopInput(newToolSet(search), 3))
	require.NoError(t, err)
	assert.Equal(t, "It is sunny.", res.Text)
	assert.Equal(t, 2, res.Rounds)
	assert.True(t, res.UsedTools)
	assert.Equal(t, 1, search.invocations())
	require.Len(t, res.Statuses, 1)
	assert.Contains(t, DefaultStatusLines()["tool:web_search"], res.Statuses[0])

	second := llm.requests()[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, domain.RoleAssistant, second[2].Role)
	assert.Equal(t, "c1", second[2].ToolCalls[0].ID)
	assert.Equal(t, domain.RoleTool, second[3].Role)
	assert.Equal(t, "c1", second[3].ToolCallID)
	assert.Contains(t, second[3].Content, "Sunny")
}

func TestAgent_RoundExhaustionSynthesizesOnce(t *testing.T) {
	const maxRounds = 3
	var synthesisCalls int
	llm := &scriptedLLM{name: "a", respond: func(n int, req domain.ChatRequest) (*domain.ChatResponse, error) {
		if req.ToolChoice == domain.ToolChoiceNone {
			synthesisCalls++
			return textResponse("Here is everything I found."), nil
		}
		return toolResponse(call(fmt.Sprintf("c%d", n), "web_search", `{"query":"more"}`)), nil
	}}
	agent := newTestAgent(t, llm, &memTaskStore{})

	res, err := agent.Run(context.Background(), loopInput(newToolSet(staticTool("web_search", "result")), maxRounds))
	require.NoError(t, err)
	assert.Equal(t, 1, synthesisCalls)
	assert.Equal(t, maxRounds+1, llm.count())
	assert.Equal(t, maxRounds, res.Rounds)
	assert.True(t, res.Synthesized)
	assert.Equal(t, "Here is everything I found.", res.Text)

	last := llm.requests()[maxRounds]
	assert.Empty(t, last.Tools)
	assert.Equal(t, domain.RoleUser, last.Messages[len(last.Messages)-1].Role)
	assert.Equal(t, synthesisPrompt, last.Messages[len(last.Messages)-1].Content)
}

func TestAgent_SynthesisFailureFallsBack(t *testing.T) {
	llm := &scriptedLLM{name: "a", respond: func(n int, req domain.ChatRequest) (*domain.ChatResponse, error) {
		if req.ToolChoice == domain.ToolChoiceNone {
			return nil, httpError(503)
		}
		return toolResponse(call("c1", "web_search", `{}`)), nil
	}}
	agent := newTestAgent(t, llm, &memTaskStore{})

	res, err := agent.Run(context.Background(), loopInput(newToolSet(staticTool("web_search", "r")), 1))
	require.NoError(t, err)
	assert.Equal(t, maxRoundsAnswer, res.Text)
	assert.True(t, res.Exhausted)
	assert.Equal(t, 2, llm.count())
}

func TestAgent_SynthesisFallsBackToPartial(t *testing.T) {
	llm := &scriptedLLM{name: "a", respond: func(n int, req domain.ChatRequest) (*domain.ChatResponse, error) {
		if req.ToolChoice == domain.ToolChoiceNone {
			return nil, httpError(500)
		}
		resp := toolResponse(call("c1", "web_search", `{}`))
		resp.Message.Content = "Partial findings so far."
		return resp, nil
	}}
	agent := newTestAgent(t, llm, &memTaskStore{})

	res, err := agent.Run(context.Background(), loopInput(newToolSet(staticTool("web_search", "r")), 2))
	require.NoError(t, err)
	assert.Equal(t, "Partial findings so far.", res.Text)
}

func TestAgent_GatedCallHaltsTurn(t *testing.T) {
	email := staticTool("send_email", "sent")
	llm := &scriptedLLM{name: "a", respond: func(int, domain.ChatRequest) (*domain.ChatResponse, error) {
		return toolResponse(call("c1", "send_email", `{"to":"bob@example.com","subject":"Quarterly report","body":"..."}`)), nil
	}}
	store := &memTaskStore{}
	agent := newTestAgent(t, llm, store)

	ctx := domain.ContextWithUserID(context.Background(), "user-1")
	res, err := agent.Run(ctx, loopInput(newToolSet(email), 5))
	require.NoError(t, err)
	require.NotNil(t, res.Task)
	assert.Equal(t, "send_email", res.Task.Action)
	assert.Contains(t, res.Task.Label, "Quarterly report")
	assert.Equal(t, "user-1", res.Task.UserID)
	assert.Equal(t, domain.TaskPending, res.Task.Status)

	assert.Zero(t, email.invocations(), "gated tool must not run")
	assert.Equal(t, 1, llm.count(), "no model call after a halt")
	require.Len(t, store.all(), 1)
	assert.Equal(t, res.Task.ID, store.all()[0].ID)
}

func TestAgent_GateAnnotatesCompletedSiblings(t *testing.T) {
	llm := &scriptedLLM{name: "a", respond: func(int, domain.ChatRequest) (*domain.ChatResponse, error) {
		return toolResponse(
			call("c1", "web_search", `{"query":"venue"}`),
			call("c2", "social_post", `{"text":"See you there"}`),
		), nil
	}}
	agent := newTestAgent(t, llm, &memTaskStore{})

	res, err := agent.Run(context.Background(), loopInput(newToolSet(staticTool("web_search", "ok"), staticTool("social_post", "posted")), 3))
	require.NoError(t, err)
	require.NotNil(t, res.Task)
	assert.Contains(t, res.Statuses, annotationPrefix+"web_search")
}

func TestAgent_GateStoreFailureIsToolFailure(t *testing.T) {
	llm := &scriptedLLM{name: "a", respond: func(n int, req domain.ChatRequest) (*domain.ChatResponse, error) {
		if n == 0 {
			return toolResponse(call("c1", "send_email", `{"to":"x@example.com"}`)), nil
		}
		return textResponse("I could not queue that email."), nil
	}}
	agent := newTestAgent(t, llm, &memTaskStore{err: domain.ErrTaskStore})

	res, err := agent.Run(context.Background(), loopInput(newToolSet(staticTool("send_email", "sent")), 3))
	require.NoError(t, err)
	assert.Nil(t, res.Task)
	toolMsg := llm.requests()[1].Messages[3]
	assert.True(t, strings.HasPrefix(toolMsg.Content, "Tool execution failed: "))
	assert.Contains(t, toolMsg.Content, "NOT performed")
}

func TestAgent_ConcurrentToolBatch(t *testing.T) {
	const latency = 120 * time.Millisecond
	tools := newToolSet(slowTool("a", latency), slowTool("b", latency), slowTool("c", latency))
	llm := &scriptedLLM{name: "a", respond: func(n int, req domain.ChatRequest) (*domain.ChatResponse, error) {
		if n == 0 {
			return toolResponse(call("1", "a", `{}`), call("2", "b", `{}`), call("3", "c", `{}`)), nil
		}
		return textResponse("all done"), nil
	}}
	agent := newTestAgent(t, llm, &memTaskStore{})

	start := time.Now()
	_, err := agent.Run(context.Background(), loopInput(tools, 3))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*latency, "batch time should track the slowest call, not the sum")

	msgs := llm.requests()[1].Messages
	require.Len(t, msgs, 6)
	for i, id := range []string{"1", "2", "3"} {
		assert.Equal(t, id, msgs[3+i].ToolCallID, "results keep call order")
	}
}

func TestAgent_InlineMarkupExecuted(t *testing.T) {
	search := staticTool("web_search", "found it")
	llm := &scriptedLLM{name: "a", respond: func(n int, req domain.ChatRequest) (*domain.ChatResponse, error) {
		if n == 0 {
			return textResponse(`Let me look. <tool_call>{"name": "web_search", "arguments": {"query": "go 1.26"}}</tool_call>`), nil
		}
		return textResponse("Go 1.26 is out."), nil
	}}
	agent := newTestAgent(t, llm, &memTaskStore{})

	res, err := agent.Run(context.Background(), loopInput(newToolSet(search), 3))
	require.NoError(t, err)
	assert.Equal(t, 1, search.invocations())
	assert.Equal(t, "Go 1.26 is out.", res.Text)

	assistant := llm.requests()[1].Messages[2]
	assert.NotContains(t, assistant.Content, "<tool_call>")
	require.Len(t, assistant.ToolCalls, 1)
	var args map[string]string
	require.NoError(t, json.Unmarshal(assistant.ToolCalls[0].Arguments, &args))
	assert.Equal(t, "go 1.26", args["query"])
}

func TestAgent_InlineMarkupOnLastRoundStripped(t *testing.T) {
	search := staticTool("web_search", "unused")
	llm := answeringLLM("a", `Checking now. <tool_call>{"name": "web_search", "arguments": {}}</tool_call>`)
	agent := newTestAgent(t, llm, &memTaskStore{})

	res, err := agent.Run(context.Background(), loopInput(newToolSet(search), 1))
	require.NoError(t, err)
	assert.Zero(t, search.invocations())
	assert.Equal(t, "Checking now.", res.Text)
	assert.False(t, res.Synthesized)
}

func TestAgent_TerminalErrorSurfaces(t *testing.T) {
	agent := newTestAgent(t, failingLLM("a", domain.ErrInvalidInput), &memTaskStore{})

	_, err := agent.Run(context.Background(), loopInput(nil, 3))
	require.Error(t, err)
	assert.True(t, domain.IsTerminalProviderError(err))
}

func TestAgent_ModelExhaustionIsTextNotSynthesis(t *testing.T) {
	llm := failingLLM("a", httpError(503))
	agent := newTestAgent(t, llm, &memTaskStore{})

	res, err := agent.Run(context.Background(), loopInput(nil, 3))
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.False(t, res.Synthesized)
	assert.True(t, strings.HasPrefix(res.Text, exhaustedPrefix))
	assert.Equal(t, 1, llm.count())
}

func TestAgent_MediaCollected(t *testing.T) {
	img := staticTool("generate_image", "IMAGE_URL: https://cdn.example/cat.png")
	llm := &scriptedLLM{name: "a", respond: func(n int, req domain.ChatRequest) (*domain.ChatResponse, error) {
		if n == 0 {
			return toolResponse(call("c1", "generate_image", `{"prompt":"a cat"}`)), nil
		}
		return textResponse("Here is your cat."), nil
	}}
	agent := newTestAgent(t, llm, &memTaskStore{})

	res, err := agent.Run(context.Background(), loopInput(newToolSet(img), 3))
	require.NoError(t, err)
	require.Len(t, res.Media, 1)
	assert.Equal(t, domain.MediaImage, res.Media[0].Kind)
	assert.Equal(t, "https://cdn.example/cat.png", res.Media[0].URL)
}

func TestAgent_OnStatusStreamsLines(t *testing.T) {
	llm := &scriptedLLM{name: "a", respond: func(n int, req domain.ChatRequest) (*domain.ChatResponse, error) {
		if n == 0 {
			return toolResponse(call("c1", "web_search", `{}`)), nil
		}
		return textResponse("ok"), nil
	}}
	agent := newTestAgent(t, llm, &memTaskStore{})

	var seen []string
	in := loopInput(newToolSet(staticTool("web_search", "r")), 3)
	in.OnStatus = func(msg string) { seen = append(seen, msg) }
	res, err := agent.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, res.Statuses, seen)
	assert.NotEmpty(t, seen)
}
