package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageWithToolCalls(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "call-1", Name: "repo", Arguments: json.RawMessage(`{"action":"read_file"}`)},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "repo" {
		t.Errorf("tool calls mismatch: got %+v", got.ToolCalls)
	}
}

func TestChatResponseHasToolCalls(t *testing.T) {
	var nilResp *ChatResponse
	assert.False(t, nilResp.HasToolCalls())
	assert.False(t, (&ChatResponse{Message: Message{Content: "hi"}}).HasToolCalls())
	assert.True(t, (&ChatResponse{Message: Message{ToolCalls: []ToolCall{{ID: "1"}}}}).HasToolCalls())
}

func TestUsageAdd(t *testing.T) {
	u := Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	u.Add(Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30})
	assert.Equal(t, Usage{PromptTokens: 11, CompletionTokens: 22, TotalTokens: 33}, u)
}

func TestLatestUserMessage(t *testing.T) {
	history := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleTool, Content: "tool output"},
	}
	assert.Equal(t, "second", LatestUserMessage(history))
	assert.Equal(t, "", LatestUserMessage(nil))
}

func TestModelSelectionCandidates(t *testing.T) {
	sel := ModelSelection{
		Tier:      TierCapable,
		Primary:   "glm-5-free",
		Fallbacks: []string{"kimi-k2.5-free", "", "glm-5-free", "big-pickle", "kimi-k2.5-free"},
	}
	got := sel.Candidates()
	assert.Equal(t, []string{"glm-5-free", "kimi-k2.5-free", "big-pickle"}, got)

	// Mutating the result must not affect the selection.
	got[0] = "changed"
	assert.Equal(t, "glm-5-free", sel.Candidates()[0])
}

func TestTierValid(t *testing.T) {
	for _, tier := range Tiers {
		assert.True(t, tier.Valid(), tier)
	}
	assert.False(t, Tier("ultra").Valid())
}

func TestExecutionPlanRender(t *testing.T) {
	plan := &ExecutionPlan{
		Goal:       "ship the landing page",
		Complexity: "medium",
		Steps: []PlanStep{
			{ID: "s1", Action: "research competitors", Tool: "web_search"},
			{ID: "s2", Action: "write copy", DependsOn: []string{"s1"}},
		},
	}
	out := plan.Render()
	assert.Contains(t, out, "Goal: ship the landing page")
	assert.Contains(t, out, "1. [s1] research competitors (tool: web_search)")
	assert.Contains(t, out, "2. [s2] write copy after s1")
}
