package usecase

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkie/internal/domain"
)

func TestStructuredParser_FillsIDsAndArgs(t *testing.T) {
	resp := &domain.ChatResponse{Message: domain.Message{ToolCalls: []domain.ToolCall{
		{ID: "same", Name: "a"},
		{ID: "same", Name: "b", Arguments: json.RawMessage(`{"x":1}`)},
		{Name: "c"},
	}}}
	calls := StructuredParser{}.Parse(resp)
	require.Len(t, calls, 3)

	seen := map[string]bool{}
	for _, c := range calls {
		assert.NotEmpty(t, c.ID)
		assert.False(t, seen[c.ID], "ids must be unique")
		seen[c.ID] = true
	}
	assert.JSONEq(t, `{}`, string(calls[0].Arguments))
	assert.JSONEq(t, `{"x":1}`, string(calls[1].Arguments))
}

func TestStructuredParser_Nil(t *testing.T) {
	assert.Empty(t, StructuredParser{}.Parse(nil))
}

func TestParseInlineMarkup(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantName string
		wantArgs string
	}{
		{
			name:     "tool_call json",
			text:     `Sure. <tool_call>{"name": "web_search", "arguments": {"query": "rust"}}</tool_call>`,
			wantName: "web_search",
			wantArgs: `{"query":"rust"}`,
		},
		{
			name:     "parameters key",
			text:     `<tool_call>{"name": "memory", "parameters": {"action": "recall"}}</tool_call>`,
			wantName: "memory",
			wantArgs: `{"action":"recall"}`,
		},
		{
			name:     "double encoded arguments",
			text:     `<tool_call>{"name": "web_search", "arguments": "{\"query\": \"go\"}"}</tool_call>`,
			wantName: "web_search",
			wantArgs: `{"query":"go"}`,
		},
		{
			name:     "invoke form",
			text:     `<invoke name="calendar"><parameter name="action">list</parameter></invoke>`,
			wantName: "calendar",
			wantArgs: `{"action":"list"}`,
		},
		{
			name:     "function form",
			text:     `<function=repo>{"action": "read", "path": "README.md"}</function>`,
			wantName: "repo",
			wantArgs: `{"action":"read","path":"README.md"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := ParseInlineMarkup(tt.text)
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantName, calls[0].Name)
			assert.JSONEq(t, tt.wantArgs, string(calls[0].Arguments))
			assert.True(t, strings.HasPrefix(calls[0].ID, "call_"))
		})
	}
}

func TestParseInlineMarkup_NoneOrBroken(t *testing.T) {
	assert.Empty(t, ParseInlineMarkup("plain answer, no tools"))
	assert.Empty(t, ParseInlineMarkup(`<tool_call>{"arguments": {}}</tool_call>`), "a call needs a name")
}

func TestStripMarkup(t *testing.T) {
	text := "Here you go. <tool_call>{\"name\": \"x\", \"arguments\": {}}</tool_call>\n<invoke name=\"y\"></invoke> done"
	got := StripMarkup(text)
	assert.NotContains(t, got, "<tool_call>")
	assert.NotContains(t, got, "invoke")
	assert.True(t, strings.HasPrefix(got, "Here you go."))
	assert.True(t, strings.HasSuffix(got, "done"))
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":{"b":"}"}}`, extractJSONObject(`noise {"a":{"b":"}"}} trailing`))
	assert.Empty(t, extractJSONObject("no braces"))
}
