package usecase

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"

	"sparkie/internal/domain"
)

// ToolCallParser extracts tool calls from a model response.
type ToolCallParser interface {
	Parse(resp *domain.ChatResponse) []domain.ToolCall
}

// StructuredParser reads the provider's native tool_calls field.
type StructuredParser struct{}

// Parse returns the response's tool calls with blank or repeated IDs replaced.
func (StructuredParser) Parse(resp *domain.ChatResponse) []domain.ToolCall {
	if resp == nil || len(resp.Message.ToolCalls) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(resp.Message.ToolCalls))
	out := make([]domain.ToolCall, 0, len(resp.Message.ToolCalls))
	for _, tc := range resp.Message.ToolCalls {
		if tc.Name == "" {
			continue
		}
		if tc.ID == "" || seen[tc.ID] {
			tc.ID = syntheticCallID()
		}
		if len(tc.Arguments) == 0 {
			tc.Arguments = json.RawMessage(`{}`)
		}
		seen[tc.ID] = true
		out = append(out, tc)
	}
	return out
}

// InlineMarkupParser reads pseudo-XML tool invocations that some providers
// write into the text instead of using tool_calls. Recognised forms:
//
//	<tool_call>{"name": "x", "arguments": {...}}</tool_call>
//	<invoke name="x"><parameter name="k">v</parameter></invoke>
//	<function=x>{...}</function>
type InlineMarkupParser struct{}

var (
	toolCallBlockRe = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)
	invokeBlockRe   = regexp.MustCompile(`(?s)<invoke\s+name="([^"]+)"\s*>(.*?)</invoke>`)
	parameterRe     = regexp.MustCompile(`(?s)<parameter\s+name="([^"]+)"\s*>(.*?)</parameter>`)
	functionBlockRe = regexp.MustCompile(`(?s)<function=([\w.-]+)>\s*(.*?)\s*</function>`)

	// residualMarkupRe matches fragments left after parsing or from
	// truncated output.
	residualMarkupRe = regexp.MustCompile(`(?s)</?(?:function_calls|tool_call|tool_calls|invoke|parameter)\b[^>]*>|<function=[^>]*>|</function>|<\|tool_calls?_(?:section_)?(?:begin|end)\|>|<\|tool_call_argument_begin\|>`)
	blankLinesRe     = regexp.MustCompile(`\n{3,}`)
)

// Parse scans the response text. Malformed blocks are skipped.
func (InlineMarkupParser) Parse(resp *domain.ChatResponse) []domain.ToolCall {
	if resp == nil {
		return nil
	}
	return ParseInlineMarkup(resp.Message.Content)
}

// ParseInlineMarkup returns the tool calls found in text.
func ParseInlineMarkup(text string) []domain.ToolCall {
	if !strings.Contains(text, "<") {
		return nil
	}
	var calls []domain.ToolCall

	for _, m := range toolCallBlockRe.FindAllStringSubmatch(text, -1) {
		var body struct {
			Name       string          `json:"name"`
			Arguments  json.RawMessage `json:"arguments"`
			Parameters json.RawMessage `json:"parameters"`
		}
		if err := json.Unmarshal([]byte(extractJSONObject(m[1])), &body); err != nil || body.Name == "" {
			continue
		}
		args := body.Arguments
		if len(args) == 0 {
			args = body.Parameters
		}
		calls = append(calls, newInlineCall(body.Name, normalizeArguments(args)))
	}

	for _, m := range invokeBlockRe.FindAllStringSubmatch(text, -1) {
		params := make(map[string]any)
		for _, pm := range parameterRe.FindAllStringSubmatch(m[2], -1) {
			raw := strings.TrimSpace(pm[2])
			var v any
			if json.Valid([]byte(raw)) && (strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[")) {
				_ = json.Unmarshal([]byte(raw), &v)
			} else {
				v = raw
			}
			params[pm[1]] = v
		}
		args, _ := json.Marshal(params)
		calls = append(calls, newInlineCall(m[1], args))
	}

	for _, m := range functionBlockRe.FindAllStringSubmatch(text, -1) {
		raw := extractJSONObject(m[2])
		if raw == "" {
			raw = "{}"
		}
		if !json.Valid([]byte(raw)) {
			continue
		}
		calls = append(calls, newInlineCall(m[1], json.RawMessage(raw)))
	}
	return calls
}

// StripMarkup removes tool invocation blocks and any residual markup
// fragments from user-visible text.
func StripMarkup(text string) string {
	if !strings.Contains(text, "<") {
		return strings.TrimSpace(text)
	}
	out := toolCallBlockRe.ReplaceAllString(text, "")
	out = invokeBlockRe.ReplaceAllString(out, "")
	out = functionBlockRe.ReplaceAllString(out, "")
	out = residualMarkupRe.ReplaceAllString(out, "")
	out = blankLinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func newInlineCall(name string, args json.RawMessage) domain.ToolCall {
	return domain.ToolCall{ID: syntheticCallID(), Name: strings.TrimSpace(name), Arguments: args}
}

func normalizeArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	// Some models double-encode arguments as a JSON string.
	var s string
	if json.Unmarshal(raw, &s) == nil && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return raw
}

func syntheticCallID() string {
	return "call_" + strings.ToLower(ulid.Make().String())
}

// extractJSONObject returns the outermost {...} span of s, or "".
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
