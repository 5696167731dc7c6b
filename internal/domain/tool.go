package domain

import (
	"context"
	"encoding/json"
	"strings"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// MediaKind identifies the type of a media reference produced by a tool.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// MediaRef is a typed pointer to generated media.
type MediaRef struct {
	Kind MediaKind `json:"kind"`
	URL  string    `json:"url"`
}

// Media prefixes recognised at the start of tool output.
const (
	ImagePrefix = "IMAGE_URL:"
	VideoPrefix = "VIDEO_URL:"
	AudioPrefix = "AUDIO_URL:"
)

var mediaPrefixes = []struct {
	prefix string
	kind   MediaKind
}{
	{ImagePrefix, MediaImage},
	{VideoPrefix, MediaVideo},
	{AudioPrefix, MediaAudio},
}

// ParseMediaRef extracts a media reference from tool output that starts with
// one of the media prefixes. The URL runs to the first whitespace.
func ParseMediaRef(content string) (*MediaRef, bool) {
	trimmed := strings.TrimSpace(content)
	for _, mp := range mediaPrefixes {
		if !strings.HasPrefix(trimmed, mp.prefix) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, mp.prefix))
		if i := strings.IndexAny(rest, " \t\r\n"); i >= 0 {
			rest = rest[:i]
		}
		if rest == "" {
			return nil, false
		}
		return &MediaRef{Kind: mp.kind, URL: rest}, true
	}
	return nil, false
}

// ToolResult is the outcome of executing a tool. Content is always set; tool
// failures are descriptive strings, never Go errors.
type ToolResult struct {
	ToolCallID  string       `json:"tool_call_id"`
	Content     string       `json:"content"`
	IsError     bool         `json:"is_error"`
	IsRetryable bool         `json:"is_retryable,omitempty"`
	Media       *MediaRef    `json:"media,omitempty"`
	Gated       *PendingTask `json:"gated,omitempty"`
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor abstracts tool lookup.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	Schemas() []ToolSchema
}

// ConnectorSource discovers the per-user dynamic tool catalog from the user's
// connected external accounts.
type ConnectorSource interface {
	Discover(ctx context.Context, userID string) ([]Tool, error)
}
