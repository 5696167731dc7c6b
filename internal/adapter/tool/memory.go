package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"sparkie/internal/domain"
)

const maxMemoryContent = 1000

// MemoryTool lets the model save facts about the user and recall them.
type MemoryTool struct {
	provider domain.MemoryProvider
	logger   *slog.Logger
	actions  ActionMap[memoryParams]
}

// NewMemoryTool creates a memory tool over provider.
func NewMemoryTool(provider domain.MemoryProvider, logger *slog.Logger) *MemoryTool {
	t := &MemoryTool{provider: provider, logger: logger}
	t.actions = ActionMap[memoryParams]{
		"save":   t.handleSave,
		"recall": t.handleRecall,
	}
	return t
}

func (t *MemoryTool) Name() string { return "memory" }
func (t *MemoryTool) Description() string {
	return "Remember a lasting fact or preference about the user (save), or look up what is known (recall)."
}

func (t *MemoryTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(fmt.Sprintf(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": %s},
				"content": {"type": "string", "maxLength": %d, "description": "The fact to remember (save)"},
				"category": {"type": "string", "description": "e.g. preference, profile, work (save, default general)"},
				"query": {"type": "string", "description": "What to look up (recall)"}
			},
			"required": ["action"]
		}`, actionEnum(t.actions), maxMemoryContent)),
	}
}

type memoryParams struct {
	Action   string `json:"action"`
	Content  string `json:"content,omitempty"`
	Category string `json:"category,omitempty"`
	Query    string `json:"query,omitempty"`
}

func (t *MemoryTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.memory", t.logger, params,
		Dispatch(func(p memoryParams) string { return p.Action }, t.actions),
	)
}

func userOrErr(ctx context.Context) (string, error) {
	userID := domain.UserIDFromContext(ctx)
	if userID == "" {
		return "", fmt.Errorf("no user is associated with this conversation")
	}
	return userID, nil
}

func (t *MemoryTool) handleSave(ctx context.Context, p memoryParams) (any, error) {
	userID, err := userOrErr(ctx)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(p.Content)
	if err := ValidateAll(
		RequireFields("content", content),
		ValidateMaxLength("content", content, maxMemoryContent),
	); err != nil {
		return nil, err
	}
	category := strings.ToLower(strings.TrimSpace(p.Category))
	if category == "" {
		category = domain.DefaultMemoryCategory
	}
	saved, err := t.provider.Save(ctx, userID, category, content)
	if err != nil {
		return nil, err
	}
	if !saved {
		return TextResult("Already remembered."), nil
	}
	return TextResult("Saved."), nil
}

func (t *MemoryTool) handleRecall(ctx context.Context, p memoryParams) (any, error) {
	userID, err := userOrErr(ctx)
	if err != nil {
		return nil, err
	}
	text, err := t.provider.Load(ctx, userID, p.Query)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return TextResult("Nothing is remembered about this yet."), nil
	}
	return TextResult(text), nil
}
