package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"sparkie/internal/domain"
)

// errApprovalRequired is returned when an irreversible action reaches a tool
// directly instead of being queued as a pending task.
func errApprovalRequired(what string) error {
	return fmt.Errorf("%s requires user approval and was not performed", what)
}

// refuse is an action handler for gated actions.
func refuse[P any](what string) ActionHandler[P] {
	return func(context.Context, P) (any, error) {
		return nil, errApprovalRequired(what)
	}
}

// ApprovalTool is a single-purpose irreversible action. It is always halted
// by the approval gate; Execute only runs if the gate is bypassed and then
// refuses.
type ApprovalTool struct {
	name        string
	description string
	params      json.RawMessage
	logger      *slog.Logger
}

func (t *ApprovalTool) Name() string        { return t.name }
func (t *ApprovalTool) Description() string { return t.description }

func (t *ApprovalTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.description, Parameters: t.params}
}

func (t *ApprovalTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool."+t.name, t.logger, params,
		func(context.Context, trace.Span, map[string]any) (any, error) {
			return nil, errApprovalRequired(t.name)
		},
	)
}

// ApprovalTools returns the standalone irreversible tools.
func ApprovalTools(logger *slog.Logger) []domain.Tool {
	mk := func(name, desc, params string) domain.Tool {
		return &ApprovalTool{name: name, description: desc, params: json.RawMessage(params), logger: logger}
	}
	return []domain.Tool{
		mk("send_email", "Send an email on the user's behalf. Queued for the user's approval.", `{
			"type": "object",
			"properties": {
				"to": {"type": "string", "description": "Recipient address"},
				"subject": {"type": "string"},
				"body": {"type": "string"}
			},
			"required": ["to", "subject", "body"]
		}`),
		mk("social_post", "Publish a post to a connected social account. Queued for the user's approval.", `{
			"type": "object",
			"properties": {
				"platform": {"type": "string", "description": "e.g. x, linkedin, mastodon"},
				"text": {"type": "string", "maxLength": 3000}
			},
			"required": ["platform", "text"]
		}`),
		mk("delete_file", "Delete a file from the user's workspace. Queued for the user's approval.", `{
			"type": "object",
			"properties": {
				"path": {"type": "string"}
			},
			"required": ["path"]
		}`),
		mk("transfer_funds", "Move money between accounts. Queued for the user's approval.", `{
			"type": "object",
			"properties": {
				"from": {"type": "string"},
				"to": {"type": "string"},
				"amount": {"type": "number", "exclusiveMinimum": 0},
				"currency": {"type": "string", "minLength": 3, "maxLength": 3}
			},
			"required": ["from", "to", "amount"]
		}`),
		mk("purchase", "Buy an item for the user. Queued for the user's approval.", `{
			"type": "object",
			"properties": {
				"item": {"type": "string"},
				"merchant": {"type": "string"},
				"amount": {"type": "number", "exclusiveMinimum": 0},
				"currency": {"type": "string", "minLength": 3, "maxLength": 3}
			},
			"required": ["item", "amount"]
		}`),
	}
}
