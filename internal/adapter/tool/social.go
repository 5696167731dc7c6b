package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"sparkie/internal/domain"
)

// SocialAccount is a connected social profile.
type SocialAccount struct {
	Platform string `json:"platform"`
	Handle   string `json:"handle"`
}

// SocialBackend lists a user's connected social accounts.
type SocialBackend interface {
	Accounts(ctx context.Context, userID string) ([]SocialAccount, error)
}

// MemorySocial is an in-memory SocialBackend.
type MemorySocial struct {
	mu       sync.Mutex
	accounts map[string][]SocialAccount
}

// NewMemorySocial creates an empty account store.
func NewMemorySocial() *MemorySocial {
	return &MemorySocial{accounts: make(map[string][]SocialAccount)}
}

// Connect links an account to userID.
func (m *MemorySocial) Connect(userID string, acct SocialAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[userID] = append(m.accounts[userID], acct)
}

func (m *MemorySocial) Accounts(_ context.Context, userID string) ([]SocialAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SocialAccount(nil), m.accounts[userID]...), nil
}

// SocialTool lists connected accounts. Posting is queued for approval.
type SocialTool struct {
	backend SocialBackend
	logger  *slog.Logger
	actions ActionMap[socialParams]
}

// NewSocialTool creates a social tool. A nil backend uses an empty MemorySocial.
func NewSocialTool(backend SocialBackend, logger *slog.Logger) *SocialTool {
	if backend == nil {
		backend = NewMemorySocial()
	}
	t := &SocialTool{backend: backend, logger: logger}
	t.actions = ActionMap[socialParams]{
		"list": t.handleList,
		"post": refuse[socialParams]("publishing a post"),
	}
	return t
}

func (t *SocialTool) Name() string { return "social" }
func (t *SocialTool) Description() string {
	return "List the user's connected social accounts, or post to one (posting waits for the user's approval)."
}

func (t *SocialTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(fmt.Sprintf(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": %s},
				"platform": {"type": "string", "description": "Account platform (post)"},
				"text": {"type": "string", "maxLength": 3000, "description": "Post text (post)"}
			},
			"required": ["action"]
		}`, actionEnum(t.actions))),
	}
}

type socialParams struct {
	Action   string `json:"action"`
	Platform string `json:"platform,omitempty"`
	Text     string `json:"text,omitempty"`
}

func (t *SocialTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.social", t.logger, params,
		Dispatch(func(p socialParams) string { return p.Action }, t.actions),
	)
}

func (t *SocialTool) handleList(ctx context.Context, _ socialParams) (any, error) {
	accts, err := t.backend.Accounts(ctx, domain.UserIDFromContext(ctx))
	if err != nil {
		return nil, err
	}
	if len(accts) == 0 {
		return TextResult("No social accounts are connected."), nil
	}
	return accts, nil
}
