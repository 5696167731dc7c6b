package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"sparkie/internal/domain"
)

// EmailSummary describes an email without its body.
type EmailSummary struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

// EmailMessage is a full email.
type EmailMessage struct {
	ID      string   `json:"id"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	Date    string   `json:"date"`
}

// EmailDraft is an unsent message saved in the user's drafts.
type EmailDraft struct {
	ID      string   `json:"id"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// EmailBackend abstracts a user's mailbox. Sending is not part of it: sends
// go through the approval flow.
type EmailBackend interface {
	List(ctx context.Context, userID, folder string, limit int) ([]EmailSummary, error)
	Read(ctx context.Context, userID, id string) (*EmailMessage, error)
	Search(ctx context.Context, userID, query string, limit int) ([]EmailSummary, error)
	Draft(ctx context.Context, userID string, to []string, subject, body string) (*EmailDraft, error)
}

// MemoryMailbox is an in-memory EmailBackend for development and tests.
type MemoryMailbox struct {
	mu       sync.Mutex
	messages map[string][]EmailMessage // userID -> inbox
	drafts   map[string][]EmailDraft
	nextID   int
}

// NewMemoryMailbox creates an empty mailbox.
func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{
		messages: make(map[string][]EmailMessage),
		drafts:   make(map[string][]EmailDraft),
		nextID:   1,
	}
}

// Deliver adds a message to a user's inbox and returns its ID.
func (m *MemoryMailbox) Deliver(userID string, msg EmailMessage) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg-%d", m.nextID)
		m.nextID++
	}
	if msg.Date == "" {
		msg.Date = nowRFC3339()
	}
	m.messages[userID] = append(m.messages[userID], msg)
	return msg.ID
}

func (m *MemoryMailbox) List(_ context.Context, userID, folder string, limit int) ([]EmailSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if folder == "drafts" {
		out := make([]EmailSummary, 0, len(m.drafts[userID]))
		for _, d := range m.drafts[userID] {
			out = append(out, EmailSummary{ID: d.ID, Subject: d.Subject, Snippet: snippet(d.Body)})
		}
		return limitSlice(out, limit), nil
	}
	inbox := m.messages[userID]
	out := make([]EmailSummary, 0, len(inbox))
	for i := len(inbox) - 1; i >= 0; i-- {
		out = append(out, summarize(inbox[i]))
	}
	return limitSlice(out, limit), nil
}

func (m *MemoryMailbox) Read(_ context.Context, userID, id string) (*EmailMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[userID] {
		if msg.ID == id {
			return &msg, nil
		}
	}
	return nil, domain.NewDomainError("Mailbox.Read", domain.ErrNotFound, "message "+id)
}

func (m *MemoryMailbox) Search(_ context.Context, userID, query string, limit int) ([]EmailSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	var out []EmailSummary
	for _, msg := range m.messages[userID] {
		hay := strings.ToLower(msg.From + " " + msg.Subject + " " + msg.Body)
		if strings.Contains(hay, q) {
			out = append(out, summarize(msg))
		}
	}
	return limitSlice(out, limit), nil
}

func (m *MemoryMailbox) Draft(_ context.Context, userID string, to []string, subject, body string) (*EmailDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := EmailDraft{ID: fmt.Sprintf("draft-%d", m.nextID), To: to, Subject: subject, Body: body}
	m.nextID++
	m.drafts[userID] = append(m.drafts[userID], d)
	return &d, nil
}

func summarize(msg EmailMessage) EmailSummary {
	return EmailSummary{ID: msg.ID, From: msg.From, Subject: msg.Subject, Date: msg.Date, Snippet: snippet(msg.Body)}
}

func snippet(body string) string {
	const max = 120
	body = strings.Join(strings.Fields(body), " ")
	if r := []rune(body); len(r) > max {
		return string(r[:max]) + "..."
	}
	return body
}

func limitSlice[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}

// EmailTool gives the model read access to the user's mailbox and lets it
// prepare drafts. The send action is queued for approval.
type EmailTool struct {
	backend EmailBackend
	logger  *slog.Logger
	actions ActionMap[emailParams]
}

// NewEmailTool creates an email tool. A nil backend uses an empty MemoryMailbox.
func NewEmailTool(backend EmailBackend, logger *slog.Logger) *EmailTool {
	if backend == nil {
		backend = NewMemoryMailbox()
	}
	t := &EmailTool{backend: backend, logger: logger}
	t.actions = ActionMap[emailParams]{
		"list":   t.handleList,
		"read":   t.handleRead,
		"search": t.handleSearch,
		"draft":  t.handleDraft,
		"send":   refuse[emailParams]("sending email"),
	}
	return t
}

func (t *EmailTool) Name() string { return "email" }
func (t *EmailTool) Description() string {
	return "Work with the user's email: list the inbox or drafts, read or search messages, write drafts, and send (send waits for the user's approval)."
}

func (t *EmailTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(fmt.Sprintf(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": %s},
				"id": {"type": "string", "description": "Message ID (read)"},
				"folder": {"type": "string", "enum": ["inbox", "drafts"], "description": "Folder to list (default inbox)"},
				"query": {"type": "string", "description": "Search text (search)"},
				"to": {"type": "array", "items": {"type": "string"}, "description": "Recipients (draft, send)"},
				"subject": {"type": "string"},
				"body": {"type": "string"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 50}
			},
			"required": ["action"]
		}`, actionEnum(t.actions))),
	}
}

type emailParams struct {
	Action  string   `json:"action"`
	ID      string   `json:"id,omitempty"`
	Folder  string   `json:"folder,omitempty"`
	Query   string   `json:"query,omitempty"`
	To      []string `json:"to,omitempty"`
	Subject string   `json:"subject,omitempty"`
	Body    string   `json:"body,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

func (t *EmailTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.email", t.logger, params,
		Dispatch(func(p emailParams) string { return p.Action }, t.actions),
	)
}

func (t *EmailTool) handleList(ctx context.Context, p emailParams) (any, error) {
	emails, err := t.backend.List(ctx, domain.UserIDFromContext(ctx), p.Folder, clampLimit(p.Limit, 10, 50))
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return TextResult("No emails found."), nil
	}
	return emails, nil
}

func (t *EmailTool) handleRead(ctx context.Context, p emailParams) (any, error) {
	if err := RequireFields("id", p.ID); err != nil {
		return nil, err
	}
	return t.backend.Read(ctx, domain.UserIDFromContext(ctx), p.ID)
}

func (t *EmailTool) handleSearch(ctx context.Context, p emailParams) (any, error) {
	if err := RequireFields("query", p.Query); err != nil {
		return nil, err
	}
	results, err := t.backend.Search(ctx, domain.UserIDFromContext(ctx), p.Query, clampLimit(p.Limit, 20, 50))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return TextResult("No emails match the search query."), nil
	}
	return results, nil
}

func (t *EmailTool) handleDraft(ctx context.Context, p emailParams) (any, error) {
	if len(p.To) == 0 {
		return nil, fmt.Errorf("'to' is required")
	}
	for _, addr := range p.To {
		if err := ValidateEmail("recipient", addr); err != nil {
			return nil, err
		}
	}
	if err := ValidateAll(
		RequireFields("subject", p.Subject, "body", p.Body),
		ValidateMaxLength("subject", p.Subject, 300),
	); err != nil {
		return nil, err
	}
	return t.backend.Draft(ctx, domain.UserIDFromContext(ctx), p.To, p.Subject, p.Body)
}

// nowRFC3339 is the date stamp used by the in-memory backends.
func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }
