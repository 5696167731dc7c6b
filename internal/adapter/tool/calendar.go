package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"sparkie/internal/domain"
)

// CalendarEvent describes an event.
type CalendarEvent struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Location  string   `json:"location,omitempty"`
	Start     string   `json:"start"` // RFC 3339
	End       string   `json:"end"`   // RFC 3339
	Attendees []string `json:"attendees,omitempty"`
}

// CalendarBackend abstracts read access to a user's calendar. Changes to
// events go through the approval flow.
type CalendarBackend interface {
	ListEvents(ctx context.Context, userID string, from, to time.Time) ([]CalendarEvent, error)
	GetEvent(ctx context.Context, userID, eventID string) (*CalendarEvent, error)
}

// MemoryCalendar is an in-memory CalendarBackend.
type MemoryCalendar struct {
	mu     sync.Mutex
	events map[string][]CalendarEvent
	nextID int
}

// NewMemoryCalendar creates an empty calendar store.
func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{events: make(map[string][]CalendarEvent), nextID: 1}
}

// Add stores ev for userID and returns its ID.
func (m *MemoryCalendar) Add(userID string, ev CalendarEvent) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		ev.ID = fmt.Sprintf("evt-%d", m.nextID)
		m.nextID++
	}
	m.events[userID] = append(m.events[userID], ev)
	return ev.ID
}

func (m *MemoryCalendar) ListEvents(_ context.Context, userID string, from, to time.Time) ([]CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CalendarEvent
	for _, ev := range m.events[userID] {
		start, err := time.Parse(time.RFC3339, ev.Start)
		if err != nil {
			continue
		}
		if !start.Before(from) && start.Before(to) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (m *MemoryCalendar) GetEvent(_ context.Context, userID, eventID string) (*CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events[userID] {
		if ev.ID == eventID {
			return &ev, nil
		}
	}
	return nil, domain.NewDomainError("Calendar.GetEvent", domain.ErrNotFound, "event "+eventID)
}

// CalendarTool lets the model look at the user's schedule. Create, update
// and delete are queued for approval.
type CalendarTool struct {
	backend CalendarBackend
	now     func() time.Time
	logger  *slog.Logger
	actions ActionMap[calendarParams]
}

// NewCalendarTool creates a calendar tool. A nil backend uses an empty
// MemoryCalendar.
func NewCalendarTool(backend CalendarBackend, logger *slog.Logger) *CalendarTool {
	if backend == nil {
		backend = NewMemoryCalendar()
	}
	t := &CalendarTool{backend: backend, now: time.Now, logger: logger}
	t.actions = ActionMap[calendarParams]{
		"list":   t.handleList,
		"get":    t.handleGet,
		"create": refuse[calendarParams]("creating a calendar event"),
		"update": refuse[calendarParams]("changing a calendar event"),
		"delete": refuse[calendarParams]("deleting a calendar event"),
	}
	return t
}

func (t *CalendarTool) Name() string { return "calendar" }
func (t *CalendarTool) Description() string {
	return "Read the user's calendar (list, get). Creating, changing or deleting events waits for the user's approval."
}

func (t *CalendarTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(fmt.Sprintf(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": %s},
				"event_id": {"type": "string", "description": "Event ID (get, update, delete)"},
				"from": {"type": "string", "description": "RFC 3339 start of the window (list, default now)"},
				"to": {"type": "string", "description": "RFC 3339 end of the window (list, default from + 7 days)"},
				"title": {"type": "string"},
				"start": {"type": "string", "description": "RFC 3339 (create, update)"},
				"end": {"type": "string", "description": "RFC 3339 (create, update)"},
				"location": {"type": "string"},
				"attendees": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["action"]
		}`, actionEnum(t.actions))),
	}
}

type calendarParams struct {
	Action    string   `json:"action"`
	EventID   string   `json:"event_id,omitempty"`
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
	Title     string   `json:"title,omitempty"`
	Start     string   `json:"start,omitempty"`
	End       string   `json:"end,omitempty"`
	Location  string   `json:"location,omitempty"`
	Attendees []string `json:"attendees,omitempty"`
}

func (t *CalendarTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.calendar", t.logger, params,
		Dispatch(func(p calendarParams) string { return p.Action }, t.actions),
	)
}

func parseRFC3339(name, value string, def time.Time) (time.Time, error) {
	if value == "" {
		return def, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("'%s' must be an RFC 3339 timestamp (e.g. 2026-01-01T10:00:00Z)", name)
	}
	return ts, nil
}

func (t *CalendarTool) handleList(ctx context.Context, p calendarParams) (any, error) {
	from, err := parseRFC3339("from", p.From, t.now())
	if err != nil {
		return nil, err
	}
	to, err := parseRFC3339("to", p.To, from.Add(7*24*time.Hour))
	if err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, fmt.Errorf("'to' must be after 'from'")
	}
	events, err := t.backend.ListEvents(ctx, domain.UserIDFromContext(ctx), from, to)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return TextResult("No events in that window."), nil
	}
	return events, nil
}

func (t *CalendarTool) handleGet(ctx context.Context, p calendarParams) (any, error) {
	if err := RequireFields("event_id", p.EventID); err != nil {
		return nil, err
	}
	return t.backend.GetEvent(ctx, domain.UserIDFromContext(ctx), p.EventID)
}
