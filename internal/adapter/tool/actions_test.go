package tool

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionEnumIsSortedJSON(t *testing.T) {
	m := ActionMap[emailParams]{"send": nil, "list": nil, "draft": nil}
	var got []string
	require.NoError(t, json.Unmarshal([]byte(actionEnum(m)), &got))
	assert.Equal(t, []string{"draft", "list", "send"}, got)
}

func TestDispatchUnknownAction(t *testing.T) {
	res := run(t, NewSocialTool(nil, newTestLogger()), `{"action":"explode"}`)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, `unknown action "explode"`)
	assert.Contains(t, res.Content, "list, post")
}

func TestDispatchIsCaseInsensitive(t *testing.T) {
	res := runAs(t, NewSocialTool(nil, newTestLogger()), "u1", `{"action":" LIST "}`)
	assert.False(t, res.IsError, res.Content)
}

func TestEmailTool(t *testing.T) {
	box := NewMemoryMailbox()
	id := box.Deliver("u1", EmailMessage{From: "ana@example.com", Subject: "Lunch friday?", Body: "Are you free?"})
	box.Deliver("u2", EmailMessage{From: "x@example.com", Subject: "Not yours"})
	tool := NewEmailTool(box, newTestLogger())

	res := runAs(t, tool, "u1", `{"action":"list"}`)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "Lunch friday?")
	assert.NotContains(t, res.Content, "Not yours")

	res = runAs(t, tool, "u1", `{"action":"read","id":"`+id+`"}`)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "Are you free?")

	res = runAs(t, tool, "u1", `{"action":"search","query":"LUNCH"}`)
	assert.Contains(t, res.Content, id)

	res = runAs(t, tool, "u1", `{"action":"search","query":"invoice"}`)
	assert.Equal(t, "No emails match the search query.", res.Content)

	res = runAs(t, tool, "u1", `{"action":"read","id":"msg-999"}`)
	assert.True(t, res.IsError)
}

func TestEmailDraftValidation(t *testing.T) {
	tool := NewEmailTool(nil, newTestLogger())

	res := runAs(t, tool, "u1", `{"action":"draft","to":["not an address"],"subject":"s","body":"b"}`)
	assert.True(t, res.IsError)

	res = runAs(t, tool, "u1", `{"action":"draft","to":["bo@example.com"],"subject":"","body":"b"}`)
	assert.True(t, res.IsError)

	res = runAs(t, tool, "u1", `{"action":"draft","to":["bo@example.com"],"subject":"Hi","body":"Hello"}`)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "draft-")

	res = runAs(t, tool, "u1", `{"action":"list","folder":"drafts"}`)
	assert.Contains(t, res.Content, "Hi")
}

func TestGatedActionsRefuseWhenCalledDirectly(t *testing.T) {
	logger := newTestLogger()
	cases := []struct {
		name   string
		result func() string
	}{
		{"email/send", func() string {
			return runAs(t, NewEmailTool(nil, logger), "u1", `{"action":"send","to":["a@b.co"],"subject":"s","body":"b"}`).Content
		}},
		{"calendar/delete", func() string {
			return runAs(t, NewCalendarTool(nil, logger), "u1", `{"action":"delete","event_id":"e"}`).Content
		}},
		{"social/post", func() string {
			return runAs(t, NewSocialTool(nil, logger), "u1", `{"action":"post","platform":"x","text":"hi"}`).Content
		}},
		{"finance/transfer", func() string {
			return runAs(t, NewFinanceTool(nil, logger), "u1", `{"action":"transfer","to":"acc2","amount":5}`).Content
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Contains(t, tc.result(), "requires user approval")
		})
	}
}

func TestApprovalTools(t *testing.T) {
	tools := ApprovalTools(newTestLogger())
	names := make([]string, 0, len(tools))
	for _, tl := range tools {
		names = append(names, tl.Name())
		var schema map[string]any
		require.NoError(t, json.Unmarshal(tl.Schema().Parameters, &schema), tl.Name())

		res := run(t, tl, `{}`)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content, "requires user approval")
	}
	assert.ElementsMatch(t, []string{"send_email", "social_post", "delete_file", "transfer_funds", "purchase"}, names)
}

func TestToolSchemasCompile(t *testing.T) {
	logger := newTestLogger()
	tools := append(ApprovalTools(logger),
		NewEmailTool(nil, logger),
		NewCalendarTool(nil, logger),
		NewSocialTool(nil, logger),
		NewFinanceTool(nil, logger),
		NewMemoryTool(nil, logger),
		NewScheduleTool(nil, logger),
		NewWebSearchTool(WebSearchDeps{Backend: &mockSearchBackend{}}),
	)
	tools = append(tools, MediaTools(NewMediaClient("http://media.invalid", "", 0), logger)...)
	for _, tl := range tools {
		_, err := WithSchemaValidation(tl)
		assert.NoError(t, err, tl.Name())
	}
}

func TestCalendarList(t *testing.T) {
	cal := NewMemoryCalendar()
	cal.Add("u1", CalendarEvent{Title: "Standup", Start: "2026-03-02T09:00:00Z", End: "2026-03-02T09:15:00Z"})
	cal.Add("u1", CalendarEvent{Title: "Offsite", Start: "2026-04-20T09:00:00Z", End: "2026-04-20T17:00:00Z"})
	tool := NewCalendarTool(cal, newTestLogger())
	tool.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	res := runAs(t, tool, "u1", `{"action":"list"}`)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "Standup")
	assert.NotContains(t, res.Content, "Offsite")

	res = runAs(t, tool, "u1", `{"action":"list","from":"2026-04-01T00:00:00Z","to":"2026-05-01T00:00:00Z"}`)
	assert.Contains(t, res.Content, "Offsite")

	res = runAs(t, tool, "u1", `{"action":"list","from":"tomorrow"}`)
	assert.True(t, res.IsError)

	res = runAs(t, tool, "u1", `{"action":"list","from":"2026-04-01T00:00:00Z","to":"2026-03-01T00:00:00Z"}`)
	assert.True(t, res.IsError)

	res = runAs(t, tool, "u1", `{"action":"get","event_id":"evt-1"}`)
	assert.Contains(t, res.Content, "Standup")
}

func TestFinanceTool(t *testing.T) {
	ledger := NewMemoryLedger()
	ledger.Open("u1", Account{ID: "chk", Name: "Checking", Currency: "EUR", Balance: 10000})
	ledger.Record("u1", Transaction{AccountID: "chk", Description: "Coffee", Amount: -350})
	tool := NewFinanceTool(ledger, newTestLogger())

	res := runAs(t, tool, "u1", `{"action":"balance","account_id":"chk"}`)
	require.False(t, res.IsError, res.Content)
	var acct Account
	require.NoError(t, json.Unmarshal([]byte(res.Content), &acct))
	assert.Equal(t, int64(9650), acct.Balance)

	res = runAs(t, tool, "u1", `{"action":"transactions"}`)
	assert.Contains(t, res.Content, "Coffee")

	res = runAs(t, tool, "u1", `{"action":"balance","account_id":"nope"}`)
	assert.True(t, res.IsError)

	res = runAs(t, tool, "u2", `{"action":"balance"}`)
	assert.Equal(t, "No accounts are connected.", res.Content)
}

func TestSocialList(t *testing.T) {
	social := NewMemorySocial()
	social.Connect("u1", SocialAccount{Platform: "mastodon", Handle: "@me"})
	res := runAs(t, NewSocialTool(social, newTestLogger()), "u1", `{"action":"list"}`)
	assert.Contains(t, res.Content, "mastodon")
}
