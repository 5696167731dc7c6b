package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkie/internal/domain"
	"sparkie/internal/infra/config"
)

func TestGate_Match(t *testing.T) {
	g := NewGate(GateDeps{Rules: []config.GateRuleConfig{{Tool: "wire", Action: "send", Label: "Wire money"}}})

	tests := []struct {
		call domain.ToolCall
		want string
		ok   bool
	}{
		{call("1", "send_email", `{}`), "send_email", true},
		{call("2", "email", `{"action":"send","to":"a@b.c"}`), "email_send", true},
		{call("3", "email", `{"action":"SEND"}`), "email_send", true},
		{call("4", "email", `{"action":"list"}`), "", false},
		{call("5", "calendar", `{"action":"create","title":"Standup"}`), "calendar_create", true},
		{call("6", "calendar", `{"action":"list"}`), "", false},
		{call("7", "web_search", `{"query":"x"}`), "", false},
		{call("8", "wire", `{"action":"send"}`), "wire_send", true},
		{call("9", "email", `not json`), "", false},
	}
	for _, tt := range tests {
		rule, ok := g.Match(tt.call)
		assert.Equal(t, tt.ok, ok, tt.call.ID)
		if ok {
			assert.Equal(t, tt.want, rule.taskAction(), tt.call.ID)
		}
	}
}

func TestGate_CheckCreatesTask(t *testing.T) {
	store := &memTaskStore{}
	g := NewGate(GateDeps{Store: store, Executor: "worker", Logger: quietLogger()})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	ctx := domain.ContextWithUserID(context.Background(), "u-42")
	res, handled := g.Check(ctx, call("c1", "calendar", `{"action":"create","title":"Dentist"}`))
	require.True(t, handled)
	require.NotNil(t, res.Gated)
	assert.False(t, res.IsError)
	assert.True(t, strings.HasPrefix(res.Content, PendingTaskSentinel))

	var frame map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(res.Content, PendingTaskSentinel)), &frame))
	assert.Equal(t, "task", frame["event"])
	assert.Equal(t, "calendar_create", frame["action"])
	assert.Equal(t, "Create calendar event: Dentist", frame["label"])

	tasks := store.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, "u-42", tasks[0].UserID)
	assert.Equal(t, "worker", tasks[0].Executor)
	assert.Equal(t, fixed, tasks[0].CreatedAt)
	assert.Equal(t, domain.TaskPending, tasks[0].Status)
	assert.JSONEq(t, `{"action":"create","title":"Dentist"}`, string(tasks[0].Payload))
}

func TestGate_CheckPassesUngated(t *testing.T) {
	g := NewGate(GateDeps{Store: &memTaskStore{}})
	res, handled := g.Check(context.Background(), call("c1", "web_search", `{}`))
	assert.False(t, handled)
	assert.Nil(t, res)
}

func TestGate_StoreFailure(t *testing.T) {
	g := NewGate(GateDeps{Store: &memTaskStore{err: domain.ErrTaskStore}, Logger: quietLogger()})
	res, handled := g.Check(context.Background(), call("c1", "send_email", `{"to":"x@y.z"}`))
	require.True(t, handled)
	assert.True(t, res.IsError)
	assert.Nil(t, res.Gated)
	assert.Contains(t, res.Content, "NOT performed")
}

func TestGate_StoreTimeout(t *testing.T) {
	store := &memTaskStore{delay: 2 * time.Second}
	g := NewGate(GateDeps{Store: store, Logger: quietLogger(), StoreTimeout: 30 * time.Millisecond})

	start := time.Now()
	res, handled := g.Check(context.Background(), call("c1", "send_email", `{"to":"x@y.z"}`))
	assert.Less(t, time.Since(start), time.Second)
	require.True(t, handled)
	assert.True(t, res.IsError)
	assert.Nil(t, res.Gated)
	assert.Contains(t, res.Content, "could not be saved")
	assert.Empty(t, store.all())
}

func TestGate_NoStore(t *testing.T) {
	g := NewGate(GateDeps{Logger: quietLogger()})
	res, handled := g.Check(context.Background(), call("c1", "purchase", `{}`))
	require.True(t, handled)
	assert.True(t, res.IsError)
}

func TestTaskLabelTruncates(t *testing.T) {
	long := strings.Repeat("x", 100)
	label := taskLabel(GateRule{Tool: "social_post", Label: "Publish social post"}, json.RawMessage(`{"text":"`+long+`"}`))
	assert.Equal(t, "Publish social post: "+strings.Repeat("x", 60)+"...", label)

	assert.Equal(t, "repo delete", taskLabel(GateRule{Tool: "repo", Action: "delete"}, json.RawMessage(`{}`)))
}
