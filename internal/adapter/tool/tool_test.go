package tool

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkie/internal/domain"
)

func newTestLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type mockTool struct {
	name   string
	schema string
	calls  int
}

func (m *mockTool) Name() string        { return m.name }
func (m *mockTool) Description() string { return "mock" }
func (m *mockTool) Schema() domain.ToolSchema {
	params := m.schema
	if params == "" {
		params = `{"type":"object"}`
	}
	return domain.ToolSchema{Name: m.name, Description: "mock", Parameters: json.RawMessage(params)}
}
func (m *mockTool) Execute(context.Context, json.RawMessage) (*domain.ToolResult, error) {
	m.calls++
	return &domain.ToolResult{Content: "ok"}, nil
}

func run(t *testing.T, tl domain.Tool, params string) *domain.ToolResult {
	t.Helper()
	res, err := tl.Execute(context.Background(), json.RawMessage(params))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func runAs(t *testing.T, tl domain.Tool, userID, params string) *domain.ToolResult {
	t.Helper()
	ctx := domain.ContextWithUserID(context.Background(), userID)
	res, err := tl.Execute(ctx, json.RawMessage(params))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestRegistryBasic(t *testing.T) {
	reg := NewRegistry(0, newTestLogger())
	require.NoError(t, reg.Register(&mockTool{name: "b"}))
	require.NoError(t, reg.Register(&mockTool{name: "a"}))

	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name())
	assert.Equal(t, []string{"a", "b"}, reg.Names())

	schemas := reg.Schemas()
	require.Len(t, schemas, 2)
	assert.Equal(t, "a", schemas[0].Name)
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry(0, newTestLogger())
	require.NoError(t, reg.Register(&mockTool{name: "x"}))
	assert.Error(t, reg.Register(&mockTool{name: "x"}))
	assert.Panics(t, func() { reg.MustRegister(&mockTool{name: "x"}) })
}

func TestRegistryNotFound(t *testing.T) {
	reg := NewRegistry(0, newTestLogger())
	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestRegistryValidatesArguments(t *testing.T) {
	inner := &mockTool{name: "v", schema: `{"type":"object","properties":{"n":{"type":"integer"}},"required":["n"]}`}
	reg := NewRegistry(0, newTestLogger())
	require.NoError(t, reg.Register(inner))
	tl, err := reg.Get("v")
	require.NoError(t, err)

	res := run(t, tl, `{"n":"seven"}`)
	assert.True(t, res.IsError)
	assert.Equal(t, 0, inner.calls)

	res = run(t, tl, `{"n":7}`)
	assert.False(t, res.IsError)
	assert.Equal(t, 1, inner.calls)
}

func TestRegistryBrokenSchemaStillRegisters(t *testing.T) {
	reg := NewRegistry(0, newTestLogger())
	require.NoError(t, reg.Register(&mockTool{name: "broken", schema: `{"type": 12}`}))
	tl, err := reg.Get("broken")
	require.NoError(t, err)
	assert.False(t, run(t, tl, `{}`).IsError)
}

func TestRegistryRateLimit(t *testing.T) {
	reg := NewRegistry(2, newTestLogger())
	require.NoError(t, reg.Register(&mockTool{name: "r"}))
	tl, err := reg.Get("r")
	require.NoError(t, err)

	assert.False(t, run(t, tl, `{}`).IsError)
	assert.False(t, run(t, tl, `{}`).IsError)
	res := run(t, tl, `{}`)
	assert.True(t, res.IsError)
	assert.True(t, res.IsRetryable)
}
