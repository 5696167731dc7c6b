package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkie/internal/domain"
)

func failingLLM(name string, err error) *scriptedLLM {
	return &scriptedLLM{name: name, respond: func(int, domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, err
	}}
}

func answeringLLM(name, content string) *scriptedLLM {
	return &scriptedLLM{name: name, respond: func(int, domain.ChatRequest) (*domain.ChatResponse, error) {
		return textResponse(content), nil
	}}
}

func TestDispatcher_FallbackOnTransient(t *testing.T) {
	primary := failingLLM("a", httpError(503))
	backup := answeringLLM("b", "hello from backup")
	d := newTestDispatcher(&modelResolver{providers: map[string]domain.LLMProvider{
		"primary": primary,
		"backup":  backup,
	}})

	resp, model, err := d.Call(context.Background(), domain.ChatRequest{}, testSelection("primary", "backup"))
	require.NoError(t, err)
	assert.Equal(t, "backup", model)
	assert.Equal(t, "hello from backup", resp.Message.Content)
	assert.Equal(t, 1, primary.count())
	assert.Equal(t, 1, backup.count())
	assert.Equal(t, "backup", backup.requests()[0].Model, "request model is set per candidate")
}

func TestDispatcher_TerminalStopsImmediately(t *testing.T) {
	primary := failingLLM("a", domain.ErrAuthInvalid)
	backup := answeringLLM("b", "unused")
	d := newTestDispatcher(&modelResolver{providers: map[string]domain.LLMProvider{
		"primary": primary,
		"backup":  backup,
	}})

	_, model, err := d.Call(context.Background(), domain.ChatRequest{}, testSelection("primary", "backup"))
	require.Error(t, err)
	assert.Empty(t, model)
	assert.True(t, domain.IsTerminalProviderError(err))
	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "primary", perr.Model)
	assert.Zero(t, backup.count())
}

func TestDispatcher_Exhaustion(t *testing.T) {
	models := map[string]domain.LLMProvider{
		"m1": failingLLM("a", httpError(500)),
		"m2": failingLLM("a", domain.ErrRateLimit),
		"m3": failingLLM("a", domain.ErrTimeout),
	}
	d := newTestDispatcher(&modelResolver{providers: models})

	resp, model, err := d.Call(context.Background(), domain.ChatRequest{}, testSelection("m1", "m2", "m3"))
	require.NoError(t, err)
	assert.Empty(t, model)
	assert.True(t, IsExhausted(resp))
	assert.True(t, strings.HasPrefix(resp.Message.Content, exhaustedPrefix))
	assert.Contains(t, resp.Message.Content, "timed out")

	total := 0
	for _, p := range models {
		total += p.(*scriptedLLM).count()
	}
	assert.Equal(t, 3, total, "at most one call per candidate")
}

func TestDispatcher_DuplicateCandidatesCalledOnce(t *testing.T) {
	p := failingLLM("a", httpError(502))
	d := newTestDispatcher(&modelResolver{providers: map[string]domain.LLMProvider{"m1": p}})

	resp, _, err := d.Call(context.Background(), domain.ChatRequest{}, testSelection("m1", "m1", "m1"))
	require.NoError(t, err)
	assert.True(t, IsExhausted(resp))
	assert.Equal(t, 1, p.count())
}

func TestDispatcher_EmptyOutputIsTransient(t *testing.T) {
	empty := answeringLLM("a", "   ")
	good := answeringLLM("b", "real answer")
	d := newTestDispatcher(&modelResolver{providers: map[string]domain.LLMProvider{"m1": empty, "m2": good}})

	resp, model, err := d.Call(context.Background(), domain.ChatRequest{}, testSelection("m1", "m2"))
	require.NoError(t, err)
	assert.Equal(t, "m2", model)
	assert.Equal(t, "real answer", resp.Message.Content)
}

func TestDispatcher_UnknownModelFallsThrough(t *testing.T) {
	good := answeringLLM("b", "ok")
	d := newTestDispatcher(&modelResolver{providers: map[string]domain.LLMProvider{"m2": good}})

	_, model, err := d.Call(context.Background(), domain.ChatRequest{}, testSelection("ghost", "m2"))
	require.NoError(t, err)
	assert.Equal(t, "m2", model)
}

func TestDispatcher_PerCallTimeout(t *testing.T) {
	blocking := &blockingLLM{}
	good := answeringLLM("b", "fast")
	d := NewDispatcher(DispatcherDeps{
		Resolver:    &modelResolver{providers: map[string]domain.LLMProvider{"block": blocking, "m2": good}},
		Logger:      quietLogger(),
		Sleep:       noSleep,
		CallTimeout: 30 * time.Millisecond,
	})

	start := time.Now()
	_, model, err := d.Call(context.Background(), domain.ChatRequest{}, testSelection("block", "m2"))
	require.NoError(t, err)
	assert.Equal(t, "m2", model)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

// blockingLLM waits for its context.
type blockingLLM struct{}

func (blockingLLM) Name() string { return "block" }
func (blockingLLM) Chat(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDispatcher_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &scriptedLLM{name: "a", respond: func(int, domain.ChatRequest) (*domain.ChatResponse, error) {
		cancel()
		return nil, httpError(503)
	}}
	backup := answeringLLM("b", "unused")
	d := newTestDispatcher(&modelResolver{providers: map[string]domain.LLMProvider{"m1": p, "m2": backup}})

	_, _, err := d.Call(ctx, domain.ChatRequest{}, testSelection("m1", "m2"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, backup.count())
}

func TestDispatcher_BackoffBetweenCandidates(t *testing.T) {
	var delays []time.Duration
	d := NewDispatcher(DispatcherDeps{
		Resolver: &modelResolver{providers: map[string]domain.LLMProvider{
			"m1": failingLLM("a", httpError(503)),
			"m2": failingLLM("a", httpError(503)),
			"m3": answeringLLM("b", "ok"),
		}},
		Logger: quietLogger(),
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	})

	_, _, err := d.Call(context.Background(), domain.ChatRequest{}, testSelection("m1", "m2", "m3"))
	require.NoError(t, err)
	require.Len(t, delays, 2)
	assert.GreaterOrEqual(t, delays[0], baseRetryDelay)
	assert.GreaterOrEqual(t, delays[1], 2*baseRetryDelay)
}

func TestRetryBackoffCapped(t *testing.T) {
	for attempt := range 30 {
		d := retryBackoff(attempt, time.Second, 4*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
	}
}

func TestDispatcher_StreamFallback(t *testing.T) {
	broken := &brokenStreamLLM{}
	good := &streamingLLM{scriptedLLM: answeringLLM("b", "x"), chunks: []string{"hel", "lo"}}
	d := newTestDispatcher(&modelResolver{providers: map[string]domain.LLMProvider{"m1": broken, "m2": good}})

	ch, model, err := d.Stream(context.Background(), domain.ChatRequest{}, testSelection("m1", "m2"))
	require.NoError(t, err)
	assert.Equal(t, "m2", model)

	var text string
	for delta := range ch {
		text += delta.Content
	}
	assert.Equal(t, "hello", text)
	assert.True(t, good.requests()[0].Stream)
}

func TestDispatcher_StreamNonStreamingProvider(t *testing.T) {
	d := newTestDispatcher(&modelResolver{providers: map[string]domain.LLMProvider{"m1": answeringLLM("a", "whole")}})

	ch, _, err := d.Stream(context.Background(), domain.ChatRequest{}, testSelection("m1"))
	require.NoError(t, err)
	var deltas []domain.StreamDelta
	for delta := range ch {
		deltas = append(deltas, delta)
	}
	require.Len(t, deltas, 1)
	assert.Equal(t, "whole", deltas[0].Content)
	assert.True(t, deltas[0].Done)
}

func TestDispatcher_StreamExhaustion(t *testing.T) {
	d := newTestDispatcher(&modelResolver{providers: map[string]domain.LLMProvider{"m1": &brokenStreamLLM{}}})

	ch, model, err := d.Stream(context.Background(), domain.ChatRequest{}, testSelection("m1"))
	require.NoError(t, err)
	assert.Empty(t, model)
	delta := <-ch
	assert.Equal(t, domain.FinishError, delta.FinishReason)
	assert.True(t, strings.HasPrefix(delta.Content, exhaustedPrefix))
}

type brokenStreamLLM struct{}

func (brokenStreamLLM) Name() string { return "broken" }
func (brokenStreamLLM) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, errors.New("unused")
}
func (brokenStreamLLM) ChatStream(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	return nil, httpError(503)
}
