package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkie/internal/domain"
)

func TestResponder_BufferedFrames(t *testing.T) {
	r := NewResponder(5, NewSanitizer(nil))
	frames := r.Frames(Reply{
		Text:     "Hello world",
		Statuses: []string{"Thinking...", "Searching the web..."},
		Media:    []domain.MediaRef{{Kind: domain.MediaImage, URL: "https://cdn.example/x.png"}},
	})

	var kinds []domain.FrameKind
	for _, f := range frames {
		kinds = append(kinds, f.Kind)
	}
	assert.Equal(t, []domain.FrameKind{
		domain.FrameStatus, domain.FrameStatus,
		domain.FrameDelta, domain.FrameDelta, domain.FrameDelta,
		domain.FrameDelta,
		domain.FrameDone,
	}, kinds)
	assert.Equal(t, "Hello", frames[2].Content)
	assert.Equal(t, " worl", frames[3].Content)
	assert.Equal(t, "d", frames[4].Content)
	assert.Equal(t, "\n\n![image](https://cdn.example/x.png)", frames[5].Content)
}

func TestResponder_TaskFrameOnly(t *testing.T) {
	task := &domain.PendingTask{ID: "01J", Action: "send_email", Label: "Send email: Hi", Payload: json.RawMessage(`{"to":"a@b.c"}`)}
	frames := NewResponder(0, nil).Frames(Reply{Text: "ignored", Statuses: []string{"Checking your email..."}, Task: task})

	require.Len(t, frames, 2)
	assert.Equal(t, domain.FrameStatus, frames[0].Kind)
	assert.Equal(t, domain.FrameTask, frames[1].Kind)

	raw, err := json.Marshal(frames[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"task","id":"01J","action":"send_email","label":"Send email: Hi","payload":{"to":"a@b.c"}}`, string(raw))
}

func TestResponder_SanitizesAndFallsBack(t *testing.T) {
	r := NewResponder(100, NewSanitizer(nil))

	frames := r.Frames(Reply{Text: "I am glm-5-free, served by OpenCode."})
	assert.Equal(t, "I am Sparkie, served by Sparkie.", frames[0].Content)

	frames = r.Frames(Reply{Text: "   "})
	require.Len(t, frames, 2)
	assert.Equal(t, fallbackAnswer, frames[0].Content)
}

func TestResponder_MediaOnly(t *testing.T) {
	frames := NewResponder(0, nil).Frames(Reply{Media: []domain.MediaRef{
		{Kind: domain.MediaVideo, URL: "https://v.example/1.mp4"},
		{Kind: domain.MediaAudio, URL: "https://a.example/1.mp3"},
	}})
	require.Len(t, frames, 3)
	assert.Equal(t, "[Watch the video](https://v.example/1.mp4)", frames[0].Content)
	assert.Equal(t, "\n\n[Listen to the audio](https://a.example/1.mp3)", frames[1].Content)
}

func TestResponder_FinishAndError(t *testing.T) {
	r := NewResponder(0, nil)
	rec := &frameRecorder{}
	require.NoError(t, r.Status(rec, ""))
	require.NoError(t, r.Status(rec, "Thinking..."))
	require.NoError(t, r.Finish(rec, Reply{Text: "ok"}))
	assert.Equal(t, []domain.FrameKind{domain.FrameStatus, domain.FrameDelta, domain.FrameDone}, rec.kinds())

	rec = &frameRecorder{}
	require.NoError(t, r.Error(rec, "kimi-k2.5-free is down"))
	assert.Equal(t, "Sparkie is down", rec.frames[0].Message)
}

func deltaChannel(deltas ...domain.StreamDelta) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch
}

func TestResponder_StreamSplitIdentifier(t *testing.T) {
	r := NewResponder(100, NewSanitizer(nil))
	rec := &frameRecorder{}

	res, err := r.Stream(context.Background(), rec, deltaChannel(
		domain.StreamDelta{Content: "Hi, I'm gl"},
		domain.StreamDelta{Content: "m-5-fr"},
		domain.StreamDelta{Content: "ee and I run on Open"},
		domain.StreamDelta{Content: "Code."},
		domain.StreamDelta{FinishReason: domain.FinishStop, Done: true, Usage: &domain.Usage{TotalTokens: 9}},
	))
	require.NoError(t, err)
	assert.Equal(t, "Hi, I'm Sparkie and I run on Sparkie.", rec.text())
	assert.NotContains(t, rec.text(), "glm")
	assert.Equal(t, domain.FinishStop, res.FinishReason)
	assert.Equal(t, 9, res.Usage.TotalTokens)
	assert.Contains(t, res.Text, "glm-5-free", "the raw text is kept for logging")

	kinds := rec.kinds()
	assert.Equal(t, domain.FrameDone, kinds[len(kinds)-1])
	assert.Equal(t, 1, rec.count(domain.FrameDone))
}

func TestResponder_StreamExhaustionIsErrorFrame(t *testing.T) {
	r := NewResponder(0, nil)
	rec := &frameRecorder{}

	_, err := r.Stream(context.Background(), rec, deltaChannel(
		domain.StreamDelta{Content: exhaustedPrefix + "HTTP 503", FinishReason: domain.FinishError, Done: true},
	))
	require.NoError(t, err)
	assert.Equal(t, []domain.FrameKind{domain.FrameError}, rec.kinds())
	assert.True(t, strings.HasPrefix(rec.frames[0].Message, exhaustedPrefix))
}

func TestResponder_StreamEmptyGetsFallback(t *testing.T) {
	rec := &frameRecorder{}
	_, err := NewResponder(0, nil).Stream(context.Background(), rec, deltaChannel(domain.StreamDelta{Done: true}))
	require.NoError(t, err)
	assert.Equal(t, fallbackAnswer, rec.text())
}

func TestResponder_StreamContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	never := make(chan domain.StreamDelta)
	_, err := NewResponder(0, nil).Stream(ctx, &frameRecorder{}, never)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChunkText(t *testing.T) {
	assert.Nil(t, chunkText("", 3))
	assert.Equal(t, []string{"héл", "lo"}, chunkText("héлlo", 3))
	assert.Equal(t, []string{"abc"}, chunkText("abc", 10))
}
