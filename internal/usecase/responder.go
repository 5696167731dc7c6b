package usecase

import (
	"context"
	"fmt"
	"strings"

	"sparkie/internal/domain"
)

const defaultChunkSize = 80

// fallbackAnswer is sent when a turn produced no text at all.
const fallbackAnswer = "I couldn't put together an answer this time. Please try again."

// Reply is the outcome of one turn, ready to be framed.
type Reply struct {
	Text     string
	Media    []domain.MediaRef
	Statuses []string
	Task     *domain.PendingTask
}

// Responder turns replies into the outbound frame sequence. A stream is
// status* followed by either task, or delta+ then done, or error.
type Responder struct {
	chunkSize int
	sanitizer *Sanitizer
}

// NewResponder creates a responder. A chunkSize of 0 uses the default.
func NewResponder(chunkSize int, sanitizer *Sanitizer) *Responder {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if sanitizer == nil {
		sanitizer = NewSanitizer(nil)
	}
	return &Responder{chunkSize: chunkSize, sanitizer: sanitizer}
}

// Frames returns the full frame sequence for r.
func (rs *Responder) Frames(r Reply) []domain.Frame {
	frames := make([]domain.Frame, 0, len(r.Statuses)+4)
	for _, s := range r.Statuses {
		frames = append(frames, StatusFrame(s))
	}
	return append(frames, rs.body(r)...)
}

// body is the task frame, or the deltas and the done frame.
func (rs *Responder) body(r Reply) []domain.Frame {
	if r.Task != nil {
		return []domain.Frame{{Kind: domain.FrameTask, Task: r.Task}}
	}

	text := strings.TrimSpace(rs.sanitizer.Replace(r.Text))
	if text == "" && len(r.Media) == 0 {
		text = fallbackAnswer
	}

	var frames []domain.Frame
	for _, chunk := range chunkText(text, rs.chunkSize) {
		frames = append(frames, domain.Frame{Kind: domain.FrameDelta, Content: chunk})
	}
	for _, m := range r.Media {
		frames = append(frames, domain.Frame{Kind: domain.FrameDelta, Content: mediaBlock(m, text == "" && len(frames) == 0)})
	}
	return append(frames, domain.Frame{Kind: domain.FrameDone})
}

// Finish writes the body of r. Statuses are expected to have been written
// already as they happened.
func (rs *Responder) Finish(w domain.FrameWriter, r Reply) error {
	for _, f := range rs.body(r) {
		if err := w.WriteFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// Status writes one status frame. An empty message is skipped.
func (rs *Responder) Status(w domain.FrameWriter, msg string) error {
	if msg == "" {
		return nil
	}
	return w.WriteFrame(StatusFrame(msg))
}

// Error writes the terminal error frame.
func (rs *Responder) Error(w domain.FrameWriter, msg string) error {
	return w.WriteFrame(domain.Frame{Kind: domain.FrameError, Message: rs.sanitizer.Replace(msg)})
}

// StatusFrame builds a status frame.
func StatusFrame(msg string) domain.Frame {
	return domain.Frame{Kind: domain.FrameStatus, Message: msg}
}

// StreamResult summarizes a relayed model stream.
type StreamResult struct {
	Text         string
	FinishReason string
	Usage        domain.Usage
}

// Stream relays model deltas as delta frames, sanitizing across chunk
// boundaries, and ends with done. A stream that ends with finish reason
// "error" before any text was sent becomes an error frame instead.
func (rs *Responder) Stream(ctx context.Context, w domain.FrameWriter, deltas <-chan domain.StreamDelta) (StreamResult, error) {
	acc := newStreamAccumulator()
	san := rs.sanitizer.Stream()
	var finish string
	sent := false

	emit := func(text string) error {
		for _, chunk := range chunkText(text, rs.chunkSize) {
			if err := w.WriteFrame(domain.Frame{Kind: domain.FrameDelta, Content: chunk}); err != nil {
				return err
			}
			sent = true
		}
		return nil
	}

loop:
	for {
		select {
		case <-ctx.Done():
			return acc.result(finish), ctx.Err()
		case d, ok := <-deltas:
			if !ok {
				break loop
			}
			acc.addDelta(d)
			if d.FinishReason != "" {
				finish = d.FinishReason
			}
			if finish == domain.FinishError && !sent {
				return acc.result(finish), rs.Error(w, acc.content.String())
			}
			if err := emit(san.Push(d.Content)); err != nil {
				return acc.result(finish), err
			}
			if d.Done {
				break loop
			}
		}
	}

	if err := emit(san.Flush()); err != nil {
		return acc.result(finish), err
	}
	res := acc.result(finish)
	if !sent {
		if err := emit(fallbackAnswer); err != nil {
			return res, err
		}
	}
	return res, w.WriteFrame(domain.Frame{Kind: domain.FrameDone})
}

// chunkText splits text into pieces of at most size runes.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/size+1)
	for len(runes) > 0 {
		n := min(size, len(runes))
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}

// mediaBlock renders one media reference as a markdown block.
func mediaBlock(m domain.MediaRef, first bool) string {
	var block string
	switch m.Kind {
	case domain.MediaImage:
		block = fmt.Sprintf("![image](%s)", m.URL)
	case domain.MediaVideo:
		block = fmt.Sprintf("[Watch the video](%s)", m.URL)
	case domain.MediaAudio:
		block = fmt.Sprintf("[Listen to the audio](%s)", m.URL)
	default:
		block = m.URL
	}
	if first {
		return block
	}
	return "\n\n" + block
}

// streamAccumulator collects deltas into the complete text.
type streamAccumulator struct {
	content strings.Builder
	usage   domain.Usage
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

func (acc *streamAccumulator) addDelta(d domain.StreamDelta) {
	acc.content.WriteString(d.Content)
	if d.Usage != nil {
		acc.usage = *d.Usage
	}
}

func (acc *streamAccumulator) result(finish string) StreamResult {
	return StreamResult{Text: acc.content.String(), FinishReason: finish, Usage: acc.usage}
}
