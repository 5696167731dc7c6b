package domain

import "encoding/json"

// FrameKind identifies an outbound stream frame.
type FrameKind string

const (
	FrameStatus FrameKind = "status"
	FrameDelta  FrameKind = "delta"
	FrameTask   FrameKind = "task"
	FrameDone   FrameKind = "done"
	FrameError  FrameKind = "error"
)

// StreamTerminator is the fixed sentinel written after the last frame.
const StreamTerminator = "[DONE]"

// Frame is one event of the outbound streaming protocol.
type Frame struct {
	Kind    FrameKind
	Message string
	Content string
	Task    *PendingTask
}

// MarshalJSON encodes the frame in its wire shape:
// status{message}, delta{content}, task{id, action, label, payload}, done{}, error{message}.
func (f Frame) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case FrameStatus, FrameError:
		return json.Marshal(struct {
			Event   FrameKind `json:"event"`
			Message string    `json:"message"`
		}{f.Kind, f.Message})
	case FrameDelta:
		return json.Marshal(struct {
			Event   FrameKind `json:"event"`
			Content string    `json:"content"`
		}{f.Kind, f.Content})
	case FrameTask:
		var t PendingTask
		if f.Task != nil {
			t = *f.Task
		}
		payload := t.Payload
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		return json.Marshal(struct {
			Event   FrameKind       `json:"event"`
			ID      string          `json:"id"`
			Action  string          `json:"action"`
			Label   string          `json:"label"`
			Payload json.RawMessage `json:"payload"`
		}{f.Kind, t.ID, t.Action, t.Label, payload})
	default:
		return json.Marshal(struct {
			Event FrameKind `json:"event"`
		}{f.Kind})
	}
}

// FrameWriter receives frames in order. Implementations must not reorder.
type FrameWriter interface {
	WriteFrame(f Frame) error
}
