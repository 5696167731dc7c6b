package domain

import (
	"context"
	"encoding/json"
	"time"
)

// TaskStatus is the approval state of a PendingTask. The engine only ever
// creates tasks in TaskPending; transitions belong to the external store.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskApproved TaskStatus = "approved"
	TaskRejected TaskStatus = "rejected"
)

// PendingTask is a durable record of a queued, not-yet-approved irreversible action.
type PendingTask struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id,omitempty"`
	Action    string          `json:"action"`
	Label     string          `json:"label"`
	Payload   json.RawMessage `json:"payload"`
	Status    TaskStatus      `json:"status"`
	Executor  string          `json:"executor"`
	CreatedAt time.Time       `json:"created_at"`
}

// PendingTaskStore persists pending tasks. Create must be idempotent on ID.
type PendingTaskStore interface {
	Create(ctx context.Context, task PendingTask) (string, error)
}
