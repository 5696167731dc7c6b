package taskstore

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"sparkie/internal/domain"
)

// normalizeTask fills defaults and validates the record before insert.
func normalizeTask(t domain.PendingTask) (domain.PendingTask, error) {
	if t.Action == "" || t.Executor == "" {
		return t, domain.NewSubSystemError("taskstore", "Create", domain.ErrInvalidInput, "action and executor are required")
	}
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if len(t.Payload) == 0 {
		t.Payload = json.RawMessage(`{}`)
	} else if !json.Valid(t.Payload) {
		return t, domain.NewSubSystemError("taskstore", "Create", domain.ErrInvalidInput, "payload is not valid JSON")
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return t, nil
}
