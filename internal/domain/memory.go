package domain

import (
	"context"
	"time"
)

// MemoryEntry is a single remembered fact about a user.
type MemoryEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultMemoryCategory is used when a save does not name a category.
const DefaultMemoryCategory = "general"

// MemoryProvider is the long-term user memory backend.
type MemoryProvider interface {
	// Load returns the user's memories relevant to queryHint, formatted as text.
	// An empty string means nothing is known.
	Load(ctx context.Context, userID, queryHint string) (string, error)
	// Save stores content for the user. Saving content similar to an existing
	// entry is a no-op and reports saved=false.
	Save(ctx context.Context, userID, category, content string) (saved bool, err error)
}
