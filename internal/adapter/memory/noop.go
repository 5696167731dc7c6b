package memory

import (
	"context"

	"sparkie/internal/domain"
)

// NoopMemory remembers nothing.
type NoopMemory struct{}

// NewNoopMemory creates a noop memory provider.
func NewNoopMemory() *NoopMemory { return &NoopMemory{} }

func (NoopMemory) Load(context.Context, string, string) (string, error) { return "", nil }

func (NoopMemory) Save(context.Context, string, string, string) (bool, error) { return false, nil }

var _ domain.MemoryProvider = NoopMemory{}
