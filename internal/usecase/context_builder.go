package usecase

import (
	"strings"
	"time"

	"sparkie/internal/domain"
)

// TokenCounter estimates the prompt size of a message list.
type TokenCounter interface {
	CountMessages(msgs []domain.Message) int
}

// ContextBuilder constructs the message list of the first agent round.
type ContextBuilder struct {
	systemPrompt string
	maxMessages  int
	maxTokens    int
	counter      TokenCounter
	now          func() time.Time
}

// NewContextBuilder creates a context builder. maxMessages and maxTokens of 0
// disable the respective limit; a nil counter disables the token limit.
func NewContextBuilder(systemPrompt string, maxMessages, maxTokens int, counter TokenCounter) *ContextBuilder {
	return &ContextBuilder{
		systemPrompt: systemPrompt,
		maxMessages:  maxMessages,
		maxTokens:    maxTokens,
		counter:      counter,
		now:          time.Now,
	}
}

// SystemPrompt assembles the system message content from the base prompt,
// the user's memory and an optional plan.
func (cb *ContextBuilder) SystemPrompt(memory string, plan *domain.ExecutionPlan) string {
	var sb strings.Builder
	sb.WriteString(cb.systemPrompt)
	sb.WriteString("\n\nToday is ")
	sb.WriteString(cb.now().Format("Monday, 2 January 2006"))
	sb.WriteByte('.')

	if memory = strings.TrimSpace(memory); memory != "" {
		sb.WriteString("\n\n## What you know about the user\n")
		sb.WriteString(memory)
	}
	if plan != nil {
		sb.WriteString("\n\n## Plan\nFollow this plan, adapting it if a step fails:\n")
		sb.WriteString(plan.Render())
	}
	return sb.String()
}

// Build returns the system message followed by the repaired and truncated
// history. The latest user message is always kept.
func (cb *ContextBuilder) Build(system string, history []domain.Message) []domain.Message {
	sysMsg := domain.Message{Role: domain.RoleSystem, Content: system}

	hist := RepairTranscript(history)
	hist = cb.truncateHistory(hist)
	hist = cb.fitTokens(sysMsg, hist)

	messages := make([]domain.Message, 0, 1+len(hist))
	messages = append(messages, sysMsg)
	return append(messages, hist...)
}

// truncateHistory keeps the newest message groups that fit maxMessages.
func (cb *ContextBuilder) truncateHistory(history []domain.Message) []domain.Message {
	if cb.maxMessages <= 0 || len(history) <= cb.maxMessages {
		return history
	}
	count := func(g []domain.Message) int { return len(g) }
	return keepNewestGroups(groupMessages(history), count, cb.maxMessages)
}

// fitTokens drops the oldest groups until the prompt fits maxTokens.
func (cb *ContextBuilder) fitTokens(system domain.Message, history []domain.Message) []domain.Message {
	if cb.counter == nil || cb.maxTokens <= 0 {
		return history
	}
	budget := cb.maxTokens - cb.counter.CountMessages([]domain.Message{system})
	return keepNewestGroups(groupMessages(history), cb.counter.CountMessages, budget)
}

// keepNewestGroups keeps groups from the newest backwards while their summed
// size stays within limit. The newest group is kept unconditionally.
func keepNewestGroups(groups [][]domain.Message, size func([]domain.Message) int, limit int) []domain.Message {
	start := len(groups)
	used, total := 0, 0
	for i := len(groups) - 1; i >= 0; i-- {
		n := size(groups[i])
		if used+n > limit && start < len(groups) {
			break
		}
		start = i
		used += n
		total += len(groups[i])
	}

	out := make([]domain.Message, 0, total)
	for _, g := range groups[start:] {
		out = append(out, g...)
	}
	return out
}
