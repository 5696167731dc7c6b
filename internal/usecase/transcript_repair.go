package usecase

import (
	"sparkie/internal/domain"
)

// RepairTranscript makes client-supplied history safe to send to a provider.
// Providers reject transcripts whose tool chains are broken, so:
//  1. tool messages that do not answer a call from the preceding assistant
//     message are dropped;
//  2. calls that never received a result are removed from their assistant
//     message, and an assistant message left with neither calls nor content
//     is dropped.
//
// System messages are dropped too: the system prompt is always rebuilt.
// The input is not modified.
func RepairTranscript(history []domain.Message) []domain.Message {
	if len(history) == 0 {
		return nil
	}

	out := make([]domain.Message, 0, len(history))
	for _, group := range groupMessages(history) {
		head := group[0]
		switch {
		case head.Role == domain.RoleSystem:
			continue
		case head.Role == domain.RoleTool:
			// Orphan: no assistant call precedes it.
			continue
		case head.Role == domain.RoleAssistant && len(head.ToolCalls) > 0:
			out = append(out, repairToolGroup(group)...)
		default:
			out = append(out, head)
		}
	}
	return out
}

// repairToolGroup keeps only the calls that were answered and the answers
// that match a call.
func repairToolGroup(group []domain.Message) []domain.Message {
	answered := make(map[string]bool, len(group)-1)
	for _, m := range group[1:] {
		if m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}

	assistant := group[0]
	calls := make([]domain.ToolCall, 0, len(assistant.ToolCalls))
	issued := make(map[string]bool, len(assistant.ToolCalls))
	for _, tc := range assistant.ToolCalls {
		if answered[tc.ID] && !issued[tc.ID] {
			calls = append(calls, tc)
			issued[tc.ID] = true
		}
	}
	assistant.ToolCalls = calls

	out := make([]domain.Message, 0, len(group))
	if len(calls) == 0 {
		if assistant.Content != "" {
			out = append(out, assistant)
		}
		return out
	}
	out = append(out, assistant)
	for _, m := range group[1:] {
		if issued[m.ToolCallID] {
			out = append(out, m)
			delete(issued, m.ToolCallID)
		}
	}
	return out
}

// groupMessages partitions messages into atomic groups. An assistant message
// with tool calls and the tool messages right after it form one group; every
// other message is a group of its own.
func groupMessages(msgs []domain.Message) [][]domain.Message {
	var groups [][]domain.Message
	i := 0
	for i < len(msgs) {
		msg := msgs[i]
		if msg.Role == domain.RoleAssistant && len(msg.ToolCalls) > 0 {
			group := []domain.Message{msg}
			j := i + 1
			for j < len(msgs) && msgs[j].Role == domain.RoleTool {
				group = append(group, msgs[j])
				j++
			}
			groups = append(groups, group)
			i = j
		} else {
			groups = append(groups, []domain.Message{msg})
			i++
		}
	}
	return groups
}
