package usecase

import (
	"telegram-agent/internal/domain"
)

// assembleContext maps stored history (oldest first) 1:1 into chat messages
// and appends the new inbound message as the final entry. No role remapping,
// no truncation: the history limit was already applied at fetch time.
func assembleContext(history []domain.Turn, newMessage string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, domain.ChatMessage{Role: t.Role, Content: t.Text})
	}
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: newMessage,
	})
	return messages
}

// chronological reverses a newest-first slice into oldest-first order, as
// the store returns turns in its native descending key order.
func chronological(turns []domain.Turn) []domain.Turn {
	out := make([]domain.Turn, len(turns))
	for i, t := range turns {
		out[len(turns)-1-i] = t
	}
	return out
}
