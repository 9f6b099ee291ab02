package domain

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User is the per-sender quota record. SenderID is the stable Telegram user
// id rendered as a string; UsageCount only ever grows.
type User struct {
	SenderID   string
	Handle     string
	UsageCount int
}

// Turn is one persisted conversation message. Turns are immutable once
// written; CreatedAt is assigned by the store and orders the session.
type Turn struct {
	SenderID  string
	SessionID string
	Role      string
	Text      string
	CreatedAt time.Time
}
