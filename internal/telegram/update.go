package telegram

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Update is the Telegram Bot API webhook payload. Only message updates are
// processed; every other update kind (edits, channel posts, callback
// queries) is not actionable for this bot.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      *Chat  `json:"chat,omitempty"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

// IncomingMessage is the validated, normalized form handed to the
// orchestrator. Telegram's numeric ids are rendered as strings so the rest
// of the system stays transport-agnostic.
type IncomingMessage struct {
	ChatID   int64
	SenderID string
	Handle   string
	Text     string
}

// ErrNotJSON distinguishes a body that failed to decode from a well-formed
// update that simply isn't a text message. Both outcomes are acknowledged
// identically upstream; the distinction exists for operator logs only.
type ErrNotJSON struct{ Err error }

func (e *ErrNotJSON) Error() string { return "telegram: decode update: " + e.Err.Error() }
func (e *ErrNotJSON) Unwrap() error { return e.Err }

// ParseIncoming decodes a webhook body and reports whether it carries an
// actionable text message. A missing chat id, sender id, or empty text means
// "not actionable", never an error.
func ParseIncoming(raw []byte) (IncomingMessage, bool, error) {
	var u Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return IncomingMessage{}, false, &ErrNotJSON{Err: err}
	}

	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID == 0 || msg.From == nil || msg.From.ID == 0 {
		return IncomingMessage{}, false, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return IncomingMessage{}, false, nil
	}

	return IncomingMessage{
		ChatID:   msg.Chat.ID,
		SenderID: strconv.FormatInt(msg.From.ID, 10),
		Handle:   msg.From.Username,
		Text:     text,
	}, true, nil
}
