package model

import (
	"strings"
)

// Update is the subset of a Telegram Bot API update the router consumes.
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty" validate:"omitempty"`
}

type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	Date      int64         `json:"date"`
	Chat      TelegramChat  `json:"chat" validate:"required"`
	From      *TelegramUser `json:"from,omitempty"`
	Text      string        `json:"text"`
}

type TelegramChat struct {
	ID   int64  `json:"id" validate:"required"`
	Type string `json:"type,omitempty"`
}

type TelegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// SenderProfile is what the router keeps about the person behind a chat.
type SenderProfile struct {
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Profile extracts the sender profile, tolerating a missing "from".
func (m *TelegramMessage) Profile() SenderProfile {
	if m.From == nil {
		return SenderProfile{}
	}
	return SenderProfile{Username: m.From.Username, FirstName: m.From.FirstName, LastName: m.From.LastName}
}

// IsStart reports whether the message opens a conversation.
func (m *TelegramMessage) IsStart() bool {
	return strings.HasPrefix(m.Text, StartMarker)
}
