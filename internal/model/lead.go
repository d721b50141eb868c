package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// SenderRole identifies who wrote a message.
type SenderRole string

const (
	SenderLead SenderRole = "lead"
	// SenderOperator is stored and sent as "manager", not "operator": the
	// operator clients, the REST history and the lead.message events all read
	// that value.
	SenderOperator SenderRole = "manager"
)

// StartMarker is the text Telegram sends when a user opens a bot.
const StartMarker = "/start"

// Lead is one conversation with an external Telegram chat, owned by a bot and
// assigned to exactly one operator.
type Lead struct {
	ID                 uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	TelegramChatID     int64          `json:"telegram_chat_id" gorm:"column:telegram_chat_id;uniqueIndex;not null"`
	TelegramUsername   string         `json:"telegram_username,omitempty" gorm:"column:telegram_username"`
	FirstName          string         `json:"first_name,omitempty" gorm:"column:first_name"`
	LastName           string         `json:"last_name,omitempty" gorm:"column:last_name"`
	BotID              uint           `json:"bot_id" gorm:"column:bot_id;index;not null"`
	ProjectID          uint           `json:"project_id" gorm:"column:project_id;index;not null"`
	AssignedOperatorID uint           `json:"assigned_manager_id" gorm:"column:assigned_operator_id;index;not null"`
	Status             LeadStatus     `json:"status" gorm:"column:status;type:varchar(20);index;not null;default:new"`
	Profile            datatypes.JSON `json:"profile,omitempty" gorm:"type:jsonb;column:profile"`
	CreatedAt          time.Time      `json:"created_at" gorm:"column:created_at;not null"`
	LastUpdatedAt      time.Time      `json:"last_updated_at" gorm:"column:last_updated_at;not null"`
	ClosedAt           *time.Time     `json:"closed_at,omitempty" gorm:"column:closed_at"`
}

func (Lead) TableName(namer schema.Namer) string {
	return namer.TableName("leads")
}

// Apply moves the lead through event at time now and reports whether any
// persisted field changed. Timestamps follow the status: last_updated_at
// moves only when the event is accepted on an open lead, closed_at is set
// exactly when the lead becomes closed.
func (l *Lead) Apply(event LifecycleEvent, now time.Time) (bool, error) {
	next, err := Transition(l.Status, event)
	if err != nil {
		return false, err
	}
	if l.Status.IsClosed() {
		return false, nil
	}

	l.Status = next
	if now.After(l.LastUpdatedAt) {
		l.LastUpdatedAt = now
	}
	if next.IsClosed() {
		closedAt := l.LastUpdatedAt
		l.ClosedAt = &closedAt
	}
	return true, nil
}

// DisplayName is the best human label Telegram gave us for the contact.
func (l *Lead) DisplayName() string {
	switch {
	case l.FirstName != "" && l.LastName != "":
		return l.FirstName + " " + l.LastName
	case l.FirstName != "":
		return l.FirstName
	case l.TelegramUsername != "":
		return "@" + l.TelegramUsername
	}
	return ""
}

// Message is one immutable entry of a lead's conversation.
type Message struct {
	ID        uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	LeadID    uint       `json:"lead_id" gorm:"column:lead_id;index;not null"`
	Sender    SenderRole `json:"sender" gorm:"column:sender;type:varchar(20);not null"`
	Text      string     `json:"text" gorm:"column:text;type:text;not null"`
	CreatedAt time.Time  `json:"created_at" gorm:"column:created_at;index;not null"`
}

func (Message) TableName(namer schema.Namer) string {
	return namer.TableName("messages")
}
