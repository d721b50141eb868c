package model

import (
	"time"

	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

// Live channel event types pushed to operator websockets.
const (
	LiveEventNewMessage   = "new_message"
	LiveEventLeadAssigned = "lead_assigned"
	LiveEventMessageSent  = "message_sent"
	LiveEventError        = "error"
	LiveEventPong         = "pong"
)

// MessageView is the wire form of a message on the live channel and the API.
type MessageView struct {
	ID        uint       `json:"id"`
	LeadID    uint       `json:"lead_id,omitempty"`
	Text      string     `json:"text"`
	Sender    SenderRole `json:"sender"`
	CreatedAt string     `json:"created_at"`
}

func NewMessageView(m *Message) MessageView {
	return MessageView{
		ID:        m.ID,
		LeadID:    m.LeadID,
		Text:      m.Text,
		Sender:    m.Sender,
		CreatedAt: utils.FormatISO8601(m.CreatedAt),
	}
}

// LiveEvent is one frame written to an operator connection.
type LiveEvent struct {
	Type    string       `json:"type"`
	LeadID  uint         `json:"lead_id,omitempty"`
	Message *MessageView `json:"message,omitempty"`
	Lead    *Lead        `json:"lead,omitempty"`
}

func NewMessageEvent(m *Message) LiveEvent {
	view := NewMessageView(m)
	view.LeadID = 0
	return LiveEvent{Type: LiveEventNewMessage, LeadID: m.LeadID, Message: &view}
}

func NewLeadAssignedEvent(l *Lead) LiveEvent {
	return LiveEvent{Type: LiveEventLeadAssigned, LeadID: l.ID, Lead: l}
}

// Domain event types published on NATS for downstream consumers.
const (
	DomainEventLeadCreated   = "lead.created"
	DomainEventLeadMessage   = "lead.message"
	DomainEventStatusChanged = "lead.status"
)

// DomainEvent is a lead lifecycle fact published after commit.
type DomainEvent struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	LeadID     uint         `json:"lead_id"`
	ProjectID  uint         `json:"project_id"`
	OperatorID uint         `json:"operator_id"`
	Status     LeadStatus   `json:"status"`
	Message    *MessageView `json:"message,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}
