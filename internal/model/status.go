package model

import (
	"fmt"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
)

// LeadStatus is the lifecycle state of a lead.
type LeadStatus string

const (
	LeadStatusNew        LeadStatus = "new"
	LeadStatusRead       LeadStatus = "read"
	LeadStatusInProgress LeadStatus = "in_progress"
	LeadStatusClosed     LeadStatus = "closed"
)

// AllLeadStatuses lists every status in lifecycle order.
var AllLeadStatuses = []LeadStatus{LeadStatusNew, LeadStatusRead, LeadStatusInProgress, LeadStatusClosed}

func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusNew, LeadStatusRead, LeadStatusInProgress, LeadStatusClosed:
		return true
	}
	return false
}

func (s LeadStatus) IsClosed() bool {
	return s == LeadStatusClosed
}

// LifecycleEvent is something that happens to a lead and may move its status.
type LifecycleEvent string

const (
	EventInboundMessage LifecycleEvent = "inbound_message"
	EventMarkRead       LifecycleEvent = "mark_read"
	EventOperatorSend   LifecycleEvent = "operator_send"
	EventClose          LifecycleEvent = "close"
)

var AllLifecycleEvents = []LifecycleEvent{EventInboundMessage, EventMarkRead, EventOperatorSend, EventClose}

// Transition returns the status a lead moves to when event happens in status
// from. It is the only place status rules live.
//
// Any inbound message re-flags an open lead as new. A closed lead never
// reopens implicitly: inbound messages and repeated closes leave it closed,
// reads are rejected with ErrInvalidTransition and operator sends with
// ErrLeadClosed.
func Transition(from LeadStatus, event LifecycleEvent) (LeadStatus, error) {
	if !from.Valid() {
		return from, fmt.Errorf("%w: unknown status %q", apperrors.ErrInvalidTransition, from)
	}

	if from == LeadStatusClosed {
		switch event {
		case EventInboundMessage, EventClose:
			return LeadStatusClosed, nil
		case EventMarkRead:
			return from, fmt.Errorf("%w: cannot mark a closed lead as read", apperrors.ErrInvalidTransition)
		case EventOperatorSend:
			return from, apperrors.ErrLeadClosed
		}
		return from, fmt.Errorf("%w: unknown event %q", apperrors.ErrInvalidTransition, event)
	}

	switch event {
	case EventInboundMessage:
		return LeadStatusNew, nil
	case EventMarkRead:
		return LeadStatusRead, nil
	case EventOperatorSend:
		return LeadStatusInProgress, nil
	case EventClose:
		return LeadStatusClosed, nil
	}
	return from, fmt.Errorf("%w: unknown event %q", apperrors.ErrInvalidTransition, event)
}
