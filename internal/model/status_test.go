package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/timkado/api/leads-router/internal/apperrors"
)

func TestTransitionTable(t *testing.T) {
	type outcome struct {
		to  LeadStatus
		err error
	}

	table := map[LeadStatus]map[LifecycleEvent]outcome{
		LeadStatusNew: {
			EventInboundMessage: {to: LeadStatusNew},
			EventMarkRead:       {to: LeadStatusRead},
			EventOperatorSend:   {to: LeadStatusInProgress},
			EventClose:          {to: LeadStatusClosed},
		},
		LeadStatusRead: {
			EventInboundMessage: {to: LeadStatusNew},
			EventMarkRead:       {to: LeadStatusRead},
			EventOperatorSend:   {to: LeadStatusInProgress},
			EventClose:          {to: LeadStatusClosed},
		},
		LeadStatusInProgress: {
			EventInboundMessage: {to: LeadStatusNew},
			EventMarkRead:       {to: LeadStatusRead},
			EventOperatorSend:   {to: LeadStatusInProgress},
			EventClose:          {to: LeadStatusClosed},
		},
		LeadStatusClosed: {
			EventInboundMessage: {to: LeadStatusClosed},
			EventMarkRead:       {err: apperrors.ErrInvalidTransition},
			EventOperatorSend:   {err: apperrors.ErrLeadClosed},
			EventClose:          {to: LeadStatusClosed},
		},
	}

	// Every (status, event) pair must be covered.
	for _, from := range AllLeadStatuses {
		for _, event := range AllLifecycleEvents {
			want, ok := table[from][event]
			require.Truef(t, ok, "missing expectation for %s/%s", from, event)

			t.Run(string(from)+"/"+string(event), func(t *testing.T) {
				got, err := Transition(from, event)
				if want.err != nil {
					assert.ErrorIs(t, err, want.err)
					assert.Equal(t, from, got, "rejected transition must not change status")
					return
				}
				require.NoError(t, err)
				assert.Equal(t, want.to, got)
			})
		}
	}
}

func TestTransitionUnknownInputs(t *testing.T) {
	_, err := Transition("archived", EventClose)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = Transition(LeadStatusNew, "reopen")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = Transition(LeadStatusClosed, "reopen")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestInboundNeverReopens(t *testing.T) {
	status := LeadStatusClosed
	for i := 0; i < 3; i++ {
		next, err := Transition(status, EventInboundMessage)
		require.NoError(t, err)
		status = next
	}
	assert.Equal(t, LeadStatusClosed, status)
}
