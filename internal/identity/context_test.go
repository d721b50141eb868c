package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{OperatorID: 7, Username: "alice", Role: RoleManager})

	got, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(7), got.OperatorID)
	assert.Equal(t, "alice", got.Username)

	_, err = FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentityInContext)
}

func TestCanAct(t *testing.T) {
	tests := []struct {
		name     string
		id       Identity
		assigned uint
		expected bool
	}{
		{name: "assigned manager", id: Identity{OperatorID: 3, Role: RoleManager}, assigned: 3, expected: true},
		{name: "other manager", id: Identity{OperatorID: 4, Role: RoleManager}, assigned: 3, expected: false},
		{name: "admin bypass", id: Identity{OperatorID: 1, Role: RoleAdmin}, assigned: 3, expected: true},
		{name: "unknown role", id: Identity{OperatorID: 3, Role: "viewer"}, assigned: 3, expected: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.id.CanAct(tc.assigned))
		})
	}
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	id, err := RequestIDFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)

	_, err = RequestIDFromContext(WithRequestID(context.Background(), ""))
	assert.ErrorIs(t, err, ErrNoRequestIDInContext)
}
