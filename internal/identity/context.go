package identity

import (
	"context"
	"errors"
)

type contextKey string

const (
	identityKey  contextKey = "identity"
	requestIDKey contextKey = "requestID"
)

// Role names as stored in operators.role.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
)

var (
	ErrNoIdentityInContext  = errors.New("no identity found in context")
	ErrNoRequestIDInContext = errors.New("no request ID found in context")
)

// Identity is the authenticated caller of an operator-facing operation.
type Identity struct {
	OperatorID uint
	Username   string
	Role       string
}

// IsAdmin reports whether the identity holds the elevated role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanAct reports whether the identity may act on a lead assigned to operatorID.
func (i Identity) CanAct(assignedOperatorID uint) bool {
	return i.IsAdmin() || (i.Role == RoleManager && i.OperatorID == assignedOperatorID)
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func FromContext(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id.OperatorID == 0 {
		return Identity{}, ErrNoIdentityInContext
	}
	return id, nil
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}
