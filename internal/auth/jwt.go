package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/identity"
	"gitlab.com/timkado/api/leads-router/internal/model"
)

var (
	// ErrMissingToken means no credentials were presented at all.
	ErrMissingToken = fmt.Errorf("%w: missing token", apperrors.ErrUnauthorized)
	// ErrInvalidToken covers bad signatures, expiry and malformed claims.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	// ErrInactiveOperator is a valid token for an account that may not act.
	ErrInactiveOperator = fmt.Errorf("%w: operator inactive or unknown", apperrors.ErrUnauthorized)
)

// OperatorFinder resolves the subject of a token.
type OperatorFinder interface {
	FindOperatorByUsername(ctx context.Context, username string) (*model.Operator, error)
}

// Authenticator verifies HMAC-signed access tokens whose subject is an
// operator username, then loads the operator to learn role and status.
type Authenticator struct {
	secret    []byte
	method    jwt.SigningMethod
	operators OperatorFinder
}

func NewAuthenticator(secret, algorithm string, operators OperatorFinder) *Authenticator {
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		method = jwt.SigningMethodHS256
	}
	return &Authenticator{secret: []byte(secret), method: method, operators: operators}
}

// ParseSubject validates the signature and expiry and returns "sub".
func (a *Authenticator) ParseSubject(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrMissingToken
	}
	parsed, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{a.method.Alg()}))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// Authenticate turns a raw token into the acting identity.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (identity.Identity, error) {
	username, err := a.ParseSubject(raw)
	if err != nil {
		return identity.Identity{}, err
	}

	op, err := a.operators.FindOperatorByUsername(ctx, username)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return identity.Identity{}, ErrInactiveOperator
		}
		return identity.Identity{}, err
	}
	if !op.IsActive {
		return identity.Identity{}, ErrInactiveOperator
	}
	if op.Role != identity.RoleAdmin && op.Role != identity.RoleManager {
		return identity.Identity{}, fmt.Errorf("%w: role %q", apperrors.ErrForbidden, op.Role)
	}

	return identity.Identity{OperatorID: op.ID, Username: op.Username, Role: op.Role}, nil
}

// Mint issues a token for username, used by local tooling.
func (a *Authenticator) Mint(username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(a.method, claims).SignedString(a.secret)
}
