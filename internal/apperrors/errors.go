package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError marks a failure that may succeed on redelivery.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err with a formatted message and marks it retryable.
func NewRetryable(err error, message string, args ...interface{}) error {
	return &RetryableError{Err: fmt.Errorf(message+": %w", append(args, err)...)}
}

// FatalError marks a failure that redelivery cannot fix.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps err with a formatted message and marks it fatal.
func NewFatal(err error, message string, args ...interface{}) error {
	return &FatalError{Err: fmt.Errorf(message+": %w", append(args, err)...)}
}

// Generic infrastructure conditions.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrDatabase     = errors.New("database error")
	ErrNATS         = errors.New("nats communication error")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrDuplicate    = errors.New("duplicate resource")
	ErrConflict     = errors.New("resource conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrTimeout      = errors.New("operation timeout")
)

// Lead routing conditions. Each one that is a specialisation of a generic
// condition wraps it, so errors.Is works against either.
var (
	ErrForbidden          = errors.New("access denied")
	ErrBotNotFound        = fmt.Errorf("bot %w", ErrNotFound)
	ErrLeadNotFound       = fmt.Errorf("lead %w", ErrNotFound)
	ErrInvalidTransition  = errors.New("invalid lead status transition")
	ErrLeadClosed         = errors.New("lead is closed")
	ErrNoEligibleOperator = errors.New("no eligible operator for project")
	ErrDeliveryFailed     = errors.New("message delivery failed")
	ErrDuplicateChatID    = fmt.Errorf("lead for chat id already exists: %w", ErrDuplicate)
)

func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabase)
}

func IsUnauthorizedError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

func IsBadRequestError(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func IsForbiddenError(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsLifecycleError reports whether err rejects an action because of the
// lead's current status.
func IsLifecycleError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrLeadClosed)
}

func IsNoEligibleOperatorError(err error) bool {
	return errors.Is(err, ErrNoEligibleOperator)
}

func IsDeliveryFailedError(err error) bool {
	return errors.Is(err, ErrDeliveryFailed)
}

func IsNATSError(err error) bool {
	return errors.Is(err, ErrNATS)
}
