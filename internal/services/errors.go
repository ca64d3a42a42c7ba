// Package services defines the business logic for buddy connections and
// shared tables. This file centralizes service-level error values so that they
// can be consistently returned by service methods and checked by callers.
//
// Errors come in two levels. Category sentinels (ErrValidation, ErrNotFound,
// ...) describe how a failure should be treated; specific errors wrap exactly
// one category, so errors.Is works against either. Translation into HTTP status
// codes is performed at the handler layer.
package services

import (
	"errors"
	"fmt"
)

// Categories.
var (
	// ErrValidation marks bad input shape or values. Not retried.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing row.
	ErrNotFound = errors.New("not found")
	// ErrPermission marks a role or membership mismatch.
	ErrPermission = errors.New("permission denied")
	// ErrInvalidState marks a transition that is not legal from the current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrDuplicateConnection marks a second connection for the same pair of users.
	ErrDuplicateConnection = errors.New("connection already exists")
	// ErrConflict marks a lost update. Safe to retry after a fresh read.
	ErrConflict = errors.New("conflict")
	// ErrExternalService marks a failure of a collaborator outside this process.
	ErrExternalService = errors.New("external service error")
)

// Buddy graph errors.
var (
	ErrUserNotFound       = fmt.Errorf("user not found: %w", ErrNotFound)
	ErrSelfRequest        = fmt.Errorf("cannot send a buddy request to yourself: %w", ErrValidation)
	ErrConnectionNotFound = fmt.Errorf("connection not found: %w", ErrNotFound)
	ErrNotRecipient       = fmt.Errorf("only the recipient can answer this request: %w", ErrPermission)
	ErrNotSender          = fmt.Errorf("only the sender can cancel this request: %w", ErrPermission)
	ErrNotConnected       = fmt.Errorf("not a party to this connection: %w", ErrPermission)
	ErrNotPending         = fmt.Errorf("request is no longer pending: %w", ErrInvalidState)
)

// ErrUsernameTaken reports a new identity whose username another user holds.
var ErrUsernameTaken = fmt.Errorf("username belongs to another identity: %w", ErrConflict)

// Table ledger errors.
var (
	ErrTableNotFound   = fmt.Errorf("table not found: %w", ErrNotFound)
	ErrItemNotFound    = fmt.Errorf("item not found: %w", ErrNotFound)
	ErrNotParticipant  = fmt.Errorf("not a participant of this table: %w", ErrPermission)
	ErrNotCreator      = fmt.Errorf("only the table creator can do this: %w", ErrPermission)
	ErrTableClosed     = fmt.Errorf("table is closed: %w", ErrInvalidState)
	ErrVersionMismatch = fmt.Errorf("item was modified concurrently: %w", ErrConflict)
)

// invalid builds a validation error with detail.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// resultLabel maps an outcome to a bounded metric label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrDuplicateConnection):
		return "duplicate"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
