/*
errors.go - Centralized error types for the finance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure raised inside a storage transaction rolls the whole
  transaction back, audit write included.

ERROR CATEGORIES:
  1. Validation   - Malformed input, overlapping locks, overpayment
  2. Not found    - Missing invoice/payment/txn/account/lock
  3. State        - Wrong approval status, role separation violations
  4. Balance      - Cash/bank balance would go negative
  5. Period       - Date falls inside a locked range
  6. Account      - Cash/bank account is inactive

USAGE:
  Match with errors.Is against the sentinels, or errors.As against the
  structured types to read the context (lock range, shortfall, ...):

    var locked *finance.PeriodLockedError
    if errors.As(err, &locked) {
        fmt.Println(locked.Start, locked.End, locked.Reason)
    }

SEE ALSO:
  - api/errors.go: Maps these to HTTP status codes
*/
package finance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidStateTransition is returned for illegal workflow moves,
	// including self-check and checker-approves violations.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrInsufficientBalance is returned when a delta would take a
	// cash/bank balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrPeriodLocked is returned when a date falls inside a period lock.
	ErrPeriodLocked = errors.New("period locked")

	// ErrAccountInactive is returned when posting to a deactivated account.
	ErrAccountInactive = errors.New("account inactive")

	// ErrOverlappingLock is returned when a new lock intersects an existing one.
	// It is a validation failure.
	ErrOverlappingLock = fmt.Errorf("overlapping period lock: %w", ErrValidation)

	// ErrDuplicate is returned when a unique key (account code, ...) already exists.
	ErrDuplicate = errors.New("duplicate record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError. Stores use it so callers can match
// on ErrNotFound regardless of backend.
func NotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// InvalidTransitionError describes a rejected state change.
type InvalidTransitionError struct {
	Entity string
	ID     string
	Action string
	From   string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s (status %s): %s", e.Action, e.Entity, e.ID, e.From, e.Reason)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID CashBankAccountID
	Balance   Money
	Requested Money
	Shortfall Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: balance %d, requested %d, shortfall %d",
		e.AccountID, e.Balance, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// PeriodLockedError carries the offending lock's range and reason for display.
type PeriodLockedError struct {
	LockID PeriodLockID
	Date   Date
	Start  Date
	End    Date
	Reason string
}

func (e *PeriodLockedError) Error() string {
	return fmt.Sprintf("period locked: %s falls in [%s, %s] (%s)", e.Date, e.Start, e.End, e.Reason)
}

func (e *PeriodLockedError) Unwrap() error { return ErrPeriodLocked }

// AccountInactiveError names the deactivated account.
type AccountInactiveError struct {
	AccountID CashBankAccountID
}

func (e *AccountInactiveError) Error() string {
	return fmt.Sprintf("cash/bank account %s is inactive", e.AccountID)
}

func (e *AccountInactiveError) Unwrap() error { return ErrAccountInactive }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a business rule rejection rather than an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrPeriodLocked) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrDuplicate)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
