package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrOrderNotFound is returned when an order ID does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderNotActive is returned by CAS writes when the order left
	// the ACTIVE state between read and write. Callers treat it as
	// "no longer ours to touch", not as a failure.
	ErrOrderNotActive = errors.New("order is not active")

	// ErrNotOrderOwner is returned when a user acts on someone else's order.
	ErrNotOrderOwner = errors.New("order belongs to another user")

	// ErrPriceUnavailable marks a transient price lookup failure. The
	// scheduler skips the instrument for the cycle and never surfaces
	// this to the user.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrWalletNotFound is returned when a user has no wallet on record.
	ErrWalletNotFound = errors.New("wallet not found")
)

// ValidationError reports malformed or out-of-range order input. It is
// returned synchronously to the caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a single input field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientBalanceError is returned at intake when a sell order
// exceeds the user's holdings of the token.
type InsufficientBalanceError struct {
	TokenSymbol string
	Required    decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s %s, available %s",
		e.Required.String(), e.TokenSymbol, e.Available.String())
}

// IsValidationError reports whether err is an intake validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInsufficientBalance reports whether err is a balance sufficiency error.
func IsInsufficientBalance(err error) bool {
	var ie *InsufficientBalanceError
	return errors.As(err, &ie)
}
