/*
errors.go - Centralized error types for the inventory engine

PURPOSE:
  All error categories in one place. Domain code wraps these sentinels
  with context; callers classify with errors.Is().

ERROR CATEGORIES:
  1. Ledger errors     - Duplicate operations, invariant violations
  2. Validation errors - Malformed input, illegal state transitions
  3. Lookup errors     - Missing orders, lines, fulfillments, locations

ALLOCATION SHORTFALL:
  A line that cannot be fully reserved is a normal result, never an
  error. ErrInsufficientStock is only used by explicit stock movements
  (transfers, negative adjustments) that cannot be honoured.

SEE ALSO:
  - projector.go: Raises InvariantViolationError
  - inventory/errors.go: Wraps these with order/fulfillment context
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateOperation is returned when an idempotency key was already
	// used. Callers replay the stored result instead of failing.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrInvariantViolation is returned when an entry would drive a balance
	// negative. The whole transaction is rolled back.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	// ErrInsufficientStock is returned when a stock movement needs more
	// available quantity than the location holds.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrIllegalStateTransition is returned when an operation is not allowed
	// in the current lifecycle state.
	ErrIllegalStateTransition = errors.New("illegal state transition")

	// ErrInvalidArgument is returned for malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvariantViolationError names the balance that would have gone negative.
type InvariantViolationError struct {
	Key     Key
	EntryID EntryID
	Kind    Kind
	Field   string // "on_hand", "reserved" or "on_order"
	Current decimal.Decimal
	Delta   decimal.Decimal
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("ledger invariant violation: %s %s would become %s (current %s, %s delta %s)",
		e.Key, e.Field, e.Current.Add(e.Delta), e.Current, e.Kind, e.Delta)
}

func (e *InvariantViolationError) Unwrap() error {
	return ErrInvariantViolation
}

// InsufficientStockError details a stock movement that cannot be honoured.
type InsufficientStockError struct {
	Key       Key
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock at %s: available %s, requested %s",
		e.Key, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// NotFound wraps ErrNotFound with the kind and id of the missing record.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// InvalidArgument wraps ErrInvalidArgument with a message.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrIllegalStateTransition) ||
		errors.Is(err, ErrInsufficientStock)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the request was valid but clashes with
// current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrIllegalStateTransition) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrDuplicateOperation)
}
