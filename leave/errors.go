/*
errors.go - Error taxonomy for the leave engine

ERROR CATEGORIES:
  1. Validation    - bad date range, missing fields; nothing was mutated
  2. Insufficiency - allocation dry run failed; nothing was mutated
  3. State         - approve/reject on a request that is no longer pending,
                     or a request whose owner changed since the caller read it
  4. Not found     - missing employee, request, or ledger entry

USAGE:
  Sentinels work with errors.Is, structured errors with errors.As:

    if errors.Is(err, leave.ErrInsufficientBalance) {
        var ib *leave.InsufficientBalanceError
        errors.As(err, &ib)
        log.Printf("short by %s days in %d", ib.Shortfall, ib.Year)
    }

  Persistence failures are wrapped with context and propagate unchanged.
*/
package leave

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyDecided      = errors.New("request already decided")
	ErrConflict            = errors.New("request changed concurrently")
	ErrNotFound            = errors.New("not found")

	ErrEmployeeNotFound    = fmt.Errorf("employee %w", ErrNotFound)
	ErrRequestNotFound     = fmt.Errorf("leave request %w", ErrNotFound)
	ErrLedgerEntryNotFound = fmt.Errorf("ledger entry %w", ErrNotFound)
)

// =============================================================================
// STRUCTURED ERRORS
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

// InsufficientBalanceError reports a failed allocation. Year is the last
// eligible year of the allocation (the request's start year).
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Year       int
	Requested  decimal.Decimal
	Available  decimal.Decimal
	Shortfall  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s through %d: available %s, requested %s, shortfall %s",
		e.EmployeeID, e.Year, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// AlreadyDecidedError is returned when approve/reject targets a non-pending request.
type AlreadyDecidedError struct {
	RequestID RequestID
	Status    Status
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("leave request %s already decided: %s", e.RequestID, e.Status)
}

func (e *AlreadyDecidedError) Unwrap() error { return ErrAlreadyDecided }

// OwnerChangedError is returned when a request no longer belongs to the
// employee the caller authorized against.
type OwnerChangedError struct {
	RequestID RequestID
	Expected  EmployeeID
	Actual    EmployeeID
}

func (e *OwnerChangedError) Error() string {
	return fmt.Sprintf("leave request %s now belongs to %s, not %s", e.RequestID, e.Actual, e.Expected)
}

func (e *OwnerChangedError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is caused by the caller's input or
// the current state of the data, not by infrastructure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAlreadyDecided) ||
		errors.Is(err, ErrConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
