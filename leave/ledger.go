/*
ledger.go - Per-employee, per-year balance entries

PURPOSE:
  A LedgerEntry is one employee's leave allowance for one calendar year.
  It stores the allowance (TotalDays) and what approved requests have taken
  from it (UsedDays). Remaining is derived, never stored.

CRITICAL INVARIANTS:
  1. 0 <= UsedDays <= TotalDays after every operation
  2. Deduct never takes more than Remaining()
  3. Restore never gives back more than UsedDays

  Both operations return the amount actually moved so the allocation engine
  can carry the rest over to the next year.

EXAMPLE:
  e := NewLedgerEntry("emp-1", 2024, Days(15))
  e.Deduct(Days(20))  // returns 15, used = 15
  e.Restore(Days(4))  // returns 4,  used = 11
*/
package leave

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type LedgerEntry struct {
	EmployeeID EmployeeID
	Year       int
	TotalDays  decimal.Decimal
	UsedDays   decimal.Decimal
	UpdatedAt  time.Time
}

func NewLedgerEntry(employeeID EmployeeID, year int, total decimal.Decimal) LedgerEntry {
	return LedgerEntry{
		EmployeeID: employeeID,
		Year:       year,
		TotalDays:  total,
		UsedDays:   decimal.Zero,
	}
}

// Remaining is TotalDays - UsedDays.
func (e LedgerEntry) Remaining() decimal.Decimal {
	return e.TotalDays.Sub(e.UsedDays)
}

// Deduct takes up to amount from the remaining allowance and returns what was taken.
func (e *LedgerEntry) Deduct(amount decimal.Decimal) decimal.Decimal {
	available := e.Remaining()
	if !amount.IsPositive() || !available.IsPositive() {
		return decimal.Zero
	}
	taken := minDecimal(amount, available)
	e.UsedDays = e.UsedDays.Add(taken)
	return taken
}

// Restore gives back up to amount of used allowance and returns what was restored.
func (e *LedgerEntry) Restore(amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() || !e.UsedDays.IsPositive() {
		return decimal.Zero
	}
	restored := minDecimal(amount, e.UsedDays)
	e.UsedDays = e.UsedDays.Sub(restored)
	return restored
}

// SetTotal changes the yearly allowance. A total below what is already used
// would break the ledger invariant and is rejected.
func (e *LedgerEntry) SetTotal(total decimal.Decimal) error {
	if total.IsNegative() {
		return invalid("total_days", "must not be negative")
	}
	if total.LessThan(e.UsedDays) {
		return invalid("total_days", "%s is below the %s days already used in %d", total, e.UsedDays, e.Year)
	}
	e.TotalDays = total
	return nil
}

// Validate checks the ledger invariant. Stores call it before every write.
func (e LedgerEntry) Validate() error {
	switch {
	case e.EmployeeID == "":
		return invalid("employee_id", "is required")
	case e.Year <= 0:
		return invalid("year", "must be positive")
	case e.TotalDays.IsNegative():
		return invalid("total_days", "must not be negative")
	case e.UsedDays.IsNegative():
		return invalid("used_days", "must not be negative")
	case e.UsedDays.GreaterThan(e.TotalDays):
		return invalid("used_days", "%s exceeds total %s for %d", e.UsedDays, e.TotalDays, e.Year)
	}
	return nil
}

// =============================================================================
// GET OR CREATE
// =============================================================================

// GetOrCreateEntry returns the employee's entry for year, creating one with
// defaultTotal and zero usage when absent. The new entry is persisted and
// created reports whether that happened.
func GetOrCreateEntry(ctx context.Context, s Store, employeeID EmployeeID, year int, defaultTotal decimal.Decimal) (entry LedgerEntry, created bool, err error) {
	entry, err = s.LedgerEntry(ctx, employeeID, year)
	if err == nil {
		return entry, false, nil
	}
	if !IsNotFound(err) {
		return LedgerEntry{}, false, err
	}

	entry = NewLedgerEntry(employeeID, year, defaultTotal)
	entry.UpdatedAt = time.Now().UTC()
	if err := s.SaveLedgerEntry(ctx, entry); err != nil {
		return LedgerEntry{}, false, err
	}
	return entry, true, nil
}
