/*
Package leave implements the leave-balance accounting engine.

PURPOSE:
  Employees request time off, administrators approve or reject requests,
  and the engine keeps one balance ledger entry per employee per calendar
  year. This package converts a date range into a day count, allocates that
  count against yearly balances (oldest year first), and reverses the
  allocation when a request is edited, rejected, or deleted.

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee / Actor: who owns balances and who performs an operation
  - Status: request lifecycle states
  - YearAllocation / Allocation: how many days were taken from which year

PRECISION:
  Day quantities are decimal.Decimal, never float64. Half days (0.5) and
  sums of them stay exact, so "used <= total" comparisons never drift.

SEE ALSO:
  - ledger.go:     per-year balance entry (deduct / restore)
  - allocation.go: oldest-year-first allocation engine
  - projection.go: requestable and pending-allocated views
  - service.go:    request workflow state machine
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type RequestID string

// =============================================================================
// EMPLOYEE / ACTOR
// =============================================================================

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

// Employee owns its ledger entries and leave requests. Deleting an employee
// deletes both.
type Employee struct {
	ID        EmployeeID
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
}

// Actor is the already-authenticated caller of a workflow operation.
// Authorization happens before the engine is invoked; the engine only records
// who decided what.
type Actor struct {
	ID   EmployeeID
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// SystemActor is used for operations not triggered by a person (seeding, migrations).
var SystemActor = Actor{ID: "system", Role: RoleAdmin}

// =============================================================================
// REQUEST STATUS
// =============================================================================

type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// =============================================================================
// ALLOCATION - days taken from each year
// =============================================================================

// YearAllocation is the amount allocated against a single year's ledger entry.
type YearAllocation struct {
	Year int             `json:"year"`
	Days decimal.Decimal `json:"days"`
}

// Allocation lists per-year amounts in ascending year order.
type Allocation []YearAllocation

func (a Allocation) Total() decimal.Decimal {
	total := decimal.Zero
	for _, ya := range a {
		total = total.Add(ya.Days)
	}
	return total
}

// ByYear flattens the allocation into a year -> days map.
func (a Allocation) ByYear() map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(a))
	for _, ya := range a {
		out[ya.Year] = out[ya.Year].Add(ya.Days)
	}
	return out
}

// Days builds a day quantity from a float literal.
func Days(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
