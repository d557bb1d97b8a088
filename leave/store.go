/*
store.go - Persistence interface for the leave engine

PURPOSE:
  The engine only needs CRUD-style reads and writes on three record types
  (employees, ledger entries, requests) plus a transaction boundary.

KEY INTERFACES:
  Store:   reads and writes
  TxStore: Store + WithTx for atomic workflow transitions

ORDERING CONTRACT:
  LedgerEntries is ordered by year ascending.
  PendingRequests is ordered by start date ascending.
  The allocation and projection engines sort again anyway, so a store that
  breaks the contract produces correct results, just slower.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via database/sql
  - leave/store/memory.go:  in-memory, for tests and demos
*/
package leave

import (
	"context"
	"time"
)

// NoYearBound disables the year filter of LedgerEntries.
const NoYearBound = 0

type Store interface {
	Employee(ctx context.Context, id EmployeeID) (Employee, error)
	Employees(ctx context.Context) ([]Employee, error)
	SaveEmployee(ctx context.Context, e Employee) error
	// DeleteEmployee removes the employee with its ledger entries and requests.
	DeleteEmployee(ctx context.Context, id EmployeeID) error

	// LedgerEntries returns entries with year <= throughYear (NoYearBound = all), year ascending.
	LedgerEntries(ctx context.Context, employeeID EmployeeID, throughYear int) ([]LedgerEntry, error)
	LedgerEntry(ctx context.Context, employeeID EmployeeID, year int) (LedgerEntry, error)
	SaveLedgerEntry(ctx context.Context, e LedgerEntry) error

	Request(ctx context.Context, id RequestID) (Request, error)
	// PendingRequests returns the employee's Pending requests, start date ascending.
	PendingRequests(ctx context.Context, employeeID EmployeeID) ([]Request, error)
	Requests(ctx context.Context, filter RequestFilter) ([]Request, error)
	SaveRequest(ctx context.Context, r Request) error
	DeleteRequest(ctx context.Context, id RequestID) error
}

// TxStore runs fn inside a transaction. fn returning an error rolls back
// every write made through the Store it was given.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// RequestFilter narrows Requests. Zero fields match everything.
type RequestFilter struct {
	EmployeeID EmployeeID
	Status     Status
	// Window keeps requests overlapping it.
	Window *Period
}

// Match applies the filter in memory.
func (f RequestFilter) Match(r Request) bool {
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Window != nil && !f.Window.Overlaps(r.StartDate, r.EndDate) {
		return false
	}
	return true
}

// clock lets tests pin time.
type clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
