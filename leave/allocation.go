/*
allocation.go - Oldest-year-first allocation engine

PURPOSE:
  Spreads a day count across an employee's yearly ledger entries, for both
  deduction (approval) and restoration (delete / edit of an approved request).

ALGORITHM (allocate(employee, throughYear, amount, direction)):
  1. Take entries with year <= throughYear (the request's start year)
  2. Sort ascending by year: older leave is used (and given back) first
  3. Walk entries, deducting/restoring min(remaining, what the entry allows)
  4. Stop once nothing remains; the leftover is the shortfall

DRY RUN THEN COMMIT:
  PlanAllocation works on copies and never touches the caller's entries.
  A deduction whose plan has a shortfall is rejected before a single entry is
  written, so a failed approval has no side effects even without relying on
  the storage transaction. Only a satisfied plan is applied and saved.

EXAMPLE:
  2023: total 10, used 8   (remaining 2)
  2024: total 10, used 0   (remaining 10)
  Deduct 5 through 2024 -> [{2023, 2}, {2024, 3}]

SEE ALSO:
  - projection.go: runs the same plan against pending requests in memory
  - service.go:    Approve calls Allocate inside its transaction; Edit and
                   Delete chain several steps on one ledgerSet
*/
package leave

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionDeduct  Direction = "deduct"
	DirectionRestore Direction = "restore"
)

// =============================================================================
// PLAN - Result of a dry run
// =============================================================================

type Plan struct {
	EmployeeID  EmployeeID
	Direction   Direction
	ThroughYear int
	Requested   decimal.Decimal
	Allocation  Allocation
	Shortfall   decimal.Decimal

	// post-operation copies of the entries the plan touches
	entries []LedgerEntry
}

// Satisfied reports whether the whole amount could be allocated.
func (p Plan) Satisfied() bool { return !p.Shortfall.IsPositive() }

// Allocated is Requested minus Shortfall.
func (p Plan) Allocated() decimal.Decimal { return p.Allocation.Total() }

// ApplyTo replaces the touched years in entries with their planned state.
func (p Plan) ApplyTo(entries []LedgerEntry) {
	for _, planned := range p.entries {
		for i := range entries {
			if entries[i].Year == planned.Year && entries[i].EmployeeID == planned.EmployeeID {
				entries[i] = planned
			}
		}
	}
}

// PlanAllocation simulates allocate() over copies of entries. It is pure.
func PlanAllocation(entries []LedgerEntry, throughYear int, amount decimal.Decimal, dir Direction) Plan {
	plan := Plan{
		Direction:   dir,
		ThroughYear: throughYear,
		Requested:   amount,
		Shortfall:   decimal.Zero,
	}

	eligible := eligibleEntries(entries, throughYear)
	remaining := amount
	for i := range eligible {
		if !remaining.IsPositive() {
			break
		}
		var moved decimal.Decimal
		switch dir {
		case DirectionDeduct:
			moved = eligible[i].Deduct(remaining)
		case DirectionRestore:
			moved = eligible[i].Restore(remaining)
		}
		if moved.IsZero() {
			continue
		}
		remaining = remaining.Sub(moved)
		plan.Allocation = append(plan.Allocation, YearAllocation{Year: eligible[i].Year, Days: moved})
		plan.entries = append(plan.entries, eligible[i])
	}

	if remaining.IsPositive() {
		plan.Shortfall = remaining
	}
	if len(eligible) > 0 {
		plan.EmployeeID = eligible[0].EmployeeID
	}
	return plan
}

// eligibleEntries copies entries with year <= throughYear, oldest first.
func eligibleEntries(entries []LedgerEntry, throughYear int) []LedgerEntry {
	out := make([]LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if throughYear != NoYearBound && e.Year > throughYear {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// =============================================================================
// ALLOCATE - Plan against stored entries, then commit
// =============================================================================

// Allocate runs the allocation engine against s. A deduction that cannot be
// fully satisfied returns *InsufficientBalanceError and writes nothing.
// A restoration writes what it could and reports the rest as Plan.Shortfall.
func Allocate(ctx context.Context, s Store, employeeID EmployeeID, throughYear int, amount decimal.Decimal, dir Direction, now time.Time) (Plan, error) {
	ledger := newLedgerSet()
	if err := ledger.load(ctx, s, employeeID); err != nil {
		return Plan{}, err
	}
	plan, err := ledger.allocate(employeeID, throughYear, amount, dir)
	if err != nil {
		return plan, err
	}
	if err := ledger.flush(ctx, s, now); err != nil {
		return plan, err
	}
	return plan, nil
}

// =============================================================================
// LEDGER SET - Working copy of ledger entries for multi-step dry runs
// =============================================================================

type ledgerKey struct {
	EmployeeID EmployeeID
	Year       int
}

// ledgerSet holds working copies of entries. Every change lands here first;
// flush writes the changed entries once all steps of an operation succeeded.
type ledgerSet struct {
	entries map[ledgerKey]LedgerEntry
	loaded  map[EmployeeID]bool
	dirty   map[ledgerKey]bool
}

func newLedgerSet() *ledgerSet {
	return &ledgerSet{
		entries: make(map[ledgerKey]LedgerEntry),
		loaded:  make(map[EmployeeID]bool),
		dirty:   make(map[ledgerKey]bool),
	}
}

func (ls *ledgerSet) load(ctx context.Context, s Store, employeeID EmployeeID) error {
	if ls.loaded[employeeID] {
		return nil
	}
	entries, err := s.LedgerEntries(ctx, employeeID, NoYearBound)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ls.entries[ledgerKey{e.EmployeeID, e.Year}] = e
	}
	ls.loaded[employeeID] = true
	return nil
}

func (ls *ledgerSet) forEmployee(employeeID EmployeeID) []LedgerEntry {
	var out []LedgerEntry
	for k, e := range ls.entries {
		if k.EmployeeID == employeeID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// ensure creates the entry for (employee, year) with defaultTotal and zero
// usage when absent.
func (ls *ledgerSet) ensure(employeeID EmployeeID, year int, defaultTotal decimal.Decimal) {
	k := ledgerKey{employeeID, year}
	if _, ok := ls.entries[k]; ok {
		return
	}
	ls.entries[k] = NewLedgerEntry(employeeID, year, defaultTotal)
	ls.dirty[k] = true
}

func (ls *ledgerSet) put(e LedgerEntry) {
	k := ledgerKey{e.EmployeeID, e.Year}
	ls.entries[k] = e
	ls.dirty[k] = true
}

func (ls *ledgerSet) allocate(employeeID EmployeeID, throughYear int, amount decimal.Decimal, dir Direction) (Plan, error) {
	plan := PlanAllocation(ls.forEmployee(employeeID), throughYear, amount, dir)
	plan.EmployeeID = employeeID
	if dir == DirectionDeduct && !plan.Satisfied() {
		return plan, &InsufficientBalanceError{
			EmployeeID: employeeID,
			Year:       throughYear,
			Requested:  amount,
			Available:  plan.Allocated(),
			Shortfall:  plan.Shortfall,
		}
	}
	for _, e := range plan.entries {
		ls.put(e)
	}
	return plan, nil
}

// restoreAllocation gives back exactly what alloc recorded, year by year.
// Missing entries or insufficient usage are reported as shortfall.
func (ls *ledgerSet) restoreAllocation(employeeID EmployeeID, alloc Allocation) decimal.Decimal {
	shortfall := decimal.Zero
	for _, ya := range alloc {
		k := ledgerKey{employeeID, ya.Year}
		e, ok := ls.entries[k]
		if !ok {
			shortfall = shortfall.Add(ya.Days)
			continue
		}
		restored := e.Restore(ya.Days)
		shortfall = shortfall.Add(ya.Days.Sub(restored))
		ls.put(e)
	}
	return shortfall
}

func (ls *ledgerSet) flush(ctx context.Context, s Store, now time.Time) error {
	keys := make([]ledgerKey, 0, len(ls.dirty))
	for k := range ls.dirty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].EmployeeID != keys[j].EmployeeID {
			return keys[i].EmployeeID < keys[j].EmployeeID
		}
		return keys[i].Year < keys[j].Year
	})

	for _, k := range keys {
		e := ls.entries[k]
		if err := e.Validate(); err != nil {
			return err
		}
		e.UpdatedAt = now
		if err := s.SaveLedgerEntry(ctx, e); err != nil {
			return err
		}
	}
	ls.dirty = make(map[ledgerKey]bool)
	return nil
}
