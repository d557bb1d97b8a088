/*
projection.go - Requestable and pending-allocated balance views

PURPOSE:
  Answers "how much can this employee still request for year Y?" without
  touching the ledger. Approved requests are already reflected in UsedDays;
  pending requests are not, so they are simulated on top.

ALGORITHM (RequestableByYear):
  1. available[year] = total - used, per entry (working copies)
  2. Sort pending requests by start date ascending
  3. Each pending request runs the deduct plan against the copies, capped at
     its start year. Partial consumption sticks even when the request would
     not be fully covered.
  4. Report years whose available amount is > 0, rounded to one decimal

PURITY:
  Every function here takes entries and requests by value and returns new
  maps. Calling them twice on the same snapshot yields the same result.

EXAMPLE:
  Ledger:  2023 {total 10, used 8}, 2024 {total 15, used 0}
  Pending: 2024-03-04..2024-03-07 (4 days)
  Requestable: {2024: 13}   (2023 drained by 2, 2024 gives 2)
*/
package leave

import (
	"sort"

	"github.com/shopspring/decimal"
)

// RemainingByYear returns total - used for every year where it is > 0.
func RemainingByYear(entries []LedgerEntry) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(entries))
	for _, e := range entries {
		if r := e.Remaining(); r.IsPositive() {
			out[e.Year] = r
		}
	}
	return out
}

// RequestableByYear returns what could still be requested per year once every
// pending request has taken its share.
func RequestableByYear(entries []LedgerEntry, pending []Request) map[int]decimal.Decimal {
	work, _ := simulatePending(entries, pending)

	out := make(map[int]decimal.Decimal, len(work))
	for _, e := range work {
		if r := e.Remaining().Round(1); r.IsPositive() {
			out[e.Year] = r
		}
	}
	return out
}

// PendingAllocation returns the per-year split the simulation assigns to each
// pending request. Requests that found nothing to consume map to an empty
// allocation.
func PendingAllocation(entries []LedgerEntry, pending []Request) map[RequestID]Allocation {
	_, allocs := simulatePending(entries, pending)
	return allocs
}

// PendingByYear sums PendingAllocation per year.
func PendingByYear(entries []LedgerEntry, pending []Request) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal)
	for _, alloc := range PendingAllocation(entries, pending) {
		for _, ya := range alloc {
			out[ya.Year] = out[ya.Year].Add(ya.Days)
		}
	}
	return out
}

func simulatePending(entries []LedgerEntry, pending []Request) ([]LedgerEntry, map[RequestID]Allocation) {
	work := make([]LedgerEntry, len(entries))
	copy(work, entries)

	queue := make([]Request, 0, len(pending))
	for _, r := range pending {
		if r.IsPending() {
			queue = append(queue, r)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].StartDate.Before(queue[j].StartDate) })

	allocs := make(map[RequestID]Allocation, len(queue))
	for _, r := range queue {
		plan := PlanAllocation(work, r.StartYear(), r.Days(), DirectionDeduct)
		plan.ApplyTo(work)
		allocs[r.ID] = plan.Allocation
	}
	return work, allocs
}

// =============================================================================
// BALANCE SUMMARY
// =============================================================================

// YearBalance is one row of an employee's balance overview.
type YearBalance struct {
	Year        int
	TotalDays   decimal.Decimal
	UsedDays    decimal.Decimal
	Remaining   decimal.Decimal
	Pending     decimal.Decimal
	Requestable decimal.Decimal
}

// Summarize combines the ledger and the pending simulation, one row per
// ledger entry, year ascending.
func Summarize(entries []LedgerEntry, pending []Request) []YearBalance {
	requestable := RequestableByYear(entries, pending)
	pendingByYear := PendingByYear(entries, pending)

	rows := make([]YearBalance, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, YearBalance{
			Year:        e.Year,
			TotalDays:   e.TotalDays,
			UsedDays:    e.UsedDays,
			Remaining:   e.Remaining(),
			Pending:     pendingByYear[e.Year],
			Requestable: requestable[e.Year],
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Year < rows[j].Year })
	return rows
}
