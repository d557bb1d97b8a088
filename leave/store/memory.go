// Package store provides in-process Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state *state
}

type ledgerKey struct {
	EmployeeID leave.EmployeeID
	Year       int
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func (m *Memory) Employee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Employee(ctx, id)
}

func (m *Memory) Employees(ctx context.Context) ([]leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Employees(ctx)
}

func (m *Memory) SaveEmployee(ctx context.Context, e leave.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveEmployee(ctx, e)
}

func (m *Memory) DeleteEmployee(ctx context.Context, id leave.EmployeeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteEmployee(ctx, id)
}

func (m *Memory) LedgerEntries(ctx context.Context, employeeID leave.EmployeeID, throughYear int) ([]leave.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LedgerEntries(ctx, employeeID, throughYear)
}

func (m *Memory) LedgerEntry(ctx context.Context, employeeID leave.EmployeeID, year int) (leave.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LedgerEntry(ctx, employeeID, year)
}

func (m *Memory) SaveLedgerEntry(ctx context.Context, e leave.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveLedgerEntry(ctx, e)
}

func (m *Memory) Request(ctx context.Context, id leave.RequestID) (leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Request(ctx, id)
}

func (m *Memory) PendingRequests(ctx context.Context, employeeID leave.EmployeeID) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.PendingRequests(ctx, employeeID)
}

func (m *Memory) Requests(ctx context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Requests(ctx, filter)
}

func (m *Memory) SaveRequest(ctx context.Context, r leave.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveRequest(ctx, r)
}

func (m *Memory) DeleteRequest(ctx context.Context, id leave.RequestID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteRequest(ctx, id)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions serialize.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()
	if err := fn(tm.state); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

// =============================================================================
// STATE - unlocked maps; callers hold the lock
// =============================================================================

type state struct {
	employees map[leave.EmployeeID]leave.Employee
	entries   map[ledgerKey]leave.LedgerEntry
	requests  map[leave.RequestID]leave.Request
}

func newState() *state {
	return &state{
		employees: make(map[leave.EmployeeID]leave.Employee),
		entries:   make(map[ledgerKey]leave.LedgerEntry),
		requests:  make(map[leave.RequestID]leave.Request),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = copyRequest(v)
	}
	return c
}

// copyRequest detaches the allocation slice so callers cannot alias stored data.
func copyRequest(r leave.Request) leave.Request {
	if r.Allocation != nil {
		r.Allocation = append(leave.Allocation(nil), r.Allocation...)
	}
	return r
}

func (s *state) Employee(_ context.Context, id leave.EmployeeID) (leave.Employee, error) {
	e, ok := s.employees[id]
	if !ok {
		return leave.Employee{}, fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id)
	}
	return e, nil
}

func (s *state) Employees(_ context.Context) ([]leave.Employee, error) {
	out := make([]leave.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) SaveEmployee(_ context.Context, e leave.Employee) error {
	if e.ID == "" {
		return &leave.ValidationError{Field: "id", Message: "is required"}
	}
	s.employees[e.ID] = e
	return nil
}

func (s *state) DeleteEmployee(_ context.Context, id leave.EmployeeID) error {
	if _, ok := s.employees[id]; !ok {
		return fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id)
	}
	delete(s.employees, id)
	for k := range s.entries {
		if k.EmployeeID == id {
			delete(s.entries, k)
		}
	}
	for k, r := range s.requests {
		if r.EmployeeID == id {
			delete(s.requests, k)
		}
	}
	return nil
}

func (s *state) LedgerEntries(_ context.Context, employeeID leave.EmployeeID, throughYear int) ([]leave.LedgerEntry, error) {
	var out []leave.LedgerEntry
	for k, e := range s.entries {
		if k.EmployeeID != employeeID {
			continue
		}
		if throughYear != leave.NoYearBound && k.Year > throughYear {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

func (s *state) LedgerEntry(_ context.Context, employeeID leave.EmployeeID, year int) (leave.LedgerEntry, error) {
	e, ok := s.entries[ledgerKey{employeeID, year}]
	if !ok {
		return leave.LedgerEntry{}, fmt.Errorf("%w: %s/%d", leave.ErrLedgerEntryNotFound, employeeID, year)
	}
	return e, nil
}

func (s *state) SaveLedgerEntry(_ context.Context, e leave.LedgerEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if _, ok := s.employees[e.EmployeeID]; !ok {
		return fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, e.EmployeeID)
	}
	s.entries[ledgerKey{e.EmployeeID, e.Year}] = e
	return nil
}

func (s *state) Request(_ context.Context, id leave.RequestID) (leave.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return leave.Request{}, fmt.Errorf("%w: %s", leave.ErrRequestNotFound, id)
	}
	return copyRequest(r), nil
}

func (s *state) PendingRequests(ctx context.Context, employeeID leave.EmployeeID) ([]leave.Request, error) {
	return s.Requests(ctx, leave.RequestFilter{EmployeeID: employeeID, Status: leave.StatusPending})
}

func (s *state) Requests(_ context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	var out []leave.Request
	for _, r := range s.requests {
		if filter.Match(r) {
			out = append(out, copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *state) SaveRequest(_ context.Context, r leave.Request) error {
	if _, ok := s.employees[r.EmployeeID]; !ok {
		return fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, r.EmployeeID)
	}
	s.requests[r.ID] = copyRequest(r)
	return nil
}

func (s *state) DeleteRequest(_ context.Context, id leave.RequestID) error {
	if _, ok := s.requests[id]; !ok {
		return fmt.Errorf("%w: %s", leave.ErrRequestNotFound, id)
	}
	delete(s.requests, id)
	return nil
}

var (
	_ leave.TxStore = (*TxMemory)(nil)
	_ leave.Store   = (*state)(nil)
)
