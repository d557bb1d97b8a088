package leave_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
	"github.com/warp/leave-engine/store/sqlite"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func assertDays(t *testing.T, want float64, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if !leave.Days(want).Equal(got) {
		assert.Fail(t, "days differ: want "+leave.Days(want).String()+", got "+got.String(), msgAndArgs...)
	}
}

func entry(emp leave.EmployeeID, year int, total, used float64) leave.LedgerEntry {
	e := leave.NewLedgerEntry(emp, year, leave.Days(total))
	e.UsedDays = leave.Days(used)
	return e
}

func pendingRequest(id leave.RequestID, emp leave.EmployeeID, start, end time.Time) leave.Request {
	return leave.Request{
		ID:         id,
		EmployeeID: emp,
		StartDate:  start,
		EndDate:    end,
		Status:     leave.StatusPending,
	}
}

// storeFactories runs service tests against every TxStore implementation.
var storeFactories = map[string]func(t *testing.T) leave.TxStore{
	"memory": func(t *testing.T) leave.TxStore {
		return store.NewTxMemory()
	},
	"sqlite": func(t *testing.T) leave.TxStore {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	},
}

type fixture struct {
	ctx   context.Context
	store leave.TxStore
	svc   *leave.Service
	admin leave.Actor
}

func newFixture(t *testing.T, newStore func(t *testing.T) leave.TxStore) *fixture {
	t.Helper()
	st := newStore(t)
	f := &fixture{
		ctx:   context.Background(),
		store: st,
		svc:   leave.NewService(st, leave.DefaultConfig(), zaptest.NewLogger(t)),
		admin: leave.Actor{ID: "boss", Role: leave.RoleAdmin},
	}
	_, err := f.svc.CreateEmployee(f.ctx, leave.SystemActor, leave.EmployeeInput{ID: "boss", Name: "Boss", Role: leave.RoleAdmin})
	require.NoError(t, err)
	return f
}

func (f *fixture) employee(t *testing.T, id leave.EmployeeID, totals map[int]float64) leave.Actor {
	t.Helper()
	_, err := f.svc.CreateEmployee(f.ctx, f.admin, leave.EmployeeInput{ID: id, Name: string(id), Email: string(id) + "@example.com"})
	require.NoError(t, err)
	for year, total := range totals {
		_, err := f.svc.SetBalance(f.ctx, f.admin, id, year, leave.Days(total))
		require.NoError(t, err)
	}
	return leave.Actor{ID: id, Role: leave.RoleUser}
}

func (f *fixture) submit(t *testing.T, actor leave.Actor, start, end time.Time, half bool) leave.Request {
	t.Helper()
	req, err := f.svc.Submit(f.ctx, actor, leave.RequestInput{
		EmployeeID: actor.ID,
		StartDate:  start,
		EndDate:    end,
		HalfDay:    half,
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) ledger(t *testing.T, emp leave.EmployeeID, year int) leave.LedgerEntry {
	t.Helper()
	e, err := f.store.LedgerEntry(f.ctx, emp, year)
	require.NoError(t, err)
	return e
}

func (f *fixture) ledgers(t *testing.T, emp leave.EmployeeID) []leave.LedgerEntry {
	t.Helper()
	entries, err := f.store.LedgerEntries(f.ctx, emp, leave.NoYearBound)
	require.NoError(t, err)
	return entries
}
