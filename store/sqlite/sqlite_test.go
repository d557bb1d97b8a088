package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedEmployee(t *testing.T, s *Store, id leave.EmployeeID, email string) {
	t.Helper()
	require.NoError(t, s.SaveEmployee(context.Background(), leave.Employee{
		ID: id, Name: string(id), Email: email, Role: leave.RoleUser, CreatedAt: day(2024, 1, 1),
	}))
}

// =============================================================================
// INTEGRATION (in-memory SQLite)
// =============================================================================

func TestStore_Employees(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedEmployee(t, s, "bob", "bob@example.com")
	seedEmployee(t, s, "ann", "")

	emps, err := s.Employees(ctx)
	require.NoError(t, err)
	require.Len(t, emps, 2)
	assert.Equal(t, leave.EmployeeID("ann"), emps[0].ID)
	assert.Empty(t, emps[0].Email)
	assert.Equal(t, day(2024, 1, 1), emps[0].CreatedAt)

	// upsert keeps the row and updates fields
	require.NoError(t, s.SaveEmployee(ctx, leave.Employee{ID: "bob", Name: "Robert", Email: "bob@example.com", Role: leave.RoleAdmin}))
	bob, err := s.Employee(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Robert", bob.Name)
	assert.Equal(t, leave.RoleAdmin, bob.Role)

	_, err = s.Employee(ctx, "ghost")
	assert.ErrorIs(t, err, leave.ErrEmployeeNotFound)
}

func TestStore_SaveEmployee_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	seedEmployee(t, s, "ann", "shared@example.com")

	err := s.SaveEmployee(context.Background(), leave.Employee{ID: "bob", Name: "Bob", Email: "shared@example.com", Role: leave.RoleUser})

	var verr *leave.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)
}

func TestStore_LedgerEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedEmployee(t, s, "ann", "")

	e := leave.NewLedgerEntry("ann", 2024, leave.Days(15))
	e.UsedDays = leave.Days(2.5)
	require.NoError(t, s.SaveLedgerEntry(ctx, e))
	require.NoError(t, s.SaveLedgerEntry(ctx, leave.NewLedgerEntry("ann", 2023, leave.Days(10))))

	got, err := s.LedgerEntry(ctx, "ann", 2024)
	require.NoError(t, err)
	assert.True(t, got.UsedDays.Equal(leave.Days(2.5)), "decimals survive the TEXT round trip")
	assert.True(t, got.Remaining().Equal(leave.Days(12.5)))

	bounded, err := s.LedgerEntries(ctx, "ann", 2023)
	require.NoError(t, err)
	require.Len(t, bounded, 1)
	assert.Equal(t, 2023, bounded[0].Year)

	// upsert on (employee, year)
	e.TotalDays = leave.Days(20)
	require.NoError(t, s.SaveLedgerEntry(ctx, e))
	all, err := s.LedgerEntries(ctx, "ann", leave.NoYearBound)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[1].TotalDays.Equal(leave.Days(20)))

	_, err = s.LedgerEntry(ctx, "ann", 2030)
	assert.ErrorIs(t, err, leave.ErrLedgerEntryNotFound)
}

func TestStore_SaveLedgerEntry_UnknownEmployee(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveLedgerEntry(context.Background(), leave.NewLedgerEntry("ghost", 2024, leave.Days(15)))

	assert.ErrorIs(t, err, leave.ErrEmployeeNotFound)
}

func TestStore_SaveLedgerEntry_RejectsBrokenInvariant(t *testing.T) {
	s := newTestStore(t)
	seedEmployee(t, s, "ann", "")
	e := leave.NewLedgerEntry("ann", 2024, leave.Days(1))
	e.UsedDays = leave.Days(2)

	err := s.SaveLedgerEntry(context.Background(), e)

	assert.ErrorIs(t, err, leave.ErrValidation)
}

func TestStore_Requests_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedEmployee(t, s, "ann", "")
	decided := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	req := leave.Request{
		ID:         "r1",
		EmployeeID: "ann",
		StartDate:  day(2024, 1, 8),
		EndDate:    day(2024, 1, 12),
		Status:     leave.StatusApproved,
		Reason:     "ski",
		Allocation: leave.Allocation{
			{Year: 2023, Days: leave.Days(2)},
			{Year: 2024, Days: leave.Days(3)},
		},
		DecidedBy: "boss",
		DecidedAt: &decided,
		CreatedAt: day(2024, 3, 1),
		UpdatedAt: decided,
	}
	require.NoError(t, s.SaveRequest(ctx, req))

	got, err := s.Request(ctx, "r1")

	require.NoError(t, err)
	assert.Equal(t, req.StartDate, got.StartDate)
	assert.Equal(t, req.EndDate, got.EndDate)
	assert.Equal(t, leave.StatusApproved, got.Status)
	assert.Equal(t, "ski", got.Reason)
	assert.Equal(t, leave.EmployeeID("boss"), got.DecidedBy)
	require.NotNil(t, got.DecidedAt)
	assert.True(t, decided.Equal(*got.DecidedAt))
	require.Len(t, got.Allocation, 2)
	assert.Equal(t, 2023, got.Allocation[0].Year)
	assert.True(t, got.Allocation[1].Days.Equal(leave.Days(3)))
	assert.True(t, got.Days().Equal(leave.Days(5)))
}

func TestStore_Requests_Filter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedEmployee(t, s, "ann", "")
	seedEmployee(t, s, "bob", "")
	save := func(id leave.RequestID, emp leave.EmployeeID, start, end time.Time, status leave.Status) {
		require.NoError(t, s.SaveRequest(ctx, leave.Request{
			ID: id, EmployeeID: emp, StartDate: start, EndDate: end, Status: status,
			CreatedAt: day(2024, 1, 1), UpdatedAt: day(2024, 1, 1),
		}))
	}
	save("late", "ann", day(2024, 4, 1), day(2024, 4, 2), leave.StatusPending)
	save("edge", "ann", day(2024, 2, 28), day(2024, 3, 1), leave.StatusPending)
	save("bob", "bob", day(2024, 3, 10), day(2024, 3, 10), leave.StatusApproved)

	pending, err := s.PendingRequests(ctx, "ann")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, leave.RequestID("edge"), pending[0].ID, "start date ascending")

	march := leave.PeriodFor(leave.ViewMonth, day(2024, 3, 15))
	inMarch, err := s.Requests(ctx, leave.RequestFilter{Window: &march})
	require.NoError(t, err)
	require.Len(t, inMarch, 2)
	assert.Equal(t, leave.RequestID("edge"), inMarch[0].ID)
	assert.Equal(t, leave.RequestID("bob"), inMarch[1].ID)

	approved, err := s.Requests(ctx, leave.RequestFilter{Status: leave.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
}

func TestStore_DeleteEmployee_Cascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedEmployee(t, s, "ann", "")
	require.NoError(t, s.SaveLedgerEntry(ctx, leave.NewLedgerEntry("ann", 2024, leave.Days(15))))
	require.NoError(t, s.SaveRequest(ctx, leave.Request{
		ID: "r1", EmployeeID: "ann", StartDate: day(2024, 3, 4), EndDate: day(2024, 3, 4), Status: leave.StatusPending,
	}))

	require.NoError(t, s.DeleteEmployee(ctx, "ann"))

	entries, err := s.LedgerEntries(ctx, "ann", leave.NoYearBound)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = s.Request(ctx, "r1")
	assert.ErrorIs(t, err, leave.ErrRequestNotFound)
	assert.ErrorIs(t, s.DeleteEmployee(ctx, "ann"), leave.ErrEmployeeNotFound)
	assert.ErrorIs(t, s.DeleteRequest(ctx, "r1"), leave.ErrRequestNotFound)
}

func TestStore_SaveRequest_UnknownEmployee(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveRequest(context.Background(), leave.Request{
		ID: "r1", EmployeeID: "ghost", StartDate: day(2024, 3, 4), EndDate: day(2024, 3, 4), Status: leave.StatusPending,
	})

	assert.ErrorIs(t, err, leave.ErrEmployeeNotFound)
}

func TestStore_WithTx_RollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedEmployee(t, s, "ann", "")
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx leave.Store) error {
		require.NoError(t, tx.SaveLedgerEntry(ctx, leave.NewLedgerEntry("ann", 2024, leave.Days(15))))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	_, err = s.LedgerEntry(ctx, "ann", 2024)
	assert.ErrorIs(t, err, leave.ErrLedgerEntryNotFound)
}

// =============================================================================
// TRANSACTION PLUMBING (sqlmock)
// =============================================================================

func TestWithTx_Commit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewFromDB(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = s.WithTx(context.Background(), func(tx leave.Store) error {
		return tx.SaveLedgerEntry(context.Background(), leave.NewLedgerEntry("ann", 2024, leave.Days(15)))
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewFromDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM employees WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "role", "created_at"}))
	mock.ExpectRollback()

	err = s.WithTx(context.Background(), func(tx leave.Store) error {
		_, err := tx.Employee(context.Background(), "ghost")
		return err
	})

	assert.ErrorIs(t, err, leave.ErrEmployeeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_BeginFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewFromDB(db)

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	called := false
	err = s.WithTx(context.Background(), func(tx leave.Store) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewFromDB(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM leave_requests").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	err = s.WithTx(context.Background(), func(tx leave.Store) error {
		return tx.DeleteRequest(context.Background(), "r1")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to commit transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRequest_NoRowsAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewFromDB(db)

	mock.ExpectExec("DELETE FROM leave_requests").WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.DeleteRequest(context.Background(), "missing")

	assert.ErrorIs(t, err, leave.ErrRequestNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
