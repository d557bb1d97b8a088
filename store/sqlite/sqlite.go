/*
Package sqlite provides a SQLite-backed implementation of leave.TxStore.

PURPOSE:
  Persists employees, yearly ledger entries, and leave requests. The same
  SQL runs against *sql.DB for plain reads and *sql.Tx inside WithTx, so a
  workflow transition sees its own uncommitted writes.

KEY TABLES:
  employees:      Entity records
  ledger_entries: One row per (employee, year); PRIMARY KEY enforces uniqueness
  leave_requests: Requests with the per-year allocation taken at approval

  Both child tables reference employees ON DELETE CASCADE, so deleting an
  employee removes its ledger and requests in one statement.

NUMBERS AND DATES:
  Day quantities are stored as decimal TEXT ("2.5"), never REAL, so sums of
  half days round-trip exactly. Calendar dates use YYYY-MM-DD, timestamps
  RFC3339.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction, so workflow transitions serialize.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := leave.NewService(store, leave.DefaultConfig(), logger)

MIGRATION:
  Schema is auto-migrated on New(). NewFromDB skips it so callers that own
  the *sql.DB (tests with sqlmock, shared pools) decide when to Migrate.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/leave"
)

// Store implements leave.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := NewFromDB(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewFromDB wraps an already opened database. The schema is not migrated.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		role TEXT NOT NULL DEFAULT 'user',
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_employees_email
		ON employees(email) WHERE email IS NOT NULL;

	-- One allowance row per employee per year
	CREATE TABLE IF NOT EXISTS ledger_entries (
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		year INTEGER NOT NULL,
		total_days TEXT NOT NULL DEFAULT '15',
		used_days TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, year)
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		half_day INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		reason TEXT,
		allocation_json TEXT,
		decided_by TEXT,
		decided_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (end_date >= start_date)
	);

	-- Pending simulation and per-employee listing (hot path)
	CREATE INDEX IF NOT EXISTS idx_requests_employee_status_start
		ON leave_requests(employee_id, status, start_date);

	-- Week/month/year window listing
	CREATE INDEX IF NOT EXISTS idx_requests_window
		ON leave_requests(start_date, end_date);
`

// =============================================================================
// STORE (leave.Store interface)
// =============================================================================

func (s *Store) Employee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().Employee(ctx, id)
}

func (s *Store) Employees(ctx context.Context) ([]leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().Employees(ctx)
}

func (s *Store) SaveEmployee(ctx context.Context, e leave.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries().SaveEmployee(ctx, e)
}

func (s *Store) DeleteEmployee(ctx context.Context, id leave.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries().DeleteEmployee(ctx, id)
}

func (s *Store) LedgerEntries(ctx context.Context, employeeID leave.EmployeeID, throughYear int) ([]leave.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().LedgerEntries(ctx, employeeID, throughYear)
}

func (s *Store) LedgerEntry(ctx context.Context, employeeID leave.EmployeeID, year int) (leave.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().LedgerEntry(ctx, employeeID, year)
}

func (s *Store) SaveLedgerEntry(ctx context.Context, e leave.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries().SaveLedgerEntry(ctx, e)
}

func (s *Store) Request(ctx context.Context, id leave.RequestID) (leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().Request(ctx, id)
}

func (s *Store) PendingRequests(ctx context.Context, employeeID leave.EmployeeID) ([]leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().PendingRequests(ctx, employeeID)
}

func (s *Store) Requests(ctx context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().Requests(ctx, filter)
}

func (s *Store) SaveRequest(ctx context.Context, r leave.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries().SaveRequest(ctx, r)
}

func (s *Store) DeleteRequest(ctx context.Context, id leave.RequestID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries().DeleteRequest(ctx, id)
}

func (s *Store) queries() queries { return queries{db: s.db} }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store leave.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES - shared by *sql.DB and *sql.Tx; callers hold the lock
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db querier
}

const employeeColumns = "id, name, email, role, created_at"

func (q queries) Employee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Employee{}, fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id)
	}
	if err != nil {
		return leave.Employee{}, fmt.Errorf("failed to load employee: %w", err)
	}
	return emp, nil
}

func (q queries) Employees(ctx context.Context) ([]leave.Employee, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var employees []leave.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

func (q queries) SaveEmployee(ctx context.Context, e leave.Employee) error {
	query := `
		INSERT INTO employees (id, name, email, role, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role
	`
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := q.db.ExecContext(ctx, query,
		e.ID, e.Name, nullString(e.Email), e.Role,
		createdAt.Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return &leave.ValidationError{Field: "email", Message: "is already in use"}
	}
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// DeleteEmployee removes an employee; ledger entries and requests cascade.
func (q queries) DeleteEmployee(ctx context.Context, id leave.EmployeeID) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM employees WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete employee: %w", err)
	}
	return requireAffected(res, fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id))
}

const ledgerColumns = "employee_id, year, total_days, used_days, updated_at"

func (q queries) LedgerEntries(ctx context.Context, employeeID leave.EmployeeID, throughYear int) ([]leave.LedgerEntry, error) {
	query := "SELECT " + ledgerColumns + " FROM ledger_entries WHERE employee_id = ?"
	args := []any{employeeID}
	if throughYear != leave.NoYearBound {
		query += " AND year <= ?"
		args = append(args, throughYear)
	}
	query += " ORDER BY year ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []leave.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q queries) LedgerEntry(ctx context.Context, employeeID leave.EmployeeID, year int) (leave.LedgerEntry, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+ledgerColumns+" FROM ledger_entries WHERE employee_id = ? AND year = ?",
		employeeID, year,
	)
	e, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LedgerEntry{}, fmt.Errorf("%w: %s/%d", leave.ErrLedgerEntryNotFound, employeeID, year)
	}
	if err != nil {
		return leave.LedgerEntry{}, fmt.Errorf("failed to load ledger entry: %w", err)
	}
	return e, nil
}

// SaveLedgerEntry upserts the (employee, year) row. The ledger invariant is
// checked before anything is written.
func (q queries) SaveLedgerEntry(ctx context.Context, e leave.LedgerEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO ledger_entries (employee_id, year, total_days, used_days, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, year) DO UPDATE SET
			total_days = excluded.total_days,
			used_days = excluded.used_days,
			updated_at = excluded.updated_at
	`
	_, err := q.db.ExecContext(ctx, query,
		e.EmployeeID, e.Year,
		e.TotalDays.String(), e.UsedDays.String(),
		updatedAt.Format(time.RFC3339),
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, e.EmployeeID)
	}
	if err != nil {
		return fmt.Errorf("failed to save ledger entry: %w", err)
	}
	return nil
}

const requestColumns = `id, employee_id, start_date, end_date, half_day, status, reason,
	allocation_json, decided_by, decided_at, created_at, updated_at`

func (q queries) Request(ctx context.Context, id leave.RequestID) (leave.Request, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Request{}, fmt.Errorf("%w: %s", leave.ErrRequestNotFound, id)
	}
	if err != nil {
		return leave.Request{}, fmt.Errorf("failed to load leave request: %w", err)
	}
	return r, nil
}

func (q queries) PendingRequests(ctx context.Context, employeeID leave.EmployeeID) ([]leave.Request, error) {
	return q.Requests(ctx, leave.RequestFilter{EmployeeID: employeeID, Status: leave.StatusPending})
}

func (q queries) Requests(ctx context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Window != nil {
		// overlap: starts before the window ends and ends after it starts
		where = append(where, "start_date <= ? AND end_date >= ?")
		args = append(args, filter.Window.End.Format(leave.DateLayout), filter.Window.Start.Format(leave.DateLayout))
	}

	query := "SELECT " + requestColumns + " FROM leave_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date ASC, created_at ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list leave requests: %w", err)
	}
	defer rows.Close()

	var requests []leave.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leave request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func (q queries) SaveRequest(ctx context.Context, r leave.Request) error {
	var allocationJSON sql.NullString
	if len(r.Allocation) > 0 {
		b, err := json.Marshal(r.Allocation)
		if err != nil {
			return fmt.Errorf("failed to encode allocation: %w", err)
		}
		allocationJSON = sql.NullString{String: string(b), Valid: true}
	}
	var decidedAt sql.NullString
	if r.DecidedAt != nil {
		decidedAt = sql.NullString{String: r.DecidedAt.Format(time.RFC3339), Valid: true}
	}

	query := `
		INSERT INTO leave_requests
		(id, employee_id, start_date, end_date, half_day, status, reason,
		 allocation_json, decided_by, decided_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_id = excluded.employee_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			half_day = excluded.half_day,
			status = excluded.status,
			reason = excluded.reason,
			allocation_json = excluded.allocation_json,
			decided_by = excluded.decided_by,
			decided_at = excluded.decided_at,
			updated_at = excluded.updated_at
	`
	_, err := q.db.ExecContext(ctx, query,
		r.ID, r.EmployeeID,
		r.StartDate.Format(leave.DateLayout), r.EndDate.Format(leave.DateLayout),
		r.HalfDay, r.Status, nullString(r.Reason),
		allocationJSON, nullString(string(r.DecidedBy)), decidedAt,
		r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339),
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, r.EmployeeID)
	}
	if err != nil {
		return fmt.Errorf("failed to save leave request: %w", err)
	}
	return nil
}

func (q queries) DeleteRequest(ctx context.Context, id leave.RequestID) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM leave_requests WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete leave request: %w", err)
	}
	return requireAffected(res, fmt.Errorf("%w: %s", leave.ErrRequestNotFound, id))
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row scanner) (leave.Employee, error) {
	var (
		emp       leave.Employee
		email     sql.NullString
		createdAt string
	)
	if err := row.Scan(&emp.ID, &emp.Name, &email, &emp.Role, &createdAt); err != nil {
		return leave.Employee{}, err
	}
	emp.Email = email.String
	emp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return emp, nil
}

func scanLedgerEntry(row scanner) (leave.LedgerEntry, error) {
	var (
		e           leave.LedgerEntry
		total, used string
		updatedAt   string
	)
	if err := row.Scan(&e.EmployeeID, &e.Year, &total, &used, &updatedAt); err != nil {
		return leave.LedgerEntry{}, err
	}
	var err error
	if e.TotalDays, err = decimal.NewFromString(total); err != nil {
		return leave.LedgerEntry{}, fmt.Errorf("total_days %q: %w", total, err)
	}
	if e.UsedDays, err = decimal.NewFromString(used); err != nil {
		return leave.LedgerEntry{}, fmt.Errorf("used_days %q: %w", used, err)
	}
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return e, nil
}

func scanRequest(row scanner) (leave.Request, error) {
	var (
		r                    leave.Request
		start, end           string
		reason, allocation   sql.NullString
		decidedBy, decidedAt sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.EmployeeID, &start, &end, &r.HalfDay, &r.Status, &reason,
		&allocation, &decidedBy, &decidedAt, &createdAt, &updatedAt)
	if err != nil {
		return leave.Request{}, err
	}

	if r.StartDate, err = leave.ParseDate(start); err != nil {
		return leave.Request{}, fmt.Errorf("start_date %q: %w", start, err)
	}
	if r.EndDate, err = leave.ParseDate(end); err != nil {
		return leave.Request{}, fmt.Errorf("end_date %q: %w", end, err)
	}
	if allocation.Valid && allocation.String != "" {
		if err := json.Unmarshal([]byte(allocation.String), &r.Allocation); err != nil {
			return leave.Request{}, fmt.Errorf("allocation_json: %w", err)
		}
	}
	if decidedAt.Valid {
		t, _ := time.Parse(time.RFC3339, decidedAt.String)
		r.DecidedAt = &t
	}
	r.Reason = reason.String
	r.DecidedBy = leave.EmployeeID(decidedBy.String)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return r, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var _ leave.TxStore = (*Store)(nil)
