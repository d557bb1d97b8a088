/*
service.go - Request workflow and balance administration

PURPOSE:
  Orchestrates every state change of the engine. Each operation runs inside
  exactly one TxStore.WithTx unit of work, so ledger mutations and the request
  status change commit together or not at all.

STATE MACHINE:
  Submit  -> Pending                 gate: days <= requestable[start year]
  Approve    Pending -> Approved     deduct oldest-first through start year
  Reject     Pending -> Rejected     no ledger change
  Edit       any status              Approved: restore old, deduct new
                                     oldest-first through the new start year
  Delete     any status              Approved: restore first

  Approve/Reject on anything but Pending fails with AlreadyDecidedError.

RE-READ INSIDE THE TRANSACTION:
  Every transition loads the request through the transactional Store. Two
  concurrent approvals of the same request serialize on the store; the second
  one observes Approved and fails instead of deducting twice.

ACTOR:
  Operations take the already-authorized Actor explicitly. The service does
  not check roles; it records who decided a request.
*/
package leave

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultAnnualDays is the allowance given to a year's entry created on demand.
var DefaultAnnualDays = Days(15)

type Config struct {
	// DefaultAnnualDays seeds ledger entries created by get-or-create.
	DefaultAnnualDays decimal.Decimal
}

func DefaultConfig() Config {
	return Config{DefaultAnnualDays: DefaultAnnualDays}
}

type Service struct {
	store  TxStore
	cfg    Config
	logger *zap.Logger
	now    clock
}

func NewService(store TxStore, cfg Config, logger ...*zap.Logger) *Service {
	l := zap.L().Named("leave.service")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("leave.service")
	}
	if cfg.DefaultAnnualDays.IsNegative() {
		cfg.DefaultAnnualDays = decimal.Zero
	}
	return &Service{store: store, cfg: cfg, logger: l, now: systemClock}
}

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeInput struct {
	ID    EmployeeID
	Name  string
	Email string
	Role  Role
}

func (in EmployeeInput) Validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return invalid("name", "is required")
	case in.Role != "" && !in.Role.Valid():
		return invalid("role", "must be user or admin")
	}
	return nil
}

func (s *Service) CreateEmployee(ctx context.Context, actor Actor, in EmployeeInput) (Employee, error) {
	if err := in.Validate(); err != nil {
		s.logger.Warn("create employee rejected", zap.String("actor", string(actor.ID)), zap.Error(err))
		return Employee{}, err
	}

	emp := Employee{
		ID:        in.ID,
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		Role:      in.Role,
		CreatedAt: s.now(),
	}
	if emp.ID == "" {
		emp.ID = EmployeeID(uuid.NewString())
	}
	if emp.Role == "" {
		emp.Role = RoleUser
	}

	if err := s.store.SaveEmployee(ctx, emp); err != nil {
		s.logger.Error("create employee persist failed", zap.String("employee_id", string(emp.ID)), zap.Error(err))
		return Employee{}, err
	}
	s.logger.Info("employee created",
		zap.String("employee_id", string(emp.ID)),
		zap.String("actor", string(actor.ID)),
	)
	return emp, nil
}

func (s *Service) Employee(ctx context.Context, id EmployeeID) (Employee, error) {
	return s.store.Employee(ctx, id)
}

func (s *Service) Employees(ctx context.Context) ([]Employee, error) {
	return s.store.Employees(ctx)
}

// DeleteEmployee removes the employee with all ledger entries and requests.
func (s *Service) DeleteEmployee(ctx context.Context, actor Actor, id EmployeeID) error {
	err := s.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.Employee(ctx, id); err != nil {
			return err
		}
		return tx.DeleteEmployee(ctx, id)
	})
	if err != nil {
		s.logFailure("delete employee", err, zap.String("employee_id", string(id)))
		return err
	}
	s.logger.Info("employee deleted", zap.String("employee_id", string(id)), zap.String("actor", string(actor.ID)))
	return nil
}

// =============================================================================
// BALANCES
// =============================================================================

// SetBalance sets the yearly allowance, creating the entry when absent.
func (s *Service) SetBalance(ctx context.Context, actor Actor, employeeID EmployeeID, year int, total decimal.Decimal) (LedgerEntry, error) {
	if year <= 0 {
		return LedgerEntry{}, invalid("year", "must be positive")
	}

	var out LedgerEntry
	err := s.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.Employee(ctx, employeeID); err != nil {
			return err
		}
		entry, err := tx.LedgerEntry(ctx, employeeID, year)
		switch {
		case IsNotFound(err):
			entry = NewLedgerEntry(employeeID, year, decimal.Zero)
		case err != nil:
			return err
		}
		if err := entry.SetTotal(total); err != nil {
			return err
		}
		entry.UpdatedAt = s.now()
		if err := tx.SaveLedgerEntry(ctx, entry); err != nil {
			return err
		}
		out = entry
		return nil
	})
	if err != nil {
		s.logFailure("set balance", err, zap.String("employee_id", string(employeeID)), zap.Int("year", year))
		return LedgerEntry{}, err
	}
	s.logger.Info("balance set",
		zap.String("employee_id", string(employeeID)),
		zap.Int("year", year),
		zap.String("total_days", total.String()),
		zap.String("actor", string(actor.ID)),
	)
	return out, nil
}

// YearOpening reports which employees got a new ledger entry from OpenYear.
type YearOpening struct {
	Year         int
	DefaultTotal decimal.Decimal
	Created      []EmployeeID
	Existing     int
}

// OpenYear gives every employee without an entry for year one with the
// configured default allowance. Existing entries are left alone, so running
// it twice creates nothing the second time.
func (s *Service) OpenYear(ctx context.Context, actor Actor, year int) (YearOpening, error) {
	if year <= 0 {
		return YearOpening{}, invalid("year", "must be positive")
	}

	out := YearOpening{Year: year, DefaultTotal: s.cfg.DefaultAnnualDays}
	err := s.store.WithTx(ctx, func(tx Store) error {
		employees, err := tx.Employees(ctx)
		if err != nil {
			return err
		}
		for _, emp := range employees {
			_, created, err := GetOrCreateEntry(ctx, tx, emp.ID, year, s.cfg.DefaultAnnualDays)
			if err != nil {
				return err
			}
			if created {
				out.Created = append(out.Created, emp.ID)
			} else {
				out.Existing++
			}
		}
		return nil
	})
	if err != nil {
		s.logFailure("open year", err, zap.Int("year", year))
		return YearOpening{}, err
	}

	s.logger.Info("year opened",
		zap.Int("year", year),
		zap.Int("created", len(out.Created)),
		zap.Int("existing", out.Existing),
		zap.String("actor", string(actor.ID)),
	)
	return out, nil
}

// BalanceOverview combines the ledger rows with the pending simulation of a
// single snapshot.
type BalanceOverview struct {
	EmployeeID        EmployeeID
	Years             []YearBalance
	Pending           []Request
	PendingAllocation map[RequestID]Allocation
}

func (s *Service) Overview(ctx context.Context, employeeID EmployeeID) (BalanceOverview, error) {
	entries, pending, err := s.snapshot(ctx, employeeID)
	if err != nil {
		return BalanceOverview{}, err
	}
	return BalanceOverview{
		EmployeeID:        employeeID,
		Years:             Summarize(entries, pending),
		Pending:           pending,
		PendingAllocation: PendingAllocation(entries, pending),
	}, nil
}

// Balances returns one summary row per ledger year.
func (s *Service) Balances(ctx context.Context, employeeID EmployeeID) ([]YearBalance, error) {
	entries, pending, err := s.snapshot(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return Summarize(entries, pending), nil
}

func (s *Service) RequestableByYear(ctx context.Context, employeeID EmployeeID) (map[int]decimal.Decimal, error) {
	entries, pending, err := s.snapshot(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return RequestableByYear(entries, pending), nil
}

func (s *Service) RemainingByYear(ctx context.Context, employeeID EmployeeID) (map[int]decimal.Decimal, error) {
	if _, err := s.store.Employee(ctx, employeeID); err != nil {
		return nil, err
	}
	entries, err := s.store.LedgerEntries(ctx, employeeID, NoYearBound)
	if err != nil {
		return nil, err
	}
	return RemainingByYear(entries), nil
}

func (s *Service) PendingAllocation(ctx context.Context, employeeID EmployeeID) (map[RequestID]Allocation, error) {
	entries, pending, err := s.snapshot(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return PendingAllocation(entries, pending), nil
}

func (s *Service) snapshot(ctx context.Context, employeeID EmployeeID) ([]LedgerEntry, []Request, error) {
	if _, err := s.store.Employee(ctx, employeeID); err != nil {
		return nil, nil, err
	}
	entries, err := s.store.LedgerEntries(ctx, employeeID, NoYearBound)
	if err != nil {
		return nil, nil, err
	}
	pending, err := s.store.PendingRequests(ctx, employeeID)
	if err != nil {
		return nil, nil, err
	}
	return entries, pending, nil
}

// =============================================================================
// REQUEST WORKFLOW
// =============================================================================

func (s *Service) Request(ctx context.Context, id RequestID) (Request, error) {
	return s.store.Request(ctx, id)
}

func (s *Service) Requests(ctx context.Context, filter RequestFilter) ([]Request, error) {
	return s.store.Requests(ctx, filter)
}

// Submit creates a Pending request if its day count fits the requestable
// balance of its start year.
func (s *Service) Submit(ctx context.Context, actor Actor, in RequestInput) (Request, error) {
	s.logger.Debug("submit requested",
		zap.String("employee_id", string(in.EmployeeID)),
		zap.String("actor", string(actor.ID)),
	)

	req, err := NewRequest(in, s.now())
	if err != nil {
		s.logger.Warn("submit rejected", zap.String("employee_id", string(in.EmployeeID)), zap.Error(err))
		return Request{}, err
	}

	err = s.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.Employee(ctx, req.EmployeeID); err != nil {
			return err
		}
		if err := s.checkRequestable(ctx, tx, req, ""); err != nil {
			return err
		}
		return tx.SaveRequest(ctx, req)
	})
	if err != nil {
		s.logFailure("submit", err, zap.String("employee_id", string(req.EmployeeID)))
		return Request{}, err
	}

	s.logger.Info("request submitted",
		zap.String("request_id", string(req.ID)),
		zap.String("employee_id", string(req.EmployeeID)),
		zap.String("days", req.Days().String()),
	)
	return req, nil
}

// Approve deducts the request's days oldest-year-first and marks it Approved.
// On insufficient balance the request stays Pending and no entry changes.
func (s *Service) Approve(ctx context.Context, actor Actor, id RequestID) (Request, error) {
	s.logger.Debug("approve requested", zap.String("request_id", string(id)), zap.String("actor", string(actor.ID)))

	var out Request
	err := s.store.WithTx(ctx, func(tx Store) error {
		req, err := s.pendingRequest(ctx, tx, id)
		if err != nil {
			return err
		}

		now := s.now()
		plan, err := Allocate(ctx, tx, req.EmployeeID, req.StartYear(), req.Days(), DirectionDeduct, now)
		if err != nil {
			return err
		}
		req.Status = StatusApproved
		req.Allocation = plan.Allocation
		s.decide(&req, actor, now)
		if err := tx.SaveRequest(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		s.logFailure("approve", err, zap.String("request_id", string(id)))
		return Request{}, err
	}

	s.logger.Info("request approved",
		zap.String("request_id", string(out.ID)),
		zap.String("employee_id", string(out.EmployeeID)),
		zap.Any("allocation", out.Allocation.ByYear()),
	)
	return out, nil
}

// Reject marks a Pending request Rejected. The ledger is not touched.
func (s *Service) Reject(ctx context.Context, actor Actor, id RequestID) (Request, error) {
	var out Request
	err := s.store.WithTx(ctx, func(tx Store) error {
		req, err := s.pendingRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		req.Status = StatusRejected
		s.decide(&req, actor, s.now())
		if err := tx.SaveRequest(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		s.logFailure("reject", err, zap.String("request_id", string(id)))
		return Request{}, err
	}
	s.logger.Info("request rejected", zap.String("request_id", string(id)), zap.String("actor", string(actor.ID)))
	return out, nil
}

// Guard checks the request as read inside the transaction, before anything
// changes. A failing guard aborts the operation.
type Guard func(current Request) error

// OwnedBy fails with *OwnerChangedError unless the request still belongs to
// owner.
func OwnedBy(owner EmployeeID) Guard {
	return func(current Request) error {
		if current.EmployeeID != owner {
			return &OwnerChangedError{RequestID: current.ID, Expected: owner, Actual: current.EmployeeID}
		}
		return nil
	}
}

func checkGuards(req Request, guards []Guard) error {
	for _, g := range guards {
		if err := g(req); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the request. An Approved request gives its days back first.
func (s *Service) Delete(ctx context.Context, actor Actor, id RequestID, guards ...Guard) error {
	var shortfall decimal.Decimal
	err := s.store.WithTx(ctx, func(tx Store) error {
		req, err := tx.Request(ctx, id)
		if err != nil {
			return err
		}
		if err := checkGuards(req, guards); err != nil {
			return err
		}

		if req.Status == StatusApproved {
			ledger := newLedgerSet()
			if err := ledger.load(ctx, tx, req.EmployeeID); err != nil {
				return err
			}
			shortfall = s.restore(ledger, req)
			if err := ledger.flush(ctx, tx, s.now()); err != nil {
				return err
			}
		}
		return tx.DeleteRequest(ctx, id)
	})
	if err != nil {
		s.logFailure("delete", err, zap.String("request_id", string(id)))
		return err
	}

	if shortfall.IsPositive() {
		s.logger.Warn("delete restored less than was allocated",
			zap.String("request_id", string(id)),
			zap.String("shortfall", shortfall.String()),
		)
	}
	s.logger.Info("request deleted", zap.String("request_id", string(id)), zap.String("actor", string(actor.ID)))
	return nil
}

// Edit replaces the editable fields of a request in any status.
//
// Approved: the old allocation is restored, then the new day count is
// deducted oldest-year-first through the new start year, whose entry is
// created with the default allowance when absent. Both steps run on the same
// working copies; if the deduction does not fit, the edit fails and nothing
// is written. An edit that keeps the dates reproduces the old allocation.
//
// Pending: the requestable gate is re-checked without the request itself.
// Rejected: fields change, the ledger does not.
func (s *Service) Edit(ctx context.Context, actor Actor, id RequestID, in RequestInput, guards ...Guard) (Request, error) {
	if err := in.Validate(); err != nil {
		s.logger.Warn("edit rejected", zap.String("request_id", string(id)), zap.Error(err))
		return Request{}, err
	}

	var (
		out       Request
		shortfall decimal.Decimal
	)
	err := s.store.WithTx(ctx, func(tx Store) error {
		req, err := tx.Request(ctx, id)
		if err != nil {
			return err
		}
		if err := checkGuards(req, guards); err != nil {
			return err
		}
		if in.EmployeeID != req.EmployeeID {
			if _, err := tx.Employee(ctx, in.EmployeeID); err != nil {
				return err
			}
		}

		old := req
		req.apply(in)
		req.UpdatedAt = s.now()

		switch req.Status {
		case StatusApproved:
			ledger := newLedgerSet()
			if err := ledger.load(ctx, tx, old.EmployeeID); err != nil {
				return err
			}
			if err := ledger.load(ctx, tx, req.EmployeeID); err != nil {
				return err
			}
			shortfall = s.restore(ledger, old)
			ledger.ensure(req.EmployeeID, req.StartYear(), s.cfg.DefaultAnnualDays)
			plan, err := ledger.allocate(req.EmployeeID, req.StartYear(), req.Days(), DirectionDeduct)
			if err != nil {
				return err
			}
			if err := ledger.flush(ctx, tx, req.UpdatedAt); err != nil {
				return err
			}
			req.Allocation = plan.Allocation
		case StatusPending:
			if err := s.checkRequestable(ctx, tx, req, req.ID); err != nil {
				return err
			}
		}

		if err := tx.SaveRequest(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		s.logFailure("edit", err, zap.String("request_id", string(id)))
		return Request{}, err
	}

	if shortfall.IsPositive() {
		s.logger.Warn("edit restored less than was allocated",
			zap.String("request_id", string(id)),
			zap.String("shortfall", shortfall.String()),
		)
	}
	s.logger.Info("request edited",
		zap.String("request_id", string(out.ID)),
		zap.String("status", string(out.Status)),
		zap.String("actor", string(actor.ID)),
	)
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) pendingRequest(ctx context.Context, tx Store, id RequestID) (Request, error) {
	req, err := tx.Request(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !req.IsPending() {
		return Request{}, &AlreadyDecidedError{RequestID: id, Status: req.Status}
	}
	return req, nil
}

// checkRequestable applies the submit gate. exclude removes a request from
// the pending set so an edited request does not compete with itself.
func (s *Service) checkRequestable(ctx context.Context, tx Store, req Request, exclude RequestID) error {
	entries, err := tx.LedgerEntries(ctx, req.EmployeeID, NoYearBound)
	if err != nil {
		return err
	}
	pending, err := tx.PendingRequests(ctx, req.EmployeeID)
	if err != nil {
		return err
	}
	if exclude != "" {
		kept := pending[:0:0]
		for _, p := range pending {
			if p.ID != exclude {
				kept = append(kept, p)
			}
		}
		pending = kept
	}

	year := req.StartYear()
	available := RequestableByYear(entries, pending)[year]
	if req.Days().GreaterThan(available) {
		return &InsufficientBalanceError{
			EmployeeID: req.EmployeeID,
			Year:       year,
			Requested:  req.Days(),
			Available:  available,
			Shortfall:  req.Days().Sub(available),
		}
	}
	return nil
}

// restore gives back what an approved request took. Requests approved
// without a recorded allocation fall back to the oldest-first walk.
func (s *Service) restore(ledger *ledgerSet, req Request) decimal.Decimal {
	if len(req.Allocation) > 0 {
		return ledger.restoreAllocation(req.EmployeeID, req.Allocation)
	}
	plan, _ := ledger.allocate(req.EmployeeID, req.StartYear(), req.Days(), DirectionRestore)
	return plan.Shortfall
}

func (s *Service) decide(req *Request, actor Actor, now time.Time) {
	req.DecidedBy = actor.ID
	req.DecidedAt = &now
	req.UpdatedAt = now
}

// logFailure logs client errors as warnings and everything else as errors.
func (s *Service) logFailure(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if IsClientError(err) || IsNotFound(err) {
		s.logger.Warn(op+" rejected", fields...)
		return
	}
	s.logger.Error(op+" failed", fields...)
}
