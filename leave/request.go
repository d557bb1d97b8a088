/*
request.go - Leave request and its day count

REQUEST FLOW:
  Submit  -> Pending
  Approve -> Approved (allocation committed, recorded on the request)
  Reject  -> Rejected (no allocation)
  Edit    -> any status; an Approved edit re-runs restore + deduct
  Delete  -> removes the record; an Approved delete restores first

DAY COUNT:
  Calendar days, both ends inclusive. A half-day request is always 0.5
  regardless of its dates.

  2024-01-01..2024-01-03          -> 3
  2024-01-01..2024-01-01 half day -> 0.5
*/
package leave

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var halfDay = decimal.NewFromFloat(0.5)

type Request struct {
	ID         RequestID
	EmployeeID EmployeeID
	StartDate  time.Time
	EndDate    time.Time
	HalfDay    bool
	Status     Status
	Reason     string

	// Allocation is what approval took from each year. Empty unless Approved.
	Allocation Allocation

	DecidedBy EmployeeID
	DecidedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequestInput carries the editable fields of a request.
type RequestInput struct {
	EmployeeID EmployeeID
	StartDate  time.Time
	EndDate    time.Time
	HalfDay    bool
	Reason     string
}

// DayCount returns 0.5 for a half day, otherwise inclusive calendar days.
func DayCount(start, end time.Time, half bool) decimal.Decimal {
	if half {
		return halfDay
	}
	days := int64(dateOnly(end).Sub(dateOnly(start)).Hours()/24) + 1
	return decimal.NewFromInt(days)
}

func (r Request) Days() decimal.Decimal { return DayCount(r.StartDate, r.EndDate, r.HalfDay) }

func (r Request) StartYear() int { return r.StartDate.Year() }

func (r Request) IsPending() bool { return r.Status == StatusPending }

// Validate checks the editable fields. End before start is an error, never swapped.
func (in RequestInput) Validate() error {
	switch {
	case in.EmployeeID == "":
		return invalid("employee_id", "is required")
	case in.StartDate.IsZero():
		return invalid("start_date", "is required")
	case in.EndDate.IsZero():
		return invalid("end_date", "is required")
	case dateOnly(in.EndDate).Before(dateOnly(in.StartDate)):
		return invalid("end_date", "%s is before start_date %s",
			in.EndDate.Format(DateLayout), in.StartDate.Format(DateLayout))
	}
	return nil
}

// NewRequest validates input and builds a Pending request with a fresh ID.
func NewRequest(in RequestInput, now time.Time) (Request, error) {
	if err := in.Validate(); err != nil {
		return Request{}, err
	}
	r := Request{
		ID:        RequestID(uuid.NewString()),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.apply(in)
	return r, nil
}

func (r *Request) apply(in RequestInput) {
	r.EmployeeID = in.EmployeeID
	r.StartDate = dateOnly(in.StartDate)
	r.EndDate = dateOnly(in.EndDate)
	r.HalfDay = in.HalfDay
	r.Reason = in.Reason
}

// Input returns the editable fields of r.
func (r Request) Input() RequestInput {
	return RequestInput{
		EmployeeID: r.EmployeeID,
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		HalfDay:    r.HalfDay,
		Reason:     r.Reason,
	}
}
