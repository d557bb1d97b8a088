/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request bodies carry go-playground/validator tags and are checked by
  decodeAndValidate before the service is called. Domain rules (end date
  not before start date, balance sufficiency) stay in the leave package.

NUMBERS:
  Day quantities leave the API as JSON numbers. The conversion from
  decimal happens here and nowhere else.
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateEmployeeRequest struct {
	ID    string `json:"id" validate:"omitempty,max=64"`
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Role  string `json:"role" validate:"omitempty,oneof=user admin"`
}

type SetBalanceRequest struct {
	TotalDays *decimal.Decimal `json:"total_days" validate:"required"`
}

// SubmitLeaveRequest is the body of POST /api/requests. EmployeeID defaults
// to the actor.
type SubmitLeaveRequest struct {
	EmployeeID string `json:"employee_id" validate:"omitempty,max=64"`
	StartDate  string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate    string `json:"end_date" validate:"required,datetime=2006-01-02"`
	HalfDay    bool   `json:"half_day"`
	Reason     string `json:"reason" validate:"max=500"`
}

// EditLeaveRequest is the body of PUT /api/requests/{id}. Omitted fields
// keep their current value.
type EditLeaveRequest struct {
	EmployeeID *string `json:"employee_id" validate:"omitempty,min=1,max=64"`
	StartDate  *string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate    *string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	HalfDay    *bool   `json:"half_day"`
	Reason     *string `json:"reason" validate:"omitempty,max=500"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// LedgerEntryDTO is one stored (employee, year) row.
type LedgerEntryDTO struct {
	EmployeeID string  `json:"employee_id"`
	Year       int     `json:"year"`
	TotalDays  float64 `json:"total_days"`
	UsedDays   float64 `json:"used_days"`
	Remaining  float64 `json:"remaining"`
}

// YearBalanceDTO is one row of the balance overview.
type YearBalanceDTO struct {
	Year        int     `json:"year"`
	TotalDays   float64 `json:"total_days"`
	UsedDays    float64 `json:"used_days"`
	Remaining   float64 `json:"remaining"`
	Pending     float64 `json:"pending"`
	Requestable float64 `json:"requestable"`
}

type YearAllocationDTO struct {
	Year int     `json:"year"`
	Days float64 `json:"days"`
}

type PendingAllocationDTO struct {
	RequestID  string              `json:"request_id"`
	Allocation []YearAllocationDTO `json:"allocation"`
}

type BalancesResponse struct {
	EmployeeID string                 `json:"employee_id"`
	Years      []YearBalanceDTO       `json:"years"`
	Pending    []PendingAllocationDTO `json:"pending"`
}

type LeaveRequestDTO struct {
	ID         string              `json:"id"`
	EmployeeID string              `json:"employee_id"`
	StartDate  string              `json:"start_date"`
	EndDate    string              `json:"end_date"`
	HalfDay    bool                `json:"half_day"`
	Days       float64             `json:"days"`
	Status     string              `json:"status"`
	Reason     string              `json:"reason,omitempty"`
	Allocation []YearAllocationDTO `json:"allocation,omitempty"`
	DecidedBy  string              `json:"decided_by,omitempty"`
	DecidedAt  *string             `json:"decided_at,omitempty"`
	CreatedAt  string              `json:"created_at"`
	UpdatedAt  string              `json:"updated_at"`
}

type ListRequestsResponse struct {
	View     string            `json:"view"`
	Start    string            `json:"start"`
	End      string            `json:"end"`
	Requests []LeaveRequestDTO `json:"requests"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// FieldErrorDTO names a request body field that failed validation.
type FieldErrorDTO struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func days(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func toEmployeeDTO(e leave.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:        string(e.ID),
		Name:      e.Name,
		Email:     e.Email,
		Role:      string(e.Role),
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

func toLedgerEntryDTO(e leave.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		EmployeeID: string(e.EmployeeID),
		Year:       e.Year,
		TotalDays:  days(e.TotalDays),
		UsedDays:   days(e.UsedDays),
		Remaining:  days(e.Remaining()),
	}
}

func toAllocationDTO(a leave.Allocation) []YearAllocationDTO {
	out := make([]YearAllocationDTO, 0, len(a))
	for _, ya := range a {
		out = append(out, YearAllocationDTO{Year: ya.Year, Days: days(ya.Days)})
	}
	return out
}

func toBalancesResponse(ov leave.BalanceOverview) BalancesResponse {
	resp := BalancesResponse{
		EmployeeID: string(ov.EmployeeID),
		Years:      make([]YearBalanceDTO, 0, len(ov.Years)),
		Pending:    make([]PendingAllocationDTO, 0, len(ov.Pending)),
	}
	for _, row := range ov.Years {
		resp.Years = append(resp.Years, YearBalanceDTO{
			Year:        row.Year,
			TotalDays:   days(row.TotalDays),
			UsedDays:    days(row.UsedDays),
			Remaining:   days(row.Remaining),
			Pending:     days(row.Pending),
			Requestable: days(row.Requestable),
		})
	}
	// pending requests keep start-date order
	for _, r := range ov.Pending {
		resp.Pending = append(resp.Pending, PendingAllocationDTO{
			RequestID:  string(r.ID),
			Allocation: toAllocationDTO(ov.PendingAllocation[r.ID]),
		})
	}
	return resp
}

func toLeaveRequestDTO(r leave.Request) LeaveRequestDTO {
	dto := LeaveRequestDTO{
		ID:         string(r.ID),
		EmployeeID: string(r.EmployeeID),
		StartDate:  r.StartDate.Format(leave.DateLayout),
		EndDate:    r.EndDate.Format(leave.DateLayout),
		HalfDay:    r.HalfDay,
		Days:       days(r.Days()),
		Status:     string(r.Status),
		Reason:     r.Reason,
		DecidedBy:  string(r.DecidedBy),
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  r.UpdatedAt.Format(time.RFC3339),
	}
	if len(r.Allocation) > 0 {
		dto.Allocation = toAllocationDTO(r.Allocation)
	}
	if r.DecidedAt != nil {
		s := r.DecidedAt.Format(time.RFC3339)
		dto.DecidedAt = &s
	}
	return dto
}

func toLeaveRequestDTOs(rs []leave.Request) []LeaveRequestDTO {
	out := make([]LeaveRequestDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, toLeaveRequestDTO(r))
	}
	return out
}

// =============================================================================
// DECODING + VALIDATION
// =============================================================================

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and runs its validator tags.
// On failure it writes a 400 and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]FieldErrorDTO, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, FieldErrorDTO{Field: fe.Field(), Rule: fe.Tag()})
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Validation failed",
				Code:    "validation",
				Details: fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// parseDates converts validated YYYY-MM-DD strings.
func parseDates(start, end string) (time.Time, time.Time, error) {
	s, err := leave.ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date: %w", err)
	}
	e, err := leave.ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date: %w", err)
	}
	return s, e, nil
}
