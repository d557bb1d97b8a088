/*
handlers.go - HTTP API handlers for the leave service

PURPOSE:
  Exposes the leave engine via REST API. Handles HTTP request/response,
  JSON serialization, role checks, and delegates to leave.Service.

ENDPOINTS:
  Employees:
    GET    /api/employees                     List all employees
    POST   /api/employees                     Create employee (admin)
    GET    /api/employees/{id}                Get employee details
    DELETE /api/employees/{id}                Delete employee, cascading (admin)
    GET    /api/employees/{id}/balances       Per-year total/used/remaining/requestable
    PUT    /api/employees/{id}/balances/{yr}  Set a year's allowance (admin)

  Requests:
    GET    /api/requests?view=&date=&employee_id=&status=
    POST   /api/requests                      Submit (own, or any for admin)
    GET    /api/requests/{id}
    PUT    /api/requests/{id}                 Edit (own, or any for admin)
    DELETE /api/requests/{id}                 Delete (own, or any for admin)
    POST   /api/requests/{id}/approve         (admin)
    POST   /api/requests/{id}/reject          (admin)

  Administration:
    POST   /api/years/{year}/open             Seed missing entries for a year (admin)
    GET    /api/scenarios                     List demo scenarios
    POST   /api/scenarios/load                Load a demo scenario (admin)

REQUEST FLOW:
  1. Resolve actor (authz.go middleware)
  2. Parse and validate input (dto.go)
  3. Check role policy
  4. Call the service
  5. Serialize response, mapping domain errors to status codes

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 401: Missing or unknown actor
  - 403: Role policy denies the action
  - 404: Employee or request not found
  - 409: Request already decided, or its owner changed mid-request
  - 422: Insufficient balance
  - 429: Rate limited
  - 500: Internal errors
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/leave-engine/leave"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *leave.Service
	Authz   *Authorizer
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler creates a new handler on top of the service.
func NewHandler(svc *leave.Service, authz *Authorizer, logger ...*zap.Logger) *Handler {
	l := zap.L().Named("leave.api")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("leave.api")
	}
	return &Handler{
		Service: svc,
		Authz:   authz,
		logger:  l,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// EMPLOYEE ENDPOINTS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, ObjEmployee, ActRead); !ok {
		return
	}
	employees, err := h.Service.Employees(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]EmployeeDTO, 0, len(employees))
	for _, e := range employees {
		dtos = append(dtos, toEmployeeDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, ObjEmployee, ActCreate)
	if !ok {
		return
	}
	var req CreateEmployeeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	emp, err := h.Service.CreateEmployee(r.Context(), actor, leave.EmployeeInput{
		ID:    leave.EmployeeID(req.ID),
		Name:  req.Name,
		Email: req.Email,
		Role:  leave.Role(req.Role),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, ObjEmployee, ActRead); !ok {
		return
	}
	emp, err := h.Service.Employee(r.Context(), leave.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

func (h *Handler) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, ObjEmployee, ActDelete)
	if !ok {
		return
	}
	if err := h.Service.DeleteEmployee(r.Context(), actor, leave.EmployeeID(chi.URLParam(r, "id"))); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BALANCE ENDPOINTS
// =============================================================================

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, ObjBalance, ActRead); !ok {
		return
	}
	ov, err := h.Service.Overview(r.Context(), leave.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalancesResponse(ov))
}

func (h *Handler) SetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, ObjBalance, ActUpdate)
	if !ok {
		return
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	var req SetBalanceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	entry, err := h.Service.SetBalance(r.Context(), actor, leave.EmployeeID(chi.URLParam(r, "id")), year, *req.TotalDays)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerEntryDTO(entry))
}

// =============================================================================
// REQUEST ENDPOINTS
// =============================================================================

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, ObjRequest, ActRead); !ok {
		return
	}

	q := r.URL.Query()
	view, err := leave.ParseView(q.Get("view"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	date := h.now()
	if s := q.Get("date"); s != "" {
		if date, err = leave.ParseDate(s); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}
	status := leave.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status", nil)
		return
	}

	window := leave.PeriodFor(view, date)
	requests, err := h.Service.Requests(r.Context(), leave.RequestFilter{
		EmployeeID: leave.EmployeeID(q.Get("employee_id")),
		Status:     status,
		Window:     &window,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ListRequestsResponse{
		View:     string(view),
		Start:    window.Start.Format(leave.DateLayout),
		End:      window.End.Format(leave.DateLayout),
		Requests: toLeaveRequestDTOs(requests),
	})
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, ObjRequest, ActRead); !ok {
		return
	}
	req, err := h.Service.Request(r.Context(), leave.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(req))
}

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var body SubmitLeaveRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}
	actor, _ := ActorFrom(r.Context())
	employeeID := leave.EmployeeID(body.EmployeeID)
	if employeeID == "" {
		employeeID = actor.ID
	}
	actor, ok := h.authorize(w, r, requestObject(actor, employeeID), ActCreate)
	if !ok {
		return
	}

	start, end, err := parseDates(body.StartDate, body.EndDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	req, err := h.Service.Submit(r.Context(), actor, leave.RequestInput{
		EmployeeID: employeeID,
		StartDate:  start,
		EndDate:    end,
		HalfDay:    body.HalfDay,
		Reason:     body.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveRequestDTO(req))
}

func (h *Handler) EditRequest(w http.ResponseWriter, r *http.Request) {
	var body EditLeaveRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}
	id := leave.RequestID(chi.URLParam(r, "id"))
	current, err := h.Service.Request(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	in := current.Input()
	if body.EmployeeID != nil {
		in.EmployeeID = leave.EmployeeID(*body.EmployeeID)
	}
	if body.StartDate != nil {
		if in.StartDate, err = leave.ParseDate(*body.StartDate); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}
	if body.EndDate != nil {
		if in.EndDate, err = leave.ParseDate(*body.EndDate); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}
	if body.HalfDay != nil {
		in.HalfDay = *body.HalfDay
	}
	if body.Reason != nil {
		in.Reason = *body.Reason
	}

	actor, _ := ActorFrom(r.Context())
	actor, ok := h.authorize(w, r, requestObject(actor, current.EmployeeID, in.EmployeeID), ActUpdate)
	if !ok {
		return
	}

	// the owner is re-checked inside the edit's transaction
	updated, err := h.Service.Edit(r.Context(), actor, id, in, leave.OwnedBy(current.EmployeeID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(updated))
}

func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))
	current, err := h.Service.Request(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	actor, _ := ActorFrom(r.Context())
	actor, ok := h.authorize(w, r, requestObject(actor, current.EmployeeID), ActDelete)
	if !ok {
		return
	}

	if err := h.Service.Delete(r.Context(), actor, id, leave.OwnedBy(current.EmployeeID)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, ObjRequest, ActApprove)
	if !ok {
		return
	}
	req, err := h.Service.Approve(r.Context(), actor, leave.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(req))
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, ObjRequest, ActReject)
	if !ok {
		return
	}
	req, err := h.Service.Reject(r.Context(), actor, leave.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(req))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps leave errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *leave.ValidationError
		ierr *leave.InsufficientBalanceError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "validation",
			Details: FieldErrorDTO{Field: verr.Field, Rule: verr.Message},
		})
	case errors.As(err, &ierr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "Insufficient balance",
			Code:  "insufficient_balance",
			Details: map[string]any{
				"year":      ierr.Year,
				"requested": days(ierr.Requested),
				"available": days(ierr.Available),
				"shortfall": days(ierr.Shortfall),
			},
		})
	case errors.Is(err, leave.ErrAlreadyDecided):
		writeError(w, http.StatusConflict, "Request already decided", err)
	case errors.Is(err, leave.ErrConflict):
		writeError(w, http.StatusConflict, "Request changed, retry", err)
	case leave.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	default:
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
