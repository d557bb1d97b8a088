/*
handlers_test.go - HTTP tests for the leave API

Tests for:
- Actor resolution (401) and role policy (403)
- Submit / approve / balances flow end to end
- Error mapping (400, 404, 409, 422)
- Rate limiting (429)
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

type testServer struct {
	router  *chi.Mux
	handler *Handler
	svc     *leave.Service
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	svc := leave.NewService(store.NewTxMemory(), leave.DefaultConfig(), logger)
	for _, in := range []leave.EmployeeInput{
		{ID: "boss", Name: "Boss", Role: leave.RoleAdmin},
		{ID: "ann", Name: "Ann", Role: leave.RoleUser},
		{ID: "bob", Name: "Bob", Role: leave.RoleUser},
	} {
		_, err := svc.CreateEmployee(ctx, leave.SystemActor, in)
		require.NoError(t, err)
	}
	for _, emp := range []leave.EmployeeID{"ann", "bob"} {
		_, err := svc.SetBalance(ctx, leave.SystemActor, emp, 2024, leave.Days(15))
		require.NoError(t, err)
	}

	authz, err := NewAuthorizer()
	require.NoError(t, err)
	h := NewHandler(svc, authz, logger)
	return &testServer{router: NewRouter(h, opts), handler: h, svc: svc}
}

func defaultTestServer(t *testing.T) *testServer {
	opts := DefaultOptions()
	opts.RateLimit = 0
	return newTestServer(t, opts)
}

func (s *testServer) do(t *testing.T, method, path string, actor leave.EmployeeID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, string(actor))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) submit(t *testing.T, actor leave.EmployeeID, body map[string]any) LeaveRequestDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/requests", actor, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[LeaveRequestDTO](t, rec)
}

// =============================================================================
// ACTOR / POLICY
// =============================================================================

func TestActor_Required(t *testing.T) {
	s := defaultTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/employees", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/employees", "ghost", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).Code, "health check needs no actor")
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/employees", "ann", nil).Code)
}

func TestPolicy_UserCannotDecide(t *testing.T) {
	s := defaultTestServer(t)
	req := s.submit(t, "ann", map[string]any{"start_date": "2024-03-04", "end_date": "2024-03-06"})

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/requests/"+req.ID+"/approve", "ann", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/requests/"+req.ID+"/reject", "ann", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, "/api/employees/ann/balances/2024", "ann", map[string]any{"total_days": 99}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/employees", "ann", map[string]any{"name": "Mallory"}).Code)
}

func TestPolicy_UserTouchesOthersRequests(t *testing.T) {
	s := defaultTestServer(t)
	bobs := s.submit(t, "bob", map[string]any{"start_date": "2024-03-04", "end_date": "2024-03-04"})

	rec := s.do(t, http.MethodPost, "/api/requests", "ann", map[string]any{
		"employee_id": "bob", "start_date": "2024-03-04", "end_date": "2024-03-04",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/api/requests/"+bobs.ID, "ann", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, "/api/requests/"+bobs.ID, "ann", map[string]any{"reason": "mine now"}).Code)

	// moving one's own request to someone else is also denied
	anns := s.submit(t, "ann", map[string]any{"start_date": "2024-04-01", "end_date": "2024-04-01"})
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, "/api/requests/"+anns.ID, "ann", map[string]any{"employee_id": "bob"}).Code)

	// admins may act for anyone
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/requests/"+bobs.ID, "boss", nil).Code)
}

// =============================================================================
// WORKFLOW
// =============================================================================

func TestSubmitApproveBalances(t *testing.T) {
	// GIVEN: Ann with 15 days in 2024
	// WHEN: She submits 3 days and the admin approves
	// THEN: Balances show 3 used and 12 requestable

	s := defaultTestServer(t)

	req := s.submit(t, "ann", map[string]any{"start_date": "2024-03-04", "end_date": "2024-03-06", "reason": "trip"})
	assert.Equal(t, "ann", req.EmployeeID, "employee defaults to the actor")
	assert.Equal(t, "Pending", req.Status)
	assert.Equal(t, 3.0, req.Days)

	rec := s.do(t, http.MethodPost, "/api/requests/"+req.ID+"/approve", "boss", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[LeaveRequestDTO](t, rec)
	assert.Equal(t, "Approved", approved.Status)
	assert.Equal(t, "boss", approved.DecidedBy)
	assert.Equal(t, []YearAllocationDTO{{Year: 2024, Days: 3}}, approved.Allocation)

	rec = s.do(t, http.MethodGet, "/api/employees/ann/balances", "ann", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decode[BalancesResponse](t, rec)
	require.Len(t, balances.Years, 1)
	assert.Equal(t, 15.0, balances.Years[0].TotalDays)
	assert.Equal(t, 3.0, balances.Years[0].UsedDays)
	assert.Equal(t, 12.0, balances.Years[0].Requestable)
	assert.Empty(t, balances.Pending)

	rec = s.do(t, http.MethodPost, "/api/requests/"+req.ID+"/approve", "boss", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBalances_ShowPendingAllocation(t *testing.T) {
	s := defaultTestServer(t)
	req := s.submit(t, "ann", map[string]any{"start_date": "2024-05-06", "end_date": "2024-05-06", "half_day": true})

	rec := s.do(t, http.MethodGet, "/api/employees/ann/balances", "boss", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	balances := decode[BalancesResponse](t, rec)
	require.Len(t, balances.Pending, 1)
	assert.Equal(t, req.ID, balances.Pending[0].RequestID)
	assert.Equal(t, []YearAllocationDTO{{Year: 2024, Days: 0.5}}, balances.Pending[0].Allocation)
	assert.Equal(t, 0.5, balances.Years[0].Pending)
	assert.Equal(t, 14.5, balances.Years[0].Requestable)
}

func TestEditRequest_PartialBody(t *testing.T) {
	s := defaultTestServer(t)
	req := s.submit(t, "ann", map[string]any{"start_date": "2024-03-04", "end_date": "2024-03-06", "reason": "trip"})

	rec := s.do(t, http.MethodPut, "/api/requests/"+req.ID, "ann", map[string]any{"end_date": "2024-03-07"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decode[LeaveRequestDTO](t, rec)
	assert.Equal(t, "2024-03-04", edited.StartDate, "omitted fields keep their value")
	assert.Equal(t, "2024-03-07", edited.EndDate)
	assert.Equal(t, "trip", edited.Reason)
	assert.Equal(t, 4.0, edited.Days)
}

func TestDeleteRequest_Approved_RestoresBalance(t *testing.T) {
	s := defaultTestServer(t)
	req := s.submit(t, "ann", map[string]any{"start_date": "2024-03-04", "end_date": "2024-03-06"})
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/requests/"+req.ID+"/approve", "boss", nil).Code)

	rec := s.do(t, http.MethodDelete, "/api/requests/"+req.ID, "ann", nil)

	require.Equal(t, http.StatusNoContent, rec.Code)
	entries, err := s.svc.RemainingByYear(context.Background(), "ann")
	require.NoError(t, err)
	assert.True(t, entries[2024].Equal(leave.Days(15)))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/requests/"+req.ID, "ann", nil).Code)
}

func TestListRequests_Window(t *testing.T) {
	s := defaultTestServer(t)
	march := s.submit(t, "ann", map[string]any{"start_date": "2024-02-28", "end_date": "2024-03-01"})
	s.submit(t, "bob", map[string]any{"start_date": "2024-04-01", "end_date": "2024-04-01"})

	rec := s.do(t, http.MethodGet, "/api/requests?view=month&date=2024-03-15", "ann", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListRequestsResponse](t, rec)
	assert.Equal(t, "month", list.View)
	assert.Equal(t, "2024-03-01", list.Start)
	assert.Equal(t, "2024-03-31", list.End)
	require.Len(t, list.Requests, 1)
	assert.Equal(t, march.ID, list.Requests[0].ID)

	rec = s.do(t, http.MethodGet, "/api/requests?view=year&date=2024-06-01&employee_id=bob", "ann", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListRequestsResponse](t, rec).Requests, 1)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/requests?view=fortnight", "ann", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/requests?status=Maybe", "ann", nil).Code)
}

func TestAdmin_EmployeesAndBalances(t *testing.T) {
	s := defaultTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/employees", "boss", map[string]any{"name": "Cy", "email": "cy@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cy := decode[EmployeeDTO](t, rec)
	assert.Equal(t, "user", cy.Role)

	rec = s.do(t, http.MethodPut, "/api/employees/"+cy.ID+"/balances/2025", "boss", map[string]any{"total_days": 20})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entry := decode[LedgerEntryDTO](t, rec)
	assert.Equal(t, 20.0, entry.TotalDays)
	assert.Equal(t, 20.0, entry.Remaining)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/api/employees/"+cy.ID+"/balances/next", "boss", map[string]any{"total_days": 20}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/api/employees/ghost/balances/2025", "boss", map[string]any{"total_days": 20}).Code)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/employees/"+cy.ID, "boss", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/employees/"+cy.ID, "boss", nil).Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorMapping(t *testing.T) {
	s := defaultTestServer(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{
			name:     "insufficient balance",
			method:   http.MethodPost,
			path:     "/api/requests",
			body:     map[string]any{"start_date": "2024-03-01", "end_date": "2024-03-20"},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "insufficient_balance",
		},
		{
			name:     "end before start",
			method:   http.MethodPost,
			path:     "/api/requests",
			body:     map[string]any{"start_date": "2024-03-06", "end_date": "2024-03-04"},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation",
		},
		{
			name:     "malformed date",
			method:   http.MethodPost,
			path:     "/api/requests",
			body:     map[string]any{"start_date": "04/03/2024", "end_date": "2024-03-04"},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation",
		},
		{
			name:     "missing request",
			method:   http.MethodGet,
			path:     "/api/requests/nope",
			wantCode: http.StatusNotFound,
		},
		{
			name:     "user creating an employee",
			method:   http.MethodPost,
			path:     "/api/employees",
			body:     map[string]any{"name": "Cy", "email": "not-an-email"},
			wantCode: http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, "ann", tt.body)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decode[ErrorResponse](t, rec).Code)
			}
		})
	}
}

func TestErrorMapping_OwnerChanged(t *testing.T) {
	s := defaultTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/requests/r1", nil)

	s.handler.writeServiceError(rec, req, &leave.OwnerChangedError{RequestID: "r1", Expected: "ann", Actual: "bob"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "now belongs to bob")
}

func TestErrorMapping_InvalidBody(t *testing.T) {
	s := defaultTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/employees", "boss", map[string]any{"name": "Cy", "email": "not-an-email"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[struct {
		Code    string          `json:"code"`
		Details []FieldErrorDTO `json:"details"`
	}](t, rec)
	assert.Equal(t, "validation", resp.Code)
	assert.Equal(t, []FieldErrorDTO{{Field: "email", Rule: "email"}}, resp.Details)
}

// =============================================================================
// RATE LIMIT
// =============================================================================

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Options{RateLimit: rate.Limit(0.001), RateBurst: 2})

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/employees", "ann", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/employees", "ann", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodGet, "/api/employees", "ann", nil).Code)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/employees", "bob", nil).Code, "buckets are per actor")
}

func TestRequestObject(t *testing.T) {
	ann := leave.Actor{ID: "ann", Role: leave.RoleUser}

	assert.Equal(t, ObjOwnRequest, requestObject(ann, "ann"))
	assert.Equal(t, ObjOwnRequest, requestObject(ann, "ann", "ann"))
	assert.Equal(t, ObjRequest, requestObject(ann, "ann", "bob"))
	assert.Equal(t, ObjRequest, requestObject(ann, "bob"))
}
