/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  data for demos. Each scenario creates an employee, yearly allowances, and
  requests that exercise a specific part of the allocation rules.

AVAILABLE SCENARIOS:
  new-employee:   One year of allowance, nothing taken yet
  carryover:      Leftover days from last year drained before this year's
  year-boundary:  Request spanning New Year charged to its start year

HOW SCENARIOS WORK:
  1. Delete the scenario's employee if present (cascades its data)
  2. Create the employee
  3. Set yearly allowances
  4. Submit requests, approving some of them

  Years are relative to the current date, so the data stays meaningful.

USAGE VIA API:
  GET  /api/scenarios
  POST /api/scenarios/load   {"scenario_id": "carryover"}   (admin)

ADDING NEW SCENARIOS:
  Append to the scenarios slice with an ID, description and loader.
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/warp/leave-engine/leave"
)

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	EmployeeID  string `json:"employee_id"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, svc *leave.Service, actor leave.Actor, year int) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "new-employee",
			Name:        "New Employee",
			Description: "15 days this year, nothing requested yet",
			EmployeeID:  "demo-alice",
		},
		load: loadNewEmployee,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "carryover",
			Name:        "Carryover",
			Description: "3 days left from last year are used before this year's allowance",
			EmployeeID:  "demo-bob",
		},
		load: loadCarryover,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "year-boundary",
			Name:        "Year Boundary",
			Description: "A Dec 30 - Jan 2 request is charged entirely to last year",
			EmployeeID:  "demo-carol",
		},
		load: loadYearBoundary,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, ObjScenario, ActRead); !ok {
		return
	}
	out := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, out)
}

// LoadScenario (re)creates a scenario's employee and data.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, ObjScenario, ActLoad)
	if !ok {
		return
	}
	var req LoadScenarioRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	s, found := findScenario(req.ScenarioID)
	if !found {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	err := h.Service.DeleteEmployee(ctx, actor, leave.EmployeeID(s.EmployeeID))
	if err != nil && !leave.IsNotFound(err) {
		h.writeServiceError(w, r, err)
		return
	}
	if err := s.load(ctx, h.Service, actor, h.now().Year()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID, "employee_id": s.EmployeeID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadNewEmployee(ctx context.Context, svc *leave.Service, actor leave.Actor, year int) error {
	if _, err := svc.CreateEmployee(ctx, actor, leave.EmployeeInput{
		ID: "demo-alice", Name: "Alice Johnson", Email: "alice@example.com",
	}); err != nil {
		return err
	}
	_, err := svc.SetBalance(ctx, actor, "demo-alice", year, leave.Days(15))
	return err
}

// loadCarryover leaves 3 days in last year, then files a pending 5-day
// request this year: 3 come from last year, 2 from this year.
func loadCarryover(ctx context.Context, svc *leave.Service, actor leave.Actor, year int) error {
	const emp = leave.EmployeeID("demo-bob")
	if _, err := svc.CreateEmployee(ctx, actor, leave.EmployeeInput{
		ID: emp, Name: "Bob Smith", Email: "bob@example.com",
	}); err != nil {
		return err
	}
	if _, err := svc.SetBalance(ctx, actor, emp, year-1, leave.Days(10)); err != nil {
		return err
	}
	if _, err := svc.SetBalance(ctx, actor, emp, year, leave.Days(15)); err != nil {
		return err
	}

	// 7 days last March
	if err := submitApproved(ctx, svc, actor, emp, day(year-1, time.March, 4), day(year-1, time.March, 10)); err != nil {
		return err
	}
	// 5 days this February, left pending
	_, err := svc.Submit(ctx, actor, leave.RequestInput{
		EmployeeID: emp,
		StartDate:  day(year, time.February, 3),
		EndDate:    day(year, time.February, 7),
		Reason:     "ski trip",
	})
	return err
}

// loadYearBoundary approves a 4-day request starting Dec 30 of last year.
// The start year caps the allocation, so this year's entry is untouched.
func loadYearBoundary(ctx context.Context, svc *leave.Service, actor leave.Actor, year int) error {
	const emp = leave.EmployeeID("demo-carol")
	if _, err := svc.CreateEmployee(ctx, actor, leave.EmployeeInput{
		ID: emp, Name: "Carol White", Email: "carol@example.com",
	}); err != nil {
		return err
	}
	for _, y := range []int{year - 1, year} {
		if _, err := svc.SetBalance(ctx, actor, emp, y, leave.Days(15)); err != nil {
			return err
		}
	}
	return submitApproved(ctx, svc, actor, emp, day(year-1, time.December, 30), day(year, time.January, 2))
}

func submitApproved(ctx context.Context, svc *leave.Service, actor leave.Actor, emp leave.EmployeeID, start, end time.Time) error {
	req, err := svc.Submit(ctx, actor, leave.RequestInput{EmployeeID: emp, StartDate: start, EndDate: end})
	if err != nil {
		return err
	}
	_, err = svc.Approve(ctx, actor, req.ID)
	return err
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
