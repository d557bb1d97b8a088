/*
rollover.go - Year opening

PURPOSE:
  Gives every employee a ledger entry for a new year, seeded with the
  configured default allowance. Triggered by an admin, typically once at the
  start of a year; it runs inside the request like any other operation.

IDEMPOTENCY:
  Employees that already have an entry for the year keep it untouched, so
  calling the endpoint again is harmless.

SEE ALSO:
  - leave/service.go: OpenYear
  - leave/ledger.go:  GetOrCreateEntry
*/
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// YearOpeningResponse lists the employees that received a new entry.
type YearOpeningResponse struct {
	Year         int      `json:"year"`
	DefaultTotal float64  `json:"default_total"`
	Created      []string `json:"created"`
	Existing     int      `json:"existing"`
}

// OpenYear handles POST /api/years/{year}/open.
func (h *Handler) OpenYear(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, ObjBalance, ActUpdate)
	if !ok {
		return
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	opening, err := h.Service.OpenYear(r.Context(), actor, year)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	created := make([]string, 0, len(opening.Created))
	for _, id := range opening.Created {
		created = append(created, string(id))
	}
	writeJSON(w, http.StatusOK, YearOpeningResponse{
		Year:         opening.Year,
		DefaultTotal: days(opening.DefaultTotal),
		Created:      created,
		Existing:     opening.Existing,
	})
}
