/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. RateLimit:  Token bucket per actor (or client address)
  6. Actor:      Resolves X-Actor-ID to an employee and role (API routes only)

ROUTE GROUPS:
  /healthz              Liveness probe, no actor required
  /api/employees/*      Employee management and balances
  /api/requests/*       Leave request workflow
  /api/years/*          Year opening (admin)
  /api/scenarios/*      Demo data loaders

AUTHENTICATION:
  Session handling lives in front of this service. The caller's identity
  arrives as X-Actor-ID and is trusted; role checks happen in authz.go
  before any service call.

SEE ALSO:
  - handlers.go: Handler implementations
  - authz.go:    Role policy
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// Options tunes the middleware stack.
type Options struct {
	AllowedOrigins []string
	RateLimit      rate.Limit
	RateBurst      int
}

func DefaultOptions() Options {
	return Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		RateLimit:      10,
		RateBurst:      20,
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))
	if opts.RateLimit > 0 {
		r.Use(RateLimit(NewKeyedLimiter(opts.RateLimit, opts.RateBurst)))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(h.ResolveActor)

		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Delete("/{id}", h.DeleteEmployee)
			r.Get("/{id}/balances", h.GetBalances)
			r.Put("/{id}/balances/{year}", h.SetBalance)
		})

		// Request workflow routes
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.SubmitRequest)
			r.Get("/{id}", h.GetRequest)
			r.Put("/{id}", h.EditRequest)
			r.Delete("/{id}", h.DeleteRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
		})

		r.Post("/years/{year}/open", h.OpenYear)

		// Demo scenarios
		r.Get("/scenarios", h.ListScenarios)
		r.Post("/scenarios/load", h.LoadScenario)
	})

	return r
}
