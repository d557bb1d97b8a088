/*
authz.go - Actor resolution and role policy

PURPOSE:
  Turns the X-Actor-ID header into a leave.Actor and decides, before any
  service call, whether that actor may perform an action.

POLICY (casbin, subject = role):
  admin  *            *
  user   employee     read
  user   balance      read
  user   request      read
  user   own_request  create | update | delete
  user   scenario     read

  Mutations on a request are checked against "own_request" when the actor
  owns it (and, for create/update, the request stays theirs), otherwise
  against "request". Only admin holds "request" write rights, so a user
  touching someone else's request gets 403.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/warp/leave-engine/leave"
)

// ActorHeader carries the authenticated employee ID.
const ActorHeader = "X-Actor-ID"

// Objects and actions of the role policy.
const (
	ObjEmployee   = "employee"
	ObjBalance    = "balance"
	ObjRequest    = "request"
	ObjOwnRequest = "own_request"
	ObjScenario   = "scenario"

	ActRead    = "read"
	ActCreate  = "create"
	ActUpdate  = "update"
	ActDelete  = "delete"
	ActApprove = "approve"
	ActReject  = "reject"
	ActLoad    = "load"
)

const policyModel = `[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

var defaultPolicies = [][]string{
	{string(leave.RoleAdmin), "*", "*"},
	{string(leave.RoleUser), ObjEmployee, ActRead},
	{string(leave.RoleUser), ObjBalance, ActRead},
	{string(leave.RoleUser), ObjRequest, ActRead},
	{string(leave.RoleUser), ObjOwnRequest, ActCreate},
	{string(leave.RoleUser), ObjOwnRequest, ActUpdate},
	{string(leave.RoleUser), ObjOwnRequest, ActDelete},
	{string(leave.RoleUser), ObjScenario, ActRead},
}

// Authorizer wraps a casbin enforcer loaded with the role policy.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

func NewAuthorizer() (*Authorizer, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}
	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	return &Authorizer{enforcer: e}, nil
}

// Can reports whether actor may perform act on obj.
func (a *Authorizer) Can(actor leave.Actor, obj, act string) (bool, error) {
	return a.enforcer.Enforce(string(actor.Role), obj, act)
}

// requestObject picks the policy object for a mutation touching requests
// owned by the given employees.
func requestObject(actor leave.Actor, owners ...leave.EmployeeID) string {
	for _, owner := range owners {
		if owner != actor.ID {
			return ObjRequest
		}
	}
	return ObjOwnRequest
}

// =============================================================================
// ACTOR CONTEXT
// =============================================================================

type actorKey struct{}

func withActor(ctx context.Context, a leave.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored by ResolveActor.
func ActorFrom(ctx context.Context) (leave.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(leave.Actor)
	return a, ok
}

// ResolveActor loads the employee named by X-Actor-ID. Missing or unknown
// actors get 401.
func (h *Handler) ResolveActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(ActorHeader)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+ActorHeader+" header", nil)
			return
		}
		emp, err := h.Service.Employee(r.Context(), leave.EmployeeID(id))
		if leave.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "Unknown actor", nil)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to resolve actor", err)
			return
		}
		actor := leave.Actor{ID: emp.ID, Role: emp.Role}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

// authorize writes 403 (or 500) and returns false when the actor in ctx may
// not perform act on obj.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, obj, act string) (leave.Actor, bool) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing actor", nil)
		return leave.Actor{}, false
	}
	allowed, err := h.Authz.Can(actor, obj, act)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Authorization failed", err)
		return leave.Actor{}, false
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "Forbidden", fmt.Errorf("%s may not %s %s", actor.Role, act, obj))
		return leave.Actor{}, false
	}
	return actor, true
}
