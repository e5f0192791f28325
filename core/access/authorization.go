/*Package access provides utilities for access control
 */
package access

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/appseed/core"
	"github.com/relabs-tech/appseed/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

// well known roles
const (
	// RoleAdmin is authorized for everything
	RoleAdmin = "admin"
	// RolePublic in a permission list grants access to everybody, also to anonymous requests
	RolePublic = "$public"
)

/*
Authorization is a context object which stores authorization information
for app members.

An authorization carries the id of the app member and a list of roles.

Authorizations are added to a request context with

	ctx = ContextWithAuthorization(ctx, auth)

and retrieved with

	auth := AuthorizationFromContext(ctx)

Authorization objects are added to the context by the JWT or the backdoor middleware,
depending on the bearer token of the HTTP request.
*/
type Authorization struct {
	MemberID uuid.UUID `json:"member_id,omitempty"`
	Roles    []string  `json:"roles"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil || a.Roles == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// Member returns the app member id of the authorization, if any
func (a *Authorization) Member() (uuid.UUID, bool) {
	if a == nil || a.MemberID == uuid.Nil {
		return uuid.Nil, false
	}
	return a.MemberID, true
}

// IsAuthorized returns true if the authorization is authorized for operation according
// to permissions, a map from operation to the roles which may perform it.
//
// The "admin" role is always authorized. Operations without permissions are open for
// every authenticated request. RolePublic opens an operation to everybody.
func (a *Authorization) IsAuthorized(operation core.Operation, permissions map[core.Operation][]string) bool {
	if a.HasRole(RoleAdmin) {
		return true
	}
	roles, ok := permissions[operation]
	if !ok {
		return a != nil
	}
	for _, role := range roles {
		if role == RolePublic || a.HasRole(role) {
			return true
		}
	}
	return false
}

// ContextWithAuthorization returns a new context with this authorization added to it
func ContextWithAuthorization(ctx context.Context, auth *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, auth)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// HandleAuthorizationRoute adds a route /authorization GET to the router
//
// The route returns the current authorization for provided bearer token.
func HandleAuthorizationRoute(router *mux.Router) {
	logger.Default().Debugln("authorization")
	logger.Default().Debugln("  handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonData, _ := json.MarshalIndent(auth, "", " ")
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	}).Methods(http.MethodGet)
}
