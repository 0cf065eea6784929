package httpapi

import (
	"context"
	"net/http"
)

type authCtxKey struct{}

func withAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authCtxKey{}, auth)
}

func authFromContext(ctx context.Context) AuthContext {
	auth, _ := ctx.Value(authCtxKey{}).(AuthContext)
	return auth
}

// identityHeader is the header AllowAllResolver reads the caller's identity
// from. It performs no authentication — it is the placeholder a real
// deployment replaces via Config.AuthResolver, per spec.md §1's explicit
// "authentication middleware" non-goal.
const identityHeader = "X-Specd-Identity"

type allowAllAuth struct {
	identity string
}

func (a allowAllAuth) CanAccessProject(string) bool { return true }
func (a allowAllAuth) Identity() string             { return a.identity }

// AllowAllResolver trusts the X-Specd-Identity header for the caller's
// identity (used for rate-limit bucketing and as the author recorded on
// fragment writes) and grants access to every project. It is the package default
// so the transport is usable out of the box in single-tenant or
// already-perimeter-secured deployments; anything else should supply its
// own AuthResolver.
func AllowAllResolver(r *http.Request) (AuthContext, error) {
	identity := r.Header.Get(identityHeader)
	if identity == "" {
		identity = r.RemoteAddr
	}
	return allowAllAuth{identity: identity}, nil
}
