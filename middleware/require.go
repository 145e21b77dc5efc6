package middleware

import (
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/permission"
)

// RequirePermissions is Authorize for a route that needs every permission
// in perms.
func RequirePermissions(engine *authcore.Engine, perms ...permission.Permission) func(http.Handler) http.Handler {
	return Authorize(engine, authcore.Requirement{Permissions: permission.NewSet(perms...)})
}

// RequireRole is Authorize for a route gated on a minimum role.
func RequireRole(engine *authcore.Engine, min permission.Role) func(http.Handler) http.Handler {
	return Authorize(engine, authcore.Requirement{MinRole: min})
}
