package auth

import (
	"net/http"
	"strings"

	"github.com/aegisgrid/mandate/pkg/identity"
)

// RouteRoles enforces the per-route role policy. Reads are open to any
// authenticated principal; ministry and key mutations are an admin concern;
// decision mutations belong to operators. It runs after NewMiddleware, which
// puts the principal on the context.
func RouteRoles() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		adminOnly := RequireRole()(next)
		operator := RequireRole(identity.RoleOperator)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			switch {
			case strings.HasPrefix(r.URL.Path, "/api/v1/ministries"):
				adminOnly.ServeHTTP(w, r)
			case strings.HasPrefix(r.URL.Path, "/api/v1/decisions"):
				operator.ServeHTTP(w, r)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
