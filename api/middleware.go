package api

import (
	"net/http"

	"github.com/ufaasio/ufaas-saas/apperr"
	"github.com/ufaasio/ufaas-saas/principal"
)

// Principal headers a front-door auth proxy is expected to set once it
// has verified the caller (spec.md §1 non-goals: authentication and
// tenant authorization are "external collaborators, not specified
// here"). This middleware only stamps the already-verified scope onto
// the request context; it performs no verification of its own.
const (
	HeaderBusinessName = "X-Business-Name"
	HeaderUserID       = "X-User-ID"
	HeaderRole         = "X-Role"
)

// WithPrincipal reads the caller's scope from trusted headers and stamps
// it onto the request context for downstream handlers. A request missing
// a business name is rejected before it reaches any handler.
func WithPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		businessName := r.Header.Get(HeaderBusinessName)
		if businessName == "" {
			writeError(w, apperr.Validation(HeaderBusinessName+" header is required"))
			return
		}
		role := principal.RoleUser
		if r.Header.Get(HeaderRole) == string(principal.RoleOperator) {
			role = principal.RoleOperator
		}
		p := principal.Principal{
			BusinessName: businessName,
			UserID:       r.Header.Get(HeaderUserID),
			Role:         role,
		}
		ctx := principal.WithPrincipal(r.Context(), p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
