/*
Package principal carries the authenticated caller's scope through a
request's context.Context.

PURPOSE:
  spec.md's non-goals explicitly exclude authentication and tenant
  authorization: "external collaborators, not specified here". This
  package is the minimal seam those collaborators fill in — a Principal
  value stamped onto the context by whatever auth middleware the host
  wires in front of this service. Nothing here verifies a credential; it
  only carries the already-verified result.

ROLES:
  RoleOperator identifies a tenant's own staff/service account — the only
  role allowed to create enrollments (spec.md §4.7).
  RoleUser identifies an end-user acting on their own behalf — scoped to
  their own user_id on every read, and forbidden from enrollment create.

SEE ALSO:
  - smallbiznis-valora/internal/orgcontext: the context-key pattern this
    package generalizes from a bare org id to a full caller scope.
*/
package principal

import "context"

// Role distinguishes a tenant operator from an end-user.
type Role string

const (
	RoleOperator Role = "operator"
	RoleUser     Role = "user"
)

// Principal is the authenticated caller's scope.
type Principal struct {
	BusinessName string
	UserID       string
	Role         Role
}

// IsOperator reports whether this principal may perform operator-only
// actions (enrollment create).
func (p Principal) IsOperator() bool { return p.Role == RoleOperator }

type contextKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the Principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
