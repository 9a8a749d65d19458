// Package auth implements mode selection, JWT validation, the
// service-vs-user contour split, scope and tenant checks, and audit
// emission (C10).
package auth

import "context"

// Contour distinguishes the two credential classes spec.md §4.10 requires:
// user routes (ws, chunk ingest) vs. service routes (internal ws, admin).
type Contour string

const (
	ContourUser    Contour = "user"
	ContourService Contour = "service"
)

// Scope names the service-JWT capabilities spec.md §4.10 checks.
type Scope string

const (
	ScopeAdminRead     Scope = "admin:read"
	ScopeAdminWrite    Scope = "admin:write"
	ScopeInternalWS    Scope = "internal:ws"
)

// Principal is the authenticated identity for one request, carried through
// request-scoped context.
type Principal struct {
	Contour  Contour
	Subject  string
	TenantID string
	Scopes   map[Scope]bool
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope Scope) bool {
	if p == nil {
		return false
	}
	return p.Scopes[scope]
}

type contextKey struct{}

// WithPrincipal returns a context carrying p, for PrincipalFromContext to
// read back.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext returns the Principal attached by WithPrincipal, or
// nil if none (auth mode none, or an unauthenticated internal call).
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}
