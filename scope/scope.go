// Package scope provides helpers to capture and restore multi-tenant
// execution identity (tenant and user) across the enqueue→execute boundary.
//
// When the forge framework is available, tenant identity is also carried
// via forge.WithScope / forge.ScopeFrom so forge-aware code downstream of
// a job handler sees the same scope as the original enqueue caller.
package scope

import (
	"context"

	"github.com/xraph/forge"
)

// Identity is the tenant/user pair attached to a job at submission.
type Identity struct {
	TenantID string
	UserID   string
}

type identityKey struct{}

// WithIdentity attaches an identity to the context.
func WithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// IdentityFrom extracts the identity, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey{}).(Identity)
	return ident, ok
}

// Capture extracts the tenant and user identifiers from the context.
// It prefers an explicit Identity; failing that, it reads the tenant
// from the forge scope. Returns empty strings if neither is present.
func Capture(ctx context.Context) (tenantID, userID string) {
	if ident, ok := IdentityFrom(ctx); ok {
		return ident.TenantID, ident.UserID
	}
	if s, ok := forge.ScopeFrom(ctx); ok {
		return s.OrgID(), ""
	}
	return "", ""
}

// Restore attaches the identity captured at submission back onto the
// handler context, including the forge scope when a tenant is present.
// If both identifiers are empty, the context is returned unchanged.
func Restore(ctx context.Context, tenantID, userID string) context.Context {
	if tenantID == "" && userID == "" {
		return ctx
	}
	ctx = WithIdentity(ctx, Identity{TenantID: tenantID, UserID: userID})
	if tenantID != "" {
		ctx = forge.WithScope(ctx, forge.NewOrgScope("", tenantID))
	}
	return ctx
}
