package wire

import (
	"context"
	"fmt"
	"strings"
)

// Identity is the authenticated caller bound to a session. Jobs
// submitted over the wire inherit its tenant and user, so downstream
// lifecycle events land on the right tenant topics.
type Identity struct {
	// Subject names the authenticated user or service account.
	Subject string `json:"subject"`

	// TenantID scopes the caller to a tenant.
	TenantID string `json:"tenant_id,omitempty"`

	// UserID is the acting user within the tenant.
	UserID string `json:"user_id,omitempty"`

	// Scopes lists permitted operations, e.g. "job:write". The
	// wildcard "*" grants everything.
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether the identity holds the given scope, either
// directly or via the wildcard.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == ScopeAll || s == scope {
			return true
		}
	}
	return false
}

// Authenticator turns a bearer token into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// ErrUnauthorized indicates authentication failure.
var ErrUnauthorized = fmt.Errorf("wire: unauthorized")

// Scopes understood by the server.
const (
	ScopeJobRead   = "job:read"
	ScopeJobWrite  = "job:write"
	ScopeStatsRead = "stats:read"
	ScopeSubscribe = "subscribe"
	ScopeAdmin     = "admin"
	ScopeAll       = "*"
)

// methodScopes maps each wire method to the scope it requires. The
// auth method itself requires none; unlisted methods default to admin.
var methodScopes = map[string]string{
	MethodAuth:        "",
	MethodJobGet:      ScopeJobRead,
	MethodJobList:     ScopeJobRead,
	MethodJobSubmit:   ScopeJobWrite,
	MethodSubscribe:   ScopeSubscribe,
	MethodUnsubscribe: ScopeSubscribe,
	MethodStats:       ScopeStatsRead,
}

// RequiredScope returns the scope a caller needs for a wire method.
func RequiredScope(method string) string {
	if s, ok := methodScopes[method]; ok {
		return s
	}
	// Job methods added later default to write access.
	if strings.HasPrefix(method, "job.") {
		return ScopeJobWrite
	}
	return ScopeAdmin
}

// APIKeyEntry binds one token to an identity.
type APIKeyEntry struct {
	Token    string
	Identity Identity
}

// APIKeyAuthenticator resolves tokens against a static table, the way
// service-to-service credentials are provisioned.
type APIKeyAuthenticator struct {
	byToken map[string]*Identity
}

// NewAPIKeyAuthenticator builds an authenticator from static entries.
func NewAPIKeyAuthenticator(entries ...APIKeyEntry) *APIKeyAuthenticator {
	byToken := make(map[string]*Identity, len(entries))
	for _, e := range entries {
		ident := e.Identity
		byToken[e.Token] = &ident
	}
	return &APIKeyAuthenticator{byToken: byToken}
}

func (a *APIKeyAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	ident, ok := a.byToken[token]
	if !ok {
		return nil, ErrUnauthorized
	}
	return ident, nil
}

// NoopAuthenticator grants every caller a wildcard identity. It is the
// default when no authenticator is configured; development only.
type NoopAuthenticator struct{}

func (a *NoopAuthenticator) Authenticate(_ context.Context, _ string) (*Identity, error) {
	return &Identity{Subject: "anonymous", Scopes: []string{ScopeAll}}, nil
}

// CompositeAuthenticator tries each authenticator in order and accepts
// the first success. Lets API keys and a JWT verifier coexist on one
// endpoint.
type CompositeAuthenticator struct {
	chain []Authenticator
}

// NewCompositeAuthenticator chains authenticators, first match wins.
func NewCompositeAuthenticator(auths ...Authenticator) *CompositeAuthenticator {
	return &CompositeAuthenticator{chain: auths}
}

func (c *CompositeAuthenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	for _, a := range c.chain {
		if ident, err := a.Authenticate(ctx, token); err == nil {
			return ident, nil
		}
	}
	return nil, ErrUnauthorized
}
