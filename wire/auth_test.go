package wire

import (
	"context"
	"errors"
	"testing"
)

func TestAPIKeyAuthenticator(t *testing.T) {
	t.Parallel()

	auth := NewAPIKeyAuthenticator(
		APIKeyEntry{
			Token: "jk_tenant_acme",
			Identity: Identity{
				Subject:  "svc-dashboard",
				TenantID: "acme",
				UserID:   "u-1",
				Scopes:   []string{ScopeJobWrite, ScopeJobRead},
			},
		},
		APIKeyEntry{
			Token:    "jk_ops",
			Identity: Identity{Subject: "ops", Scopes: []string{ScopeAll}},
		},
	)
	ctx := context.Background()

	ident, err := auth.Authenticate(ctx, "jk_tenant_acme")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ident.Subject != "svc-dashboard" || ident.TenantID != "acme" {
		t.Errorf("identity = %+v, want svc-dashboard/acme", ident)
	}

	if _, err := auth.Authenticate(ctx, "bogus"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Authenticate(bogus) err = %v, want ErrUnauthorized", err)
	}
}

func TestIdentityHasScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		scopes []string
		check  string
		want   bool
	}{
		{"exact match", []string{ScopeJobWrite}, ScopeJobWrite, true},
		{"different scope", []string{ScopeJobWrite}, ScopeJobRead, false},
		{"wildcard grants anything", []string{ScopeAll}, "rotate:credentials", true},
		{"second of several", []string{ScopeJobRead, ScopeJobWrite}, ScopeJobWrite, true},
		{"no scopes at all", nil, ScopeJobRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ident := &Identity{Subject: "t", Scopes: tt.scopes}
			if got := ident.HasScope(tt.check); got != tt.want {
				t.Errorf("HasScope(%q) = %v, want %v", tt.check, got, tt.want)
			}
		})
	}
}

func TestRequiredScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method string
		want   string
	}{
		{MethodAuth, ""},
		{MethodJobSubmit, ScopeJobWrite},
		{MethodJobGet, ScopeJobRead},
		{MethodJobList, ScopeJobRead},
		{MethodSubscribe, ScopeSubscribe},
		{MethodUnsubscribe, ScopeSubscribe},
		{MethodStats, ScopeStatsRead},
		// Unlisted job methods default to write; everything else to admin.
		{"job.remove", ScopeJobWrite},
		{"queue.obliterate", ScopeAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := RequiredScope(tt.method); got != tt.want {
				t.Errorf("RequiredScope(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNoopAuthenticatorGrantsWildcard(t *testing.T) {
	t.Parallel()

	ident, err := (&NoopAuthenticator{}).Authenticate(context.Background(), "whatever")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ident.Subject != "anonymous" {
		t.Errorf("Subject = %q, want anonymous", ident.Subject)
	}
	if !ident.HasScope(ScopeAdmin) {
		t.Error("noop identity should pass every scope check")
	}
}

func TestCompositeAuthenticatorFirstMatchWins(t *testing.T) {
	t.Parallel()

	keys := NewAPIKeyAuthenticator(
		APIKeyEntry{Token: "jk_a", Identity: Identity{Subject: "from-keys"}},
	)
	fallback := NewAPIKeyAuthenticator(
		APIKeyEntry{Token: "jk_b", Identity: Identity{Subject: "from-fallback"}},
	)
	composite := NewCompositeAuthenticator(keys, fallback)
	ctx := context.Background()

	for token, wantSubject := range map[string]string{
		"jk_a": "from-keys",
		"jk_b": "from-fallback",
	} {
		ident, err := composite.Authenticate(ctx, token)
		if err != nil {
			t.Fatalf("Authenticate(%q): %v", token, err)
		}
		if ident.Subject != wantSubject {
			t.Errorf("Authenticate(%q).Subject = %q, want %q", token, ident.Subject, wantSubject)
		}
	}

	if _, err := composite.Authenticate(ctx, "unknown"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Authenticate(unknown) err = %v, want ErrUnauthorized", err)
	}
}
