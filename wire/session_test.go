package wire

import (
	"testing"
	"time"
)

func TestSessionIdentity(t *testing.T) {
	t.Parallel()

	sess := newSession("s-1", &Identity{
		Subject:  "svc-reporting",
		TenantID: "acme",
		Scopes:   []string{ScopeJobWrite},
	}, JSON)

	if sess.ID != "s-1" {
		t.Errorf("ID = %q, want s-1", sess.ID)
	}
	if sess.Tenant() != "acme" {
		t.Errorf("Tenant() = %q, want acme", sess.Tenant())
	}
	if sess.Codec.Name() != CodecNameJSON {
		t.Errorf("Codec.Name() = %q, want json", sess.Codec.Name())
	}
	if sess.OpenedAt.IsZero() {
		t.Error("OpenedAt is zero")
	}

	anon := newSession("s-2", nil, JSON)
	if anon.Tenant() != "" {
		t.Errorf("anonymous Tenant() = %q, want empty", anon.Tenant())
	}
}

func TestSessionTopicTracking(t *testing.T) {
	t.Parallel()

	sess := newSession("s-3", nil, JSON)

	sess.Track("jobs")
	sess.Track("queue:mail")
	if got := len(sess.Topics()); got != 2 {
		t.Fatalf("len(Topics) = %d, want 2", got)
	}

	sess.Drop("jobs")
	if got := len(sess.Topics()); got != 1 {
		t.Fatalf("len(Topics) after Drop = %d, want 1", got)
	}
	if sess.Topics()[0] != "queue:mail" {
		t.Errorf("remaining topic = %q, want queue:mail", sess.Topics()[0])
	}
}

func TestSessionSeen(t *testing.T) {
	t.Parallel()

	sess := newSession("s-4", nil, JSON)
	before := sess.LastSeen()

	time.Sleep(time.Millisecond)
	sess.Seen()

	if !sess.LastSeen().After(before) {
		t.Error("Seen did not advance LastSeen")
	}
}

func TestSessionTable(t *testing.T) {
	t.Parallel()

	table := NewSessionTable()

	acme1 := newSession("a-1", &Identity{Subject: "u1", TenantID: "acme"}, JSON)
	acme2 := newSession("a-2", &Identity{Subject: "u2", TenantID: "acme"}, JSON)
	other := newSession("b-1", &Identity{Subject: "u3", TenantID: "globex"}, JSON)
	table.Put(acme1)
	table.Put(acme2)
	table.Put(other)

	if table.Len() != 3 {
		t.Fatalf("Len = %d, want 3", table.Len())
	}

	got, ok := table.Lookup("a-1")
	if !ok || got.Identity.Subject != "u1" {
		t.Error("Lookup(a-1) did not return the session")
	}
	if _, ok := table.Lookup("missing"); ok {
		t.Error("Lookup(missing) = true, want false")
	}

	if n := len(table.ByTenant("acme")); n != 2 {
		t.Errorf("ByTenant(acme) = %d sessions, want 2", n)
	}
	if n := len(table.ByTenant("globex")); n != 1 {
		t.Errorf("ByTenant(globex) = %d sessions, want 1", n)
	}

	table.Delete("a-1")
	if table.Len() != 2 {
		t.Errorf("Len after Delete = %d, want 2", table.Len())
	}
	if n := len(table.ByTenant("acme")); n != 1 {
		t.Errorf("ByTenant(acme) after Delete = %d, want 1", n)
	}

	// Deleting the last tenant session clears the tenant index entry.
	table.Delete("b-1")
	if n := len(table.ByTenant("globex")); n != 0 {
		t.Errorf("ByTenant(globex) after Delete = %d, want 0", n)
	}

	if n := len(table.Snapshot()); n != 1 {
		t.Errorf("Snapshot = %d sessions, want 1", n)
	}
}
