package wire

import (
	"sync"
	"sync/atomic"
	"time"
)

// Session is one authenticated protocol connection together with its
// subscription state. A session is created after the auth frame is
// accepted and destroyed when the transport closes.
type Session struct {
	// ID is the transport connection id, also used as the stream
	// subscriber id.
	ID string

	// Identity is the authenticated caller. Nil only for sessions
	// created before auth completes (never visible to handlers).
	Identity *Identity

	// Codec is the frame format negotiated during auth.
	Codec Codec

	// OpenedAt is when the session was established.
	OpenedAt time.Time

	lastSeen atomic.Int64 // unix nanos of the last inbound frame

	mu     sync.Mutex
	topics map[string]struct{}
}

func newSession(id string, identity *Identity, codec Codec) *Session {
	s := &Session{
		ID:       id,
		Identity: identity,
		Codec:    codec,
		OpenedAt: time.Now().UTC(),
		topics:   make(map[string]struct{}),
	}
	s.Seen()
	return s
}

// Seen records inbound activity on the session.
func (s *Session) Seen() {
	s.lastSeen.Store(time.Now().UTC().UnixNano())
}

// LastSeen returns when the session last received a frame.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load()).UTC()
}

// Tenant returns the authenticated tenant id, or "" for anonymous
// sessions.
func (s *Session) Tenant() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.TenantID
}

// Track records a topic subscription on this session.
func (s *Session) Track(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

// Drop forgets a topic subscription.
func (s *Session) Drop(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns the topics this session is subscribed to.
func (s *Session) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// SessionTable indexes live sessions by id and by tenant. The tenant
// index lets operators enumerate or evict one tenant's connections
// without walking the whole table.
type SessionTable struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	byTenant map[string]map[string]*Session
}

// NewSessionTable returns an empty session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{
		byID:     make(map[string]*Session),
		byTenant: make(map[string]map[string]*Session),
	}
}

// Put inserts or replaces a session.
func (t *SessionTable) Put(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.byID[s.ID] = s
	if tenant := s.Tenant(); tenant != "" {
		m := t.byTenant[tenant]
		if m == nil {
			m = make(map[string]*Session)
			t.byTenant[tenant] = m
		}
		m[s.ID] = s
	}
}

// Delete removes a session by id.
func (t *SessionTable) Delete(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byID[sessionID]
	if !ok {
		return
	}
	delete(t.byID, sessionID)
	if tenant := s.Tenant(); tenant != "" {
		m := t.byTenant[tenant]
		delete(m, sessionID)
		if len(m) == 0 {
			delete(t.byTenant, tenant)
		}
	}
}

// Lookup returns the session with the given id.
func (t *SessionTable) Lookup(sessionID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byID[sessionID]
	return s, ok
}

// Len returns the number of live sessions.
func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// ByTenant returns all sessions belonging to one tenant.
func (t *SessionTable) ByTenant(tenant string) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.byTenant[tenant]))
	for _, s := range t.byTenant[tenant] {
		out = append(out, s)
	}
	return out
}

// Snapshot returns all live sessions.
func (t *SessionTable) Snapshot() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.byID))
	for _, s := range t.byID {
		out = append(out, s)
	}
	return out
}
