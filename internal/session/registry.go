// Package session tracks live WebSocket connections and the usernames bound
// to them. The Registry is the single piece of shared mutable state in the
// server; every mutation funnels through its methods under one mutex, and the
// presence/typing views are recomputed from it on demand rather than tracked
// incrementally.
package session

import (
	"fmt"
	"sync"
	"time"
)

// Session is the ephemeral server-side record for one live connection. The
// Registry owns every Session for its whole lifetime; callers receive copies.
type Session struct {
	ConnID   string    // opaque transport connection ID
	Username string    // empty until join completes
	Typing   bool      // current typing flag
	BoundAt  time.Time // when the username was bound, zero if unbound
}

// Identified reports whether a username has been bound to the session.
func (s *Session) Identified() bool {
	return s.Username != ""
}

// OnlineUser is one entry in a presence snapshot derived from the registry.
type OnlineUser struct {
	Username string
	Since    time.Time
}

// Registry maps connection IDs to their Session. Registration order is
// preserved so that the derived typing view is stable across re-broadcasts.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string // connection IDs in registration order
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register creates a Session for a newly established connection. A duplicate
// connection ID is a programming error in the transport layer and is
// reported rather than silently overwritten.
func (r *Registry) Register(connID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[connID]; ok {
		return Session{}, fmt.Errorf("session: connection %s already registered", connID)
	}

	s := &Session{ConnID: connID}
	r.sessions[connID] = s
	r.order = append(r.order, connID)
	return *s, nil
}

// Bind sets the username on the session. It returns the previously bound
// username (empty if none) and whether the connection was registered.
// Binding twice on the same connection overwrites; last write wins.
func (r *Registry) Bind(connID, username string, now time.Time) (prev string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return "", false
	}
	prev = s.Username
	s.Username = username
	s.BoundAt = now
	return prev, true
}

// SetTyping mutates the typing flag. It is a no-op when the connection is not
// registered, which covers the race with a concurrent disconnect.
func (r *Registry) SetTyping(connID string, typing bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return false
	}
	s.Typing = typing
	return true
}

// Remove deletes the session and returns a copy of its final state. The
// second return value is false if the connection was already removed, making
// disconnect handling idempotent.
func (r *Registry) Remove(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return *s, true
}

// Get returns a copy of the session for the given connection ID.
func (r *Registry) Get(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Online returns a snapshot of all bound usernames in registration order,
// deduplicated. Two sessions may share a username when the same user connects
// twice; the username appears once, with the bind time of its first-registered
// session.
func (r *Registry) Online() []OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.order))
	users := make([]OnlineUser, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		if !s.Identified() || seen[s.Username] {
			continue
		}
		seen[s.Username] = true
		users = append(users, OnlineUser{Username: s.Username, Since: s.BoundAt})
	}
	return users
}

// Typing returns the usernames of all sessions currently typing, in
// registration order. Unidentified sessions are excluded.
func (r *Registry) Typing() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		if s.Typing && s.Identified() {
			users = append(users, s.Username)
		}
	}
	return users
}

// SessionsFor returns the connection IDs of every session currently bound to
// the given username, in registration order. This is the reverse lookup used
// for private delivery, which keys strictly on username rather than on any
// single connection.
func (r *Registry) SessionsFor(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, id := range r.order {
		if r.sessions[id].Username == username {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
