// Package registry maps user identities to their currently open sessions.
// A user may be connected from several devices at once; the registry's
// per-user reference counts are what presence derives online state from.
// Entries are owned by the connection lifecycle: added on upgrade, released
// on disconnect, never shared by ambient reference.
package registry

import "sync"

// Registry is a thread-safe user → session-set index.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]struct{} // userID -> set of session IDs
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]struct{}),
	}
}

// Add registers a session for the user and returns the user's new reference
// count. A count of 1 means this is the user's first open connection.
func (r *Registry) Add(userID, sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[string]struct{})
		r.sessions[userID] = set
	}
	set[sessionID] = struct{}{}
	return len(set)
}

// Remove releases a session for the user and returns the user's remaining
// reference count. Zero means the user's final connection closed. Removing
// an unknown session returns the current count unchanged.
func (r *Registry) Remove(userID, sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		return 0
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.sessions, userID)
		return 0
	}
	return len(set)
}

// RefCount returns the number of open sessions for the user.
func (r *Registry) RefCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

// Sessions returns a snapshot of the user's open session IDs.
func (r *Registry) Sessions(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions[userID]))
	for id := range r.sessions[userID] {
		ids = append(ids, id)
	}
	return ids
}

// Users returns a snapshot of every user with at least one open session.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
