package s2s

import "sync"

// Registry maps opaque connection ids to live sessions. It is the only
// process-wide shared state in the relay; the mutex guards lookup, insert,
// and remove and is never held across long operations.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put associates a connection id with a session.
func (r *Registry) Put(connID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[connID] = s
}

// Get returns the session for a connection id, or nil.
func (r *Registry) Get(connID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[connID]
}

// Remove deletes the association and returns the removed session, or nil.
func (r *Registry) Remove(connID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[connID]
	delete(r.sessions, connID)
	return s
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
