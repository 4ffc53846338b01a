package broadcast

import "sort"

// Session is an attached live channel. Enqueue must never block; it
// reports false when the frame could not be queued.
type Session interface {
	ID() string
	Enqueue(frame []byte) bool
}

// Registry holds attached sessions. It has no locking: a single goroutine
// (the dispatcher) owns it.
type Registry struct {
	sessions map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

func (r *Registry) Attach(s Session) {
	r.sessions[s.ID()] = s
}

// Detach removes the session and reports whether it was attached
func (r *Registry) Detach(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

func (r *Registry) Get(id string) (Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

// IDs lists attached session ids in stable order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
