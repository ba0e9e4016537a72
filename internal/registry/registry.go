// Package registry maps user ids to their single live connection.
package registry

import (
	"sync"

	"chat-relay/internal/models"
)

// Conn is a live client connection as seen by the rest of the relay.
// Push must not block on network I/O.
type Conn interface {
	ID() string
	UserID() string
	Push(event models.Event) error
	Close() error
}

// Registry holds at most one connection per user. The lock is held only for
// map access, never while pushing or closing.
type Registry struct {
	conns map[string]Conn
	mu    sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register makes conn the active connection of userID and returns the
// connection it replaced, if any. The caller is responsible for closing it.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[userID]
	r.conns[userID] = conn
	if prev == conn {
		return nil
	}
	return prev
}

// Unregister removes the mapping only if conn is still the registered
// connection for userID. It reports whether a removal happened.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.conns[userID]
	if !ok || current != conn {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Lookup returns the active connection of userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// IsOnline reports whether userID has a registered connection.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Snapshot returns the registered connections at the time of the call.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
