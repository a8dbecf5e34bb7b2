package registry

import (
	"context"
	"sync"

	"github.com/park285/socket-chess-server/pkg/domain"
)

// Conn is the non-owning handle the registry keeps for a connected user.
// The transport owns the underlying socket.
type Conn interface {
	ID() string
	Send(ctx context.Context, v any) error
	Closed() bool
}

// Entry is one registered user.
type Entry struct {
	User domain.User
	Conn Conn
}

// Registry maps user id to display name and connection handle.
type Registry struct {
	mu    sync.RWMutex
	users map[string]Entry
}

func New() *Registry {
	return &Registry{users: make(map[string]Entry)}
}

// Add registers or replaces the user; the last writer wins.
func (r *Registry) Add(id, displayName string, conn Conn) {
	r.mu.Lock()
	r.users[id] = Entry{User: domain.User{ID: id, DisplayName: displayName}, Conn: conn}
	r.mu.Unlock()
}

// Remove deletes id whatever connection it holds; no-op if absent.
// Socket teardown uses RemoveIfConn instead.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.users, id)
	r.mu.Unlock()
}

// RemoveIfConn deletes id only while it is still bound to conn, so a stale
// socket closing late cannot evict the user's newer connection.
func (r *Registry) RemoveIfConn(id string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[id]
	if !ok || e.Conn != conn {
		return false
	}
	delete(r.users, id)
	return true
}

func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	e, ok := r.users[id]
	r.mu.RUnlock()
	return e, ok
}

// LookupByConnection scans all entries for conn.
func (r *Registry) LookupByConnection(conn Conn) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.users {
		if e.Conn == conn {
			return e, true
		}
	}
	return Entry{}, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.users)
	r.mu.RUnlock()
	return n
}
