package match

import (
	"context"
	"strings"
	"sync"

	"github.com/park285/socket-chess-server/pkg/domain"
)

// memrepo keeps matches in a process-local arena keyed by id.
type memrepo struct {
	mu sync.RWMutex

	byID   map[string]*domain.Match
	byUser map[string]map[string]struct{} // userID -> match ids
}

func NewMemoryRepository() Repository {
	return &memrepo{
		byID:   make(map[string]*domain.Match),
		byUser: make(map[string]map[string]struct{}),
	}
}

func (r *memrepo) Create(_ context.Context, m *domain.Match) error {
	if m == nil || strings.TrimSpace(m.ID) == "" {
		return ErrInvalidArgs
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[m.ID]; exists {
		return ErrMatchExists
	}
	c := m.Clone()
	r.byID[c.ID] = c
	r.index(c)
	return nil
}

func (r *memrepo) Get(_ context.Context, id string) (*domain.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (r *memrepo) Update(_ context.Context, id string, fn UpdateFunc) (*domain.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.Version == cur.Version {
		return cur.Clone(), nil
	}
	r.byID[id] = next
	r.index(next)
	return next.Clone(), nil
}

func (r *memrepo) ListAvailable(_ context.Context) ([]*domain.Match, error) {
	r.mu.RLock()
	out := make([]*domain.Match, 0)
	for _, m := range r.byID {
		if m.Open() {
			out = append(out, m.Clone())
		}
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (r *memrepo) ListByUser(_ context.Context, userID string) ([]*domain.Match, error) {
	r.mu.RLock()
	out := make([]*domain.Match, 0)
	for id := range r.byUser[userID] {
		if m, ok := r.byID[id]; ok && m.SeatOf(userID) != "" {
			out = append(out, m.Clone())
		}
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

// index must be called with mu held. Seats never change once set, so the
// user index only grows.
func (r *memrepo) index(m *domain.Match) {
	for _, uid := range m.Players() {
		set := r.byUser[uid]
		if set == nil {
			set = make(map[string]struct{})
			r.byUser[uid] = set
		}
		set[m.ID] = struct{}{}
	}
}
