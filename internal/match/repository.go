package match

import (
	"context"
	"errors"
	"sort"

	"github.com/park285/socket-chess-server/internal/rules"
	"github.com/park285/socket-chess-server/pkg/domain"
)

var (
	ErrInvalidArgs     = errors.New("invalid arguments")
	ErrMatchExists     = errors.New("match already exists")
	ErrMatchNotFound   = errors.New("match not found")
	ErrMatchFull       = errors.New("match is full")
	ErrMatchClosed     = errors.New("match is no longer open")
	ErrSeatsIncomplete = errors.New("both seats must be filled")
	ErrNotSeated       = errors.New("user is not seated in this match")
	ErrMatchNotActive  = errors.New("match is not active")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrConflict        = errors.New("concurrent update, retries exhausted")

	ErrInvalidTransition = domain.ErrInvalidTransition
	ErrIllegalMove       = rules.ErrIllegalMove
)

// UpdateFunc mutates a private copy of the match. Returning an error aborts
// the update. Leaving Version untouched means "nothing changed" and skips the
// write. It may run more than once when the backend retries.
type UpdateFunc func(m *domain.Match) error

// Repository is the authoritative store of live matches.
// Returned matches are copies; callers may keep or mutate them freely.
type Repository interface {
	Create(ctx context.Context, m *domain.Match) error
	Get(ctx context.Context, id string) (*domain.Match, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Match, error)
	ListAvailable(ctx context.Context) ([]*domain.Match, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Match, error)
}

// sortNewestFirst orders by CreatedAt desc, then id for stability.
func sortNewestFirst(list []*domain.Match) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
