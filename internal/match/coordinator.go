package match

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/socket-chess-server/internal/obslog"
	"github.com/park285/socket-chess-server/internal/rules"
	"github.com/park285/socket-chess-server/internal/store"
	"github.com/park285/socket-chess-server/pkg/domain"
)

// Notifier receives match changes for delivery to connected players.
type Notifier interface {
	MatchUpdate(ctx context.Context, m *domain.Match)
	GameStateUpdate(ctx context.Context, m *domain.Match)
}

// Outbox accepts persistence records without blocking.
type Outbox interface {
	Enqueue(rec store.MatchRecord)
}

type CreateParams struct {
	ID          string
	Stake       int64
	TimeControl string
	GameMode    string
}

// Coordinator drives the match lifecycle and gates moves.
type Coordinator struct {
	repo    Repository
	referee rules.Referee
	outbox  Outbox
	notify  Notifier
	log     *zap.Logger
	now     func() time.Time
}

func NewCoordinator(repo Repository, referee rules.Referee, log *zap.Logger) *Coordinator {
	if referee == nil {
		referee = rules.NewPlaceholder(10)
	}
	return &Coordinator{
		repo:    repo,
		referee: referee,
		log:     obslog.Or(log),
		now:     time.Now,
	}
}

// AttachOutbox wires the persistence outbox.
func (c *Coordinator) AttachOutbox(o Outbox) { c.outbox = o }

// AttachNotifier wires the player fanout.
func (c *Coordinator) AttachNotifier(n Notifier) { c.notify = n }

func (c *Coordinator) Referee() rules.Referee { return c.referee }

func (c *Coordinator) CreateMatch(ctx context.Context, creator, displayName string, p CreateParams) (*domain.Match, error) {
	creator = strings.TrimSpace(creator)
	if creator == "" || p.Stake < 0 {
		return nil, ErrInvalidArgs
	}
	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := c.now()
	m := &domain.Match{
		ID:               id,
		WhitePlayerID:    creator,
		WhiteDisplayName: strings.TrimSpace(displayName),
		Stake:            p.Stake,
		TimeControl:      strings.TrimSpace(p.TimeControl),
		GameMode:         strings.TrimSpace(p.GameMode),
		Status:           domain.StatusPending,
		CreatedBy:        creator,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := c.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	c.log.Info("match_create",
		obslog.MatchID(m.ID),
		obslog.UserID(creator),
		zap.Int64("stake", m.Stake),
		zap.String("time_control", m.TimeControl),
		zap.String("game_mode", m.GameMode),
	)
	return m, nil
}

// JoinMatch seats userID in the first empty seat, white first. A caller who
// is already seated gets the match back unchanged.
func (c *Coordinator) JoinMatch(ctx context.Context, matchID, userID, displayName string) (*domain.Match, error) {
	var seat domain.Color
	m, err := c.repo.Update(ctx, matchID, func(m *domain.Match) error {
		seat = ""
		if m.SeatOf(userID) != "" {
			return nil
		}
		if m.Status != domain.StatusPending {
			return ErrMatchClosed
		}
		switch {
		case m.WhitePlayerID == "":
			m.WhitePlayerID, m.WhiteDisplayName = userID, displayName
			seat = domain.White
		case m.BlackPlayerID == "":
			m.BlackPlayerID, m.BlackDisplayName = userID, displayName
			seat = domain.Black
		default:
			return ErrMatchFull
		}
		m.Touch(c.now())
		return nil
	})
	if err != nil {
		c.reject("join_rejected", matchID, userID, err)
		return nil, err
	}
	if seat == "" {
		return m, nil
	}
	c.log.Info("match_join", obslog.MatchID(m.ID), obslog.UserID(userID), zap.String("seat", string(seat)))
	c.publish(ctx, m, m.Full(), false)
	return m, nil
}

// StartMatch moves a fully seated pending match to active.
func (c *Coordinator) StartMatch(ctx context.Context, matchID, userID string) (*domain.Match, error) {
	m, err := c.repo.Update(ctx, matchID, func(m *domain.Match) error {
		if !m.Full() {
			return ErrSeatsIncomplete
		}
		if m.SeatOf(userID) == "" {
			return ErrNotSeated
		}
		if err := m.Transition(domain.StatusActive, c.now()); err != nil {
			return err
		}
		m.GameState = &domain.GameState{
			Board:       c.referee.InitialBoard(),
			CurrentTurn: domain.White,
			MoveHistory: []domain.Move{},
			GameStatus:  domain.GameActive,
		}
		return m.Validate()
	})
	if err != nil {
		c.reject("start_rejected", matchID, userID, err)
		return nil, err
	}
	c.log.Info("match_start", obslog.MatchID(m.ID), obslog.UserID(userID), zap.String("rules", c.referee.Name()))
	c.publish(ctx, m, true, true)
	return m, nil
}

// CancelMatch abandons a pending match. Only a seated player may cancel.
func (c *Coordinator) CancelMatch(ctx context.Context, matchID, userID string) (*domain.Match, error) {
	m, err := c.repo.Update(ctx, matchID, func(m *domain.Match) error {
		if m.SeatOf(userID) == "" {
			return ErrNotSeated
		}
		return m.Transition(domain.StatusCancelled, c.now())
	})
	if err != nil {
		c.reject("cancel_rejected", matchID, userID, err)
		return nil, err
	}
	c.log.Info("match_cancel", obslog.MatchID(m.ID), obslog.UserID(userID))
	c.publish(ctx, m, true, false)
	return m, nil
}

// MakeMove is the move gate. Rejected moves leave the match untouched.
func (c *Coordinator) MakeMove(ctx context.Context, matchID, userID string, mv domain.Move) (*domain.Match, error) {
	m, err := c.repo.Update(ctx, matchID, func(m *domain.Match) error {
		gs := m.GameState
		if m.Status != domain.StatusActive || gs == nil {
			return ErrMatchNotActive
		}
		seat := m.SeatOf(userID)
		if seat == "" {
			return ErrNotSeated
		}
		if seat != gs.CurrentTurn {
			return ErrNotYourTurn
		}
		out, err := c.referee.Play(gs, mv, m.WhitePlayerID, m.BlackPlayerID)
		if err != nil {
			return err
		}
		gs.MoveHistory = append(gs.MoveHistory, out.Move)
		gs.CurrentTurn = gs.CurrentTurn.Opposite()
		gs.Board = out.Board
		gs.GameStatus = out.Status
		gs.Winner = out.Winner
		now := c.now()
		if !out.Status.Terminal() {
			m.Touch(now)
			return nil
		}
		if out.Winner != nil {
			w := *out.Winner
			m.Winner = &w
		}
		if err := m.Transition(domain.StatusCompleted, now); err != nil {
			return err
		}
		return m.Validate()
	})
	if err != nil {
		c.reject("move_rejected", matchID, userID, err, zap.String("move", mv.UCI()))
		return nil, err
	}

	last := m.GameState.MoveHistory[len(m.GameState.MoveHistory)-1]
	c.log.Info("match_move",
		obslog.MatchID(m.ID),
		obslog.UserID(userID),
		zap.String("uci", last.UCI()),
		zap.String("san", last.SAN),
		zap.Int("ply", len(m.GameState.MoveHistory)),
		zap.String("game_status", string(m.GameState.GameStatus)),
	)
	if m.Status == domain.StatusCompleted {
		winner := ""
		if m.Winner != nil {
			winner = *m.Winner
		}
		c.log.Info("match_complete", obslog.MatchID(m.ID), zap.String("winner", winner))
		c.publish(ctx, m, true, true)
		return m, nil
	}
	if c.notify != nil {
		c.notify.GameStateUpdate(ctx, m)
	}
	return m, nil
}

func (c *Coordinator) Get(ctx context.Context, matchID string) (*domain.Match, error) {
	return c.repo.Get(ctx, matchID)
}

func (c *Coordinator) ListAvailable(ctx context.Context) ([]*domain.Match, error) {
	return c.repo.ListAvailable(ctx)
}

func (c *Coordinator) ListByUser(ctx context.Context, userID string) ([]*domain.Match, error) {
	return c.repo.ListByUser(ctx, userID)
}

// publish queues a store write when persist is set, then fans the change
// out. The record is queued first so a player reacting to the push cannot
// get a newer version into the outbox ahead of this one.
func (c *Coordinator) publish(ctx context.Context, m *domain.Match, persist, withState bool) {
	if persist && c.outbox != nil {
		c.outbox.Enqueue(store.RecordFromMatch(m))
	}
	if c.notify != nil {
		c.notify.MatchUpdate(ctx, m)
		if withState && m.GameState != nil {
			c.notify.GameStateUpdate(ctx, m)
		}
	}
}

func (c *Coordinator) reject(event, matchID, userID string, err error, extra ...zap.Field) {
	fields := append([]zap.Field{obslog.MatchID(matchID), obslog.UserID(userID), zap.Error(err)}, extra...)
	if isClientError(err) {
		c.log.Info(event, fields...)
		return
	}
	c.log.Error(event, fields...)
}

func isClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidArgs, ErrMatchExists, ErrMatchNotFound, ErrMatchFull, ErrMatchClosed,
		ErrSeatsIncomplete, ErrNotSeated, ErrInvalidTransition, ErrMatchNotActive,
		ErrNotYourTurn, ErrIllegalMove,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
