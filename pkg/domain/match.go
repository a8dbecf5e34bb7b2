package domain

import (
	"errors"
	"time"
)

// Color identifies a chess side (and the seat bound to it).
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opposite returns the other side.
func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

// Status represents the match lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// GameStatus is the rules-level state of an in-progress game.
type GameStatus string

const (
	GameActive    GameStatus = "active"
	GameCheck     GameStatus = "check"
	GameCheckmate GameStatus = "checkmate"
	GameStalemate GameStatus = "stalemate"
	GameDraw      GameStatus = "draw"
)

// Terminal reports whether the game can no longer accept moves.
func (s GameStatus) Terminal() bool {
	return s == GameCheckmate || s == GameStalemate || s == GameDraw
}

var ErrInvalidTransition = errors.New("invalid match status transition")

// allowed lists the only status edges a match may take.
var allowed = map[Status][]Status{
	StatusPending: {StatusActive, StatusCancelled},
	StatusActive:  {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Move is a single from/to pair as sent by clients.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san,omitempty"`
}

// UCI returns the long algebraic form, e.g. e2e4 or e7e8q.
func (m Move) UCI() string { return m.From + m.To + m.Promotion }

// GameState is owned by its Match and mutated only by the move gate.
type GameState struct {
	Board       string     `json:"board"`
	CurrentTurn Color      `json:"currentTurn"`
	MoveHistory []Move     `json:"moveHistory"`
	GameStatus  GameStatus `json:"gameStatus"`
	Winner      *string    `json:"winner"`
}

// Match is the persisted and broadcast view of a two-seat game.
type Match struct {
	ID               string     `json:"id"`
	WhitePlayerID    string     `json:"whitePlayerId,omitempty"`
	BlackPlayerID    string     `json:"blackPlayerId,omitempty"`
	WhiteDisplayName string     `json:"whiteDisplayName,omitempty"`
	BlackDisplayName string     `json:"blackDisplayName,omitempty"`
	Stake            int64      `json:"stake"`
	TimeControl      string     `json:"timeControl,omitempty"`
	GameMode         string     `json:"gameMode,omitempty"`
	Status           Status     `json:"status"`
	Winner           *string    `json:"winner"`
	GameState        *GameState `json:"gameState"`
	CreatedBy        string     `json:"createdBy"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// SeatOf returns the color the user is seated as, or "" when not seated.
func (m *Match) SeatOf(userID string) Color {
	if m == nil || userID == "" {
		return ""
	}
	if m.WhitePlayerID == userID {
		return White
	}
	if m.BlackPlayerID == userID {
		return Black
	}
	return ""
}

// PlayerOf returns the user seated as c.
func (m *Match) PlayerOf(c Color) string {
	if c == White {
		return m.WhitePlayerID
	}
	return m.BlackPlayerID
}

// Full reports whether both seats are taken.
func (m *Match) Full() bool { return m.WhitePlayerID != "" && m.BlackPlayerID != "" }

// Open reports whether the match is listed as joinable.
func (m *Match) Open() bool { return m.Status == StatusPending && !m.Full() }

// Players returns the non-empty seat holders, white first.
func (m *Match) Players() []string {
	out := make([]string, 0, 2)
	if m.WhitePlayerID != "" {
		out = append(out, m.WhitePlayerID)
	}
	if m.BlackPlayerID != "" {
		out = append(out, m.BlackPlayerID)
	}
	return out
}

// Transition moves the match to next when the edge is allowed.
func (m *Match) Transition(next Status, now time.Time) error {
	if !CanTransition(m.Status, next) {
		return ErrInvalidTransition
	}
	m.Status = next
	m.Touch(now)
	return nil
}

// Touch bumps the version and update stamp after a mutation.
func (m *Match) Touch(now time.Time) {
	m.Version++
	m.UpdatedAt = now
}

// Validate checks the structural invariants of the match.
func (m *Match) Validate() error {
	hasState := m.GameState != nil
	switch m.Status {
	case StatusActive, StatusCompleted:
		if !hasState {
			return errors.New("active or completed match without game state")
		}
	case StatusPending, StatusCancelled:
		if hasState {
			return errors.New("pending or cancelled match with game state")
		}
	default:
		return errors.New("unknown match status")
	}
	if m.WhitePlayerID != "" && m.WhitePlayerID == m.BlackPlayerID {
		return errors.New("user seated twice")
	}
	return nil
}

// Clone returns a deep copy safe to hand out of a repository.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	if m.Winner != nil {
		w := *m.Winner
		c.Winner = &w
	}
	if m.GameState != nil {
		gs := *m.GameState
		gs.MoveHistory = append([]Move(nil), m.GameState.MoveHistory...)
		if m.GameState.Winner != nil {
			w := *m.GameState.Winner
			gs.Winner = &w
		}
		c.GameState = &gs
	}
	return &c
}

// User is a connected, authenticated participant.
type User struct {
	ID          string
	DisplayName string
}
