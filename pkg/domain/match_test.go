package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	ok := [][2]Status{
		{StatusPending, StatusActive},
		{StatusPending, StatusCancelled},
		{StatusActive, StatusCompleted},
	}
	for _, e := range ok {
		if !CanTransition(e[0], e[1]) {
			t.Fatalf("expected %s -> %s to be allowed", e[0], e[1])
		}
	}
	bad := [][2]Status{
		{StatusActive, StatusPending},
		{StatusActive, StatusCancelled},
		{StatusCompleted, StatusActive},
		{StatusCancelled, StatusPending},
		{StatusPending, StatusCompleted},
	}
	for _, e := range bad {
		if CanTransition(e[0], e[1]) {
			t.Fatalf("expected %s -> %s to be rejected", e[0], e[1])
		}
	}
}

func TestTransitionBumpsVersion(t *testing.T) {
	m := &Match{ID: "m1", Status: StatusPending}
	now := time.Now()
	if err := m.Transition(StatusActive, now); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if m.Version != 1 || !m.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected version=%d updated=%v", m.Version, m.UpdatedAt)
	}
	if err := m.Transition(StatusCancelled, now); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestValidateGameStateInvariant(t *testing.T) {
	m := &Match{ID: "m1", Status: StatusActive}
	if err := m.Validate(); err == nil {
		t.Fatalf("active match without state must be invalid")
	}
	m.GameState = &GameState{CurrentTurn: White, GameStatus: GameActive}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	m.Status = StatusPending
	if err := m.Validate(); err == nil {
		t.Fatalf("pending match with state must be invalid")
	}
}

func TestSeatOfAndClone(t *testing.T) {
	w := "a"
	m := &Match{
		ID:            "m1",
		WhitePlayerID: "a",
		BlackPlayerID: "b",
		Status:        StatusCompleted,
		Winner:        &w,
		GameState:     &GameState{MoveHistory: []Move{{From: "e2", To: "e4"}}, Winner: &w},
	}
	if m.SeatOf("a") != White || m.SeatOf("b") != Black || m.SeatOf("c") != "" {
		t.Fatalf("unexpected seats")
	}
	c := m.Clone()
	c.GameState.MoveHistory[0].From = "d2"
	*c.Winner = "b"
	if m.GameState.MoveHistory[0].From != "e2" || *m.Winner != "a" {
		t.Fatalf("clone shares memory with original")
	}
}
