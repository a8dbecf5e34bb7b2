package rules

import (
	"errors"
	"testing"
	"testing/iotest"

	"github.com/park285/socket-chess-server/pkg/domain"
)

func play(t *testing.T, r Referee, gs *domain.GameState, from, to string) Outcome {
	t.Helper()
	out, err := r.Play(gs, domain.Move{From: from, To: to}, "w", "b")
	if err != nil {
		t.Fatalf("Play(%s%s): %v", from, to, err)
	}
	gs.MoveHistory = append(gs.MoveHistory, out.Move)
	gs.Board = out.Board
	gs.CurrentTurn = gs.CurrentTurn.Opposite()
	gs.GameStatus = out.Status
	gs.Winner = out.Winner
	return out
}

func TestPlaceholderTerminatesAfterMaxMoves(t *testing.T) {
	r := NewPlaceholder(10)
	gs := &domain.GameState{Board: r.InitialBoard(), CurrentTurn: domain.White, GameStatus: domain.GameActive}
	for i := 0; i < 9; i++ {
		if out := play(t, r, gs, "a2", "a3"); out.Status != domain.GameActive {
			t.Fatalf("move %d: status %s", i+1, out.Status)
		}
	}
	out := play(t, r, gs, "h7", "h6")
	if out.Status != domain.GameCheckmate || out.Winner == nil {
		t.Fatalf("expected checkmate with winner, got %+v", out)
	}
	if *out.Winner != "w" && *out.Winner != "b" {
		t.Fatalf("winner %q not seated", *out.Winner)
	}
}

func TestPlaceholderFailsWhenRandomSourceFails(t *testing.T) {
	entropy := errors.New("entropy unavailable")
	r := &Placeholder{MaxMoves: 2, Rand: iotest.ErrReader(entropy)}
	gs := &domain.GameState{Board: r.InitialBoard(), CurrentTurn: domain.White, GameStatus: domain.GameActive}
	play(t, r, gs, "e2", "e4")

	out, err := r.Play(gs, domain.Move{From: "e7", To: "e5"}, "w", "b")
	if !errors.Is(err, entropy) {
		t.Fatalf("expected entropy error, got %v", err)
	}
	if errors.Is(err, ErrIllegalMove) || out.Winner != nil {
		t.Fatalf("failed draw must not pick a winner: %+v", out)
	}
}

func TestPlaceholderRejectsMalformedSquares(t *testing.T) {
	r := NewPlaceholder(10)
	gs := &domain.GameState{Board: "startpos", CurrentTurn: domain.White}
	for _, mv := range []domain.Move{
		{From: "e2", To: "e9"},
		{From: "z2", To: "e4"},
		{From: "e2", To: "e2"},
		{From: "e7", To: "e8", Promotion: "k"},
		{From: "", To: "e4"},
	} {
		if _, err := r.Play(gs, mv, "w", "b"); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("Play(%+v) err = %v, want ErrIllegalMove", mv, err)
		}
	}
	out, err := r.Play(gs, domain.Move{From: " E2", To: "E4 "}, "w", "b")
	if err != nil || out.Move.UCI() != "e2e4" {
		t.Fatalf("normalization failed: %+v, %v", out, err)
	}
}

func TestStandardFoolsMate(t *testing.T) {
	r := NewStandard()
	gs := &domain.GameState{Board: r.InitialBoard(), CurrentTurn: domain.White, GameStatus: domain.GameActive}
	play(t, r, gs, "f2", "f3")
	play(t, r, gs, "e7", "e5")
	play(t, r, gs, "g2", "g4")
	out := play(t, r, gs, "d8", "h4")
	if out.Status != domain.GameCheckmate {
		t.Fatalf("status = %s, want checkmate", out.Status)
	}
	if out.Winner == nil || *out.Winner != "b" {
		t.Fatalf("winner = %v, want black", out.Winner)
	}
	if out.Move.SAN == "" {
		t.Fatalf("expected SAN to be recorded")
	}
	if out.Board == r.InitialBoard() {
		t.Fatalf("board not advanced")
	}
}

func TestStandardRejectsIllegal(t *testing.T) {
	r := NewStandard()
	gs := &domain.GameState{Board: r.InitialBoard(), CurrentTurn: domain.White}
	if _, err := r.Play(gs, domain.Move{From: "e2", To: "e5"}, "w", "b"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
}

func TestForMode(t *testing.T) {
	if r, err := ForMode("", 0); err != nil || r.Name() != "placeholder" {
		t.Fatalf("default mode: %v %v", r, err)
	}
	if r, err := ForMode("STANDARD", 0); err != nil || r.Name() != "standard" {
		t.Fatalf("standard mode: %v %v", r, err)
	}
	if _, err := ForMode("bughouse", 0); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
