package rules

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/socket-chess-server/pkg/domain"
)

var ErrIllegalMove = errors.New("illegal move")

// Outcome is what a referee reports for an accepted move.
type Outcome struct {
	Move   domain.Move
	Board  string
	Status domain.GameStatus
	Winner *string
}

// Referee judges moves for one game. Implementations must not mutate gs.
type Referee interface {
	Name() string
	InitialBoard() string
	Play(gs *domain.GameState, mv domain.Move, whiteID, blackID string) (Outcome, error)
}

// Placeholder accepts any well-formed square pair and ends the game after
// MaxMoves moves with a uniformly random winner.
type Placeholder struct {
	MaxMoves int
	Rand     io.Reader // nil -> crypto/rand
}

func NewPlaceholder(maxMoves int) *Placeholder {
	if maxMoves <= 0 {
		maxMoves = 10
	}
	return &Placeholder{MaxMoves: maxMoves}
}

func (p *Placeholder) Name() string { return "placeholder" }
func (p *Placeholder) InitialBoard() string { return "startpos" }

func (p *Placeholder) Play(gs *domain.GameState, mv domain.Move, whiteID, blackID string) (Outcome, error) {
	mv = normalize(mv)
	if !validSquare(mv.From) || !validSquare(mv.To) || mv.From == mv.To || !validPromotion(mv.Promotion) {
		return Outcome{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv.UCI())
	}
	out := Outcome{Move: mv, Board: gs.Board, Status: domain.GameActive}
	if len(gs.MoveHistory)+1 < p.MaxMoves {
		return out, nil
	}
	src := p.Rand
	if src == nil {
		src = rand.Reader
	}
	n, err := rand.Int(src, big.NewInt(2))
	if err != nil {
		return Outcome{}, fmt.Errorf("draw winner: %w", err)
	}
	winner := whiteID
	if n.Int64() == 1 {
		winner = blackID
	}
	out.Status = domain.GameCheckmate
	out.Winner = &winner
	return out, nil
}

// Standard applies full chess rules. The board is carried as FEN but the game
// is rebuilt from the move history so repetition and castling rights stay exact.
type Standard struct{}

func NewStandard() *Standard { return &Standard{} }

func (Standard) Name() string { return "standard" }

func (Standard) InitialBoard() string { return nchess.NewGame().FEN() }

func (Standard) Play(gs *domain.GameState, mv domain.Move, whiteID, blackID string) (Outcome, error) {
	mv = normalize(mv)
	game, err := replay(gs.MoveHistory)
	if err != nil {
		return Outcome{}, err
	}
	pos := game.Position()
	if err := game.PushNotationMove(mv.UCI(), nchess.UCINotation{}, nil); err != nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv.UCI())
	}
	last := lastMove(game)
	if last == nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv.UCI())
	}
	mv.SAN = nchess.AlgebraicNotation{}.Encode(pos, last)

	out := Outcome{Move: mv, Board: game.FEN(), Status: domain.GameActive}
	switch game.Outcome() {
	case nchess.WhiteWon:
		out.Status = domain.GameCheckmate
		out.Winner = &whiteID
	case nchess.BlackWon:
		out.Status = domain.GameCheckmate
		out.Winner = &blackID
	case nchess.Draw:
		out.Status = domain.GameDraw
		if game.Method() == nchess.Stalemate {
			out.Status = domain.GameStalemate
		}
	default:
		if last.HasTag(nchess.Check) {
			out.Status = domain.GameCheck
		}
	}
	return out, nil
}

func replay(history []domain.Move) (*nchess.Game, error) {
	game := nchess.NewGame()
	for i, m := range history {
		if err := game.PushNotationMove(m.UCI(), nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %d (%s): %w", i+1, m.UCI(), err)
		}
	}
	return game, nil
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func normalize(mv domain.Move) domain.Move {
	mv.From = strings.ToLower(strings.TrimSpace(mv.From))
	mv.To = strings.ToLower(strings.TrimSpace(mv.To))
	mv.Promotion = strings.ToLower(strings.TrimSpace(mv.Promotion))
	mv.SAN = ""
	return mv
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

func validPromotion(p string) bool {
	switch p {
	case "", "q", "r", "b", "n":
		return true
	}
	return false
}

// ForMode returns the referee configured by name.
func ForMode(mode string, maxMoves int) (Referee, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "placeholder":
		return NewPlaceholder(maxMoves), nil
	case "standard":
		return NewStandard(), nil
	}
	return nil, fmt.Errorf("unknown rules mode %q", mode)
}
