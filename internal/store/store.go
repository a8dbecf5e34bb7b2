package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/socket-chess-server/internal/obslog"
	"github.com/park285/socket-chess-server/pkg/domain"
)

// MatchRecord is the persisted snapshot of a match at one version.
type MatchRecord struct {
	MatchID          string        `json:"id"`
	Version          int64         `json:"version"`
	Status           domain.Status `json:"status"`
	WhitePlayerID    string        `json:"white_player_id"`
	BlackPlayerID    string        `json:"black_player_id"`
	WhiteDisplayName string        `json:"white_display_name"`
	BlackDisplayName string        `json:"black_display_name"`
	Stake            int64         `json:"stake"`
	TimeControl      string        `json:"time_control"`
	GameMode         string        `json:"game_mode"`
	Winner           *string       `json:"winner"`
	GameStatus       string        `json:"game_status"`
	Board            string        `json:"board"`
	Moves            []domain.Move `json:"moves"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// RecordFromMatch snapshots m. The result shares no memory with m.
func RecordFromMatch(m *domain.Match) MatchRecord {
	c := m.Clone()
	rec := MatchRecord{
		MatchID:          c.ID,
		Version:          c.Version,
		Status:           c.Status,
		WhitePlayerID:    c.WhitePlayerID,
		BlackPlayerID:    c.BlackPlayerID,
		WhiteDisplayName: c.WhiteDisplayName,
		BlackDisplayName: c.BlackDisplayName,
		Stake:            c.Stake,
		TimeControl:      c.TimeControl,
		GameMode:         c.GameMode,
		Winner:           c.Winner,
		Moves:            []domain.Move{},
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	if gs := c.GameState; gs != nil {
		rec.GameStatus = string(gs.GameStatus)
		rec.Board = gs.Board
		rec.Moves = gs.MoveHistory
	}
	return rec
}

// Finished reports whether the record is a final result.
func (r MatchRecord) Finished() bool { return r.Status == domain.StatusCompleted }

// Store persists match records. Upsert must be idempotent and must ignore
// records older than what is already stored.
type Store interface {
	Name() string
	Upsert(ctx context.Context, rec MatchRecord) error
	Close() error
}

// Multi fans one record out to several stores.
type Multi []Store

func (m Multi) Name() string { return "multi" }

func (m Multi) Upsert(ctx context.Context, rec MatchRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Upsert(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Nop drops records; used when no backend is configured.
type Nop struct{ Logger *zap.Logger }

func (Nop) Name() string { return "nop" }

func (n Nop) Upsert(_ context.Context, rec MatchRecord) error {
	if n.Logger != nil {
		n.Logger.Debug("store_nop_upsert",
			obslog.MatchID(rec.MatchID),
			zap.Int64("version", rec.Version),
			zap.String("status", string(rec.Status)),
		)
	}
	return nil
}

func (Nop) Close() error { return nil }

// Combine returns the single store, a Multi, or Nop when list is empty.
func Combine(logger *zap.Logger, list ...Store) Store {
	switch len(list) {
	case 0:
		return Nop{Logger: logger}
	case 1:
		return list[0]
	}
	return Multi(list)
}
