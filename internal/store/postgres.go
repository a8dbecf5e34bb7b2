package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS matches (
    id                 TEXT PRIMARY KEY,
    version            BIGINT      NOT NULL,
    status             TEXT        NOT NULL,
    white_player_id    TEXT        NOT NULL DEFAULT '',
    black_player_id    TEXT        NOT NULL DEFAULT '',
    white_display_name TEXT        NOT NULL DEFAULT '',
    black_display_name TEXT        NOT NULL DEFAULT '',
    stake              BIGINT      NOT NULL DEFAULT 0,
    time_control       TEXT        NOT NULL DEFAULT '',
    game_mode          TEXT        NOT NULL DEFAULT '',
    winner             TEXT,
    game_status        TEXT        NOT NULL DEFAULT '',
    board              TEXT        NOT NULL DEFAULT '',
    moves              JSONB       NOT NULL DEFAULT '[]'::jsonb,
    pgn                TEXT        NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS matches_white_idx ON matches (white_player_id);
CREATE INDEX IF NOT EXISTS matches_black_idx ON matches (black_player_id);`

// Stale versions are dropped by the WHERE clause so retries and reordered
// deliveries cannot roll a match back.
const upsertSQL = `INSERT INTO matches (
    id, version, status,
    white_player_id, black_player_id, white_display_name, black_display_name,
    stake, time_control, game_mode,
    winner, game_status, board, moves, pgn,
    created_at, updated_at
  ) VALUES (
    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
  ) ON CONFLICT (id) DO UPDATE SET
    version=EXCLUDED.version,
    status=EXCLUDED.status,
    white_player_id=EXCLUDED.white_player_id,
    black_player_id=EXCLUDED.black_player_id,
    white_display_name=EXCLUDED.white_display_name,
    black_display_name=EXCLUDED.black_display_name,
    stake=EXCLUDED.stake,
    time_control=EXCLUDED.time_control,
    game_mode=EXCLUDED.game_mode,
    winner=EXCLUDED.winner,
    game_status=EXCLUDED.game_status,
    board=EXCLUDED.board,
    moves=EXCLUDED.moves,
    pgn=EXCLUDED.pgn,
    updated_at=EXCLUDED.updated_at
  WHERE matches.version < EXCLUDED.version`

type Postgres struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an already opened handle.
func NewPostgresFromDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Upsert(ctx context.Context, rec MatchRecord) error {
	if p == nil || p.db == nil {
		return nil
	}
	args, err := upsertArgs(rec)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, upsertSQL, args...); err != nil {
		return fmt.Errorf("upsert match %s: %w", rec.MatchID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// upsertArgs lines up with the placeholders in upsertSQL.
func upsertArgs(rec MatchRecord) ([]any, error) {
	movesRaw := []byte("[]")
	if len(rec.Moves) > 0 {
		b, err := json.Marshal(rec.Moves)
		if err != nil {
			return nil, fmt.Errorf("marshal moves: %w", err)
		}
		movesRaw = b
	}
	pgn := ""
	if rec.Finished() {
		pgn = BuildPGN(rec)
	}
	var winner sql.NullString
	if rec.Winner != nil {
		winner = sql.NullString{String: *rec.Winner, Valid: true}
	}
	return []any{
		rec.MatchID, rec.Version, string(rec.Status),
		rec.WhitePlayerID, rec.BlackPlayerID, rec.WhiteDisplayName, rec.BlackDisplayName,
		rec.Stake, rec.TimeControl, rec.GameMode,
		winner, rec.GameStatus, rec.Board, string(movesRaw), pgn,
		rec.CreatedAt, rec.UpdatedAt,
	}, nil
}
