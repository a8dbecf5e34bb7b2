package chessproto

import "github.com/park285/socket-chess-server/pkg/domain"

// Response answers a single request.
type Response struct {
	Type        Kind          `json:"type"`
	RequestID   string        `json:"requestId,omitempty"`
	UserID      string        `json:"userId,omitempty"`
	DisplayName string        `json:"displayName,omitempty"`
	Match       *domain.Match `json:"match,omitempty"`
}

// MatchList answers getAvailableMatches and getUserMatches.
type MatchList struct {
	Type      Kind            `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Matches   []*domain.Match `json:"matches"`
}

// MatchUpdate is pushed to both seated players when a match changes.
type MatchUpdate struct {
	Type  Kind          `json:"type"`
	Match *domain.Match `json:"match"`
}

// GameStateUpdate is pushed to both seated players after a move.
type GameStateUpdate struct {
	Type      Kind              `json:"type"`
	MatchID   string            `json:"matchId"`
	Status    domain.Status     `json:"status"`
	GameState *domain.GameState `json:"gameState"`
	Winner    *string           `json:"winner"`
}

// ErrorFrame reports a failed request. Code is stable for clients to branch on.
type ErrorFrame struct {
	Type      Kind   `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
}

func NewMatchUpdate(m *domain.Match) MatchUpdate {
	return MatchUpdate{Type: KindMatchUpdate, Match: m}
}

func NewGameStateUpdate(m *domain.Match) GameStateUpdate {
	return GameStateUpdate{
		Type:      KindGameStateUpdate,
		MatchID:   m.ID,
		Status:    m.Status,
		GameState: m.GameState,
		Winner:    m.Winner,
	}
}

func NewMatchList(kind Kind, requestID string, list []*domain.Match) MatchList {
	if list == nil {
		list = []*domain.Match{}
	}
	return MatchList{Type: kind, RequestID: requestID, Matches: list}
}
