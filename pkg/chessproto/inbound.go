package chessproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("malformed message")

// Envelope is a decoded inbound frame. The payload fields sit next to
// "type" and "requestId" at the top level, so the raw frame is kept and
// decoded again into the kind-specific struct.
type Envelope struct {
	Type      Kind   `json:"type"`
	RequestID string `json:"requestId,omitempty"`

	raw json.RawMessage
}

// Decode parses the envelope header of a frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(string(env.Type)) == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	env.raw = append(json.RawMessage(nil), frame...)
	return env, nil
}

// Payload decodes the frame into v.
func (e Envelope) Payload(v any) error {
	if len(e.raw) == 0 {
		return fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	if err := json.Unmarshal(e.raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

type AuthPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Token       string `json:"token,omitempty"`
}

type CreateMatchPayload struct {
	MatchID     string `json:"matchId,omitempty"`
	Stake       int64  `json:"stake"`
	TimeControl string `json:"timeControl"`
	GameMode    string `json:"gameMode"`
}

// MatchRef is the payload of joinMatch, startMatch and cancelMatch.
type MatchRef struct {
	MatchID string `json:"matchId"`
}

type MovePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type MakeMovePayload struct {
	MatchID string      `json:"matchId"`
	Move    MovePayload `json:"move"`
}
