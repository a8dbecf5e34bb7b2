package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/socket-chess-server/internal/match"
	"github.com/park285/socket-chess-server/internal/obslog"
	"github.com/park285/socket-chess-server/pkg/chessproto"
	"github.com/park285/socket-chess-server/pkg/domain"
)

type handlerFunc func(ctx context.Context, s *session, env chessproto.Envelope) (any, error)

var (
	errNotAuthenticated = errors.New("not authenticated")
	errUnknownType      = errors.New("unknown message type")
)

func (srv *Server) handlerTable() map[chessproto.Kind]handlerFunc {
	return map[chessproto.Kind]handlerFunc{
		chessproto.KindAuth:                srv.handleAuth,
		chessproto.KindCreateMatch:         srv.handleCreateMatch,
		chessproto.KindJoinMatch:           srv.handleJoinMatch,
		chessproto.KindStartMatch:          srv.handleStartMatch,
		chessproto.KindMakeMove:            srv.handleMakeMove,
		chessproto.KindGetAvailableMatches: srv.handleGetAvailableMatches,
		chessproto.KindGetUserMatches:      srv.handleGetUserMatches,
		chessproto.KindCancelMatch:         srv.handleCancelMatch,
	}
}

// checkDispatch fails unless every inbound kind has exactly one handler and
// the table holds nothing else.
func checkDispatch(table map[chessproto.Kind]handlerFunc) error {
	var missing, extra []string
	for _, k := range chessproto.InboundKinds() {
		if table[k] == nil {
			missing = append(missing, string(k))
		}
	}
	for k := range table {
		if !chessproto.IsInbound(k) {
			extra = append(extra, string(k))
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		return fmt.Errorf("dispatch table mismatch: missing=%v extra=%v", missing, extra)
	}
	return nil
}

// handle processes one inbound frame and always answers with exactly one frame.
func (srv *Server) handle(ctx context.Context, s *session, frame []byte) {
	env, err := chessproto.Decode(frame)
	if err != nil {
		srv.reply(ctx, s, "", nil, err)
		return
	}
	// Unauthenticated sockets learn nothing about the request surface.
	if env.Type != chessproto.KindAuth && s.User() == nil {
		srv.reply(ctx, s, env.RequestID, nil, errNotAuthenticated)
		return
	}
	h, ok := srv.dispatch[env.Type]
	if !ok {
		srv.reply(ctx, s, env.RequestID, nil, requestErr{err: errUnknownType, kind: string(env.Type)})
		return
	}
	resp, err := h(ctx, s, env)
	srv.reply(ctx, s, env.RequestID, resp, err)
}

func (srv *Server) reply(ctx context.Context, s *session, requestID string, resp any, err error) {
	if err != nil {
		resp = srv.errorFrame(requestID, err)
	}
	if resp == nil {
		return
	}
	if werr := s.Send(ctx, resp); werr != nil {
		srv.log.Debug("ws_reply_failed", obslog.ConnID(s.ID()), zap.Error(werr))
	}
}

// requestErr attaches request details that error messages may quote.
type requestErr struct {
	err     error
	matchID string
	move    string
	kind    string
}

func (e requestErr) Error() string { return e.err.Error() }
func (e requestErr) Unwrap() error { return e.err }

func errorCode(err error) string {
	switch {
	case errors.Is(err, errNotAuthenticated):
		return chessproto.CodeNotAuthenticated
	case errors.Is(err, ErrAuthFailed):
		return chessproto.CodeAuthFailed
	case errors.Is(err, chessproto.ErrMalformed), errors.Is(err, match.ErrInvalidArgs):
		return chessproto.CodeBadRequest
	case errors.Is(err, errUnknownType):
		return chessproto.CodeUnknownType
	case errors.Is(err, match.ErrMatchExists):
		return chessproto.CodeMatchExists
	case errors.Is(err, match.ErrMatchNotFound):
		return chessproto.CodeMatchNotFound
	case errors.Is(err, match.ErrMatchFull):
		return chessproto.CodeMatchFull
	case errors.Is(err, match.ErrMatchClosed):
		return chessproto.CodeMatchClosed
	case errors.Is(err, match.ErrSeatsIncomplete):
		return chessproto.CodeSeatsIncomplete
	case errors.Is(err, match.ErrNotSeated):
		return chessproto.CodeNotSeated
	case errors.Is(err, match.ErrInvalidTransition):
		return chessproto.CodeInvalidTransition
	case errors.Is(err, match.ErrMatchNotActive):
		return chessproto.CodeMatchNotActive
	case errors.Is(err, match.ErrNotYourTurn):
		return chessproto.CodeNotYourTurn
	case errors.Is(err, match.ErrIllegalMove):
		return chessproto.CodeIllegalMove
	}
	return chessproto.CodeInternal
}

func (srv *Server) errorFrame(requestID string, err error) chessproto.ErrorFrame {
	code := errorCode(err)
	if code == chessproto.CodeInternal {
		srv.log.Error("ws_request_failed", zap.String("request_id", requestID), zap.Error(err))
	}
	var re requestErr
	errors.As(err, &re)
	data := map[string]string{"MatchID": re.matchID, "Move": re.move, "Type": re.kind}
	msg := srv.messages.Text("errors."+code, data, err.Error())
	return chessproto.DomainError{Code: code, Message: msg}.Frame(requestID)
}

func (srv *Server) handleAuth(ctx context.Context, s *session, env chessproto.Envelope) (any, error) {
	var p chessproto.AuthPayload
	if err := env.Payload(&p); err != nil {
		return nil, err
	}
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", chessproto.ErrMalformed)
	}
	if err := srv.auth.Verify(p.UserID, p.Token); err != nil {
		srv.log.Info("ws_auth_failed", obslog.ConnID(s.ID()), obslog.UserID(p.UserID), zap.Error(err))
		return nil, err
	}
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = p.UserID
	}
	if prev := s.User(); prev != nil && prev.ID != p.UserID {
		srv.users.RemoveIfConn(prev.ID, s)
	}
	s.setUser(domain.User{ID: p.UserID, DisplayName: name})
	srv.users.Add(p.UserID, name, s)
	srv.log.Info("ws_auth", obslog.ConnID(s.ID()), obslog.UserID(p.UserID))
	return chessproto.Response{
		Type:        chessproto.KindAuthSuccess,
		RequestID:   env.RequestID,
		UserID:      p.UserID,
		DisplayName: name,
	}, nil
}

func (srv *Server) handleCreateMatch(ctx context.Context, s *session, env chessproto.Envelope) (any, error) {
	var p chessproto.CreateMatchPayload
	if err := env.Payload(&p); err != nil {
		return nil, err
	}
	u := s.User()
	m, err := srv.coord.CreateMatch(ctx, u.ID, u.DisplayName, match.CreateParams{
		ID:          p.MatchID,
		Stake:       p.Stake,
		TimeControl: p.TimeControl,
		GameMode:    p.GameMode,
	})
	if err != nil {
		return nil, requestErr{err: err, matchID: p.MatchID}
	}
	return matchResponse(chessproto.KindCreateMatchSuccess, env, m), nil
}

func (srv *Server) handleJoinMatch(ctx context.Context, s *session, env chessproto.Envelope) (any, error) {
	id, err := matchRef(env)
	if err != nil {
		return nil, err
	}
	u := s.User()
	m, err := srv.coord.JoinMatch(ctx, id, u.ID, u.DisplayName)
	if err != nil {
		return nil, err
	}
	return matchResponse(chessproto.KindJoinMatchSuccess, env, m), nil
}

func (srv *Server) handleStartMatch(ctx context.Context, s *session, env chessproto.Envelope) (any, error) {
	id, err := matchRef(env)
	if err != nil {
		return nil, err
	}
	m, err := srv.coord.StartMatch(ctx, id, s.User().ID)
	if err != nil {
		return nil, err
	}
	return matchResponse(chessproto.KindStartMatchSuccess, env, m), nil
}

func (srv *Server) handleCancelMatch(ctx context.Context, s *session, env chessproto.Envelope) (any, error) {
	id, err := matchRef(env)
	if err != nil {
		return nil, err
	}
	m, err := srv.coord.CancelMatch(ctx, id, s.User().ID)
	if err != nil {
		return nil, err
	}
	return matchResponse(chessproto.KindCancelMatchSuccess, env, m), nil
}

func (srv *Server) handleMakeMove(ctx context.Context, s *session, env chessproto.Envelope) (any, error) {
	var p chessproto.MakeMovePayload
	if err := env.Payload(&p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.MatchID) == "" {
		return nil, fmt.Errorf("%w: matchId is required", chessproto.ErrMalformed)
	}
	mv := domain.Move{From: p.Move.From, To: p.Move.To, Promotion: p.Move.Promotion}
	m, err := srv.coord.MakeMove(ctx, p.MatchID, s.User().ID, mv)
	if err != nil {
		if errors.Is(err, match.ErrIllegalMove) {
			return nil, requestErr{err: err, matchID: p.MatchID, move: mv.UCI()}
		}
		return nil, err
	}
	return matchResponse(chessproto.KindMakeMoveSuccess, env, m), nil
}

func (srv *Server) handleGetAvailableMatches(ctx context.Context, _ *session, env chessproto.Envelope) (any, error) {
	list, err := srv.coord.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	return chessproto.NewMatchList(chessproto.KindAvailableMatches, env.RequestID, list), nil
}

func (srv *Server) handleGetUserMatches(ctx context.Context, s *session, env chessproto.Envelope) (any, error) {
	list, err := srv.coord.ListByUser(ctx, s.User().ID)
	if err != nil {
		return nil, err
	}
	return chessproto.NewMatchList(chessproto.KindUserMatches, env.RequestID, list), nil
}

func matchRef(env chessproto.Envelope) (string, error) {
	var p chessproto.MatchRef
	if err := env.Payload(&p); err != nil {
		return "", err
	}
	id := strings.TrimSpace(p.MatchID)
	if id == "" {
		return "", fmt.Errorf("%w: matchId is required", chessproto.ErrMalformed)
	}
	return id, nil
}

func matchResponse(kind chessproto.Kind, env chessproto.Envelope, m *domain.Match) chessproto.Response {
	return chessproto.Response{Type: kind, RequestID: env.RequestID, Match: m}
}
