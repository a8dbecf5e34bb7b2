package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/socket-chess-server/internal/obslog"
	"github.com/park285/socket-chess-server/pkg/domain"
)

var errSessionClosed = errors.New("session closed")

const maxFrameBytes = 64 << 10

// session is one WebSocket connection. It satisfies registry.Conn.
type session struct {
	id           string
	conn         *websocket.Conn
	log          *zap.Logger
	writeTimeout time.Duration

	closed atomic.Bool

	mu   sync.RWMutex
	user *domain.User
}

func newSession(id string, conn *websocket.Conn, log *zap.Logger, writeTimeout time.Duration) *session {
	conn.SetReadLimit(maxFrameBytes)
	return &session{id: id, conn: conn, log: log, writeTimeout: writeTimeout}
}

func (s *session) ID() string { return s.id }

func (s *session) Closed() bool { return s.closed.Load() }

// Send writes v as one JSON text frame. The caller's cancellation is
// ignored so a request from one player cannot abort a push to the other;
// only the write timeout applies.
func (s *session) Send(ctx context.Context, v any) error {
	if s.Closed() {
		return errSessionClosed
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, v)
}

func (s *session) User() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *session) setUser(u domain.User) {
	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
}

// readLoop hands every text frame to handle in arrival order and returns when
// the connection fails or ctx ends.
func (s *session) readLoop(ctx context.Context, handle func(context.Context, []byte)) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		handle(ctx, data)
	}
}

func (s *session) pingLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := s.conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				s.log.Info("ws_ping_timeout", obslog.ConnID(s.id), zap.Error(err))
				s.close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

func (s *session) close(code websocket.StatusCode, reason string) {
	if s.closed.Swap(true) {
		return
	}
	_ = s.conn.Close(code, reason)
}
