package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/park285/socket-chess-server/internal/registry"
	"github.com/park285/socket-chess-server/pkg/chessproto"
	"github.com/park285/socket-chess-server/pkg/domain"
)

type fakeConn struct {
	id     string
	closed bool
	err    error

	mu   sync.Mutex
	sent []any
}

func (f *fakeConn) ID() string { return f.id }
func (f *fakeConn) Closed() bool { return f.closed }
func (f *fakeConn) Send(_ context.Context, v any) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.sent = append(f.sent, v)
	f.mu.Unlock()
	return nil
}

func activeMatch() *domain.Match {
	return &domain.Match{
		ID:            "m1",
		WhitePlayerID: "alice",
		BlackPlayerID: "bob",
		Status:        domain.StatusActive,
		GameState:     &domain.GameState{CurrentTurn: domain.Black, GameStatus: domain.GameActive},
	}
}

func TestPushesToBothSeats(t *testing.T) {
	users := registry.New()
	a, b := &fakeConn{id: "ca"}, &fakeConn{id: "cb"}
	users.Add("alice", "Alice", a)
	users.Add("bob", "Bob", b)
	users.Add("carol", "Carol", &fakeConn{id: "cc"})

	n := New(users, nil)
	if sent := n.push(context.Background(), activeMatch(), chessproto.NewGameStateUpdate(activeMatch())); sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	msg, ok := a.sent[0].(chessproto.GameStateUpdate)
	if !ok || msg.Type != chessproto.KindGameStateUpdate || msg.MatchID != "m1" {
		t.Fatalf("unexpected message %#v", a.sent[0])
	}
	if len(b.sent) != 1 {
		t.Fatalf("bob got %d messages", len(b.sent))
	}
}

func TestSkipsOfflineAndFailingConns(t *testing.T) {
	users := registry.New()
	a := &fakeConn{id: "ca", closed: true}
	b := &fakeConn{id: "cb", err: errors.New("write: broken pipe")}
	users.Add("alice", "Alice", a)
	users.Add("bob", "Bob", b)

	n := New(users, nil)
	n.MatchUpdate(context.Background(), activeMatch())
	if len(a.sent) != 0 || len(b.sent) != 0 {
		t.Fatalf("closed or failing connections must not record messages")
	}

	// Unknown users are skipped as well.
	m := activeMatch()
	m.BlackPlayerID = "ghost"
	if sent := n.push(context.Background(), m, chessproto.NewMatchUpdate(m)); sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
}

func TestSkipLogsUseSharedIDFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	users := registry.New()
	users.Add("alice", "Alice", &fakeConn{id: "ca", err: errors.New("write: broken pipe")})

	n := New(users, zap.New(core))
	n.MatchUpdate(context.Background(), activeMatch())

	failed := logs.FilterMessage("fanout_send_failed").All()
	if len(failed) != 1 {
		t.Fatalf("send failures logged = %d, want 1", len(failed))
	}
	fields := failed[0].ContextMap()
	if fields["match_id"] != "m1" || fields["user_id"] != "alice" || fields["conn_id"] != "ca" {
		t.Fatalf("send failure fields = %v", fields)
	}
	skipped := logs.FilterMessage("fanout_skip_offline").All()
	if len(skipped) != 1 || skipped[0].ContextMap()["user_id"] != "bob" {
		t.Fatalf("offline skips = %v", skipped)
	}
}
