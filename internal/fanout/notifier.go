package fanout

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/socket-chess-server/internal/obslog"
	"github.com/park285/socket-chess-server/internal/registry"
	"github.com/park285/socket-chess-server/pkg/chessproto"
	"github.com/park285/socket-chess-server/pkg/domain"
)

// Notifier pushes match changes to the seated players that are online.
// Delivery is best effort: offline players are skipped and nothing is queued.
type Notifier struct {
	users *registry.Registry
	log   *zap.Logger
}

func New(users *registry.Registry, log *zap.Logger) *Notifier {
	return &Notifier{users: users, log: obslog.Or(log)}
}

func (n *Notifier) MatchUpdate(ctx context.Context, m *domain.Match) {
	n.push(ctx, m, chessproto.NewMatchUpdate(m))
}

func (n *Notifier) GameStateUpdate(ctx context.Context, m *domain.Match) {
	n.push(ctx, m, chessproto.NewGameStateUpdate(m))
}

func (n *Notifier) push(ctx context.Context, m *domain.Match, msg any) int {
	sent := 0
	for _, uid := range m.Players() {
		e, ok := n.users.Get(uid)
		if !ok || e.Conn == nil || e.Conn.Closed() {
			n.log.Debug("fanout_skip_offline", obslog.MatchID(m.ID), obslog.UserID(uid))
			continue
		}
		if err := e.Conn.Send(ctx, msg); err != nil {
			n.log.Debug("fanout_send_failed",
				obslog.MatchID(m.ID),
				obslog.UserID(uid),
				obslog.ConnID(e.Conn.ID()),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}
