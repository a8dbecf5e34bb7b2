package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"nhooyr.io/websocket"

	"github.com/park285/socket-chess-server/internal/fanout"
	"github.com/park285/socket-chess-server/internal/match"
	"github.com/park285/socket-chess-server/internal/registry"
	"github.com/park285/socket-chess-server/internal/rules"
	"github.com/park285/socket-chess-server/pkg/chessproto"
	"github.com/park285/socket-chess-server/pkg/domain"
)

type frame struct {
	Type        string            `json:"type"`
	RequestID   string            `json:"requestId"`
	UserID      string            `json:"userId"`
	DisplayName string            `json:"displayName"`
	Error       string            `json:"error"`
	Code        string            `json:"code"`
	Match       *domain.Match     `json:"match"`
	Matches     []*domain.Match   `json:"matches"`
	MatchID     string            `json:"matchId"`
	Status      string            `json:"status"`
	GameState   *domain.GameState `json:"gameState"`
}

type harness struct {
	srv   *Server
	coord *match.Coordinator
	users *registry.Registry
	http  *httptest.Server
}

func newHarness(t *testing.T, auth *Authenticator) *harness {
	t.Helper()
	return newLoggedHarness(t, auth, nil)
}

func newLoggedHarness(t *testing.T, auth *Authenticator, log *zap.Logger) *harness {
	t.Helper()
	users := registry.New()
	coord := match.NewCoordinator(match.NewMemoryRepository(), rules.NewPlaceholder(10), nil)
	coord.AttachNotifier(fanout.New(users, nil))
	srv, err := New(coord, users, Options{Auth: auth, WriteTimeout: 2 * time.Second, Logger: log})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		hs.Close()
	})
	return &harness{srv: srv, coord: coord, users: users, http: hs}
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (h *harness) dial(t *testing.T) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return &client{t: t, conn: conn}
}

func (c *client) send(v map[string]any) {
	c.t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// await reads frames until one of the given type arrives, skipping pushes.
func (c *client) await(typ string) frame {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.t.Fatalf("decode %s: %v", raw, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func (c *client) auth(id string) {
	c.t.Helper()
	c.send(map[string]any{"type": "auth", "requestId": "auth-" + id, "userId": id, "displayName": strings.ToUpper(id)})
	if f := c.await("authSuccess"); f.UserID != id {
		c.t.Fatalf("authSuccess = %+v", f)
	}
}

func move(matchID, from, to string) map[string]any {
	return map[string]any{
		"type":    "makeMove",
		"matchId": matchID,
		"move":    map[string]string{"from": from, "to": to},
	}
}

func TestRequestsRequireAuth(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t)
	c.send(map[string]any{"type": "createMatch", "requestId": "r1", "stake": 10})
	f := c.await("error")
	if f.Error != "Not authenticated" || f.Code != chessproto.CodeNotAuthenticated || f.RequestID != "r1" {
		t.Fatalf("error frame = %+v", f)
	}
}

func TestMalformedAndUnknownFrames(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t)
	if err := c.conn.Write(context.Background(), websocket.MessageText, []byte("{nope")); err != nil {
		t.Fatal(err)
	}
	if f := c.await("error"); f.Code != chessproto.CodeBadRequest {
		t.Fatalf("malformed = %+v", f)
	}
	c.send(map[string]any{"type": "resign", "requestId": "r1"})
	if f := c.await("error"); f.Code != chessproto.CodeNotAuthenticated || f.RequestID != "r1" {
		t.Fatalf("unknown before auth = %+v", f)
	}
	// The connection survives bad input.
	c.auth("a")
	c.send(map[string]any{"type": "resign", "requestId": "r2"})
	f := c.await("error")
	if f.Code != chessproto.CodeUnknownType || !strings.Contains(f.Error, "resign") {
		t.Fatalf("unknown = %+v", f)
	}
}

func TestTwoPlayerScenario(t *testing.T) {
	h := newHarness(t, nil)
	a, b := h.dial(t), h.dial(t)
	a.auth("a")
	b.auth("b")

	a.send(map[string]any{"type": "createMatch", "requestId": "c", "matchId": "m1", "stake": 100, "timeControl": "5+0"})
	created := a.await("createMatchSuccess")
	if created.Match == nil || created.Match.WhitePlayerID != "a" || created.Match.Status != domain.StatusPending {
		t.Fatalf("create = %+v", created.Match)
	}

	b.send(map[string]any{"type": "getAvailableMatches", "requestId": "l"})
	if list := b.await("availableMatches"); len(list.Matches) != 1 || list.Matches[0].ID != "m1" {
		t.Fatalf("available = %+v", list.Matches)
	}

	b.send(map[string]any{"type": "joinMatch", "matchId": "m1"})
	if joined := b.await("joinMatchSuccess"); joined.Match.BlackPlayerID != "b" {
		t.Fatalf("join = %+v", joined.Match)
	}
	if upd := a.await("matchUpdate"); upd.Match.BlackPlayerID != "b" {
		t.Fatalf("creator push = %+v", upd.Match)
	}

	a.send(map[string]any{"type": "startMatch", "matchId": "m1"})
	started := a.await("startMatchSuccess")
	if started.Match.Status != domain.StatusActive || started.Match.GameState.CurrentTurn != domain.White {
		t.Fatalf("start = %+v", started.Match)
	}

	a.send(move("m1", "e2", "e4"))
	moved := a.await("makeMoveSuccess")
	if len(moved.Match.GameState.MoveHistory) != 1 || moved.Match.GameState.CurrentTurn != domain.Black {
		t.Fatalf("move = %+v", moved.Match.GameState)
	}
	if gs := b.await("gameStateUpdate"); gs.MatchID != "m1" || gs.GameState.CurrentTurn != domain.Black {
		t.Fatalf("opponent push = %+v", gs)
	}

	a.send(move("m1", "d2", "d4"))
	f := a.await("error")
	if f.Code != chessproto.CodeNotYourTurn || f.Error != "Not your turn" {
		t.Fatalf("wrong turn = %+v", f)
	}

	b.send(move("m1", "e7", "e5"))
	if moved := b.await("makeMoveSuccess"); moved.Match.GameState.CurrentTurn != domain.White {
		t.Fatalf("black move = %+v", moved.Match.GameState)
	}

	b.send(map[string]any{"type": "getUserMatches", "requestId": "u"})
	if mine := b.await("userMatches"); len(mine.Matches) != 1 || len(mine.Matches[0].GameState.MoveHistory) != 2 {
		t.Fatalf("user matches = %+v", mine.Matches)
	}
}

func TestErrorMessagesQuoteDetails(t *testing.T) {
	h := newHarness(t, nil)
	a := h.dial(t)
	a.auth("a")
	a.send(map[string]any{"type": "createMatch", "matchId": "dup"})
	a.await("createMatchSuccess")
	a.send(map[string]any{"type": "createMatch", "matchId": "dup"})
	if f := a.await("error"); f.Code != chessproto.CodeMatchExists || f.Error != "Match dup already exists" {
		t.Fatalf("duplicate = %+v", f)
	}
	a.send(map[string]any{"type": "joinMatch", "matchId": "missing"})
	if f := a.await("error"); f.Code != chessproto.CodeMatchNotFound {
		t.Fatalf("missing = %+v", f)
	}
	a.send(map[string]any{"type": "joinMatch"})
	if f := a.await("error"); f.Code != chessproto.CodeBadRequest {
		t.Fatalf("no match id = %+v", f)
	}
}

func TestDisconnectLeavesMatchUntouched(t *testing.T) {
	h := newHarness(t, nil)
	a, b := h.dial(t), h.dial(t)
	a.auth("a")
	b.auth("b")
	a.send(map[string]any{"type": "createMatch", "matchId": "m1"})
	a.await("createMatchSuccess")
	b.send(map[string]any{"type": "joinMatch", "matchId": "m1"})
	b.await("joinMatchSuccess")
	a.send(map[string]any{"type": "startMatch", "matchId": "m1"})
	a.await("startMatchSuccess")

	_ = b.conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := h.users.Get("b"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("b still registered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	m, err := h.coord.Get(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Status != domain.StatusActive || m.BlackPlayerID != "b" {
		t.Fatalf("match changed on disconnect: %+v", m)
	}

	// The remaining player keeps playing; pushes to b are skipped.
	a.send(move("m1", "e2", "e4"))
	a.await("makeMoveSuccess")
}

func TestReconnectReplacesConnection(t *testing.T) {
	h := newHarness(t, nil)
	first := h.dial(t)
	first.auth("a")
	second := h.dial(t)
	second.auth("a")
	_ = first.conn.Close(websocket.StatusNormalClosure, "")

	time.Sleep(50 * time.Millisecond)
	e, ok := h.users.Get("a")
	if !ok {
		t.Fatalf("a dropped after old connection closed")
	}
	if e.Conn.Closed() {
		t.Fatalf("registry points at the closed connection")
	}
}

func TestDisconnectLogsSupersededSocket(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := newLoggedHarness(t, nil, zap.New(core))
	first := h.dial(t)
	first.auth("a")
	second := h.dial(t)
	second.auth("a")

	disconnects := func() []observer.LoggedEntry {
		deadline := time.Now().Add(3 * time.Second)
		for {
			got := logs.FilterMessage("ws_disconnect").All()
			if len(got) > 0 || time.Now().After(deadline) {
				return got
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	_ = first.conn.Close(websocket.StatusNormalClosure, "")
	got := disconnects()
	if len(got) != 1 {
		t.Fatalf("disconnect logs = %d, want 1", len(got))
	}
	if f := got[0].ContextMap(); f["user_id"] != "a" || f["superseded"] != true {
		t.Fatalf("old socket fields = %v", f)
	}
	if _, ok := h.users.Get("a"); !ok {
		t.Fatalf("superseded socket evicted the live entry")
	}

	logs.TakeAll()
	_ = second.conn.Close(websocket.StatusNormalClosure, "")
	got = disconnects()
	if len(got) != 1 {
		t.Fatalf("disconnect logs = %d, want 1", len(got))
	}
	if f := got[0].ContextMap(); f["user_id"] != "a" || f["superseded"] != nil {
		t.Fatalf("live socket fields = %v", f)
	}
	if _, ok := h.users.Get("a"); ok {
		t.Fatalf("a still registered after its live socket closed")
	}
}

func TestShutdownEmptiesRegistry(t *testing.T) {
	h := newHarness(t, nil)
	a, b := h.dial(t), h.dial(t)
	a.auth("a")
	b.auth("b")
	if n := h.users.Len(); n != 2 {
		t.Fatalf("registered = %d, want 2", n)
	}
	if err := h.srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := h.users.Len(); n != 0 {
		t.Fatalf("registry not emptied on shutdown: %d entries", n)
	}
}

func TestTokenAuth(t *testing.T) {
	auth := NewAuthenticator("s3cret")
	h := newHarness(t, auth)
	c := h.dial(t)

	c.send(map[string]any{"type": "auth", "userId": "a"})
	if f := c.await("error"); f.Code != chessproto.CodeAuthFailed {
		t.Fatalf("missing token = %+v", f)
	}
	other, err := auth.Issue("b", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c.send(map[string]any{"type": "auth", "userId": "a", "token": other})
	if f := c.await("error"); f.Code != chessproto.CodeAuthFailed {
		t.Fatalf("foreign token = %+v", f)
	}
	tok, err := auth.Issue("a", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c.send(map[string]any{"type": "auth", "userId": "a", "token": tok})
	if f := c.await("authSuccess"); f.DisplayName != "a" {
		t.Fatalf("authSuccess = %+v", f)
	}
}

func TestAuthenticatorVerify(t *testing.T) {
	if err := NewAuthenticator("").Verify("anyone", ""); err != nil {
		t.Fatalf("disabled authenticator rejected: %v", err)
	}
	a := NewAuthenticator("k")
	expired, err := a.Issue("u", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Verify("u", expired); err == nil {
		t.Fatalf("expired token accepted")
	}
	forged, err := NewAuthenticator("other").Issue("u", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Verify("u", forged); err == nil {
		t.Fatalf("token signed with another key accepted")
	}
}

func TestDispatchTableIsExhaustive(t *testing.T) {
	h := newHarness(t, nil)
	if err := checkDispatch(h.srv.dispatch); err != nil {
		t.Fatal(err)
	}
	partial := h.srv.handlerTable()
	delete(partial, chessproto.KindCancelMatch)
	if err := checkDispatch(partial); err == nil {
		t.Fatalf("missing handler not detected")
	}
	extra := h.srv.handlerTable()
	extra[chessproto.KindError] = h.srv.handleAuth
	if err := checkDispatch(extra); err == nil {
		t.Fatalf("outbound kind in table not detected")
	}
}

func TestHTTPRoutes(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.coord.CreateMatch(context.Background(), "a", "A", match.CreateParams{ID: "m1"}); err != nil {
		t.Fatal(err)
	}

	get := func(path string) (*http.Response, map[string]any) {
		t.Helper()
		resp, err := http.Get(h.http.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp, body
	}

	if resp, body := get("/healthz"); resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["rules"] != "placeholder" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
	if resp, body := get("/matches/available"); resp.StatusCode != http.StatusOK || len(body["matches"].([]any)) != 1 {
		t.Fatalf("available = %d %v", resp.StatusCode, body)
	}
	if resp, body := get("/matches/m1"); resp.StatusCode != http.StatusOK || body["id"] != "m1" {
		t.Fatalf("match = %d %v", resp.StatusCode, body)
	}
	if resp, body := get("/matches/nope"); resp.StatusCode != http.StatusNotFound || body["code"] != chessproto.CodeMatchNotFound {
		t.Fatalf("missing = %d %v", resp.StatusCode, body)
	}
}

func TestOriginPatterns(t *testing.T) {
	if _, ok := originPatterns(nil); ok {
		t.Fatalf("empty list should allow any origin")
	}
	if _, ok := originPatterns([]string{"https://a.test", "*"}); ok {
		t.Fatalf("wildcard should allow any origin")
	}
	got, ok := originPatterns([]string{"https://chess.example.com", "localhost:5173"})
	if !ok || len(got) != 2 || got[0] != "chess.example.com" || got[1] != "localhost:5173" {
		t.Fatalf("patterns = %v %v", got, ok)
	}
}
