// Package wsclient is a reconnecting client for the chess WebSocket protocol.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/socket-chess-server/pkg/chessproto"
)

var ErrNotConnected = errors.New("websocket not connected")

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Frame is one server message. Raw keeps the full frame for Decode.
type Frame struct {
	Type      chessproto.Kind `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (f Frame) Decode(v any) error { return json.Unmarshal(f.Raw, v) }

// Err returns the error carried by an error frame.
func (f Frame) Err() error {
	if f.Type != chessproto.KindError {
		return nil
	}
	return chessproto.DomainError{Code: f.Code, Message: f.Error}
}

type MessageCallback func(f Frame)

type StateCallback func(s State)

// HeaderProvider injects headers into every handshake.
type HeaderProvider func() map[string]string

type callbackEntry struct {
	id       int
	callback MessageCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

type Option func(*Client)

func WithReconnect(maxAttempts int) Option {
	return func(c *Client) { c.maxReconnectAttempts = maxAttempts }
}

func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headerProvider = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithAuth sends an auth frame after every successful (re)connect.
func WithAuth(p chessproto.AuthPayload) Option {
	return func(c *Client) { c.auth = &p }
}

type Client struct {
	url string
	log *zap.Logger

	connM sync.RWMutex
	conn  *websocket.Conn
	state State

	cbM      sync.RWMutex
	msgCbs   []callbackEntry
	stateCbs []stateCallbackEntry
	nextCbID int

	pendingM sync.Mutex
	pending  map[string]chan Frame

	maxReconnectAttempts int
	pingInterval         time.Duration
	headerProvider       HeaderProvider
	auth                 *chessproto.AuthPayload

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:          url,
		log:          zap.NewNop(),
		state:        StateDisconnected,
		pingInterval: 30 * time.Second,
		pending:      make(map[string]chan Frame),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	return c
}

func (c *Client) Connect(ctx context.Context) error {
	if s := c.State(); s == StateConnected || s == StateConnecting {
		return nil
	}
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := c.dial(dialCtx)
	if err != nil {
		c.setState(StateFailed)
		c.scheduleReconnect()
		return err
	}
	c.attach(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(),
	})
	return conn, err
}

func (c *Client) attach(conn *websocket.Conn) {
	c.connM.Lock()
	c.conn = conn
	c.connM.Unlock()
	c.setState(StateConnected)

	c.wg.Add(2)
	go c.listen(conn)
	go c.pingLoop(conn)

	if c.auth != nil {
		msg := map[string]any{
			"type":        chessproto.KindAuth,
			"userId":      c.auth.UserID,
			"displayName": c.auth.DisplayName,
		}
		if c.auth.Token != "" {
			msg["token"] = c.auth.Token
		}
		if err := c.Send(c.rootCtx, msg); err != nil {
			c.log.Warn("ws_client_auth_send_failed", zap.Error(err))
		}
	}
}

// Send writes v as a JSON text frame on the current connection.
func (c *Client) Send(ctx context.Context, v any) error {
	c.connM.RLock()
	conn := c.conn
	c.connM.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

// Request sends msg with a fresh requestId unless one is set and waits for
// the frame answering it.
func (c *Client) Request(ctx context.Context, kind chessproto.Kind, msg map[string]any) (Frame, error) {
	out := make(map[string]any, len(msg)+2)
	for k, v := range msg {
		out[k] = v
	}
	out["type"] = kind
	id, _ := out["requestId"].(string)
	if id == "" {
		id = uuid.NewString()
		out["requestId"] = id
	}

	ch := make(chan Frame, 1)
	c.pendingM.Lock()
	c.pending[id] = ch
	c.pendingM.Unlock()
	defer func() {
		c.pendingM.Lock()
		delete(c.pending, id)
		c.pendingM.Unlock()
	}()

	if err := c.Send(ctx, out); err != nil {
		return Frame{}, err
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case f := <-ch:
		return f, f.Err()
	}
}

func (c *Client) listen(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		typ, raw, err := conn.Read(c.rootCtx)
		if err != nil {
			if c.isStopping() {
				return
			}
			c.log.Info("ws_client_read_failed", zap.Error(err))
			c.drop(conn, websocket.StatusGoingAway, "reconnect")
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Debug("ws_client_bad_frame", zap.Error(err))
			continue
		}
		f.Raw = raw
		c.deliver(f)
	}
}

func (c *Client) deliver(f Frame) {
	if f.RequestID != "" {
		c.pendingM.Lock()
		ch, ok := c.pending[f.RequestID]
		c.pendingM.Unlock()
		if ok {
			select {
			case ch <- f:
			default:
			}
		}
	}

	c.cbM.RLock()
	callbacks := make([]callbackEntry, len(c.msgCbs))
	copy(callbacks, c.msgCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(f)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	if c.pingInterval <= 0 {
		return
	}
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.rootCtx.Done():
			return
		case <-t.C:
			if c.current() != conn {
				return
			}
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if c.isStopping() {
					return
				}
				c.drop(conn, websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

// drop closes conn if it is still current and starts reconnecting.
func (c *Client) drop(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	c.connM.Lock()
	if c.conn != conn {
		c.connM.Unlock()
		return
	}
	c.conn = nil
	c.connM.Unlock()
	_ = conn.Close(code, reason)
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

func (c *Client) current() *websocket.Conn {
	c.connM.RLock()
	defer c.connM.RUnlock()
	return c.conn
}

func (c *Client) scheduleReconnect() {
	if c.maxReconnectAttempts <= 0 || c.isStopping() {
		return
	}
	c.setState(StateReconnecting)

	go func() {
		for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}

			dialCtx, cancel := context.WithTimeout(c.rootCtx, 10*time.Second)
			conn, err := c.dial(dialCtx)
			cancel()
			if err != nil {
				c.log.Debug("ws_client_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			if c.isStopping() {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
			c.attach(conn)
			return
		}
		c.setState(StateFailed)
	}()
}

func (c *Client) OnMessage(cb MessageCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCbID++
	c.msgCbs = append(c.msgCbs, callbackEntry{id: c.nextCbID, callback: cb})
	return c.nextCbID
}

func (c *Client) RemoveMessageCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.msgCbs {
		if cb.id == id {
			c.msgCbs = append(c.msgCbs[:i], c.msgCbs[i+1:]...)
			break
		}
	}
}

func (c *Client) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCbID++
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: c.nextCbID, callback: cb})
	return c.nextCbID
}

func (c *Client) RemoveStateCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.stateCbs {
		if cb.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			break
		}
	}
}

func (c *Client) State() State {
	c.connM.RLock()
	defer c.connM.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.connM.Lock()
	c.state = s
	c.connM.Unlock()

	c.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(s)
		}
	}
}

func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.connM.Lock()
	conn := c.conn
	c.conn = nil
	c.connM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}
	c.rootCancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateDisconnected)
		return nil
	}
}

func (c *Client) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Client) buildHeaders() http.Header {
	hdr := http.Header{}
	if c.headerProvider == nil {
		return hdr
	}
	for k, v := range c.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}
