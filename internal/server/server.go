package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/socket-chess-server/internal/match"
	"github.com/park285/socket-chess-server/internal/msgcat"
	"github.com/park285/socket-chess-server/internal/obslog"
	"github.com/park285/socket-chess-server/internal/registry"
	"github.com/park285/socket-chess-server/pkg/chessproto"
)

type Options struct {
	AllowedOrigins []string
	Auth           *Authenticator
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	Messages       *msgcat.Catalog
	Logger         *zap.Logger
	// Health adds extra fields to /healthz.
	Health         func() map[string]any
}

// Server accepts WebSocket sessions and routes their frames to the coordinator.
type Server struct {
	coord    *match.Coordinator
	users    *registry.Registry
	auth     *Authenticator
	messages *msgcat.Catalog
	log      *zap.Logger
	opts     Options
	dispatch map[chessproto.Kind]handlerFunc

	mu       sync.Mutex
	sessions map[string]*session
	closing  bool
}

func New(coord *match.Coordinator, users *registry.Registry, opts Options) (*Server, error) {
	if coord == nil || users == nil {
		return nil, errors.New("server: coordinator and registry are required")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Messages == nil {
		opts.Messages = msgcat.MustDefault()
	}
	if opts.Auth == nil {
		opts.Auth = NewAuthenticator("")
	}
	srv := &Server{
		coord:    coord,
		users:    users,
		auth:     opts.Auth,
		messages: opts.Messages,
		log:      obslog.Or(opts.Logger),
		opts:     opts,
		sessions: make(map[string]*session),
	}
	srv.dispatch = srv.handlerTable()
	if err := checkDispatch(srv.dispatch); err != nil {
		return nil, err
	}
	return srv, nil
}

func (srv *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", srv.serveWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", srv.serveHealth).Methods(http.MethodGet)
	r.HandleFunc("/matches/available", srv.serveAvailable).Methods(http.MethodGet)
	r.HandleFunc("/matches/{id}", srv.serveMatch).Methods(http.MethodGet)
	return srv.cors(r)
}

func (srv *Server) cors(next http.Handler) http.Handler {
	allowAll := len(srv.opts.AllowedOrigins) == 0
	allowed := make(map[string]struct{}, len(srv.opts.AllowedOrigins))
	for _, o := range srv.opts.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			} else if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originPatterns converts configured origins to the host patterns
// websocket.Accept expects. ok is false when any origin is allowed.
func originPatterns(origins []string) (patterns []string, ok bool) {
	if len(origins) == 0 {
		return nil, false
	}
	for _, o := range origins {
		if o == "*" {
			return nil, false
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns, true
}

func (srv *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	accept := &websocket.AcceptOptions{}
	if patterns, ok := originPatterns(srv.opts.AllowedOrigins); ok {
		accept.OriginPatterns = patterns
	} else {
		accept.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, accept)
	if err != nil {
		srv.log.Info("ws_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	s := newSession(uuid.NewString(), conn, srv.log, srv.opts.WriteTimeout)
	if !srv.track(s) {
		s.close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	srv.log.Info("ws_connect", obslog.ConnID(s.ID()), zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.pingLoop(ctx, srv.opts.PingInterval)

	err = s.readLoop(ctx, func(ctx context.Context, frame []byte) {
		srv.handle(ctx, s, frame)
	})
	srv.drop(s, err)
}

func (srv *Server) track(s *session) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.closing {
		return false
	}
	srv.sessions[s.ID()] = s
	return true
}

// drop forgets a finished session. Matches the user sits in are left as they are.
func (srv *Server) drop(s *session, cause error) {
	srv.mu.Lock()
	delete(srv.sessions, s.ID())
	srv.mu.Unlock()

	fields := []zap.Field{obslog.ConnID(s.ID())}
	if e, ok := srv.users.LookupByConnection(s); ok {
		srv.users.RemoveIfConn(e.User.ID, s)
		fields = append(fields, obslog.UserID(e.User.ID))
	} else if u := s.User(); u != nil {
		// A newer socket already holds the registry entry.
		fields = append(fields, obslog.UserID(u.ID), zap.Bool("superseded", true))
	}
	if status := websocket.CloseStatus(cause); status != -1 {
		fields = append(fields, zap.Int("close_status", int(status)))
	} else if cause != nil && !errors.Is(cause, context.Canceled) {
		fields = append(fields, zap.Error(cause))
	}
	srv.log.Info("ws_disconnect", fields...)
	s.close(websocket.StatusNormalClosure, "")
}

// Shutdown closes every open session and empties the user registry. New
// sessions are refused afterwards.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.mu.Lock()
	srv.closing = true
	open := make([]*session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		open = append(open, s)
	}
	srv.mu.Unlock()

	for _, s := range open {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.close(websocket.StatusGoingAway, "server shutting down")
		// No session can register anymore, so the unguarded removal is safe.
		if u := s.User(); u != nil {
			srv.users.Remove(u.ID)
		}
	}
	srv.log.Info("ws_shutdown", zap.Int("sessions", len(open)))
	return nil
}

// Sessions returns the number of open connections.
func (srv *Server) Sessions() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

func (srv *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":   "ok",
		"sessions": srv.Sessions(),
		"users":    srv.users.Len(),
		"rules":    srv.coord.Referee().Name(),
	}
	if srv.opts.Health != nil {
		for k, v := range srv.opts.Health() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (srv *Server) serveAvailable(w http.ResponseWriter, r *http.Request) {
	list, err := srv.coord.ListAvailable(r.Context())
	if err != nil {
		srv.log.Error("http_list_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, srv.errorFrame("", err))
		return
	}
	writeJSON(w, http.StatusOK, chessproto.NewMatchList(chessproto.KindAvailableMatches, "", list))
}

func (srv *Server) serveMatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := srv.coord.Get(r.Context(), id)
	switch {
	case errors.Is(err, match.ErrMatchNotFound):
		writeJSON(w, http.StatusNotFound, srv.errorFrame("", err))
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, srv.errorFrame("", err))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
