// Package relaysim is an in-process implementation of the relay contract:
// six-digit sessions, participant snapshots pushed on every change, and turn
// rotation by seat number. It backs integration tests and cmd/relaysim.
package relaysim

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Options struct {
	// KeyedCollections sends skillTokens and impactDiceSlots as
	// index-keyed objects instead of arrays.
	KeyedCollections bool
	// UntaggedReplies omits the action from hostSession and joinSession
	// replies.
	UntaggedReplies bool
}

type Server struct {
	hub  *Hub
	log  *zap.Logger
	opts Options

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func NewServer(ctx context.Context, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("relaysim")
	return &Server{
		hub:   NewHub(ctx, opts, log),
		log:   log,
		opts:  opts,
		conns: make(map[string]*websocket.Conn),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Post("/sessions", s.createSession)
	r.Get("/sessions/{code}", s.getSession)
	r.Get("/ws", s.serveWS)
	return r
}

// DropConnections closes every websocket without a close handshake, as a
// crashed relay would.
func (s *Server) DropConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.CloseNow()
	}
	return len(s.conns)
}

// Connections reports how many websockets are open.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops every lobby.
func (s *Server) Shutdown() {
	s.hub.send(context.Background(), ShutdownHub{})
}

// Lookup returns the state of a session, for tests and debugging.
func (s *Server) Lookup(ctx context.Context, code int) (View, bool) {
	lb := s.hub.Get(ctx, code)
	if lb == nil {
		return View{}, false
	}
	reply := make(chan View, 1)
	if !lb.Send(ctx, GetState{Reply: reply}) {
		return View{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-ctx.Done():
		return View{}, false
	}
}

func (s *Server) track(id string, c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id] = c
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	lb := s.hub.Create(r.Context())
	if lb == nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(struct {
		Code int `json:"code"`
	}{Code: lb.Code()})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil {
		http.Error(w, "bad code", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	v, ok := s.Lookup(ctx, code)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Code          int      `json:"code"`
		Version       int      `json:"version"`
		ChallengeDice int      `json:"challengeDice"`
		Players       []Player `json:"players"`
	}{v.State.Code, v.Version, v.State.ChallengeDice, v.State.Players})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
