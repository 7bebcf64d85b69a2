package relaysim

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync/atomic"

	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

// CreateLobby opens a lobby under a fresh six-digit code.
type CreateLobby struct {
	Reply chan *Lobby
}

type GetLobby struct {
	Code  int
	Reply chan *Lobby
}

type RemoveLobby struct {
	Code int
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[int]*Lobby
	opts    Options
	ids     atomic.Int64
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, opts Options, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[int]*Lobby),
		opts:    opts,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				code, err := h.freeCode()
				if err != nil {
					h.log.Error("generate session code", zap.Error(err))
					msg.Reply <- nil
					break
				}
				lb := NewLobby(h.ctx, NewState(code), h.opts, h.nextPlayerID, h.log)
				h.lobbies[code] = lb
				h.log.Info("session created", zap.Int("session_code", code))
				msg.Reply <- lb

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case RemoveLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					lb.cancel()
					delete(h.lobbies, msg.Code)
					h.log.Info("session removed", zap.Int("session_code", msg.Code))
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.cancel()
	}
	clear(h.lobbies)
	h.cancel()
}

// Create opens a new lobby. It returns nil once the hub is shut down.
func (h *Hub) Create(ctx context.Context) *Lobby {
	reply := make(chan *Lobby, 1)
	if !h.send(ctx, CreateLobby{Reply: reply}) {
		return nil
	}
	return h.await(ctx, reply)
}

// Get returns the lobby for code, or nil.
func (h *Hub) Get(ctx context.Context, code int) *Lobby {
	reply := make(chan *Lobby, 1)
	if !h.send(ctx, GetLobby{Code: code, Reply: reply}) {
		return nil
	}
	return h.await(ctx, reply)
}

func (h *Hub) send(ctx context.Context, m HubMsg) bool {
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) await(ctx context.Context, reply chan *Lobby) *Lobby {
	select {
	case lb := <-reply:
		return lb
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (h *Hub) nextPlayerID() int {
	return int(h.ids.Add(1))
}

func (h *Hub) freeCode() (int, error) {
	for {
		c, err := GenerateCode()
		if err != nil {
			return 0, err
		}
		if h.lobbies[c] == nil {
			return c, nil
		}
		h.log.Debug("collision on code, regenerating")
	}
}

// GenerateCode returns a random six-digit session code.
func GenerateCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()) + 100000, nil
}
