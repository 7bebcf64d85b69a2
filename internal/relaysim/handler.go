package relaysim

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/segmentio/ksuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/DoyleJ11/vantage-connect/internal/protocol"
)

// conn is one relay connection. Only the reader goroutine touches lobby.
type conn struct {
	id    string
	ws    *websocket.Conn
	out   chan []byte
	lobby *Lobby
	log   *zap.Logger
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("accept failed", zap.Error(err))
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "bye")

	c := &conn{
		id:  ksuid.New().String(),
		ws:  ws,
		out: make(chan []byte, 32),
	}
	c.log = s.log.With(zap.String("conn", c.id))
	s.track(c.id, ws)
	defer s.untrack(c.id)
	c.log.Debug("connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer func() {
		if c.lobby != nil {
			c.lobby.Send(context.Background(), Detach{ConnID: c.id})
		}
	}()

	// Writer goroutine
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-c.out:
				wctx, wcancel := context.WithTimeout(ctx, 3*time.Second)
				err := ws.Write(wctx, websocket.MessageText, frame)
				wcancel()
				if err != nil {
					c.log.Debug("write failed", zap.Error(err))
					cancel()
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.log.Debug("closed by client")
			default:
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		s.handleFrame(ctx, c, data)
	}
}

func (c *conn) send(ctx context.Context, frame []byte) {
	select {
	case c.out <- frame:
	case <-ctx.Done():
	}
}

func (s *Server) handleFrame(ctx context.Context, c *conn, data []byte) {
	if !gjson.ValidBytes(data) {
		c.send(ctx, errorFrame(CodeBadRequest, "Malformed message"))
		return
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		c.send(ctx, errorFrame(CodeBadRequest, "Malformed message"))
		return
	}
	action := protocol.Action(root.Get("action").String())
	c.log.Debug("frame", zap.String("action", string(action)))

	switch action {
	case protocol.ActionHostSession:
		lb := s.hub.Create(ctx)
		if lb == nil {
			c.send(ctx, errorFrame(CodeBadRequest, "Could not create session"))
			return
		}
		s.command(ctx, c, lb, Command{Type: CmdJoin})

	case protocol.ActionJoinSession:
		lb := s.lobbyFor(ctx, c, int(root.Get("sessionCode").Int()))
		if lb == nil {
			return
		}
		s.command(ctx, c, lb, Command{Type: CmdJoin})

	case protocol.ActionReadPlayers:
		lb := s.lobbyFor(ctx, c, int(root.Get("sessionCode").Int()))
		if lb == nil {
			return
		}
		c.lobby = lb
		lb.Send(ctx, Read{ConnID: c.id, Outbox: c.out})

	case protocol.ActionReadChallengeDice:
		lb := s.lobbyFor(ctx, c, int(root.Get("gameId").Int()))
		if lb == nil {
			return
		}
		lb.Send(ctx, ReadDice{Outbox: c.out})

	case protocol.ActionUpdatePlayer:
		var u protocol.Player
		if raw := root.Get("updates").Raw; raw != "" {
			if err := json.Unmarshal([]byte(raw), &u); err != nil {
				c.send(ctx, errorFrame(CodeBadRequest, "Malformed updates"))
				return
			}
		}
		s.joined(ctx, c, Command{Type: CmdUpdatePlayer, PlayerID: int(root.Get("playerId").Int()), Updates: u})

	case protocol.ActionEndTurn:
		s.joined(ctx, c, Command{Type: CmdEndTurn, PlayerID: int(root.Get("currentPlayerId").Int())})

	case protocol.ActionUpdateChallengeDice:
		s.joined(ctx, c, Command{Type: CmdSetDice, Dice: int(root.Get("challengeDice").Int())})

	case protocol.ActionLeaveSession:
		s.joined(ctx, c, Command{Type: CmdLeave, PlayerID: int(root.Get("playerId").Int())})

	default:
		c.send(ctx, errorFrame(CodeUnknownAction, "Unknown action "+string(action)))
	}
}

func (s *Server) lobbyFor(ctx context.Context, c *conn, code int) *Lobby {
	lb := s.hub.Get(ctx, code)
	if lb == nil {
		c.send(ctx, errorFrame(CodeSessionNotFound, "Session not found"))
	}
	return lb
}

// joined runs cmd against the lobby this connection belongs to.
func (s *Server) joined(ctx context.Context, c *conn, cmd Command) {
	if c.lobby == nil {
		c.send(ctx, errorFrame(CodeNotInSession, "Join a session first"))
		return
	}
	s.command(ctx, c, c.lobby, cmd)
}

func (s *Server) command(ctx context.Context, c *conn, lb *Lobby, cmd Command) {
	reply := make(chan Result, 1)
	if !lb.Send(ctx, FromClient{ConnID: c.id, Outbox: c.out, Cmd: cmd, Reply: reply}) {
		c.send(ctx, errorFrame(CodeSessionNotFound, "Session closed"))
		return
	}

	var res Result
	select {
	case res = <-reply:
	case <-ctx.Done():
		return
	}
	if res.Err != nil {
		return
	}

	switch cmd.Type {
	case CmdJoin:
		c.lobby = lb
	case CmdLeave:
		c.lobby = nil
		if res.Remaining == 0 {
			s.hub.send(ctx, RemoveLobby{Code: lb.Code()})
		}
	}
}
