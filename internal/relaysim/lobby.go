package relaysim

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/vantage-connect/internal/protocol"
)

type Msg interface{ isLobbyMsg() }

// FromClient applies Cmd. The requester's Outbox gets any direct reply
// before the broadcast; Reply, if set, receives the outcome.
type FromClient struct {
	ConnID string
	Outbox chan<- []byte
	Cmd    Command
	Reply  chan Result
}

func (FromClient) isLobbyMsg() {}

// Read subscribes the connection to broadcasts and sends it the current
// snapshot.
type Read struct {
	ConnID string
	Outbox chan<- []byte
}

func (Read) isLobbyMsg() {}

// ReadDice sends the current counter to Outbox.
type ReadDice struct {
	Outbox chan<- []byte
}

func (ReadDice) isLobbyMsg() {}

type Detach struct{ ConnID string }

func (Detach) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type Result struct {
	PlayerID  int
	Remaining int
	Err       error
}

type View struct {
	Version     int
	Subscribers int
	State       State
}

type Lobby struct {
	code        int
	inbox       chan Msg
	state       State
	version     int
	subscribers map[string]chan<- []byte
	opts        Options
	nextID      func() int
	log         *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewLobby(parent context.Context, initial State, opts Options, nextID func() int, log *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		code:        initial.Code,
		inbox:       make(chan Msg, 64),
		state:       initial,
		subscribers: make(map[string]chan<- []byte),
		opts:        opts,
		nextID:      nextID,
		log:         log.With(zap.Int("session_code", initial.Code)),
		ctx:         ctx,
		cancel:      cancel,
	}

	go l.loop()
	return l
}

func (l *Lobby) Code() int { return l.code }

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Read:
				l.subscribers[msg.ConnID] = msg.Outbox
				l.deliver(msg.ConnID, msg.Outbox, snapshotFrame(l.state, l.opts.KeyedCollections))

			case ReadDice:
				l.deliver("", msg.Outbox, diceFrame(l.state.ChallengeDice))

			case Detach:
				delete(l.subscribers, msg.ConnID)

			case FromClient:
				l.apply(msg)

			case GetState:
				msg.Reply <- View{
					Version:     l.version,
					Subscribers: len(l.subscribers),
					State:       clone(l.state),
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) apply(msg FromClient) {
	cmd := msg.Cmd
	if cmd.Type == CmdJoin {
		cmd.PlayerID = l.nextID()
	}

	events, newState, err := Apply(l.state, cmd)
	if err != nil {
		l.log.Debug("command rejected", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		l.deliver(msg.ConnID, msg.Outbox, errorFrame(errorCode(err), err.Error()))
		l.reply(msg, Result{Err: err})
		return
	}
	l.state = newState
	l.version++

	switch cmd.Type {
	case CmdJoin:
		l.subscribers[msg.ConnID] = msg.Outbox
		action := protocol.ActionJoinSession
		if len(l.state.Players) == 1 {
			action = protocol.ActionHostSession
		}
		l.deliver(msg.ConnID, msg.Outbox, membershipFrame(action, cmd.PlayerID, l.state.Code, l.opts.UntaggedReplies))
	case CmdLeave:
		delete(l.subscribers, msg.ConnID)
		l.deliver(msg.ConnID, msg.Outbox, ackFrame(protocol.ActionLeaveSession))
	}
	l.reply(msg, Result{PlayerID: cmd.PlayerID, Remaining: len(l.state.Players)})

	if containsEvent(events, EvtDiceChanged) {
		l.broadcast(diceFrame(l.state.ChallengeDice))
		return
	}
	l.broadcast(snapshotFrame(l.state, l.opts.KeyedCollections))
}

func (l *Lobby) reply(msg FromClient, r Result) {
	if msg.Reply != nil {
		msg.Reply <- r
	}
}

func (l *Lobby) deliver(connID string, out chan<- []byte, frame []byte) {
	if out == nil {
		return
	}
	select {
	case out <- frame:
	default:
		l.log.Warn("dropping slow subscriber", zap.String("conn", connID))
		delete(l.subscribers, connID)
	}
}

func (l *Lobby) broadcast(frame []byte) {
	for id, ch := range l.subscribers {
		l.deliver(id, ch, frame)
	}
}

func (l *Lobby) shutdown() {
	clear(l.subscribers)
	l.cancel()
}

// Inbox accepts lobby messages from the hub and connection handlers.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownPlayer):
		return CodePlayerNotFound
	case errors.Is(err, ErrWrongTurn):
		return CodeNotYourTurn
	default:
		return CodeBadRequest
	}
}

// Send delivers m unless the lobby or ctx is done first.
func (l *Lobby) Send(ctx context.Context, m Msg) bool {
	select {
	case l.inbox <- m:
		return true
	case <-l.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
