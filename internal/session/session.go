package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/vantage-connect/internal/ledger"
	"github.com/DoyleJ11/vantage-connect/internal/limiter"
	"github.com/DoyleJ11/vantage-connect/internal/protocol"
	"github.com/DoyleJ11/vantage-connect/internal/reconcile"
)

type msg interface{ isSessionMsg() }

type snapshot struct{ update protocol.PlayersUpdate }

type dicePush struct{ update protocol.DiceUpdate }

type edit struct {
	fn    func(*protocol.Player)
	reply chan editResult
}

type editResult struct {
	player protocol.Player
	err    error
}

type changeDice struct {
	delta int
	reply chan int
}

type setViewed struct {
	id    int
	reply chan error
}

type getState struct {
	reply chan reconcile.State
}

func (snapshot) isSessionMsg()   {}
func (dicePush) isSessionMsg()   {}
func (edit) isSessionMsg()       {}
func (changeDice) isSessionMsg() {}
func (setViewed) isSessionMsg()  {}
func (getState) isSessionMsg()   {}

type observer struct {
	id int
	fn func(reconcile.State)
}

// Session is one joined session. Its state is owned by a single loop
// goroutine; snapshots, pushes and local edits are applied there in arrival
// order.
type Session struct {
	client     *Client
	membership ledger.Membership
	limiter    *limiter.Limiter
	log        *zap.Logger

	inbox  chan msg
	state  reconcile.State
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	final  reconcile.State

	unsubs    []func()
	closeOnce sync.Once

	obsMu     sync.Mutex
	nextObs   int
	observers []observer
}

func newSession(c *Client, m ledger.Membership, lim *limiter.Limiter) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:     c,
		membership: m,
		limiter:    lim,
		log: c.log.Named("session").With(
			zap.Int("session_code", m.SessionCode),
			zap.Int("player_id", m.PlayerID),
		),
		inbox:  make(chan msg, 64),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.unsubs = append(s.unsubs,
		c.dispatcher.Subscribe(protocol.ActionUpdatePlayers, s.onPlayers),
		c.dispatcher.Subscribe(protocol.ActionUpdateChallengeDice, s.onDice),
		c.transport.OnConnected(func() { s.resync(s.ctx) }),
	)

	go s.loop()
	return s
}

func (s *Session) Membership() ledger.Membership { return s.membership }

// Done is closed once the session loop has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) loop() {
	defer func() {
		s.final = s.state.Clone()
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case snapshot:
				s.applySnapshot(msg.update)

			case dicePush:
				if !msg.update.Set || !reconcile.AcceptRemoteDice(s.state, s.membership.PlayerID) {
					break
				}
				v := reconcile.ClampDice(msg.update.ChallengeDice, 0)
				if v != s.state.ChallengeDice {
					s.state.ChallengeDice = v
					s.notify()
				}

			case edit:
				if !s.state.Has(s.membership.PlayerID) {
					msg.reply <- editResult{err: ErrNotLoaded}
					break
				}
				next, p, changed := reconcile.Edit(s.state, s.membership.PlayerID, msg.fn)
				if changed {
					s.state = next
					s.notify()
					s.limiter.UpdatePlayer(p)
				}
				msg.reply <- editResult{player: p}

			case changeDice:
				v := reconcile.ClampDice(s.state.ChallengeDice, msg.delta)
				if v != s.state.ChallengeDice {
					s.state.ChallengeDice = v
					s.notify()
					s.limiter.UpdateDice(s.membership.SessionCode, v)
				}
				msg.reply <- v

			case setViewed:
				if !s.state.Has(msg.id) {
					msg.reply <- fmt.Errorf("view %d: %w", msg.id, ErrUnknownPlayer)
					break
				}
				if s.state.Viewed != msg.id {
					s.state.Viewed = msg.id
					s.notify()
				}
				msg.reply <- nil

			case getState:
				msg.reply <- s.state.Clone()
			}
		}
	}
}

func (s *Session) applySnapshot(upd protocol.PlayersUpdate) {
	first := !s.state.Loaded
	next, changed := reconcile.Apply(s.state, upd.Players, s.membership.PlayerID)
	switch {
	case first:
		next.ChallengeDice = reconcile.ClampDice(upd.ChallengeDice, 0)
		changed = true
	case upd.DiceSet && reconcile.AcceptRemoteDice(next, s.membership.PlayerID):
		// The turn holder owns the counter; everyone else follows the relay.
		if v := reconcile.ClampDice(upd.ChallengeDice, 0); v != next.ChallengeDice {
			next.ChallengeDice = v
			changed = true
		}
	}
	if !changed {
		s.log.Debug("snapshot unchanged")
		return
	}
	s.state = next
	s.notify()
}

// notify runs on the loop goroutine.
func (s *Session) notify() {
	s.obsMu.Lock()
	obs := append([]observer(nil), s.observers...)
	s.obsMu.Unlock()

	for _, o := range obs {
		st := s.state.Clone()
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("change observer panicked", zap.Any("panic", r))
				}
			}()
			o.fn(st)
		}()
	}
}

// OnChange registers fn to receive the state after every change. fn runs on
// the session loop and must not call back into the Session.
func (s *Session) OnChange(fn func(reconcile.State)) (remove func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.nextObs++
	id := s.nextObs
	s.observers = append(s.observers, observer{id, fn})
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) onPlayers(env protocol.Envelope) error {
	upd, ok := env.Body.(protocol.PlayersUpdate)
	if !ok {
		return fmt.Errorf("updatePlayers: unexpected body %T", env.Body)
	}
	if upd.Code != 0 && upd.Code != s.membership.SessionCode {
		s.log.Debug("ignoring snapshot for another session", zap.Int("code", upd.Code))
		return nil
	}
	s.post(snapshot{update: upd})
	return nil
}

func (s *Session) onDice(env protocol.Envelope) error {
	upd, ok := env.Body.(protocol.DiceUpdate)
	if !ok {
		return fmt.Errorf("updateChallengeDice: unexpected body %T", env.Body)
	}
	s.post(dicePush{update: upd})
	return nil
}

// post blocks the caller, normally the transport read goroutine, so frames
// reach the loop in the order they arrived.
func (s *Session) post(m msg) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// resync asks the relay for a fresh snapshot and counter.
func (s *Session) resync(ctx context.Context) {
	code := s.membership.SessionCode
	err := multierr.Combine(
		s.client.transport.Send(ctx, protocol.ReadPlayers{SessionCode: code}),
		s.client.transport.Send(ctx, protocol.ReadChallengeDice{GameID: code}),
	)
	if err != nil {
		s.log.Warn("resync failed", zap.Error(err))
		return
	}
	s.log.Debug("resync requested")
}

// State returns a copy of the current state. After the session ended it
// returns the last state held.
func (s *Session) State() reconcile.State {
	reply := make(chan reconcile.State, 1)
	if !s.post(getState{reply: reply}) {
		<-s.done
		return s.final.Clone()
	}
	select {
	case st := <-reply:
		return st
	case <-s.done:
		return s.final.Clone()
	}
}

// Edit applies fn to the local participant right away and schedules a
// debounced updatePlayer carrying the result. fn must not keep p.
func (s *Session) Edit(fn func(p *protocol.Player)) (protocol.Player, error) {
	reply := make(chan editResult, 1)
	if !s.post(edit{fn: fn, reply: reply}) {
		return protocol.Player{}, ErrEnded
	}
	select {
	case r := <-reply:
		return r.player, r.err
	case <-s.done:
		return protocol.Player{}, ErrEnded
	}
}

func (s *Session) SetLocation(location string) error {
	_, err := s.Edit(func(p *protocol.Player) { p.Location = location })
	return err
}

func (s *Session) SetJournal(text string) error {
	_, err := s.Edit(func(p *protocol.Player) { p.JournalText = text })
	return err
}

// ChangeDice applies delta to the shared counter, clamped at zero, and
// schedules a debounced send of the new value. It returns the value now held.
func (s *Session) ChangeDice(delta int) (int, error) {
	reply := make(chan int, 1)
	if !s.post(changeDice{delta: delta, reply: reply}) {
		return 0, ErrEnded
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return 0, ErrEnded
	}
}

// SetViewed selects the displayed participant.
func (s *Session) SetViewed(id int) error {
	reply := make(chan error, 1)
	if !s.post(setViewed{id: id, reply: reply}) {
		return ErrEnded
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrEnded
	}
}

// EndTurn passes the turn on. Pending debounced sends go out first so the
// next participant sees the final values.
func (s *Session) EndTurn(ctx context.Context) error {
	if s.ended() {
		return ErrEnded
	}
	s.limiter.Flush()
	return s.client.transport.Send(ctx, protocol.EndTurn{
		SessionCode:     s.membership.SessionCode,
		CurrentPlayerID: s.membership.PlayerID,
	})
}

// Leave tells the relay the local participant is leaving, forgets the
// membership and ends the session. Pending debounced sends are discarded.
// The session ends even when the relay could not be told.
func (s *Session) Leave(ctx context.Context) error {
	if s.ended() {
		return ErrEnded
	}
	s.limiter.Stop()

	var err error
	env, rerr := s.client.correlator.Request(ctx, protocol.LeaveSession{PlayerID: s.membership.PlayerID})
	if rerr == nil {
		rerr = env.Err()
	}
	err = multierr.Append(err, rerr)
	err = multierr.Append(err, s.client.ledger.Clear(ctx))

	s.stop()
	s.client.forget(s)
	return err
}

// stop ends the loop and drops every subscription without telling the relay.
func (s *Session) stop() {
	s.closeOnce.Do(func() {
		s.limiter.Stop()
		for _, u := range s.unsubs {
			u()
		}
		s.cancel()
		<-s.done
		s.log.Info("session ended")
	})
}

func (s *Session) ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
