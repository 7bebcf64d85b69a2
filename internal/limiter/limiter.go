// Package limiter defers and coalesces outbound participant and shared
// counter updates so bursts of local edits reach the relay as one send
// carrying the latest value. Local state is updated by the caller right away;
// only the network call waits.
package limiter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/vantage-connect/internal/protocol"
)

type Sender interface {
	Send(ctx context.Context, msg protocol.Outbound) error
}

type Option func(*Limiter)

func WithLogger(l *zap.Logger) Option {
	return func(lim *Limiter) { lim.log = l.Named("limiter") }
}

// WithPlayerWindow sets the quiet period for participant updates.
func WithPlayerWindow(d time.Duration) Option {
	return func(lim *Limiter) { lim.playerWindow = d }
}

// WithDiceWindow sets the quiet period for shared counter updates.
func WithDiceWindow(d time.Duration) Option {
	return func(lim *Limiter) { lim.diceWindow = d }
}

// WithErrorHandler receives sends that failed after the window elapsed.
func WithErrorHandler(fn func(error)) Option {
	return func(lim *Limiter) { lim.onError = fn }
}

type Limiter struct {
	sender       Sender
	log          *zap.Logger
	playerWindow time.Duration
	diceWindow   time.Duration
	onError      func(error)

	players *Debouncer[protocol.Outbound]
	dice    *Debouncer[protocol.Outbound]
}

func New(sender Sender, opts ...Option) *Limiter {
	l := &Limiter{
		sender:       sender,
		log:          zap.NewNop(),
		playerWindow: 500 * time.Millisecond,
		diceWindow:   300 * time.Millisecond,
		onError:      func(error) {},
	}
	for _, o := range opts {
		o(l)
	}
	l.players = NewDebouncer(l.playerWindow, l.send)
	l.dice = NewDebouncer(l.diceWindow, l.send)
	return l
}

// UpdatePlayer schedules an updatePlayer send for p, replacing any pending
// one for the same participant.
func (l *Limiter) UpdatePlayer(p protocol.Player) {
	l.players.Submit(fmt.Sprintf("player:%d", p.ID), protocol.UpdatePlayer{PlayerID: p.ID, Updates: p.Clone()})
}

// UpdateDice schedules an updateChallengeDice send for the session.
func (l *Limiter) UpdateDice(gameID, value int) {
	l.dice.Submit(fmt.Sprintf("dice:%d", gameID), protocol.UpdateChallengeDice{GameID: gameID, ChallengeDice: value})
}

// Flush sends everything pending now.
func (l *Limiter) Flush() {
	l.players.Flush()
	l.dice.Flush()
}

// Stop drops everything pending.
func (l *Limiter) Stop() {
	l.players.Stop()
	l.dice.Stop()
}

func (l *Limiter) Pending() int {
	return l.players.Pending() + l.dice.Pending()
}

func (l *Limiter) send(key string, msg protocol.Outbound) {
	if err := l.sender.Send(context.Background(), msg); err != nil {
		l.log.Warn("debounced send failed", zap.String("key", key), zap.Error(err))
		l.onError(err)
		return
	}
	l.log.Debug("debounced send", zap.String("key", key))
}
