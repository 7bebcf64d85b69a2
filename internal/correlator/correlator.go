// Package correlator turns fire-and-forget relay sends into awaitable
// request/response pairs.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/vantage-connect/internal/protocol"
)

var ErrTimeout = errors.New("correlator: no response")

type TimeoutError struct {
	Action protocol.Action
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: no response for action %q after %s", e.Action, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

type Sender interface {
	Send(ctx context.Context, msg protocol.Outbound) error
}

// Notifier shows relay errors to the human user.
type Notifier interface {
	Notify(err *protocol.ApplicationError)
}

type NotifierFunc func(err *protocol.ApplicationError)

func (f NotifierFunc) Notify(err *protocol.ApplicationError) { f(err) }

type Option func(*Correlator)

func WithLogger(l *zap.Logger) Option {
	return func(c *Correlator) { c.log = l.Named("correlator") }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) { c.timeout = d }
}

func WithNotifier(n Notifier) Option {
	return func(c *Correlator) { c.notifier = n }
}

type pending struct {
	action    protocol.Action
	createdAt time.Time
	result    chan protocol.Envelope
}

type Correlator struct {
	sender   Sender
	notifier Notifier
	timeout  time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	pending []*pending
}

func New(sender Sender, opts ...Option) *Correlator {
	c := &Correlator{
		sender:  sender,
		timeout: 15 * time.Second,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.notifier == nil {
		log := c.log
		c.notifier = NotifierFunc(func(err *protocol.ApplicationError) {
			log.Warn("relay error", zap.String("code", err.Code), zap.String("message", err.Message))
		})
	}
	return c
}

// Request sends msg and waits for the first inbound frame that Matches its
// action. An "error" frame resolves the request as data and triggers the
// Notifier. ctx bounds the send only; once sent, the wait ends on a match or
// after the correlator timeout, never earlier.
func (c *Correlator) Request(ctx context.Context, msg protocol.Outbound) (protocol.Envelope, error) {
	p := &pending{
		action:    msg.OutboundAction(),
		createdAt: time.Now(),
		result:    make(chan protocol.Envelope, 1),
	}

	// Registered before the send so a fast response cannot slip past.
	c.mu.Lock()
	c.pending = append(c.pending, p)
	c.mu.Unlock()

	if err := c.sender.Send(ctx, msg); err != nil {
		c.remove(p)
		return protocol.Envelope{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case env := <-p.result:
		return env, nil
	case <-timer.C:
		if c.remove(p) {
			c.log.Warn("request timed out", zap.String("action", string(p.action)), zap.Duration("after", time.Since(p.createdAt)))
			return protocol.Envelope{}, &TimeoutError{Action: p.action, After: c.timeout}
		}
		// Observe settled it between the timer firing and the removal.
		return <-p.result, nil
	}
}

// Observe offers env to the pending requests in registration order. The first
// match consumes it; later matchers never see it. It reports whether a
// request was settled.
func (c *Correlator) Observe(env protocol.Envelope) bool {
	c.mu.Lock()
	var match *pending
	for i, p := range c.pending {
		if Matches(p.action, env) {
			match = p
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if match == nil {
		return false
	}
	match.result <- env
	if appErr, ok := env.Err().(*protocol.ApplicationError); ok {
		c.notifier.Notify(appErr)
	}
	return true
}

// Pending reports how many requests are waiting.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) remove(target *pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p == target {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Matches reports whether env answers a request for action. The relay echoes
// no request ids, so a frame matches when it carries the same action tag, the
// generic "error" tag, or, for session membership requests, a top-level
// playerId (the relay answers host and join without an action tag).
//
// TODO: match on an explicit correlation id once the relay echoes one.
func Matches(action protocol.Action, env protocol.Envelope) bool {
	switch {
	case env.Action == action, env.IsError():
		return true
	case env.HasPlayerID && env.Action == "":
		return isMembership(action)
	default:
		return false
	}
}

func isMembership(a protocol.Action) bool {
	switch a {
	case protocol.ActionHostSession, protocol.ActionJoinSession, protocol.ActionLeaveSession:
		return true
	}
	return false
}
