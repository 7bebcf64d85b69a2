// Package session wires the relay connection, request correlation, push
// dispatch, snapshot reconciliation and debounced mutations into one
// session-scoped client. A Client owns the connection; a Session owns the
// reconciled state of one joined session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/vantage-connect/internal/correlator"
	"github.com/DoyleJ11/vantage-connect/internal/dispatch"
	"github.com/DoyleJ11/vantage-connect/internal/ledger"
	"github.com/DoyleJ11/vantage-connect/internal/limiter"
	"github.com/DoyleJ11/vantage-connect/internal/protocol"
	"github.com/DoyleJ11/vantage-connect/internal/transport"
)

var (
	ErrSessionActive = errors.New("session: a session is already active")
	ErrEnded         = errors.New("session: ended")
	ErrNotLoaded     = errors.New("session: local participant not loaded")
	ErrUnknownPlayer = errors.New("session: unknown participant")
)

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithLedger sets where the active membership is remembered. Defaults to an
// in-memory ledger.
func WithLedger(l ledger.Ledger) Option {
	return func(c *Client) { c.ledger = l }
}

// WithNotifier receives every relay error frame, whether or not it answered a
// request. Defaults to logging at warn level.
func WithNotifier(n correlator.Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithSendFailureHandler receives debounced sends that failed.
func WithSendFailureHandler(fn func(error)) Option {
	return func(c *Client) { c.onSendFailure = fn }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

func WithDebounce(player, dice time.Duration) Option {
	return func(c *Client) {
		c.playerWindow = player
		c.diceWindow = dice
	}
}

func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Client) { c.transportOpts = append(c.transportOpts, opts...) }
}

type Client struct {
	log            *zap.Logger
	ledger         ledger.Ledger
	notifier       correlator.Notifier
	onSendFailure  func(error)
	requestTimeout time.Duration
	playerWindow   time.Duration
	diceWindow     time.Duration
	transportOpts  []transport.Option

	transport  *transport.Transport
	correlator *correlator.Correlator
	dispatcher *dispatch.Dispatcher

	mu      sync.Mutex
	session *Session
}

func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		log:            zap.NewNop(),
		onSendFailure:  func(error) {},
		requestTimeout: 15 * time.Second,
		playerWindow:   500 * time.Millisecond,
		diceWindow:     300 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	if c.ledger == nil {
		c.ledger = ledger.NewMemory()
	}

	c.dispatcher = dispatch.New(c.log)
	c.transport = transport.New(url, c.route,
		append([]transport.Option{transport.WithLogger(c.log)}, c.transportOpts...)...)

	if c.notifier == nil {
		log := c.log
		c.notifier = correlator.NotifierFunc(func(err *protocol.ApplicationError) {
			log.Warn("relay error", zap.String("code", err.Code), zap.String("message", err.Message))
		})
	}

	c.correlator = correlator.New(c.transport,
		correlator.WithLogger(c.log),
		correlator.WithTimeout(c.requestTimeout),
		correlator.WithNotifier(c.notifier),
	)
	return c
}

// route hands every inbound frame to pending requests first, then to topic
// subscribers. An error frame no request was waiting on still reaches the
// notifier; one that settled a request was already reported by the
// correlator.
func (c *Client) route(env protocol.Envelope) {
	if !c.correlator.Observe(env) {
		if appErr, ok := env.Err().(*protocol.ApplicationError); ok {
			c.notifier.Notify(appErr)
		}
	}
	c.dispatcher.Publish(env)
}

func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Host asks the relay to open a new session with the caller as its first
// participant.
func (c *Client) Host(ctx context.Context) (ledger.Membership, error) {
	return c.membership(ctx, protocol.HostSession{}, 0)
}

// Join enters an existing session by its code.
func (c *Client) Join(ctx context.Context, code int) (ledger.Membership, error) {
	return c.membership(ctx, protocol.JoinSession{SessionCode: code}, code)
}

func (c *Client) membership(ctx context.Context, msg protocol.Outbound, code int) (ledger.Membership, error) {
	env, err := c.correlator.Request(ctx, msg)
	if err != nil {
		return ledger.Membership{}, err
	}
	if err := env.Err(); err != nil {
		return ledger.Membership{}, err
	}
	body, ok := env.Body.(protocol.Membership)
	if !ok {
		return ledger.Membership{}, &protocol.ProtocolError{Reason: fmt.Sprintf("%s response has no playerId", msg.OutboundAction()), Frame: env.Raw}
	}
	m := ledger.Membership{SessionCode: body.SessionCode, PlayerID: body.PlayerID}
	if m.SessionCode == 0 {
		m.SessionCode = code
	}
	return m, nil
}

// Start begins tracking the session described by m: it remembers m in the
// ledger, subscribes to snapshots and counter pushes, and requests both. Both
// are requested again after every reconnect.
func (c *Client) Start(ctx context.Context, m ledger.Membership) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && !c.session.ended() {
		return nil, ErrSessionActive
	}

	if err := c.ledger.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("save membership: %w", err)
	}

	lim := limiter.New(c.transport,
		limiter.WithLogger(c.log),
		limiter.WithPlayerWindow(c.playerWindow),
		limiter.WithDiceWindow(c.diceWindow),
		limiter.WithErrorHandler(c.onSendFailure),
	)
	s := newSession(c, m, lim)
	c.session = s

	s.resync(ctx)
	return s, nil
}

// Resume starts the session remembered in the ledger. It reports false when
// nothing is remembered.
func (c *Client) Resume(ctx context.Context) (*Session, bool, error) {
	m, err := c.ledger.Load(ctx)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s, err := c.Start(ctx, m)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Subscribe registers fn for inbound frames tagged topic.
func (c *Client) Subscribe(topic protocol.Action, fn dispatch.Callback) (unsubscribe func()) {
	return c.dispatcher.Subscribe(topic, fn)
}

// OnDisconnected registers fn for every connection closure. err is a
// *transport.ConnectionError for unexpected closures and nil after Close.
func (c *Client) OnDisconnected(fn func(err error)) (remove func()) {
	return c.transport.OnDisconnected(fn)
}

func (c *Client) State() transport.State {
	return c.transport.State()
}

// Close ends the active session without leaving it, closes the connection and
// releases the ledger. The membership stays remembered.
func (c *Client) Close() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s != nil {
		s.stop()
	}
	return multierr.Combine(
		c.transport.Close(),
		c.ledger.Close(),
	)
}

func (c *Client) forget(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == s {
		c.session = nil
	}
}
