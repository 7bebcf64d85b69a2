// Package transport owns the single websocket connection to the relay. It
// decodes inbound frames in arrival order, hands them to one Handler, and keeps
// the connection alive with a fixed-delay reconnect loop until Close is called.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/vantage-connect/internal/protocol"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: closed")
	ErrConnecting   = errors.New("transport: connect already in progress")
)

// ConnectionError reports a connection that could not be established.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handler receives every decoded inbound frame, one at a time, in the order
// the frames were read.
type Handler func(protocol.Envelope)

type Option func(*Transport)

func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) { t.log = l.Named("transport") }
}

// WithReconnectDelay sets the fixed wait before every reconnect attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(t *Transport) { t.reconnectDelay = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) { t.writeTimeout = d }
}

func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) { t.dialTimeout = d }
}

const readLimit = 1 << 20

type observer[F any] struct {
	id int
	fn F
}

type Transport struct {
	url     string
	handler Handler
	log     *zap.Logger

	reconnectDelay time.Duration
	writeTimeout   time.Duration
	dialTimeout    time.Duration

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	connID  string
	closed  bool
	running bool
	nextObs int
	onUp    []observer[func()]
	onDown  []observer[func(error)]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(url string, handler Handler, opts ...Option) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		url:            url,
		handler:        handler,
		log:            zap.NewNop(),
		reconnectDelay: 3 * time.Second,
		writeTimeout:   3 * time.Second,
		dialTimeout:    10 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect dials the relay and returns once the connection is open. A failed
// first dial returns a *ConnectionError and does not start the reconnect loop.
// Once connected, Connect is a no-op while the connection is open and returns
// ErrNotConnected while the reconnect loop is between attempts.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return ErrClosed
	case t.running && t.state == Open:
		t.mu.Unlock()
		return nil
	case t.running:
		t.mu.Unlock()
		return ErrNotConnected
	case t.state == Connecting:
		t.mu.Unlock()
		return ErrConnecting
	}
	t.state = Connecting
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		t.mu.Lock()
		if !t.closed {
			t.state = Disconnected
		}
		t.mu.Unlock()
		return &ConnectionError{URL: t.url, Err: err}
	}

	if !t.open(conn, true) {
		conn.CloseNow()
		return ErrClosed
	}
	go t.run(conn)
	return nil
}

// Send encodes msg and writes it to the open connection. Nothing is queued:
// when the connection is not open the call fails with ErrNotConnected.
func (t *Transport) Send(ctx context.Context, msg protocol.Outbound) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	conn := t.conn
	open := t.state == Open
	t.mu.Unlock()
	if !open || conn == nil {
		return fmt.Errorf("send %s: %w", msg.OutboundAction(), ErrNotConnected)
	}

	wctx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("send %s: %w", msg.OutboundAction(), err)
	}
	return nil
}

// Close tears the connection down and stops any pending reconnect. It waits
// for disconnected observers to run.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.state = Closing
	conn := t.conn
	running := t.running
	t.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "bye")
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			err = nil
		}
	}
	t.cancel()
	if running {
		<-t.done
	}

	t.mu.Lock()
	t.state = Disconnected
	t.conn = nil
	t.mu.Unlock()
	return err
}

// OnConnected registers fn to run after every successful connect or
// reconnect. The returned func removes it.
func (t *Transport) OnConnected(fn func()) (remove func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextObs++
	id := t.nextObs
	t.onUp = append(t.onUp, observer[func()]{id, fn})
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.onUp = dropObserver(t.onUp, id)
	}
}

// OnDisconnected registers fn to run on every closure, before any reconnect
// is scheduled. err is nil when the closure came from Close.
func (t *Transport) OnDisconnected(fn func(err error)) (remove func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextObs++
	id := t.nextObs
	t.onDown = append(t.onDown, observer[func(error)]{id, fn})
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.onDown = dropObserver(t.onDown, id)
	}
}

func dropObserver[F any](obs []observer[F], id int) []observer[F] {
	out := obs[:0:0]
	for _, o := range obs {
		if o.id != id {
			out = append(out, o)
		}
	}
	return out
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, t.url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// open installs conn as the live connection. It reports false if Close won
// the race.
func (t *Transport) open(conn *websocket.Conn, first bool) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.conn = conn
	t.state = Open
	t.connID = ksuid.New().String()
	t.running = t.running || first
	ups := append([]observer[func()](nil), t.onUp...)
	log := t.log.With(zap.String("conn", t.connID))
	t.mu.Unlock()

	log.Info("connected", zap.String("url", t.url))
	for _, o := range ups {
		t.safely("connected observer", func() { o.fn() })
	}
	return true
}

// run is the only goroutine that reads from the connection and the only
// place reconnects are scheduled. It alternates between reading and waiting
// out the reconnect delay: Open -> Disconnected -> Connecting -> Open.
func (t *Transport) run(conn *websocket.Conn) {
	defer close(t.done)

	for conn != nil {
		err := t.readLoop(conn)

		t.mu.Lock()
		t.conn = nil
		closed := t.closed
		if !closed {
			t.state = Disconnected
		}
		downs := append([]observer[func(error)](nil), t.onDown...)
		t.mu.Unlock()

		if closed {
			err = nil
			t.log.Info("closed")
		} else {
			t.log.Warn("connection lost", zap.Error(err))
			err = &ConnectionError{URL: t.url, Err: err}
		}
		for _, o := range downs {
			t.safely("disconnected observer", func() { o.fn(err) })
		}
		if closed {
			return
		}

		conn = t.reconnect()
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(t.ctx)
		if err != nil {
			return err
		}

		env, err := protocol.Decode(data)
		if err != nil {
			t.log.Warn("dropping frame", zap.Error(err))
			continue
		}
		t.safely("frame handler", func() { t.handler(env) })
	}
}

// reconnect waits the fixed delay and dials, forever, until a dial succeeds
// or the transport is closed. Only one timer exists at a time.
func (t *Transport) reconnect() *websocket.Conn {
	timer := time.NewTimer(t.reconnectDelay)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-t.ctx.Done():
			return nil
		case <-timer.C:
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return nil
		}
		t.state = Connecting
		t.mu.Unlock()

		t.log.Info("reconnecting", zap.Int("attempt", attempt))
		conn, err := t.dial(t.ctx)
		if err == nil {
			if t.open(conn, false) {
				return conn
			}
			conn.CloseNow()
			return nil
		}

		t.log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		t.mu.Lock()
		if !t.closed {
			t.state = Disconnected
		}
		t.mu.Unlock()
		timer.Reset(t.reconnectDelay)
	}
}

func (t *Transport) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error(what+" panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
