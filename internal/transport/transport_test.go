package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/vantage-connect/internal/protocol"
)

const within = 2 * time.Second

// fakeRelay accepts websocket connections and lets a test push frames to, or
// drop, the most recent one.
type fakeRelay struct {
	srv     *httptest.Server
	accepts atomic.Int32
	refuse  atomic.Bool

	mu    sync.Mutex
	conns []*websocket.Conn
	recv  chan []byte
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	f := &fakeRelay{recv: make(chan []byte, 16)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.refuse.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		f.accepts.Add(1)
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			f.recv <- data
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) url() string { return "ws" + strings.TrimPrefix(f.srv.URL, "http") }

// last returns the newest server-side connection. Accept returns on the
// server after the client's dial has already completed, so it polls briefly.
func (f *fakeRelay) last() *websocket.Conn {
	deadline := time.Now().Add(within)
	for {
		f.mu.Lock()
		n := len(f.conns)
		var c *websocket.Conn
		if n > 0 && int32(n) == f.accepts.Load() {
			c = f.conns[n-1]
		}
		f.mu.Unlock()
		if c != nil || time.Now().After(deadline) {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fakeRelay) push(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, f.last().Write(context.Background(), websocket.MessageText, []byte(frame)))
}

func (f *fakeRelay) drop() {
	f.last().CloseNow()
}

func recvEnvelope(t *testing.T, ch <-chan protocol.Envelope) protocol.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return protocol.Envelope{}
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(within):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSend_NotConnected(t *testing.T) {
	tr := New("ws://127.0.0.1:1", func(protocol.Envelope) {})
	err := tr.Send(context.Background(), protocol.HostSession{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, Disconnected, tr.State())
}

func TestConnect_Rejected(t *testing.T) {
	f := newFakeRelay(t)
	f.refuse.Store(true)

	tr := New(f.url(), func(protocol.Envelope) {})
	err := tr.Connect(context.Background())

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Disconnected, tr.State())
}

func TestConnect_SendAndReceive(t *testing.T) {
	f := newFakeRelay(t)
	frames := make(chan protocol.Envelope, 4)
	tr := New(f.url(), func(env protocol.Envelope) { frames <- env })

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()
	assert.Equal(t, Open, tr.State())
	require.NoError(t, tr.Connect(context.Background()), "connect on an open transport is a no-op")

	require.NoError(t, tr.Send(context.Background(), protocol.ReadPlayers{SessionCode: 123456}))
	select {
	case b := <-f.recv:
		assert.JSONEq(t, `{"action":"readPlayers","sessionCode":123456}`, string(b))
	case <-time.After(within):
		t.Fatal("relay never received the frame")
	}

	f.push(t, `{"action":"updateChallengeDice","challengeDice":2}`)
	env := recvEnvelope(t, frames)
	assert.Equal(t, protocol.ActionUpdateChallengeDice, env.Action)
}

func TestReadLoop_DropsMalformedFramesAndSurvivesPanics(t *testing.T) {
	f := newFakeRelay(t)
	frames := make(chan protocol.Envelope, 4)
	tr := New(f.url(), func(env protocol.Envelope) {
		if env.Action == "boom" {
			panic("handler exploded")
		}
		frames <- env
	})
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	f.push(t, `not json at all`)
	f.push(t, `{"action":"boom"}`)
	f.push(t, `{"action":"updatePlayers","players":[]}`)

	env := recvEnvelope(t, frames)
	assert.Equal(t, protocol.ActionUpdatePlayers, env.Action)
	assert.Equal(t, Open, tr.State())
}

func TestUnexpectedClosure_NotifiesThenReconnects(t *testing.T) {
	f := newFakeRelay(t)
	up := make(chan struct{}, 4)
	down := make(chan error, 4)

	tr := New(f.url(), func(protocol.Envelope) {}, WithReconnectDelay(50*time.Millisecond))
	tr.OnConnected(func() { up <- struct{}{} })
	tr.OnDisconnected(func(err error) { down <- err })

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()
	waitSignal(t, up, "first connect")

	f.drop()
	select {
	case err := <-down:
		var ce *ConnectionError
		assert.ErrorAs(t, err, &ce)
	case <-time.After(within):
		t.Fatal("disconnected observer never ran")
	}

	waitSignal(t, up, "reconnect")
	assert.Eventually(t, func() bool { return f.accepts.Load() == 2 }, within, 10*time.Millisecond)
	assert.Equal(t, Open, tr.State())
}

func TestReconnect_RetriesAtFixedDelayUntilAccepted(t *testing.T) {
	f := newFakeRelay(t)
	up := make(chan struct{}, 4)
	tr := New(f.url(), func(protocol.Envelope) {}, WithReconnectDelay(30*time.Millisecond))
	tr.OnConnected(func() { up <- struct{}{} })

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()
	waitSignal(t, up, "first connect")

	f.refuse.Store(true)
	f.drop()
	time.Sleep(200 * time.Millisecond)
	assert.NotEqual(t, Open, tr.State())
	err := tr.Send(context.Background(), protocol.HostSession{})
	assert.ErrorIs(t, err, ErrNotConnected)

	f.refuse.Store(false)
	waitSignal(t, up, "reconnect after refusals")
	assert.Eventually(t, func() bool { return f.accepts.Load() == 2 }, within, 10*time.Millisecond)
}

func TestClose_SuppressesReconnect(t *testing.T) {
	f := newFakeRelay(t)
	down := make(chan error, 4)
	tr := New(f.url(), func(protocol.Envelope) {}, WithReconnectDelay(20*time.Millisecond))
	tr.OnDisconnected(func(err error) { down <- err })

	require.NoError(t, tr.Connect(context.Background()))
	_ = tr.Close()

	select {
	case err := <-down:
		assert.NoError(t, err, "deliberate close reports a nil error")
	default:
		t.Fatal("Close returned before disconnected observers ran")
	}

	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, f.accepts.Load(), int32(1))
	assert.Equal(t, Disconnected, tr.State())
	assert.True(t, errors.Is(tr.Connect(context.Background()), ErrClosed))
}

func TestObserverRemoval(t *testing.T) {
	f := newFakeRelay(t)
	var calls atomic.Int32
	tr := New(f.url(), func(protocol.Envelope) {})
	remove := tr.OnConnected(func() { calls.Add(1) })
	remove()

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()
	assert.Zero(t, calls.Load())
}
