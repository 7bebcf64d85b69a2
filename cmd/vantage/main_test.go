package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/vantage-connect/internal/config"
	"github.com/DoyleJ11/vantage-connect/internal/protocol"
	"github.com/DoyleJ11/vantage-connect/internal/reconcile"
	"github.com/DoyleJ11/vantage-connect/internal/relaysim"
)

type fakeController struct {
	calls []string
	dice  int
	err   error
}

func (f *fakeController) SetLocation(l string) error {
	f.calls = append(f.calls, "loc:"+l)
	return f.err
}

func (f *fakeController) SetJournal(j string) error {
	f.calls = append(f.calls, "journal:"+j)
	return f.err
}

func (f *fakeController) ChangeDice(d int) (int, error) {
	f.dice = max(0, f.dice+d)
	return f.dice, f.err
}

func (f *fakeController) EndTurn(context.Context) error {
	f.calls = append(f.calls, "end")
	return f.err
}

func (f *fakeController) SetViewed(id int) error {
	f.calls = append(f.calls, "view")
	return f.err
}

func (f *fakeController) Leave(context.Context) error {
	f.calls = append(f.calls, "leave")
	return f.err
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	f := &fakeController{}
	var out bytes.Buffer

	require.NoError(t, execute(ctx, f, "loc  Engine Room ", &out))
	require.NoError(t, execute(ctx, f, "journal found a key", &out))
	require.NoError(t, execute(ctx, f, "dice +3", &out))
	require.NoError(t, execute(ctx, f, "dice -5", &out))
	require.NoError(t, execute(ctx, f, "end", &out))
	require.NoError(t, execute(ctx, f, "view 4", &out))
	require.NoError(t, execute(ctx, f, "", &out))

	assert.Equal(t, []string{"loc:Engine Room", "journal:found a key", "end", "view"}, f.calls)
	assert.Equal(t, 0, f.dice)
	assert.Contains(t, out.String(), "dice: 3\n")
	assert.Contains(t, out.String(), "dice: 0\n")

	assert.Error(t, execute(ctx, f, "dice lots", &out))
	assert.Error(t, execute(ctx, f, "view me", &out))
	assert.ErrorContains(t, execute(ctx, f, "fly", &out), "unknown command")
	assert.ErrorIs(t, execute(ctx, f, "quit", &out), errQuit)

	f.err = errors.New("relay gone")
	assert.ErrorIs(t, execute(ctx, f, "leave", &out), errQuit)
	assert.Contains(t, out.String(), "left with errors: relay gone")
}

func TestRender(t *testing.T) {
	var out bytes.Buffer
	render(&out, reconcile.State{}, 1)
	assert.Equal(t, "waiting for session...\n", out.String())

	out.Reset()
	render(&out, reconcile.State{
		Loaded:        true,
		ChallengeDice: 2,
		Viewed:        2,
		Players: []protocol.Player{
			{ID: 1, PlayerNumber: 1, Location: "Bridge", Turn: true},
			{ID: 2, Name: "Bo", JournalText: "hi"},
		},
	}, 1)
	assert.Equal(t, "dice: 2\n"+
		"  #1 Player 1 [Bridge] (you) *turn*\n"+
		"> #2 Bo []\n"+
		"journal: hi\n", out.String())
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestRun_HostEditLeave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := relaysim.NewServer(ctx, nil, relaysim.Options{})
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	cfg := config.Client{
		RelayURL:       "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		ReconnectDelay: 50 * time.Millisecond,
		RequestTimeout: time.Second,
		WriteTimeout:   time.Second,
		PlayerDebounce: 10 * time.Millisecond,
		DiceDebounce:   10 * time.Millisecond,
	}

	in, feed := io.Pipe()
	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, mode{host: true}, zap.NewNop(), in, out) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "(you)") }, 2*time.Second, 10*time.Millisecond)

	_, err := io.WriteString(feed, "loc Bridge\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "[Bridge] (you)") }, 2*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(feed, "leave\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after leave")
	}
	_ = feed.Close()
}

func TestRun_NothingToResume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := relaysim.NewServer(ctx, nil, relaysim.Options{})
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	cfg := config.Client{
		RelayURL:       "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		ReconnectDelay: 50 * time.Millisecond,
		RequestTimeout: time.Second,
		WriteTimeout:   time.Second,
	}
	err := run(ctx, cfg, mode{}, zap.NewNop(), strings.NewReader(""), io.Discard)
	assert.ErrorContains(t, err, "no session to resume")
}
