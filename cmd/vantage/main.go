package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/vantage-connect/internal/config"
	"github.com/DoyleJ11/vantage-connect/internal/correlator"
	"github.com/DoyleJ11/vantage-connect/internal/ledger"
	"github.com/DoyleJ11/vantage-connect/internal/logging"
	"github.com/DoyleJ11/vantage-connect/internal/protocol"
	"github.com/DoyleJ11/vantage-connect/internal/reconcile"
	"github.com/DoyleJ11/vantage-connect/internal/session"
	"github.com/DoyleJ11/vantage-connect/internal/transport"
)

type mode struct {
	host bool
	join int
}

func main() {
	var m mode
	flag.BoolVar(&m.host, "host", false, "host a new session")
	flag.IntVar(&m.join, "join", 0, "join the session with this code")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config.Client
	if err := config.Load(ctx, &cfg); err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, m, logger, os.Stdin, os.Stdout); err != nil {
		logger.Fatal("vantage stopped", zap.Error(err))
	}
}

// syncWriter serializes output from the printer, the command loop and the
// notifiers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

func run(ctx context.Context, cfg config.Client, m mode, logger *zap.Logger, in io.Reader, out io.Writer) error {
	out = &syncWriter{w: out}
	led, err := ledger.Open(ctx, cfg.LedgerURL, ledger.WithKey(cfg.LedgerKey))
	if err != nil {
		return err
	}

	client := session.NewClient(cfg.RelayURL,
		session.WithLogger(logger),
		session.WithLedger(led),
		session.WithRequestTimeout(cfg.RequestTimeout),
		session.WithDebounce(cfg.PlayerDebounce, cfg.DiceDebounce),
		session.WithNotifier(correlator.NotifierFunc(func(err *protocol.ApplicationError) {
			fmt.Fprintf(out, "relay error: %s\n", err.Message)
		})),
		session.WithSendFailureHandler(func(err error) {
			fmt.Fprintf(out, "update not sent, edit again to retry: %v\n", err)
		}),
		session.WithTransportOptions(
			transport.WithReconnectDelay(cfg.ReconnectDelay),
			transport.WithWriteTimeout(cfg.WriteTimeout),
		),
	)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()

	client.OnDisconnected(func(err error) {
		if err != nil {
			fmt.Fprintln(out, "connection lost, reconnecting...")
		}
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}

	s, err := open(ctx, client, m)
	if err != nil {
		return err
	}
	localID := s.Membership().PlayerID
	fmt.Fprintf(out, "session %d, you are player %d\n", s.Membership().SessionCode, localID)

	// The printer only ever sees the newest state.
	states := make(chan reconcile.State, 1)
	defer s.OnChange(func(st reconcile.State) {
		for {
			select {
			case states <- st:
				return
			default:
			}
			select {
			case <-states:
			default:
			}
		}
	})()
	select {
	case states <- s.State():
	default:
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-s.Done():
				return
			}
		}
		close(lines)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-s.Done():
				return nil
			case st := <-states:
				render(out, st, localID)
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-s.Done():
				return errQuit
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				err := execute(gctx, s, line, out)
				if errors.Is(err, errQuit) {
					return errQuit
				}
				if err != nil {
					fmt.Fprintln(out, err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// open hosts, joins, or resumes the remembered session.
func open(ctx context.Context, client *session.Client, m mode) (*session.Session, error) {
	switch {
	case m.join != 0:
		mem, err := client.Join(ctx, m.join)
		if err != nil {
			return nil, fmt.Errorf("join %d: %w", m.join, err)
		}
		return client.Start(ctx, mem)
	case m.host:
		mem, err := client.Host(ctx)
		if err != nil {
			return nil, fmt.Errorf("host: %w", err)
		}
		return client.Start(ctx, mem)
	default:
		s, ok, err := client.Resume(ctx)
		if err != nil {
			return nil, fmt.Errorf("resume: %w", err)
		}
		if !ok {
			return nil, errors.New("no session to resume; pass -host or -join CODE")
		}
		return s, nil
	}
}
