// Package ledger remembers which session this device belongs to, so a
// restarted client can rejoin as the same participant.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
)

var ErrNotFound = errors.New("ledger: no membership stored")

// Membership identifies the local participant within a session.
type Membership struct {
	SessionCode int `json:"sessionCode"`
	PlayerID    int `json:"playerId"`
}

type Ledger interface {
	Save(ctx context.Context, m Membership) error
	// Load returns ErrNotFound when nothing is stored.
	Load(ctx context.Context) (Membership, error)
	Clear(ctx context.Context) error
	Close() error
}

type options struct {
	key string
}

type Option func(*options)

// WithKey scopes the stored membership, so several clients can share one
// backend. Defaults to "default".
func WithKey(key string) Option {
	return func(o *options) { o.key = key }
}

// Open picks a backend from the URL scheme: empty or memory:// keeps the
// membership in process, postgres:// and postgresql:// use a SQL table,
// redis:// and rediss:// use a single key.
func Open(ctx context.Context, rawURL string, opts ...Option) (Ledger, error) {
	o := options{key: "default"}
	for _, opt := range opts {
		opt(&o)
	}
	if rawURL == "" {
		return NewMemory(), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse ledger url: %w", err)
	}
	switch u.Scheme {
	case "memory":
		return NewMemory(), nil
	case "postgres", "postgresql":
		l, err := OpenPostgres(ctx, rawURL, o.key)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "redis", "rediss":
		l, err := OpenRedis(ctx, rawURL, o.key)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported ledger scheme %q", u.Scheme)
	}
}

type Memory struct {
	mu sync.Mutex
	m  *Membership
}

func NewMemory() *Memory { return &Memory{} }

func (l *Memory) Save(_ context.Context, m Membership) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m = &m
	return nil
}

func (l *Memory) Load(context.Context) (Membership, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		return Membership{}, ErrNotFound
	}
	return *l.m, nil
}

func (l *Memory) Clear(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m = nil
	return nil
}

func (l *Memory) Close() error { return nil }
