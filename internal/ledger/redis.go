package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Redis struct {
	rdb *redis.Client
	key string
}

func OpenRedis(ctx context.Context, rawURL, key string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(rdb, key), nil
}

// NewRedis stores the membership under "vantage:membership:<key>".
func NewRedis(rdb *redis.Client, key string) *Redis {
	return &Redis{rdb: rdb, key: "vantage:membership:" + key}
}

func (l *Redis) Save(ctx context.Context, m Membership) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := l.rdb.Set(ctx, l.key, b, 0).Err(); err != nil {
		return fmt.Errorf("save membership: %w", err)
	}
	return nil
}

func (l *Redis) Load(ctx context.Context) (Membership, error) {
	b, err := l.rdb.Get(ctx, l.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Membership{}, ErrNotFound
	}
	if err != nil {
		return Membership{}, fmt.Errorf("load membership: %w", err)
	}
	var m Membership
	if err := json.Unmarshal(b, &m); err != nil {
		return Membership{}, fmt.Errorf("decode membership: %w", err)
	}
	return m, nil
}

func (l *Redis) Clear(ctx context.Context) error {
	if err := l.rdb.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("clear membership: %w", err)
	}
	return nil
}

func (l *Redis) Close() error { return l.rdb.Close() }
