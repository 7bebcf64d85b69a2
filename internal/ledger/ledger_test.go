package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func exercise(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()

	_, err := l.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, l.Save(ctx, Membership{SessionCode: 123456, PlayerID: 7}))
	m, err := l.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Membership{SessionCode: 123456, PlayerID: 7}, m)

	// Save overwrites.
	require.NoError(t, l.Save(ctx, Membership{SessionCode: 654321, PlayerID: 9}))
	m, err = l.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Membership{SessionCode: 654321, PlayerID: 9}, m)

	require.NoError(t, l.Clear(ctx))
	_, err = l.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	// Clearing twice is fine.
	require.NoError(t, l.Clear(ctx))
}

func TestMemory(t *testing.T) {
	l := NewMemory()
	exercise(t, l)
	assert.NoError(t, l.Close())
}

func TestOpen_Schemes(t *testing.T) {
	ctx := context.Background()

	l, err := Open(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, l)

	l, err = Open(ctx, "memory://")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, l)

	_, err = Open(ctx, "ftp://example.com/x")
	assert.ErrorContains(t, err, "unsupported ledger scheme")
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	l := NewRedis(rdb, "test-"+t.Name())
	t.Cleanup(func() { _ = l.Close() })
	require.NoError(t, l.Clear(context.Background()))

	exercise(t, l)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_URL not set")
	}
	l, err := Open(context.Background(), dsn, WithKey("test-"+t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	require.NoError(t, l.Clear(context.Background()))

	exercise(t, l)
}

func TestPostgres_FailedMigrationClosesPool(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_URL not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newPostgres(ctx, db, "test-"+t.Name())
	require.Error(t, err)

	assert.ErrorContains(t, sqlDB.Ping(), "database is closed")
}
