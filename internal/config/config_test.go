package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	var cfg Client
	err := LoadFrom(context.Background(), map[string]string{"RELAY_URL": "ws://localhost:8080/ws"}, &cfg)
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8080/ws", cfg.RelayURL)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PlayerDebounce)
	assert.Equal(t, 300*time.Millisecond, cfg.DiceDebounce)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.LedgerURL)
	assert.Equal(t, "default", cfg.LedgerKey)
}

func TestLoadFrom_Overrides(t *testing.T) {
	var cfg Client
	err := LoadFrom(context.Background(), map[string]string{
		"RELAY_URL":       "ws://relay",
		"RECONNECT_DELAY": "250ms",
		"LEDGER_URL":      "redis://localhost:6379/0",
		"LOG_DEV":         "true",
	}, &cfg)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, "redis://localhost:6379/0", cfg.LedgerURL)
	assert.True(t, cfg.LogDev)
}

func TestLoadFrom_RequiresRelayURL(t *testing.T) {
	var cfg Client
	err := LoadFrom(context.Background(), map[string]string{}, &cfg)
	assert.Error(t, err)
}

func TestLoadFrom_Relay(t *testing.T) {
	var cfg Relay
	require.NoError(t, LoadFrom(context.Background(), map[string]string{
		"PORT":                    "9090",
		"RELAY_KEYED_COLLECTIONS": "true",
	}, &cfg))
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.KeyedCollections)
	assert.False(t, cfg.UntaggedReplies)
}
