package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Client configures cmd/vantage.
type Client struct {
	RelayURL       string        `env:"RELAY_URL,required"`
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY,default=3s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=15s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT,default=3s"`
	PlayerDebounce time.Duration `env:"PLAYER_DEBOUNCE,default=500ms"`
	DiceDebounce   time.Duration `env:"DICE_DEBOUNCE,default=300ms"`
	LedgerURL      string        `env:"LEDGER_URL"`
	LedgerKey      string        `env:"LEDGER_KEY,default=default"`
	LogLevel       string        `env:"LOG_LEVEL,default=info"`
	LogDev         bool          `env:"LOG_DEV,default=false"`
}

// Relay configures cmd/relaysim.
type Relay struct {
	Port             int    `env:"PORT,default=8080"`
	KeyedCollections bool   `env:"RELAY_KEYED_COLLECTIONS,default=false"`
	UntaggedReplies  bool   `env:"RELAY_UNTAGGED_REPLIES,default=false"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`
	LogDev           bool   `env:"LOG_DEV,default=false"`
}

// Load reads an optional .env file and then the process environment into
// target. Variables already set in the environment win over the file.
func Load(ctx context.Context, target any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(ctx, target); err != nil {
		return fmt.Errorf("process env: %w", err)
	}
	return nil
}

// LoadFrom decodes target from an explicit variable map.
func LoadFrom(ctx context.Context, vars map[string]string, target any) error {
	if err := envconfig.ProcessWith(ctx, target, envconfig.MapLookuper(vars)); err != nil {
		return fmt.Errorf("process env: %w", err)
	}
	return nil
}
