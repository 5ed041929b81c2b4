package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// StoragePath is the SQLite database file. Empty runs the in-memory
	// store (state is lost on restart, open rounds cannot be recovered).
	StoragePath string `env:"STORAGE_PATH"`

	// RoundSeconds is the per-round time limit.
	RoundSeconds int `env:"ROUND_SECONDS" envDefault:"180"`

	// Topics overrides the default ordered round topics.
	Topics []string `env:"TOPICS" envSeparator:","`
}

// FromEnv loads configuration from environment variables.
func FromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

// RoundTime is RoundSeconds as a duration.
func (c Config) RoundTime() time.Duration {
	return time.Duration(c.RoundSeconds) * time.Second
}
