// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the server configuration.
type Config struct {
	HTTPAddr       string        `env:"ESCROW_HTTP_ADDR" envDefault:":8080"`
	DatabaseURL    string        `env:"ESCROW_DATABASE_URL"`
	SQLitePath     string        `env:"ESCROW_SQLITE_PATH" envDefault:"escrow.db"`
	JWTSecret      string        `env:"ESCROW_JWT_SECRET,required"`
	TokenTTL       time.Duration `env:"ESCROW_TOKEN_TTL" envDefault:"24h"`
	EngineAddress  string        `env:"ESCROW_ENGINE_ADDRESS" envDefault:"0x00000000000000000000000000000000e5c40001"`
	DeedsAddress   string        `env:"ESCROW_DEEDS_ADDRESS" envDefault:"0x00000000000000000000000000000000dee00001"`
	MinDuration    time.Duration `env:"ESCROW_MIN_DURATION" envDefault:"24h"`
	FixturesPath   string        `env:"ESCROW_FIXTURES"`
	LogLevel       string        `env:"ESCROW_LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"ESCROW_LOG_FORMAT" envDefault:"text"`
	OTelEndpoint   string        `env:"ESCROW_OTEL_ENDPOINT"`
	RateLimit      float64       `env:"ESCROW_RATE_LIMIT" envDefault:"10"`
	RateBurst      int           `env:"ESCROW_RATE_BURST" envDefault:"20"`
	AllowedOrigins []string      `env:"ESCROW_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the optional env files, then the environment. Variables already
// set in the environment win over the files.
func Load(envFiles ...string) (Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the env tags cannot express.
func (c Config) Validate() error {
	if c.EngineAddress == "" {
		return fmt.Errorf("engine address is required")
	}
	if c.EngineAddress == c.DeedsAddress {
		return fmt.Errorf("engine and deeds addresses must differ")
	}
	if c.MinDuration <= 0 {
		return fmt.Errorf("min duration must be positive")
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("rate limit and burst must be positive")
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("either a database url or a sqlite path is required")
	}
	return nil
}
