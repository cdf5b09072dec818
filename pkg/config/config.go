package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr         string        `env:"LISTEN_ADDR"          envDefault:":8080"`
	DatabaseURL        string        `env:"DATABASE_URL,required"`
	AccessTokenSecret  string        `env:"JWT_ACCESS_TOKEN,required"`
	RefreshTokenSecret string        `env:"JWT_REFRESH_TOKEN,required"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT"      envDefault:"10s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT"     envDefault:"10s"`
	PurgeInterval      time.Duration `env:"TOKEN_PURGE_INTERVAL" envDefault:"1h"`
	CORSOrigins        []string      `env:"CORS_ORIGINS"         envDefault:"*" envSeparator:","`
	LogLevel           string        `env:"LOG_LEVEL"            envDefault:"info"`
	GinMode            string        `env:"GIN_MODE"             envDefault:"release"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.AccessTokenSecret) == "" {
		return errors.New("JWT_ACCESS_TOKEN is required")
	}
	if strings.TrimSpace(c.RefreshTokenSecret) == "" {
		return errors.New("JWT_REFRESH_TOKEN is required")
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("JWT_ACCESS_TOKEN and JWT_REFRESH_TOKEN must differ")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	if c.PurgeInterval <= 0 {
		return errors.New("TOKEN_PURGE_INTERVAL must be positive")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
