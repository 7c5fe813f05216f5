// Package config provides configuration management for the slot engine
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the slot engine
type Config struct {
	Server   ServerConfig   `envPrefix:"RGS_"`
	Database DatabaseConfig `envPrefix:"RGS_DB_"`
	Auth     AuthConfig     `envPrefix:"RGS_"`
	Game     GameConfig     `envPrefix:"RGS_"`
	Ledger   LedgerConfig   `envPrefix:"RGS_LEDGER_"`
	Jackpot  JackpotConfig  `envPrefix:"RGS_JACKPOT_"`
	Redis    RedisConfig    `envPrefix:"RGS_REDIS_"`
	AMQP     AMQPConfig     `envPrefix:"RGS_AMQP_"`
	Log      LogConfig      `envPrefix:"RGS_LOG_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// DatabaseConfig holds database configuration.
// Driver is postgres, sqlite or memory.
type DatabaseConfig struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DSN" envDefault:"slotengine.db"`
}

// AuthConfig holds token verification configuration
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET" envDefault:"rgs-dev-secret-change-in-production"`
	JWTIssuer string `env:"JWT_ISSUER"`
}

// GameConfig holds game-related configuration
type GameConfig struct {
	CatalogPath string `env:"CATALOG" envDefault:"configs/games.yaml"`
	// RNGSeed switches the engine to the seeded source; zero means crypto
	RNGSeed uint64 `env:"RNG_SEED" envDefault:"0"`
}

// LedgerConfig selects the ledger and bounds the in-line retries of its
// calls. Without URL the engine uses its own store as the ledger.
type LedgerConfig struct {
	URL            string        `env:"URL"`
	APIKey         string        `env:"API_KEY"`
	APISecret      string        `env:"API_SECRET"`
	SiteCode       string        `env:"SITE_CODE"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"10s"`
	MaxRetries     uint          `env:"MAX_RETRIES" envDefault:"3"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"50ms"`
	MaxElapsed     time.Duration `env:"MAX_ELAPSED" envDefault:"2s"`
}

// JackpotConfig holds passive growth settings
type JackpotConfig struct {
	GrowthInterval time.Duration `env:"GROWTH_INTERVAL" envDefault:"0s"`
}

// RedisConfig enables the cross-process jackpot relay when Addr is set
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Channel  string `env:"CHANNEL" envDefault:"slotengine.events"`
}

// AMQPConfig enables the critical alert publisher when URL is set
type AMQPConfig struct {
	URL      string `env:"URL"`
	Exchange string `env:"EXCHANGE" envDefault:"slotengine.alerts"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `env:"LEVEL" envDefault:"info"`
	Development bool   `env:"DEVELOPMENT" envDefault:"false"`
}

// Load reads an optional .env file and then the environment.
// Variables already present in the environment win over the file.
func Load(dotenv ...string) (*Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
