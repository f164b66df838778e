// Package config loads server configuration from the environment. A .env
// file in the working directory is honored when present.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all tunables for the chat server process.
type Config struct {
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":8080"`
	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"256"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"100000"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`

	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeout  time.Duration `envconfig:"HEARTBEAT_TIMEOUT" default:"10s"`

	DatabaseURL string `envconfig:"DATABASE_URL" default:"postgres://localhost:5432/chat?sslmode=disable"`

	// RedisAddr enables message rate limiting when set; empty disables it.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	// NATSURL enables the event mirror when set; empty disables it.
	NATSURL string `envconfig:"NATS_URL"`
}

// Load reads the configuration from the environment, applying defaults for
// unset variables.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
