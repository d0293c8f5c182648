package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const minAuthSecretLen = 32

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	CheckoutIdleTTL time.Duration `envconfig:"CHECKOUT_IDLE_TTL" default:"30m"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"console"`

	SeedDemoData bool `envconfig:"SEED_DEMO_DATA" default:"true"`
}

// Load reads a .env file when one exists, then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	if cfg.CheckoutIdleTTL <= 0 {
		return Config{}, errors.New("CHECKOUT_IDLE_TTL must be positive")
	}
	if cfg.AccessTokenTTL <= 0 {
		return Config{}, errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	return cfg, nil
}

// ValidateSecurity rejects configurations the server must not start with.
func (c Config) ValidateSecurity() error {
	if len(c.AuthSecret) < minAuthSecretLen {
		return fmt.Errorf("AUTH_SECRET must be set and at least %d characters", minAuthSecretLen)
	}
	if strings.TrimSpace(c.AllowedOrigin) == "*" {
		return errors.New("ALLOWED_ORIGIN must name an origin, not *")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) UseRedis() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}
