// Package config assembles server settings from an optional YAML file, a
// .env file and the environment, in that order of increasing precedence.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ModeratorsStatic   = "static"
	ModeratorsPostgres = "postgres"
)

type Config struct {
	KVDriver    string `yaml:"kv_driver"`
	RedisAddr   string `yaml:"redis_addr"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`

	JWTSecret string `yaml:"jwt_secret"`
	Port      string `yaml:"port"`
	WebPort   string `yaml:"web_port"`
	// WebOrigins are extra hosts allowed to open browser websockets.
	WebOrigins []string `yaml:"web_origins"`

	// Community is the community whose moderators may edit any event.
	Community        string   `yaml:"community"`
	Moderators       []string `yaml:"moderators"`
	ModeratorsDriver string   `yaml:"moderators_driver"`

	StoreTimeout time.Duration `yaml:"store_timeout"`
	StoreRetries int           `yaml:"store_retries"`
	SessionQueue int           `yaml:"session_queue"`

	LogLevel       string  `yaml:"log_level"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

func Default() *Config {
	return &Config{
		KVDriver:         DriverMemory,
		SQLitePath:       "events.db",
		Port:             "50051",
		WebPort:          "8080",
		ModeratorsDriver: ModeratorsStatic,
		StoreTimeout:     5 * time.Second,
		StoreRetries:     3,
		SessionQueue:     16,
		LogLevel:         "info",
		RateLimitRPS:     5,
		RateLimitBurst:   10,
	}
}

// Load reads CONFIG_FILE if set, then overlays the environment. A .env file
// in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, cfg.Validate()
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "error reading config file")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "error parsing %s", path)
	}
	return nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) applyEnv() error {
	c.KVDriver = env("KV_DRIVER", c.KVDriver)
	c.RedisAddr = env("REDIS_ADDR", c.RedisAddr)
	c.DatabaseURL = env("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = env("SQLITE_PATH", c.SQLitePath)
	c.JWTSecret = env("JWT_SECRET", c.JWTSecret)
	c.Port = env("PORT", c.Port)
	c.WebPort = env("WEB_PORT", c.WebPort)
	c.Community = env("COMMUNITY", c.Community)
	c.ModeratorsDriver = env("MODERATORS_DRIVER", c.ModeratorsDriver)
	c.LogLevel = env("LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("MODERATORS"); v != "" {
		c.Moderators = splitList(v)
	}
	if v := os.Getenv("WEB_ORIGINS"); v != "" {
		c.WebOrigins = splitList(v)
	}

	var err error
	if v := os.Getenv("STORE_TIMEOUT"); v != "" {
		if c.StoreTimeout, err = time.ParseDuration(v); err != nil {
			return errors.Wrap(err, "STORE_TIMEOUT")
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"STORE_RETRIES", &c.StoreRetries},
		{"SESSION_QUEUE", &c.SessionQueue},
		{"RATE_LIMIT_BURST", &c.RateLimitBurst},
	}
	for _, i := range ints {
		if v := os.Getenv(i.key); v != "" {
			if *i.dst, err = strconv.Atoi(v); err != nil {
				return errors.Wrap(err, i.key)
			}
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if c.RateLimitRPS, err = strconv.ParseFloat(v, 64); err != nil {
			return errors.Wrap(err, "RATE_LIMIT_RPS")
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	d := Default()
	c.KVDriver = strings.ToLower(strings.TrimSpace(c.KVDriver))
	if c.KVDriver == "" {
		c.KVDriver = d.KVDriver
	}
	c.ModeratorsDriver = strings.ToLower(strings.TrimSpace(c.ModeratorsDriver))
	if c.ModeratorsDriver == "" {
		c.ModeratorsDriver = d.ModeratorsDriver
	}
	if c.SQLitePath == "" {
		c.SQLitePath = d.SQLitePath
	}
	if c.Port == "" {
		c.Port = d.Port
	}
	if c.WebPort == "" {
		c.WebPort = d.WebPort
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.StoreRetries < 0 {
		c.StoreRetries = d.StoreRetries
	}
	if c.SessionQueue <= 0 {
		c.SessionQueue = d.SessionQueue
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = d.RateLimitRPS
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = d.RateLimitBurst
	}
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.StoreRetries < 1 {
		return errors.Errorf("STORE_RETRIES must be at least 1, got %d", c.StoreRetries)
	}
	switch c.KVDriver {
	case DriverMemory, DriverSQLite:
	case DriverRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return errors.Errorf("unknown KV_DRIVER %q", c.KVDriver)
	}
	switch c.ModeratorsDriver {
	case ModeratorsStatic:
	case ModeratorsPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for postgres moderators")
		}
	default:
		return errors.Errorf("unknown MODERATORS_DRIVER %q", c.ModeratorsDriver)
	}
	return nil
}
