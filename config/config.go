/*
Package config loads runtime settings from the environment.

A .env file in the working directory is read first when present; real
environment variables win over it.

  PORT               HTTP port (default 8080)
  DB_DRIVER          sqlite | postgres | mysql (default sqlite)
  DATABASE_URL       DSN for postgres / mysql
  SQLITE_PATH        SQLite file (default ./data/inventory.db)
  DB_MAX_OPEN_CONNS  pool size for postgres / mysql (default 25)
  DB_MAX_IDLE_CONNS  idle pool size (default 5)
  REDIS_ADDR         enables the replay cache, key guard and timeline publisher
  REDIS_PASSWORD
  REDIS_DB
  REPLAY_TTL         replay cache lifetime (default 24h)
  TIMELINE_CHANNEL   pub/sub channel (default inventory.timeline)
  LOG_LEVEL          logrus level (default info)
  LOG_FORMAT         json | text (default json)
  VERIFY_INTERVAL    background ledger verification (default 1h, 0 disables)
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port            string
	DBDriver        string
	DatabaseURL     string
	SQLitePath      string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ReplayTTL       time.Duration
	TimelineChannel string
	LogLevel        string
	LogFormat       string
	VerifyInterval  time.Duration
}

// Load reads .env (if any) and the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:            stringFromEnv("PORT", "8080"),
		DBDriver:        strings.ToLower(stringFromEnv("DB_DRIVER", "sqlite")),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      stringFromEnv("SQLITE_PATH", "./data/inventory.db"),
		DBMaxOpenConns:  intFromEnv("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:  intFromEnv("DB_MAX_IDLE_CONNS", 5),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         intFromEnv("REDIS_DB", 0),
		TimelineChannel: stringFromEnv("TIMELINE_CHANNEL", "inventory.timeline"),
		LogLevel:        stringFromEnv("LOG_LEVEL", "info"),
		LogFormat:       strings.ToLower(stringFromEnv("LOG_FORMAT", "json")),
	}

	ttl, err := time.ParseDuration(stringFromEnv("REPLAY_TTL", "24h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid REPLAY_TTL: %w", err)
	}
	cfg.ReplayTTL = ttl

	every, err := time.ParseDuration(stringFromEnv("VERIFY_INTERVAL", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid VERIFY_INTERVAL: %w", err)
	}
	cfg.VerifyInterval = every

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case "postgres", "mysql":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s driver", c.DBDriver)
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("unsupported LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

// NewLogger builds the process logger.
func NewLogger(c Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(level)
	if c.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}

func stringFromEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
