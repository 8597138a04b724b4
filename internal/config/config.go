package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config carries everything main needs to wire the process. All values
// come from the environment, with a .env file loaded first when present.
type Config struct {
	Port         string
	StoreBackend string

	RedisAddr string
	MySQLDSN  string

	TallyDriver string
	TallyDSN    string

	SourceTimeout time.Duration
	StoreTimeout  time.Duration

	OrderQueueSize int
	OrderWorkers   int

	LogLevel string
}

// Load reads configuration from .env and the environment.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "3000"),
		StoreBackend:   getEnv("STORE_BACKEND", "redis"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		MySQLDSN:       getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/tallybridge?parseTime=true"),
		TallyDriver:    getEnv("TALLY_DRIVER", "odbc"),
		TallyDSN:       getEnv("TALLY_DSN", "DSN=TallyODBC64_9000;SERVER=localhost;PORT=9000;"),
		SourceTimeout:  getDuration("SOURCE_TIMEOUT", 15*time.Second),
		StoreTimeout:   getDuration("STORE_TIMEOUT", 5*time.Second),
		OrderQueueSize: getInt("ORDER_QUEUE_SIZE", 1000),
		OrderWorkers:   getInt("ORDER_WORKERS", 4),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	if cfg.StoreBackend != "redis" && cfg.StoreBackend != "mysql" {
		return nil, fmt.Errorf("STORE_BACKEND must be redis or mysql, got %q", cfg.StoreBackend)
	}
	return cfg, nil
}

// NewLogger builds the process logger: JSON formatted, level from config.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
