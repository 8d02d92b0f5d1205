// Package config provides configuration management for the scout sync daemon.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Local        LocalConfig
	Sync         SyncConfig
	Connectivity ConnectivityConfig
	Breaker      BreakerConfig
	RateLimit    RateLimitConfig
	Logging      LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds the remote backends
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration.
// An empty Host disables the sync audit log.
type ClickHouseConfig struct {
	Host        string
	Port        string
	Database    string
	User        string
	Password    string
	AsyncInsert bool
}

// RedisConfig holds Redis configuration.
// An empty Host disables status publishing.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// LocalConfig holds the on-device store location
type LocalConfig struct {
	Path string
}

// SyncConfig holds offline queue and synchronizer configuration
type SyncConfig struct {
	MaxRetryAttempts  int           // Automatic attempts per entry before manual retry is required (default: 3)
	ReconcileInterval time.Duration // Coarse pending-count poll (default: 30s)
	BackoffInitial    time.Duration // Delay after the first failing pass (default: 2s)
	BackoffMax        time.Duration // Backoff ceiling (default: 5m)
	MaxQueueDepth     int           // 0 means unbounded
	AlwaysQueue       bool          // Route every submission through the queue even when online
	RemoteWriteRPS    float64       // Remote writes per second during a drain, 0 means unpaced
	RemoteWriteBurst  int
}

// ConnectivityConfig holds the reachability probe configuration
type ConnectivityConfig struct {
	ProbeURL      string // Empty probes Postgres instead of an HTTP endpoint
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// BreakerConfig holds the circuit breaker guarding remote writes
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	HalfOpenMax  int
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "127.0.0.1"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "scouting"),
				User:           getEnv("POSTGRES_USER", "scout"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			ClickHouse: ClickHouseConfig{
				Host:        getEnv("CLICKHOUSE_HOST", ""),
				Port:        getEnv("CLICKHOUSE_PORT", "9000"),
				Database:    getEnv("CLICKHOUSE_DB", "scouting"),
				User:        getEnv("CLICKHOUSE_USER", "default"),
				Password:    getEnv("CLICKHOUSE_PASSWORD", ""),
				AsyncInsert: getEnvAsBool("CLICKHOUSE_ASYNC_INSERT", true),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", ""),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Local: LocalConfig{
			Path: getEnv("LOCAL_STORE_PATH", "scoutsync.db"),
		},
		Sync: SyncConfig{
			MaxRetryAttempts:  getEnvAsInt("SYNC_MAX_RETRY_ATTEMPTS", 3),
			ReconcileInterval: getEnvAsDuration("SYNC_RECONCILE_INTERVAL", 30*time.Second),
			BackoffInitial:    getEnvAsDuration("SYNC_BACKOFF_INITIAL", 2*time.Second),
			BackoffMax:        getEnvAsDuration("SYNC_BACKOFF_MAX", 5*time.Minute),
			MaxQueueDepth:     getEnvAsInt("SYNC_MAX_QUEUE_DEPTH", 0),
			AlwaysQueue:       getEnvAsBool("SYNC_ALWAYS_QUEUE", false),
			RemoteWriteRPS:    getEnvAsFloat("SYNC_REMOTE_WRITE_RPS", 0),
			RemoteWriteBurst:  getEnvAsInt("SYNC_REMOTE_WRITE_BURST", 5),
		},
		Connectivity: ConnectivityConfig{
			ProbeURL:      getEnv("CONNECTIVITY_PROBE_URL", ""),
			ProbeInterval: getEnvAsDuration("CONNECTIVITY_PROBE_INTERVAL", 10*time.Second),
			ProbeTimeout:  getEnvAsDuration("CONNECTIVITY_PROBE_TIMEOUT", 3*time.Second),
		},
		Breaker: BreakerConfig{
			MaxFailures:  getEnvAsInt("BREAKER_MAX_FAILURES", 5),
			ResetTimeout: getEnvAsDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
			HalfOpenMax:  getEnvAsInt("BREAKER_HALF_OPEN_MAX", 1),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects values the daemon cannot run with
func (c *Config) Validate() error {
	var problems []string

	if c.Local.Path == "" {
		problems = append(problems, "LOCAL_STORE_PATH must not be empty")
	}
	if c.Sync.MaxRetryAttempts < 1 {
		problems = append(problems, "SYNC_MAX_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Sync.MaxQueueDepth < 0 {
		problems = append(problems, "SYNC_MAX_QUEUE_DEPTH must not be negative")
	}
	if c.Sync.ReconcileInterval <= 0 {
		problems = append(problems, "SYNC_RECONCILE_INTERVAL must be positive")
	}
	if c.Sync.BackoffInitial <= 0 || c.Sync.BackoffMax < c.Sync.BackoffInitial {
		problems = append(problems, "SYNC_BACKOFF_MAX must be at least SYNC_BACKOFF_INITIAL (both positive)")
	}
	if c.Sync.RemoteWriteRPS < 0 {
		problems = append(problems, "SYNC_REMOTE_WRITE_RPS must not be negative")
	}
	if c.Connectivity.ProbeInterval < 0 {
		problems = append(problems, "CONNECTIVITY_PROBE_INTERVAL must not be negative")
	}
	if c.Breaker.MaxFailures < 1 {
		problems = append(problems, "BREAKER_MAX_FAILURES must be at least 1")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
		problems = append(problems, "RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// PostgresURL returns the connection URL used by pgx and golang-migrate
func (p PostgresConfig) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Database)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool accepts anything strconv.ParseBool does
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
