package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("SYNC_RECONCILE_INTERVAL", "45s")
	t.Setenv("SYNC_ALWAYS_QUEUE", "true")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Sync.ReconcileInterval != 45*time.Second {
		t.Errorf("Sync.ReconcileInterval = %v, want %v", cfg.Sync.ReconcileInterval, 45*time.Second)
	}
	if !cfg.Sync.AlwaysQueue {
		t.Errorf("Sync.AlwaysQueue = false, want true")
	}
	if cfg.RateLimit.RequestsPerSecond != 2.5 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 2.5", cfg.RateLimit.RequestsPerSecond)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Sync.MaxRetryAttempts != 3 {
		t.Errorf("Sync.MaxRetryAttempts = %d, want 3", cfg.Sync.MaxRetryAttempts)
	}
	if cfg.Sync.MaxQueueDepth != 0 {
		t.Errorf("Sync.MaxQueueDepth = %d, want 0 (unbounded)", cfg.Sync.MaxQueueDepth)
	}
	if cfg.Sync.BackoffInitial != 2*time.Second || cfg.Sync.BackoffMax != 5*time.Minute {
		t.Errorf("backoff = %v..%v, want 2s..5m", cfg.Sync.BackoffInitial, cfg.Sync.BackoffMax)
	}
	if cfg.Sync.RemoteWriteRPS != 0 {
		t.Errorf("Sync.RemoteWriteRPS = %v, want 0 (unpaced)", cfg.Sync.RemoteWriteRPS)
	}
	if !cfg.Database.ClickHouse.AsyncInsert {
		t.Errorf("ClickHouse.AsyncInsert = false, want true")
	}
	if cfg.Database.Redis.Host != "" || cfg.Database.ClickHouse.Host != "" {
		t.Errorf("optional backends should be disabled by default")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("SYNC_MAX_RETRY_ATTEMPTS", "0")
	t.Setenv("SYNC_MAX_QUEUE_DEPTH", "-1")
	t.Setenv("SYNC_REMOTE_WRITE_RPS", "-3")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("LoadConfig() expected error")
	}
	for _, want := range []string{"SYNC_MAX_RETRY_ATTEMPTS", "SYNC_MAX_QUEUE_DEPTH", "SYNC_REMOTE_WRITE_RPS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestPostgresURL(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5433", Database: "scouting", User: "scout", Password: "pw"}
	want := "postgres://scout:pw@db:5433/scouting?sslmode=disable"
	if got := p.PostgresURL(); got != want {
		t.Errorf("PostgresURL() = %v, want %v", got, want)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		want         int
	}{
		{"returns integer when valid", "200", 100, 200},
		{"returns default when invalid", "invalid", 100, 100},
		{"returns default when not set", "", 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.envValue)
			if got := getEnvAsInt("TEST_INT", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		envValue string
		want     bool
	}{
		{"1", true},
		{"TRUE", true},
		{"false", false},
		{"maybe", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			if got := getEnvAsBool("TEST_BOOL", true); got != tt.want {
				t.Errorf("getEnvAsBool(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{"returns duration when valid", "30s", 30 * time.Second},
		{"returns default when invalid", "invalid", 10 * time.Second},
		{"returns default when not set", "", 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.envValue)
			if got := getEnvAsDuration("TEST_DURATION", 10*time.Second); got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
