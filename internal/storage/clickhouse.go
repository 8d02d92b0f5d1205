package storage

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/scout-sync/internal/config"
)

// ClickHouseDB is the connection behind the sync audit log. A daemon
// writes one small batch per drain pass, so the pool stays tiny.
type ClickHouseDB struct {
	conn driver.Conn
}

// clickHouseOptions maps config onto driver options
func clickHouseOptions(cfg *config.ClickHouseConfig) *clickhouse.Options {
	settings := clickhouse.Settings{
		"max_execution_time": 30,
	}
	if cfg.AsyncInsert {
		// Per-pass batches are tiny; let the server merge them into parts
		settings["async_insert"] = 1
		settings["wait_for_async_insert"] = 1
	}

	return &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings:     settings,
		Compression:  &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout:  5 * time.Second,
		MaxOpenConns: 2,
		MaxIdleConns: 1,
		// The audit log is idle between passes
		ConnMaxLifetime: 10 * time.Minute,
	}
}

// NewClickHouseDB opens the audit log connection and pings it
func NewClickHouseDB(ctx context.Context, cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(clickHouseOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse at %s: %w", net.JoinHostPort(cfg.Host, cfg.Port), err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the connection
func (db *ClickHouseDB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Conn returns the underlying connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Exec runs a statement that returns no rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}
