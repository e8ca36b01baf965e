package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL represents a PostgreSQL database connection pool with
// auto-reconnect. Every repository shares one instance; access to the pool
// goes through WithRetry so a closed or dropped pool is re-acquired
// transparently.
type PostgreSQL struct {
	mu     sync.RWMutex
	pool   *pgxpool.Pool
	cfg    PostgreSQLConfig
	closed bool
}

type PostgreSQLConfig struct {
	User                          string
	Password                      string
	Host                          string
	Port                          int
	Database                      string
	MinConnections                int32
	MaxConnections                int32
	ConnectionTimeout             time.Duration
	CommandTimeout                time.Duration
	MaxInactiveConnectionLifetime time.Duration
}

// New creates a new PostgreSQL instance
func New(ctx context.Context, cfg PostgreSQLConfig) (*PostgreSQL, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("database user is required")
	}

	db := &PostgreSQL{cfg: cfg}
	pool, err := db.connect(ctx)
	if err != nil {
		return nil, err
	}
	db.pool = pool
	return db, nil
}

func (db *PostgreSQL) connect(ctx context.Context) (*pgxpool.Pool, error) {
	// Use pgxpool.ParseConfig to handle special characters in passwords
	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("failed to create connection config: %w", err)
	}

	// Set connection parameters individually to avoid URL parsing issues
	poolConfig.ConnConfig.Host = db.cfg.Host
	poolConfig.ConnConfig.Port = uint16(db.cfg.Port)
	poolConfig.ConnConfig.Database = db.cfg.Database
	poolConfig.ConnConfig.User = db.cfg.User
	poolConfig.ConnConfig.Password = db.cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = db.cfg.ConnectionTimeout
	poolConfig.ConnConfig.TLSConfig = nil

	poolConfig.MinConns = db.cfg.MinConnections
	poolConfig.MaxConns = db.cfg.MaxConnections
	poolConfig.MaxConnIdleTime = db.cfg.MaxInactiveConnectionLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Pool returns the current connection pool, reconnecting if the pool was
// closed or never established.
func (db *PostgreSQL) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	db.mu.RLock()
	pool, closed := db.pool, db.closed
	db.mu.RUnlock()

	if pool != nil && !closed {
		return pool, nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.pool != nil && !db.closed {
		return db.pool, nil
	}

	newPool, err := db.connect(ctx)
	if err != nil {
		return nil, err
	}
	db.pool = newPool
	db.closed = false
	return newPool, nil
}

// Ping runs SELECT 1 through the guard.
func (db *PostgreSQL) Ping(ctx context.Context) error {
	return db.WithRetry(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var one int
		return pool.QueryRow(ctx, "SELECT 1").Scan(&one)
	})
}

// Close closes the pool. A later call through WithRetry reconnects.
func (db *PostgreSQL) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.pool != nil {
		db.pool.Close()
	}
	db.closed = true
}

// CommandTimeout returns the configured per-command timeout.
func (db *PostgreSQL) CommandTimeout() time.Duration {
	return db.cfg.CommandTimeout
}
