package database

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ConnConfig builds a single-connection config from the pool settings.
// Dedicated connections are needed for LISTEN/NOTIFY, which cannot run on
// pooled connections that may be recycled between calls.
func (cfg PostgreSQLConfig) ConnConfig() (*pgx.ConnConfig, error) {
	connConfig, err := pgx.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("failed to create connection config: %w", err)
	}

	connConfig.Host = cfg.Host
	connConfig.Port = uint16(cfg.Port)
	connConfig.Database = cfg.Database
	connConfig.User = cfg.User
	connConfig.Password = cfg.Password
	connConfig.ConnectTimeout = cfg.ConnectionTimeout
	connConfig.TLSConfig = nil

	return connConfig, nil
}
