package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// Role is a named set of permission strings.
type Role struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// RolesRepository persists roles. Roles are not historied.
type RolesRepository struct {
	Base
}

func NewRolesRepository(db *database.PostgreSQL, log *logger.Logger) *RolesRepository {
	return &RolesRepository{
		Base: newBase("roles_db", "roles", db, DefaultCacheTTL, nil, log),
	}
}

// EnsureSchema creates the roles table and seeds the Admin role.
func (r *RolesRepository) EnsureSchema(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ddl := `
			CREATE TABLE IF NOT EXISTS roles (
				id BIGSERIAL PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				permissions JSONB NOT NULL DEFAULT '[]'
			)`
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create roles schema: %w", err)
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO roles (name, permissions)
			VALUES ('Admin', '["*"]')
			ON CONFLICT (name) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("failed to seed Admin role: %w", err)
		}
		return nil
	})
}

func (r *RolesRepository) Add(ctx context.Context, name string, permissions []string) (int64, error) {
	perms, err := json.Marshal(permissions)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx,
			`INSERT INTO roles (name, permissions) VALUES ($1, $2) RETURNING id`,
			name, perms).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add role: %w", err)
	}

	r.cache.Invalidate(r.allKey())
	return id, nil
}

func (r *RolesRepository) GetAll(ctx context.Context) ([]Role, error) {
	if v, ok := r.cache.Get(r.allKey()); ok {
		if roles, ok := v.([]Role); ok {
			return roles, nil
		}
	}

	var roles []Role
	err := r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, `SELECT id, name, permissions FROM roles ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		roles = roles[:0]
		for rows.Next() {
			var role Role
			var perms []byte
			if err := rows.Scan(&role.ID, &role.Name, &perms); err != nil {
				return err
			}
			if err := json.Unmarshal(perms, &role.Permissions); err != nil {
				return err
			}
			roles = append(roles, role)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	r.cache.Set(r.allKey(), roles)
	return roles, nil
}

func (r *RolesRepository) GetByName(ctx context.Context, name string) (*Role, error) {
	roles, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		if roles[i].Name == name {
			return &roles[i], nil
		}
	}
	return nil, ErrNotFound
}

func (r *RolesRepository) Delete(ctx context.Context, id int64) (bool, error) {
	return r.deleteByID(ctx, id)
}
