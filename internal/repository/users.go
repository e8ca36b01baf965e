package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// DefaultAdminPassword is the password of the seeded admin account. It is
// expected to be changed on first login.
const DefaultAdminPassword = "admin"

// User is an account with a set of role names.
type User struct {
	ID    int64    `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// UsersRepository persists users and the user/role m:n relation. Users are
// not historied.
type UsersRepository struct {
	Base
}

func NewUsersRepository(db *database.PostgreSQL, log *logger.Logger) *UsersRepository {
	return &UsersRepository{
		Base: newBase("users_db", "users", db, DefaultCacheTTL, nil, log),
	}
}

// EnsureSchema creates the users tables and seeds the admin account with
// the Admin role. Seeding is idempotent.
func (r *UsersRepository) EnsureSchema(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ddl := `
			CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				password_hash TEXT NOT NULL
			);
			CREATE TABLE IF NOT EXISTS user_roles (
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
				PRIMARY KEY (user_id, role_id)
			)`
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create users schema: %w", err)
		}

		var count int
		if err := pool.QueryRow(ctx, `SELECT count(*) FROM users WHERE name = 'admin'`).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(DefaultAdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash default admin password: %w", err)
		}

		var userID int64
		if err := pool.QueryRow(ctx,
			`INSERT INTO users (name, password_hash) VALUES ('admin', $1) RETURNING id`,
			string(hash)).Scan(&userID); err != nil {
			return fmt.Errorf("failed to seed admin user: %w", err)
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id)
			SELECT $1, id FROM roles WHERE name = 'Admin'
			ON CONFLICT DO NOTHING`, userID)
		if err != nil {
			return fmt.Errorf("failed to grant Admin role: %w", err)
		}

		r.logger.Info("Seeded default admin account")
		return nil
	})
}

// Add creates a user with the given roles.
func (r *UsersRepository) Add(ctx context.Context, name, password string, roles []string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	var id int64
	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		if err := pool.QueryRow(ctx,
			`INSERT INTO users (name, password_hash) VALUES ($1, $2) RETURNING id`,
			name, string(hash)).Scan(&id); err != nil {
			return err
		}
		for _, role := range roles {
			if _, err := pool.Exec(ctx, `
				INSERT INTO user_roles (user_id, role_id)
				SELECT $1, id FROM roles WHERE name = $2
				ON CONFLICT DO NOTHING`, id, role); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add user: %w", err)
	}

	r.cache.Invalidate(r.allKey())
	return id, nil
}

// Authenticate verifies credentials and returns the user on success.
func (r *UsersRepository) Authenticate(ctx context.Context, name, password string) (*User, error) {
	var id int64
	var hash string
	err := r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx,
			`SELECT id, password_hash FROM users WHERE name = $1`, name).Scan(&id, &hash)
	})
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	roles, err := r.rolesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Name: name, Roles: roles}, nil
}

func (r *UsersRepository) rolesOf(ctx context.Context, userID int64) ([]string, error) {
	var roles []string
	err := r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, `
			SELECT r.name
			FROM roles r
			JOIN user_roles ur ON ur.role_id = r.id
			WHERE ur.user_id = $1
			ORDER BY r.name`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		roles = roles[:0]
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			roles = append(roles, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load roles for user %d: %w", userID, err)
	}
	return roles, nil
}

// GetAll returns every user with their roles.
func (r *UsersRepository) GetAll(ctx context.Context) ([]User, error) {
	if v, ok := r.cache.Get(r.allKey()); ok {
		if users, ok := v.([]User); ok {
			return users, nil
		}
	}

	var users []User
	err := r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, `SELECT id, name FROM users ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		users = users[:0]
		for rows.Next() {
			var u User
			if err := rows.Scan(&u.ID, &u.Name); err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	for i := range users {
		roles, err := r.rolesOf(ctx, users[i].ID)
		if err != nil {
			return nil, err
		}
		users[i].Roles = roles
	}

	r.cache.Set(r.allKey(), users)
	return users, nil
}

func (r *UsersRepository) Delete(ctx context.Context, id int64) (bool, error) {
	return r.deleteByID(ctx, id)
}
