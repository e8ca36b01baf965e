package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigo-mfg/invigo-server/internal/history"
	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// WorkordersRepository persists workorders. The payload is opaque JSON but
// still carries the full history contract.
type WorkordersRepository struct {
	Base
}

func NewWorkordersRepository(db *database.PostgreSQL, log *logger.Logger) *WorkordersRepository {
	r := &WorkordersRepository{
		Base: newBase("workorders_db", "workorders", db, DefaultCacheTTL,
			history.NewStore("workorders_history", "workorders", log), log),
	}
	r.cache.ScheduleRefresh(r.allKey(), func(ctx context.Context) (interface{}, error) {
		return r.listDocs(ctx, `SELECT id, data FROM workorders ORDER BY id`)
	}, RefreshInterval)
	return r
}

func (r *WorkordersRepository) EnsureSchema(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ddl := `
			CREATE TABLE IF NOT EXISTS workorders (
				id BIGSERIAL PRIMARY KEY,
				data JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create workorders schema: %w", err)
		}
		return r.history.EnsureTable(ctx, pool)
	})
}

// Add inserts a workorder and returns the generated id.
func (r *WorkordersRepository) Add(ctx context.Context, doc Document) (int64, error) {
	raw, err := encodeDoc(doc)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx,
			`INSERT INTO workorders (data) VALUES ($1) RETURNING id`, raw).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add workorder: %w", err)
	}

	r.cache.Invalidate(r.allKey())
	return id, nil
}

func (r *WorkordersRepository) Get(ctx context.Context, id int64) (Document, error) {
	return r.getDocByID(ctx, id)
}

func (r *WorkordersRepository) GetAll(ctx context.Context) ([]Document, error) {
	if v, ok := r.cache.Get(r.allKey()); ok {
		if docs, ok := v.([]Document); ok {
			return docs, nil
		}
	}
	docs, err := r.listDocs(ctx, `SELECT id, data FROM workorders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workorders: %w", err)
	}
	r.cache.Set(r.allKey(), docs)
	return docs, nil
}

// Update overwrites a workorder and appends history in one transaction.
func (r *WorkordersRepository) Update(ctx context.Context, id int64, doc Document, modifiedBy string) error {
	raw, err := encodeDoc(doc)
	if err != nil {
		return err
	}

	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`UPDATE workorders SET data = $1, updated_at = now() WHERE id = $2`, raw, id)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return pgx.ErrNoRows
			}
			r.recordHistory(ctx, tx, id, docString(doc, "name"), modifiedBy, doc)
			return nil
		})
	})
	if err != nil {
		if isNoRows(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update workorder %d: %w", id, err)
	}

	r.invalidateItem(id)
	return nil
}

func (r *WorkordersRepository) Delete(ctx context.Context, id int64) (bool, error) {
	return r.deleteByID(ctx, id)
}
