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

// VendorsRepository persists vendors.
type VendorsRepository struct {
	Base
}

func NewVendorsRepository(db *database.PostgreSQL, log *logger.Logger) *VendorsRepository {
	return &VendorsRepository{
		Base: newBase("vendors_db", "vendors", db, DefaultCacheTTL,
			history.NewStore("vendors_history", "vendors", log), log),
	}
}

func (r *VendorsRepository) EnsureSchema(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ddl := `
			CREATE TABLE IF NOT EXISTS vendors (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				data JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create vendors schema: %w", err)
		}
		return r.history.EnsureTable(ctx, pool)
	})
}

func (r *VendorsRepository) Add(ctx context.Context, doc Document) (int64, error) {
	raw, err := encodeDoc(doc)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx,
			`INSERT INTO vendors (name, data) VALUES ($1, $2) RETURNING id`,
			docString(doc, "name"), raw).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add vendor: %w", err)
	}

	r.cache.Invalidate(r.allKey())
	return id, nil
}

func (r *VendorsRepository) Get(ctx context.Context, id int64) (Document, error) {
	return r.getDocByID(ctx, id)
}

func (r *VendorsRepository) GetAll(ctx context.Context) ([]Document, error) {
	if v, ok := r.cache.Get(r.allKey()); ok {
		if docs, ok := v.([]Document); ok {
			return docs, nil
		}
	}
	docs, err := r.listDocs(ctx, `SELECT id, data FROM vendors ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendors: %w", err)
	}
	r.cache.Set(r.allKey(), docs)
	return docs, nil
}

func (r *VendorsRepository) Update(ctx context.Context, id int64, doc Document, modifiedBy string) error {
	raw, err := encodeDoc(doc)
	if err != nil {
		return err
	}

	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`UPDATE vendors SET name = $1, data = $2, updated_at = now() WHERE id = $3`,
				docString(doc, "name"), raw, id)
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
		return fmt.Errorf("failed to update vendor %d: %w", id, err)
	}

	r.invalidateItem(id)
	return nil
}

func (r *VendorsRepository) Delete(ctx context.Context, id int64) (bool, error) {
	return r.deleteByID(ctx, id)
}
