package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigo-mfg/invigo-server/internal/history"
	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// SheetsRepository persists the sheet inventory.
type SheetsRepository struct {
	inventoryBase
}

func NewSheetsRepository(db *database.PostgreSQL, log *logger.Logger) *SheetsRepository {
	r := &SheetsRepository{
		inventoryBase: inventoryBase{
			Base: newBase("sheets_inventory_db", "sheets", db, InventoryCacheTTL,
				history.NewStore("sheets_history", "sheets", log), log),
		},
	}
	r.scheduleInventoryRefreshers()
	return r
}

func (r *SheetsRepository) EnsureSchema(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ddl := `
			CREATE TABLE IF NOT EXISTS sheets (
				id BIGSERIAL PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				thickness TEXT NOT NULL DEFAULT '',
				material TEXT NOT NULL DEFAULT '',
				width DOUBLE PRECISION NOT NULL DEFAULT 0,
				length DOUBLE PRECISION NOT NULL DEFAULT 0,
				categories JSONB NOT NULL DEFAULT '[]',
				quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
				data JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_sheets_material ON sheets (material, thickness)`
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create sheets schema: %w", err)
		}
		return r.history.EnsureTable(ctx, pool)
	})
}

func sheetColumns(doc Document) (name, thickness, material string, width, length float64, categories []string, quantity float64) {
	name = docString(doc, "name")
	thickness = docString(doc, "thickness")
	material = docString(doc, "material")
	width, _ = docNumber(doc, "width")
	length, _ = docNumber(doc, "length")
	categories = docStrings(doc, "categories")
	quantity, _ = docNumber(doc, "quantity")
	return
}

// Add inserts a sheet and returns the generated id.
func (r *SheetsRepository) Add(ctx context.Context, doc Document) (int64, error) {
	raw, err := encodeDoc(doc)
	if err != nil {
		return 0, err
	}
	name, thickness, material, width, length, categories, quantity := sheetColumns(doc)
	cats, err := json.Marshal(categories)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, `
			INSERT INTO sheets (name, thickness, material, width, length, categories, quantity, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			name, thickness, material, width, length, cats, quantity, raw).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add sheet: %w", err)
	}

	r.cache.Invalidate(r.allKey())
	r.cache.Invalidate("categories_sheets")
	r.cache.Invalidate("category_sheets")
	r.QueueRefresh(id)
	return id, nil
}

func (r *SheetsRepository) Get(ctx context.Context, id int64) (Document, error) {
	return r.getDocByID(ctx, id)
}

func (r *SheetsRepository) GetByName(ctx context.Context, name string) (Document, error) {
	id, err := r.resolveIDByName(ctx, "name", name)
	if err != nil {
		return nil, err
	}
	return r.getDocByID(ctx, id)
}

// Update overwrites a sheet by id, falling back to name resolution and then
// to insert when the id is absent or negative.
func (r *SheetsRepository) Update(ctx context.Context, id int64, doc Document, modifiedBy string) (int64, error) {
	if id < 0 {
		if name := docString(doc, "name"); name != "" {
			resolved, err := r.resolveIDByName(ctx, "name", name)
			if err == nil {
				id = resolved
			} else if err != ErrNotFound {
				return 0, err
			}
		}
	}
	if id < 0 {
		return r.Add(ctx, doc)
	}

	raw, err := encodeDoc(doc)
	if err != nil {
		return 0, err
	}
	name, thickness, material, width, length, categories, quantity := sheetColumns(doc)
	cats, err := json.Marshal(categories)
	if err != nil {
		return 0, err
	}

	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE sheets
				SET name = $1, thickness = $2, material = $3, width = $4, length = $5,
				    categories = $6, quantity = $7, data = $8, updated_at = now()
				WHERE id = $9`,
				name, thickness, material, width, length, cats, quantity, raw, id)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return pgx.ErrNoRows
			}
			r.recordHistory(ctx, tx, id, name, modifiedBy, doc)
			return nil
		})
	})
	if err != nil {
		if isNoRows(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to update sheet %d: %w", id, err)
	}

	r.invalidateItem(id)
	r.QueueRefresh(id)
	return id, nil
}

func (r *SheetsRepository) Delete(ctx context.Context, id int64) (bool, error) {
	return r.deleteByID(ctx, id)
}
