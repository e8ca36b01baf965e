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

// Coating types. Anything else is rejected before it reaches the table.
var coatingTypes = map[string]bool{
	"Paint":  true,
	"Primer": true,
	"Powder": true,
}

// ValidCoatingType reports whether t is one of Paint, Primer, Powder.
func ValidCoatingType(t string) bool {
	return coatingTypes[t]
}

// CoatingsRepository persists paint/primer/powder coatings; part_number is
// the unique identity and component_id is an optional foreign key.
type CoatingsRepository struct {
	inventoryBase
}

func NewCoatingsRepository(db *database.PostgreSQL, log *logger.Logger) *CoatingsRepository {
	r := &CoatingsRepository{
		inventoryBase: inventoryBase{
			Base: newBase("coatings_inventory_db", "coatings", db, InventoryCacheTTL,
				history.NewStore("coatings_history", "coatings", log), log),
		},
	}
	r.scheduleInventoryRefreshers()
	return r
}

func (r *CoatingsRepository) EnsureSchema(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ddl := `
			CREATE TABLE IF NOT EXISTS coatings (
				id BIGSERIAL PRIMARY KEY,
				part_number TEXT UNIQUE NOT NULL,
				component_id BIGINT REFERENCES components(id) ON DELETE SET NULL,
				coating_type TEXT NOT NULL CHECK (coating_type IN ('Paint', 'Primer', 'Powder')),
				color TEXT NOT NULL DEFAULT '',
				categories JSONB NOT NULL DEFAULT '[]',
				data JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_coatings_type ON coatings (coating_type)`
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create coatings schema: %w", err)
		}
		return r.history.EnsureTable(ctx, pool)
	})
}

func coatingColumns(doc Document) (partNumber string, componentID *int64, coatingType, color string, categories []string) {
	partNumber = docString(doc, "part_number")
	if n, ok := docNumber(doc, "component_id"); ok {
		v := int64(n)
		componentID = &v
	}
	coatingType = docString(doc, "coating_type")
	color = docString(doc, "color")
	categories = docStrings(doc, "categories")
	return
}

// Add inserts a coating. The coating type must be Paint, Primer or Powder.
func (r *CoatingsRepository) Add(ctx context.Context, doc Document) (int64, error) {
	partNumber, componentID, coatingType, color, categories := coatingColumns(doc)
	if !ValidCoatingType(coatingType) {
		return 0, fmt.Errorf("invalid coating_type: %q", coatingType)
	}

	raw, err := encodeDoc(doc)
	if err != nil {
		return 0, err
	}
	cats, err := json.Marshal(categories)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, `
			INSERT INTO coatings (part_number, component_id, coating_type, color, categories, data)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			partNumber, componentID, coatingType, color, cats, raw).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add coating: %w", err)
	}

	r.cache.Invalidate(r.allKey())
	r.cache.Invalidate("categories_coatings")
	r.cache.Invalidate("category_coatings")
	return id, nil
}

func (r *CoatingsRepository) Get(ctx context.Context, id int64) (Document, error) {
	return r.getDocByID(ctx, id)
}

func (r *CoatingsRepository) GetByPartNumber(ctx context.Context, partNumber string) (Document, error) {
	id, err := r.resolveIDByName(ctx, "part_number", partNumber)
	if err != nil {
		return nil, err
	}
	return r.getDocByID(ctx, id)
}

// Update overwrites a coating with part_number fallback resolution.
func (r *CoatingsRepository) Update(ctx context.Context, id int64, doc Document, modifiedBy string) (int64, error) {
	partNumber, componentID, coatingType, color, categories := coatingColumns(doc)
	if !ValidCoatingType(coatingType) {
		return 0, fmt.Errorf("invalid coating_type: %q", coatingType)
	}

	if id < 0 && partNumber != "" {
		resolved, err := r.resolveIDByName(ctx, "part_number", partNumber)
		if err == nil {
			id = resolved
		} else if err != ErrNotFound {
			return 0, err
		}
	}
	if id < 0 {
		return r.Add(ctx, doc)
	}

	raw, err := encodeDoc(doc)
	if err != nil {
		return 0, err
	}
	cats, err := json.Marshal(categories)
	if err != nil {
		return 0, err
	}

	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE coatings
				SET part_number = $1, component_id = $2, coating_type = $3, color = $4,
				    categories = $5, data = $6, updated_at = now()
				WHERE id = $7`,
				partNumber, componentID, coatingType, color, cats, raw, id)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return pgx.ErrNoRows
			}
			r.recordHistory(ctx, tx, id, partNumber, modifiedBy, doc)
			return nil
		})
	})
	if err != nil {
		if isNoRows(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to update coating %d: %w", id, err)
	}

	r.invalidateItem(id)
	return id, nil
}

func (r *CoatingsRepository) Delete(ctx context.Context, id int64) (bool, error) {
	return r.deleteByID(ctx, id)
}
