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

// ComponentsRepository persists the component inventory; part_number is the
// unique identity.
type ComponentsRepository struct {
	inventoryBase
}

func NewComponentsRepository(db *database.PostgreSQL, log *logger.Logger) *ComponentsRepository {
	r := &ComponentsRepository{
		inventoryBase: inventoryBase{
			Base: newBase("components_inventory_db", "components", db, InventoryCacheTTL,
				history.NewStore("components_history", "components", log), log),
		},
	}
	r.scheduleInventoryRefreshers()
	return r
}

func (r *ComponentsRepository) EnsureSchema(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ddl := `
			CREATE TABLE IF NOT EXISTS components (
				id BIGSERIAL PRIMARY KEY,
				part_number TEXT UNIQUE NOT NULL,
				part_name TEXT NOT NULL DEFAULT '',
				categories JSONB NOT NULL DEFAULT '[]',
				quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
				data JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_components_part_name ON components (part_name);

			CREATE OR REPLACE FUNCTION notify_components_change() RETURNS trigger AS $$
			BEGIN
				IF TG_OP = 'DELETE' THEN
					PERFORM pg_notify('components', json_build_object('type', TG_OP, 'id', OLD.id)::text);
					RETURN OLD;
				END IF;
				PERFORM pg_notify('components', json_build_object('type', TG_OP, 'id', NEW.id)::text);
				RETURN NEW;
			END;
			$$ LANGUAGE plpgsql;

			DROP TRIGGER IF EXISTS components_notify ON components;
			CREATE TRIGGER components_notify
				AFTER INSERT OR UPDATE OR DELETE ON components
				FOR EACH ROW EXECUTE FUNCTION notify_components_change();
		`
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create components schema: %w", err)
		}
		return r.history.EnsureTable(ctx, pool)
	})
}

func componentColumns(doc Document) (partNumber, partName string, categories []string, quantity float64) {
	partNumber = docString(doc, "part_number")
	partName = docString(doc, "part_name")
	categories = docStrings(doc, "categories")
	quantity, _ = docNumber(doc, "quantity")
	return
}

// Add inserts a component and returns the generated id.
func (r *ComponentsRepository) Add(ctx context.Context, doc Document) (int64, error) {
	raw, err := encodeDoc(doc)
	if err != nil {
		return 0, err
	}
	partNumber, partName, categories, quantity := componentColumns(doc)
	cats, err := json.Marshal(categories)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, `
			INSERT INTO components (part_number, part_name, categories, quantity, data)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			partNumber, partName, cats, quantity, raw).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add component: %w", err)
	}

	r.cache.Invalidate(r.allKey())
	r.cache.Invalidate("categories_components")
	r.cache.Invalidate("category_components")
	r.QueueRefresh(id)
	return id, nil
}

func (r *ComponentsRepository) Get(ctx context.Context, id int64) (Document, error) {
	return r.getDocByID(ctx, id)
}

func (r *ComponentsRepository) GetByPartNumber(ctx context.Context, partNumber string) (Document, error) {
	id, err := r.resolveIDByName(ctx, "part_number", partNumber)
	if err != nil {
		return nil, err
	}
	return r.getDocByID(ctx, id)
}

// Update overwrites a component. A negative id resolves through the unique
// part_number, then falls back to insert.
func (r *ComponentsRepository) Update(ctx context.Context, id int64, doc Document, modifiedBy string) (int64, error) {
	if id < 0 {
		if partNumber := docString(doc, "part_number"); partNumber != "" {
			resolved, err := r.resolveIDByName(ctx, "part_number", partNumber)
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
	partNumber, partName, categories, quantity := componentColumns(doc)
	cats, err := json.Marshal(categories)
	if err != nil {
		return 0, err
	}

	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE components
				SET part_number = $1, part_name = $2, categories = $3, quantity = $4, data = $5, updated_at = now()
				WHERE id = $6`,
				partNumber, partName, cats, quantity, raw, id)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return pgx.ErrNoRows
			}
			r.recordHistory(ctx, tx, id, partName, modifiedBy, doc)
			return nil
		})
	})
	if err != nil {
		if isNoRows(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to update component %d: %w", id, err)
	}

	r.invalidateItem(id)
	r.QueueRefresh(id)
	return id, nil
}

func (r *ComponentsRepository) Delete(ctx context.Context, id int64) (bool, error) {
	return r.deleteByID(ctx, id)
}
